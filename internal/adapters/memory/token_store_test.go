package memory

import (
	"context"
	"testing"

	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStore_IssueGetClear(t *testing.T) {
	ctx := context.Background()
	store := NewTokenStore()
	alice := domain.SessionKey{Tenant: "shop", UserID: "1"}
	bob := domain.SessionKey{Tenant: "shop", UserID: "2"}

	require.NoError(t, store.Issue(ctx, alice, "first"))
	require.NoError(t, store.Issue(ctx, alice, "second"))
	require.NoError(t, store.Issue(ctx, bob, "bob"))

	got, err := store.Get(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	require.NoError(t, store.Clear(ctx, alice))
	got, _ = store.Get(ctx, alice)
	assert.Empty(t, got)

	got, _ = store.Get(ctx, bob)
	assert.Equal(t, "bob", got)
}

package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow_AlwaysUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Now().Location())
	assert.Equal(t, time.UTC, SystemClock{}.Now().Location())
}

func TestFixedClock(t *testing.T) {
	at := time.Date(2025, 11, 20, 12, 0, 0, 0, time.FixedZone("EST", -5*3600))
	clock := FixedClock{At: at}

	assert.True(t, clock.Now().Equal(at))
	assert.Equal(t, time.UTC, clock.Now().Location())
}

func TestWindowStart(t *testing.T) {
	now := time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		window   time.Duration
		expected time.Time
	}{
		{"ninety days", Days(90), time.Date(2025, 8, 22, 0, 0, 0, 0, time.UTC)},
		{"one day", Days(1), time.Date(2025, 11, 19, 0, 0, 0, 0, time.UTC)},
		{"zero", 0, now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, WindowStart(now, tt.window))
		})
	}
}

// Package db embeds the schema migrations applied by cmd/migrate.
package db

import "embed"

// Migrations holds the goose SQL migrations
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the files
const MigrationsDir = "migrations"

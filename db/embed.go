// Package db holds the schema migrations.
package db

import "embed"

// Migrations are the goose migration files under migration/.
//
//go:embed migration/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations passed to goose.
const MigrationsDir = "migration"

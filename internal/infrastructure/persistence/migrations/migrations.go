// Package migrations embeds the database schema migrations.
package migrations

import "embed"

// FS holds one directory of golang-migrate files per database driver
//
//go:embed sqlite/*.sql
var FS embed.FS

// SQLite is the directory of the SQLite migrations inside FS
const SQLite = "sqlite"

// Package migrations embeds the per-dialect schema migrations for the
// SQL-backed stores.
package migrations

import "embed"

// FS holds the embedded migration files, one directory per dialect.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

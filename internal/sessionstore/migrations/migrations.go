// Package migrations embeds the schema of the SQLite session backend.
package migrations

import "embed"

// FS holds the numbered up and down migrations.
//
//go:embed *.sql
var FS embed.FS

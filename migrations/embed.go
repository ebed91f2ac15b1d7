// Package migrations embeds the PostgreSQL schema.
package migrations

import "embed"

// Files holds the up and down migrations, applied in file name order.
//
//go:embed *.sql
var Files embed.FS

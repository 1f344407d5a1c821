package migrations

import "embed"

// FS contains embedded SQLite migrations for sigchain storage.
//
//go:embed *.sql
var FS embed.FS

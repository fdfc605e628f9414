// Package migrations embute o schema SQLite do store de reservas.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

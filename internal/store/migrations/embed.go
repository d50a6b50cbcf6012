// Package migrations embeds the goose migration files for internal/store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

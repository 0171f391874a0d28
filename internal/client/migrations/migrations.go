// Package migrations embeds the goose migrations of the local metadata store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS

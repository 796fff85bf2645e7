// Package migrations embeds the Postgres schema.
package migrations

import "embed"

//go:embed *.up.sql
var Postgres embed.FS

// Package migrations embeds the SQL schema for the local chat store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Package migrations embeds the collab sqlite schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

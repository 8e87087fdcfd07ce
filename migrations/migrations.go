// Package migrations embeds the goose SQL migrations applied at boot and by the admin CLI.
package migrations

import "embed"

// FS holds the versioned SQL files.
//
//go:embed *.sql
var FS embed.FS

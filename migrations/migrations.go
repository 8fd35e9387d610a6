// Package migrations embeds the versioned schema scripts so a fresh broker
// can migrate itself on startup. The migrate subcommand drives the same
// scripts from disk for operational control.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Package assets embeds the built-in default filter config so the CLI
// can serve -f/--filter passed bare without depending on any path
// existing on disk.
package assets

import _ "embed"

//go:embed filter.json
var FilterJSON []byte

// Package testpage embeds the static GET /test/ page.
package testpage

import "embed"

//go:embed test.html
var FS embed.FS

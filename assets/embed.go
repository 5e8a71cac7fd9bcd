// Package assets embeds the message templates rendered by the bot.
package assets

import "embed"

//go:embed templates/*.tmpl
var Templates embed.FS

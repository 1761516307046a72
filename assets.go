// Package puppy embeds the application shell's templates and static files.
package puppy

import "embed"

// In dev mode (IsDev=true), templates are loaded from disk so edits show up without a rebuild.

//go:embed all:frontend/static
var StaticFS embed.FS

//go:embed all:frontend/templates
var TemplateFS embed.FS

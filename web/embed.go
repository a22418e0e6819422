// Package web embeds the ledger UI: HTML templates rendered server-side
// and the static assets they reference.
package web

import "embed"

//go:embed templates/*.html
var TemplatesFS embed.FS

//go:embed static/*
var StaticFS embed.FS

// Package configs embeds the annotated configuration template written by
// `nrtsearch config init`.
//
// Configuration hierarchy (see internal/config Load):
//  1. Hardcoded defaults
//  2. User config (~/.config/nrtsearch/config.yaml)
//  3. Project config (nrtsearch.yaml) or --config
//  4. Environment variables (NRTSEARCH_*)
package configs

import _ "embed"

// Template is the commented example written by `nrtsearch config init`.
//
//go:embed nrtsearch.example.yaml
var Template string

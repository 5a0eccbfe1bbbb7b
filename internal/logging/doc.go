// Package logging configures structured logging for nrtsearch.
//
// Components log through log/slog. The CLI and the HTTP server call Setup to
// install a JSON handler that writes to a size-rotated file under
// ~/.nrtsearch/logs/ and, optionally, to stderr. Without a file path the
// handler writes text to stderr only.
package logging

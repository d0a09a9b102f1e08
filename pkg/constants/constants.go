// Package constants defines magic numbers and default values shared across
// the header codec, body codec, connection, client, and server packages.
package constants

import "time"

// Connection timeouts and limits.
const (
	DefaultIdleTimeout    = 90 * time.Second
	DefaultConnTimeout    = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	MaxConnectionIdleTime = 5 * time.Minute
	CleanupInterval       = 30 * time.Second
)

// HTTP limits.
const (
	// MaxHeaderBytes is the default cap on a request/response header block
	// (start line + header fields, not including the body). Spec §4.1.
	MaxHeaderBytes = 8 * 1024 // 8 KiB

	// MaxChunkLineBytes caps a single chunked-encoding size line. Spec §4.2.
	MaxChunkLineBytes = 64 * 1024 // 64 KiB

	// MaxContentLength is a sanity ceiling on a declared Content-Length.
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1 TiB
)

// Buffer limits.
const (
	// DefaultConnBufferSize is the default size of a Connection's buffered
	// reader and writer. Spec §4.3 (change log 0.2.6).
	DefaultConnBufferSize = 16 * 1024 // 16 KiB

	// DefaultBodyMemLimit is the default in-memory threshold before a
	// captured body buffer spills to disk.
	DefaultBodyMemLimit = 4 * 1024 * 1024 // 4 MiB
)

// Package timeouts defines shared timeout constants used across the server.
// Centralizing these values prevents drift between components and makes the
// durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// Request caps the time allowed for a single storage-bound request.
const Request = 10 * time.Second

// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between boundaries and makes the
// durations discoverable.
package timeouts

import "time"

// TokenVerify caps the time allowed for credential verification during
// connection admission.
const TokenVerify = 3 * time.Second

// StorageFlush caps the time allowed for persisting a note snapshot when a
// session is torn down or periodically flushed.
const StorageFlush = 5 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight connections
// during graceful shutdown.
const Shutdown = 5 * time.Second

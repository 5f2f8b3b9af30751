package node

import "github.com/cockroachdb/errors"

// Error kinds surfaced across the bridge. Each is a sentinel
// marked onto the concrete error with errors.Mark so callers can test with
// errors.Is while the daemon-side logs retain the full wrapped chain.
var (
	ErrNotFound  = errors.New("node: not_found")
	ErrExpired   = errors.New("node: expired")
	ErrBusy      = errors.New("node: busy")
	ErrTimeout   = errors.New("node: timeout")
	ErrTransport = errors.New("node: transport")
	ErrStorage   = errors.New("node: storage")
)

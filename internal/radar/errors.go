package radar

import "errors"

// Error kinds reported by the decode and dispatch layers. Callers wrap them
// with context and match with errors.Is.
var (
	// ErrConfiguration reports a bad or conflicting sensor/adapter slot.
	ErrConfiguration = errors.New("configuration error")
	// ErrUnknownSlot reports a batch or request for an unconfigured slot.
	ErrUnknownSlot = errors.New("unknown slot")
	// ErrDecode reports a batch envelope that could not be parsed at all.
	ErrDecode = errors.New("decode error")
	// ErrDuplicateClient reports a client id that already has an issued request.
	ErrDuplicateClient = errors.New("duplicate client id")
	// ErrOrphanResponse reports a response with no matching issued request.
	ErrOrphanResponse = errors.New("orphan response")
	// ErrShuttingDown is returned once intake has been stopped.
	ErrShuttingDown = errors.New("shutting down")
	// ErrRequestExpired is delivered to continuations of requests evicted by
	// the orphan sweep.
	ErrRequestExpired = errors.New("request expired without response")
)

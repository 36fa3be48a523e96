// Package engine bridges the platform update engine's asynchronous
// bind/callback protocol into synchronous wait primitives for the worker.
package engine

// Callback is the surface the engine delivers events on. Implementations
// must not block: delivery happens on the engine's own thread of control.
type Callback interface {
	OnStatusUpdate(status Status, fraction float64)
	OnPayloadApplicationComplete(code ErrorCode)
}

// Client is the narrow RPC surface consumed from the update engine. The
// production implementation speaks D-Bus; tests drive an in-process fake
// through the same interface.
type Client interface {
	// Bind registers cb for status/completion events.
	Bind(cb Callback) error
	// Unbind deregisters the callback. Idempotent.
	Unbind() error

	Suspend() error
	Resume() error
	Cancel() error
	ResetStatus() error

	// ApplyPayload starts streaming installation of the payload at the given
	// byte range of url. headers are KEY=VALUE pairs.
	ApplyPayload(url string, offset, size uint64, headers []string) error
}

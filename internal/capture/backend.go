// Package capture drives bounded audio recording sessions over pluggable
// acquisition backends: the local microphone and the whole-system native
// capture bridge.
package capture

import "context"

// Kind identifies an acquisition backend. At most one session per kind may
// hold device resources at a time.
type Kind string

const (
	KindMicrophone Kind = "microphone"
	KindSystem     Kind = "system"
)

// StreamOptions carries the audio-processing constraints requested when
// acquiring a stream. Backends apply what their host API supports.
type StreamOptions struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultStreamOptions enables every processing constraint, matching what
// profile capture wants for reference audio.
func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Backend acquires and finalizes a raw audio stream.
type Backend interface {
	// Kind identifies the backend.
	Kind() Kind

	// IsSupported reports whether the backend can run on this host. It
	// must be checked before the backend is offered; an unsupported
	// backend rejects Acquire.
	IsSupported() bool

	// Acquire requests device access. It may block for an arbitrary time
	// (permission prompts) and fails with a categorized *Error.
	Acquire(ctx context.Context, opts StreamOptions) (Handle, error)
}

// Handle is one acquired stream. The owning session calls exactly one of
// Finalize or Release; Release is also safe after a failed Finalize.
type Handle interface {
	// BeginStreaming starts buffering audio from the device.
	BeginStreaming() error

	// Finalize stops streaming and returns the buffered audio. The
	// backend itself is unbounded; ctx carries the session's finalize
	// deadline.
	Finalize(ctx context.Context) (raw []byte, mime string, err error)

	// Release drops the device without producing audio. Idempotent.
	Release()
}

// Clip is the product of a completed capture session.
type Clip struct {
	Bytes           []byte
	MIME            string
	DurationSeconds float64 // wall-clock measured, not container metadata
	SessionID       string
	Canonical       bool // false when canonicalization fell back to raw bytes
}

// Canonicalizer converts captured bytes to the canonical audio format. A
// failed conversion never fails the capture; the session falls back to the
// raw bytes.
type Canonicalizer interface {
	Convert(raw []byte, mime string) ([]byte, error)
}

// Package playback binds one waveform-rendering surface to a shared
// playback-state store and keeps observers consistent across out-of-order
// async readiness and error events.
package playback

// Events receives surface lifecycle callbacks. Any field may be nil. The
// controller wraps every handler with the load generation current when the
// surface was created; stale events are discarded by generation compare,
// never by assuming arrival order.
type Events struct {
	// Ready fires when the resource is decoded, with the authoritative
	// duration in seconds.
	Ready func(duration float64)

	// Time fires on playback position updates, in seconds.
	Time func(seconds float64)

	// Play and Pause fire on transport changes.
	Play  func()
	Pause func()

	// Finish fires on natural end of media.
	Finish func()

	// Loading reports decode progress, 0-100.
	Loading func(percent int)

	// Error fires on load, decode or playback failure.
	Error func(err error)
}

// Surface is the external rendering capability: it decodes a URL and exposes
// transport primitives. Implementations deliver lifecycle events through the
// Events callbacks they were created with.
type Surface interface {
	// Load starts decoding url. Completion arrives as a ready or error
	// event; Load itself only fails on immediate, synchronous problems.
	Load(url string) error

	// Play starts or resumes playback. An error may be an autoplay
	// rejection; the controller decides whether to surface it.
	Play() error

	// Pause halts playback, keeping position.
	Pause()

	// Seek moves to an absolute position in seconds.
	Seek(seconds float64)

	// SetVolume applies a gain in [0,1]; 0 behaves as mute.
	SetVolume(v float64)

	// Destroy stops playback, releases decode buffers, and deletes any
	// temporary resources. No events fire afterwards.
	Destroy()
}

// SurfaceFactory creates a fresh surface bound to the given event handlers.
// The controller creates one surface per source assignment and destroys the
// previous binding first.
type SurfaceFactory func(events Events) (Surface, error)

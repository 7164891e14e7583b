package playback

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/voicebox-app/voicebox/internal/metrics"
)

// ControllerConfig wires a controller to its surface factory and store.
type ControllerConfig struct {
	Factory SurfaceFactory
	Store   *Store
	Volume  float64 // initial volume, clamped to [0,1]
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Controller owns exactly one surface binding at a time and the monotonic
// load generation that tags every source assignment. Completion callbacks
// from superseded loads are discarded by comparing their issue-time
// generation against the current one.
type Controller struct {
	factory SurfaceFactory
	store   *Store
	log     *zap.Logger
	met     *metrics.Metrics

	mu         sync.Mutex
	surface    Surface
	generation uint64
	source     string
	state      TransportState
	current    float64
	duration   float64
	volume     float64
	loop       bool
	errMsg     string
}

// NewController creates a controller in the Empty state.
func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := cfg.Store
	if store == nil {
		store = NewStore(clampVolume(cfg.Volume))
	}
	c := &Controller{
		factory: cfg.Factory,
		store:   store,
		log:     logger,
		met:     cfg.Metrics,
		state:   StateEmpty,
		volume:  clampVolume(cfg.Volume),
	}
	return c
}

// Store returns the shared playback-state store.
func (c *Controller) Store() *Store { return c.store }

// AssignSource binds a new audio resource. An empty url tears down the
// current media and returns to Empty. Otherwise the load generation is
// bumped, whatever is currently bound is forcibly destroyed (even mid-load,
// so at most one decode is ever in flight), and the new url is loaded under
// the new generation.
func (c *Controller) AssignSource(url string) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	old := c.surface
	c.surface = nil
	c.current = 0
	c.duration = 0
	c.errMsg = ""
	c.source = url
	if url == "" {
		c.state = StateEmpty
		c.mu.Unlock()
		c.teardown(old)
		c.publish()
		return nil
	}
	c.state = StateLoading
	c.mu.Unlock()

	// The old binding is fully torn down before the new one exists.
	c.teardown(old)
	c.publish()
	if c.met != nil {
		c.met.LoadsStarted.Inc()
	}
	c.log.Debug("loading source", zap.String("url", url), zap.Uint64("generation", gen))

	surface, err := c.factory(c.eventsFor(gen))
	if err != nil {
		err = fmt.Errorf("renderer init: %w", err)
		c.failLoad(gen, err)
		return err
	}

	c.mu.Lock()
	if gen != c.generation {
		// Superseded while the surface was being created.
		c.mu.Unlock()
		surface.Destroy()
		return nil
	}
	c.surface = surface
	c.mu.Unlock()

	if err := surface.Load(url); err != nil {
		err = fmt.Errorf("load %s: %w", url, err)
		c.failLoad(gen, err)
		return err
	}
	return nil
}

// Play resumes playback. A no-op unless the session is Ready or Paused.
func (c *Controller) Play() {
	c.mu.Lock()
	if c.state != StateReady && c.state != StatePaused {
		c.mu.Unlock()
		return
	}
	surface := c.surface
	gen := c.generation
	c.mu.Unlock()

	if err := surface.Play(); err != nil {
		c.handleError(gen, fmt.Errorf("playback: %w", err))
	}
}

// Pause halts playback. A no-op unless Playing.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	surface := c.surface
	c.mu.Unlock()

	surface.Pause()
}

// SeekFraction moves to fraction ∈ [0,1] of the authoritative duration.
// A no-op unless Ready, Playing or Paused.
func (c *Controller) SeekFraction(fraction float64) {
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}

	c.mu.Lock()
	switch c.state {
	case StateReady, StatePlaying, StatePaused:
	default:
		c.mu.Unlock()
		return
	}
	seconds := fraction * c.duration
	c.current = seconds
	surface := c.surface
	c.mu.Unlock()

	surface.Seek(seconds)
	c.publish()
}

// SetVolume applies v ∈ [0,1] immediately and retains it across future
// loads. Zero behaves as mute.
func (c *Controller) SetVolume(v float64) {
	v = clampVolume(v)

	c.mu.Lock()
	c.volume = v
	surface := c.surface
	ready := c.state == StateReady || c.state == StatePlaying || c.state == StatePaused
	c.mu.Unlock()

	if surface != nil && ready {
		surface.SetVolume(v)
	}
	c.publish()
}

// ToggleLoop flips loop mode. With loop enabled, natural end of media seeks
// to zero and resumes instead of stopping.
func (c *Controller) ToggleLoop() bool {
	c.mu.Lock()
	c.loop = !c.loop
	enabled := c.loop
	c.mu.Unlock()
	c.publish()
	return enabled
}

// Close tears down the current binding; used on daemon shutdown.
func (c *Controller) Close() {
	c.mu.Lock()
	c.generation++
	old := c.surface
	c.surface = nil
	c.state = StateEmpty
	c.source = ""
	c.mu.Unlock()
	c.teardown(old)
}

// eventsFor builds the surface event handlers for one load generation. Each
// handler compares gen against the generation current at completion time;
// the comparison is never made against a captured snapshot of state.
func (c *Controller) eventsFor(gen uint64) Events {
	return Events{
		Ready:  func(duration float64) { c.handleReady(gen, duration) },
		Time:   func(seconds float64) { c.handleTime(gen, seconds) },
		Play:   func() { c.handleTransport(gen, StatePlaying) },
		Pause:  func() { c.handleTransport(gen, StatePaused) },
		Finish: func() { c.handleFinish(gen) },
		Error:  func(err error) { c.handleError(gen, err) },
		Loading: func(percent int) {
			c.log.Debug("loading", zap.Uint64("generation", gen), zap.Int("percent", percent))
		},
	}
}

func (c *Controller) handleReady(gen uint64, duration float64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.dropStale(gen, "ready")
		return
	}
	c.duration = duration
	c.state = StateReady
	surface := c.surface
	volume := c.volume
	c.mu.Unlock()
	c.publish()

	surface.SetVolume(volume)
	// Auto-start. Autoplay rejection (host policy) is swallowed: the
	// session stays Ready and the user presses play.
	if err := surface.Play(); err != nil {
		c.log.Debug("autoplay rejected", zap.Error(err))
	}
}

func (c *Controller) handleTime(gen uint64, seconds float64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.dropStale(gen, "timeupdate")
		return
	}
	c.current = seconds
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) handleTransport(gen uint64, state TransportState) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.dropStale(gen, string(state))
		return
	}
	switch c.state {
	case StateReady, StatePlaying, StatePaused:
		c.state = state
	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) handleFinish(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.dropStale(gen, "finish")
		return
	}
	if c.loop {
		surface := c.surface
		c.current = 0
		c.mu.Unlock()
		if c.met != nil {
			c.met.PlaybackLoopRestart.Inc()
		}
		surface.Seek(0)
		if err := surface.Play(); err != nil {
			c.handleError(gen, fmt.Errorf("loop restart: %w", err))
			return
		}
		c.publish()
		return
	}
	c.state = StatePaused
	c.current = c.duration
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) handleError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.dropStale(gen, "error")
		return
	}
	c.state = StateError
	c.errMsg = err.Error()
	// The binding is destroyed below, so its generation is dead: any event
	// it still emits (a finish racing the error, a late tick) must be
	// discarded as stale rather than resurrecting the session.
	c.generation++
	old := c.surface
	c.surface = nil
	c.mu.Unlock()

	if c.met != nil {
		c.met.PlaybackErrors.Inc()
	}
	c.log.Warn("playback error", zap.Uint64("generation", gen), zap.Error(err))
	// This handler may run inside the surface's own event dispatch, and
	// Destroy blocks until that dispatch returns.
	go c.teardown(old)
	c.publish()
}

// failLoad marks the load failed unless it was already superseded.
func (c *Controller) failLoad(gen uint64, err error) {
	c.handleError(gen, err)
}

func (c *Controller) dropStale(gen uint64, event string) {
	if c.met != nil {
		c.met.StaleEventsDropped.Inc()
	}
	c.log.Debug("discarded stale surface event",
		zap.Uint64("generation", gen), zap.String("event", event))
}

// teardown pauses and destroys an old binding so no decoder or temporary
// resource outlives its generation.
func (c *Controller) teardown(old Surface) {
	if old == nil {
		return
	}
	old.Pause()
	old.Destroy()
}

func (c *Controller) publish() {
	c.mu.Lock()
	snap := Snapshot{
		SourceURL:    c.source,
		State:        c.state,
		CurrentTime:  c.current,
		Duration:     c.duration,
		Volume:       c.volume,
		Loop:         c.loop,
		Generation:   c.generation,
		ErrorMessage: c.errMsg,
	}
	c.mu.Unlock()
	c.store.Publish(snap)
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

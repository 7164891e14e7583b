package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicebox-app/voicebox/internal/metrics"
)

// ManagerConfig carries the defaults applied to every session the manager
// starts.
type ManagerConfig struct {
	MaxDuration     time.Duration
	FinalizeTimeout time.Duration
	Canonicalizer   Canonicalizer
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
}

// Manager owns the registered backends and enforces the shared-resource
// policy: at most one active session per backend kind. A second Start while
// one is active is rejected, never interleaved.
type Manager struct {
	cfg ManagerConfig
	log *zap.Logger

	mu       sync.Mutex
	backends map[Kind]Backend
	active   map[Kind]*Session

	probeMu  sync.Mutex
	probed   []Kind
	probedAt time.Time
}

// NewManager creates a manager with no backends registered.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		log:      logger,
		backends: make(map[Kind]Backend),
		active:   make(map[Kind]*Session),
	}
}

// Register adds a backend. Later registrations for the same kind replace
// earlier ones.
func (m *Manager) Register(b Backend) {
	m.mu.Lock()
	m.backends[b.Kind()] = b
	m.mu.Unlock()

	m.probeMu.Lock()
	m.probedAt = time.Time{}
	m.probeMu.Unlock()
}

// Supported returns the kinds whose capability probe passes. Only these may
// be offered to the user.
func (m *Manager) Supported() []Kind {
	m.mu.Lock()
	backends := make([]Backend, 0, len(m.backends))
	for _, b := range m.backends {
		backends = append(backends, b)
	}
	m.mu.Unlock()

	// Probe outside the lock: IsSupported may talk to the bridge.
	var kinds []Kind
	for _, b := range backends {
		if b.IsSupported() {
			kinds = append(kinds, b.Kind())
		}
	}
	return kinds
}

// SupportedCached returns the probed kinds, re-probing only when the cached
// result is older than maxAge. The bridge probe opens a connection, so
// callers polling on a tick must not hit Supported directly.
func (m *Manager) SupportedCached(maxAge time.Duration) []Kind {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()
	if !m.probedAt.IsZero() && time.Since(m.probedAt) < maxAge {
		return m.probed
	}
	m.probed = m.Supported()
	m.probedAt = time.Now()
	return m.probed
}

// StartOptions configures one capture attempt started through the manager.
type StartOptions struct {
	Stream      StreamOptions
	MaxDuration time.Duration // 0 uses the manager default
	OnClip      func(Clip)
	OnState     func(State)
}

// Start creates and starts a session on the given backend kind.
func (m *Manager) Start(ctx context.Context, kind Kind, opts StartOptions) (*Session, error) {
	m.mu.Lock()
	backend, ok := m.backends[kind]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("no backend registered for kind %q", kind)
	}
	if existing := m.active[kind]; existing != nil && !existing.State().Terminal() {
		m.mu.Unlock()
		return nil, fmt.Errorf("kind %q: %w", kind, ErrBackendBusy)
	}

	maxDuration := opts.MaxDuration
	if maxDuration <= 0 {
		maxDuration = m.cfg.MaxDuration
	}

	session := NewSession(SessionConfig{
		Backend:         backend,
		Stream:          opts.Stream,
		MaxDuration:     maxDuration,
		FinalizeTimeout: m.cfg.FinalizeTimeout,
		Canonicalizer:   m.cfg.Canonicalizer,
		Logger:          m.log,
		OnClip:          m.wrapClip(kind, opts.OnClip),
		OnStateChange:   m.wrapState(kind, opts.OnState),
	})
	m.active[kind] = session
	m.mu.Unlock()

	if err := session.Start(ctx); err != nil {
		m.clearActive(kind, session)
		return nil, err
	}

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.CapturesStarted.WithLabelValues(string(kind)).Inc()
		m.cfg.Metrics.ActiveSessions.Inc()
	}
	m.log.Info("capture session started",
		zap.String("session_id", session.ID()), zap.String("backend", string(kind)))
	return session, nil
}

// Active returns the live session for kind, or nil.
func (m *Manager) Active(kind Kind) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.active[kind]
	if s == nil || s.State().Terminal() {
		return nil
	}
	return s
}

// CancelAll cancels every live session; used on daemon shutdown.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if !s.State().Terminal() {
			_ = s.Cancel()
		}
	}
}

func (m *Manager) wrapClip(kind Kind, next func(Clip)) func(Clip) {
	return func(clip Clip) {
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.CapturesCompleted.WithLabelValues(string(kind)).Inc()
			m.cfg.Metrics.CaptureDuration.Observe(clip.DurationSeconds)
			if !clip.Canonical {
				m.cfg.Metrics.EncodeFallbacks.Inc()
			}
		}
		m.log.Info("clip captured",
			zap.String("session_id", clip.SessionID),
			zap.String("backend", string(kind)),
			zap.Float64("duration_s", clip.DurationSeconds),
			zap.String("mime", clip.MIME),
			zap.Bool("canonical", clip.Canonical))
		if next != nil {
			next(clip)
		}
	}
}

func (m *Manager) wrapState(kind Kind, next func(State)) func(State) {
	return func(st State) {
		if st.Terminal() {
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.ActiveSessions.Dec()
				switch st {
				case StateCancelled:
					m.cfg.Metrics.CapturesCancelled.WithLabelValues(string(kind)).Inc()
				case StateError:
					m.cfg.Metrics.CapturesFailed.WithLabelValues(string(kind)).Inc()
				}
			}
		}
		if next != nil {
			next(st)
		}
	}
}

func (m *Manager) clearActive(kind Kind, session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[kind] == session {
		delete(m.active, kind)
	}
}

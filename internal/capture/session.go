package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicebox-app/voicebox/internal/wav"
)

// State is the lifecycle state of a capture session.
type State string

const (
	StateIdle             State = "idle"
	StateRequestingAccess State = "requesting_access"
	StateRecording        State = "recording"
	StateStopping         State = "stopping"
	StateFinalizing       State = "finalizing"
	StateCompleted        State = "completed"
	StateCancelled        State = "cancelled"
	StateError            State = "error"
)

// Terminal reports whether the session has released its resources and
// accepts no further operations.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateError
}

const defaultTickInterval = 100 * time.Millisecond

// SessionConfig configures one capture attempt.
type SessionConfig struct {
	Backend         Backend
	Stream          StreamOptions
	MaxDuration     time.Duration
	FinalizeTimeout time.Duration
	Canonicalizer   Canonicalizer // nil disables canonicalization
	Logger          *zap.Logger

	// OnClip receives the captured clip exactly once, on completion. It
	// never fires after Cancel.
	OnClip func(Clip)

	// OnStateChange observes every transition. Called without the session
	// lock held; callbacks may re-enter the session.
	OnStateChange func(State)

	// TickInterval overrides the elapsed-time resolution. Tests shrink it.
	TickInterval time.Duration
}

// Session is a single bounded recording attempt against one backend. It is
// created per attempt and discarded after reaching a terminal state.
type Session struct {
	id  string
	cfg SessionConfig
	log *zap.Logger

	mu        sync.Mutex
	state     State
	cancelled bool
	handle    Handle
	startedAt time.Time
	stoppedAt time.Time
	elapsed   time.Duration
	errMsg    string
	tickStop  chan struct{}
	done      chan struct{}
}

// NewSession creates an Idle session. Start begins the attempt.
func NewSession(cfg SessionConfig) *Session {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:    uuid.NewString(),
		cfg:   cfg,
		log:   logger,
		state: StateIdle,
		done:  make(chan struct{}),
	}
}

// ID returns the session identifier stamped on the delivered clip.
func (s *Session) ID() string { return s.id }

// Kind returns the backend kind this session records from.
func (s *Session) Kind() Kind { return s.cfg.Backend.Kind() }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ElapsedSeconds returns recorded time so far, clamped to MaxDuration.
func (s *Session) ElapsedSeconds() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed.Seconds()
}

// Err returns the terminal error message, empty unless state is Error.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start requests backend access and begins recording. Valid only from Idle;
// the attempt proceeds asynchronously and its outcome arrives through
// OnStateChange/OnClip.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("start from %s: %w", st, ErrInvalidState)
	}
	s.state = StateRequestingAccess
	s.mu.Unlock()
	s.notifyState(StateRequestingAccess)

	go s.acquire(ctx)
	return nil
}

func (s *Session) acquire(ctx context.Context) {
	handle, err := s.cfg.Backend.Acquire(ctx, s.cfg.Stream)

	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		// Cancelled while the permission prompt was up: the device was
		// granted after the fact and must be dropped immediately.
		if err == nil && handle != nil {
			handle.Release()
		}
		return
	}
	if err != nil {
		s.failLocked(err)
		s.mu.Unlock()
		s.notifyState(StateError)
		return
	}

	if serr := handle.BeginStreaming(); serr != nil {
		s.failLocked(serr)
		s.mu.Unlock()
		handle.Release()
		s.notifyState(StateError)
		return
	}

	s.handle = handle
	s.startedAt = time.Now()
	s.state = StateRecording
	s.tickStop = make(chan struct{})
	go s.tickLoop(s.startedAt, s.tickStop)
	s.mu.Unlock()
	s.notifyState(StateRecording)
}

// tickLoop updates elapsed time at the configured resolution. Elapsed is
// always computed against the fixed start timestamp so scheduler jitter
// cannot accumulate into drift.
func (s *Session) tickLoop(start time.Time, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.state != StateRecording {
				s.mu.Unlock()
				return
			}
			elapsed := time.Since(start)
			autoStop := s.cfg.MaxDuration > 0 && elapsed >= s.cfg.MaxDuration
			if autoStop {
				elapsed = s.cfg.MaxDuration
			}
			s.elapsed = elapsed
			s.mu.Unlock()

			if autoStop {
				// Reaching the bound is a normal stop: the clip is
				// still delivered.
				if err := s.Stop(); err != nil && !errors.Is(err, ErrInvalidState) {
					s.log.Warn("auto-stop failed", zap.Error(err))
				}
				return
			}
		}
	}
}

// Stop ends recording and triggers asynchronous finalization. Valid only
// from Recording.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateRecording {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("stop from %s: %w", st, ErrInvalidState)
	}
	s.stoppedAt = time.Now()
	elapsed := s.stoppedAt.Sub(s.startedAt)
	if s.cfg.MaxDuration > 0 && elapsed > s.cfg.MaxDuration {
		elapsed = s.cfg.MaxDuration
	}
	s.elapsed = elapsed
	s.state = StateStopping
	s.stopTickLocked()
	handle := s.handle
	s.mu.Unlock()
	s.notifyState(StateStopping)

	go s.finalize(handle)
	return nil
}

// Cancel abandons the session. Valid from RequestingAccess, Recording and
// Stopping. The cancellation flag is set before this method returns, so any
// finalize or acquire completion that has not yet run will observe it and
// discard its result: no clip is ever delivered after Cancel.
func (s *Session) Cancel() error {
	s.mu.Lock()
	switch s.state {
	case StateRequestingAccess, StateRecording, StateStopping:
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("cancel from %s: %w", st, ErrInvalidState)
	}
	s.cancelled = true
	s.stopTickLocked()
	handle := s.handle
	s.handle = nil
	s.state = StateCancelled
	close(s.done)
	s.mu.Unlock()

	if handle != nil {
		handle.Release()
	}
	s.notifyState(StateCancelled)
	return nil
}

func (s *Session) finalize(handle Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FinalizeTimeout)
	defer cancel()

	raw, mime, err := handle.Finalize(ctx)

	s.mu.Lock()
	if s.cancelled {
		// Cancel won the race: the handle was already released and the
		// finalized audio is discarded.
		s.mu.Unlock()
		return
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = NewError(CategoryDeadlineExceeded,
				fmt.Errorf("finalize exceeded %s: %w", s.cfg.FinalizeTimeout, err))
		}
		s.handle = nil
		s.failLocked(err)
		s.mu.Unlock()
		handle.Release()
		s.notifyState(StateError)
		return
	}
	s.state = StateFinalizing
	duration := s.stoppedAt.Sub(s.startedAt)
	if s.cfg.MaxDuration > 0 && duration > s.cfg.MaxDuration {
		duration = s.cfg.MaxDuration
	}
	s.mu.Unlock()
	s.notifyState(StateFinalizing)

	clipBytes, clipMIME, canonical := raw, mime, false
	if s.cfg.Canonicalizer != nil {
		if converted, cerr := s.cfg.Canonicalizer.Convert(raw, mime); cerr == nil {
			clipBytes, clipMIME, canonical = converted, wav.MIMEType, true
		} else {
			// Downstream consumers tolerate the source format; a failed
			// conversion must not fail the capture.
			s.log.Warn("canonicalization failed, delivering raw bytes",
				zap.String("session_id", s.id), zap.String("mime", mime), zap.Error(cerr))
		}
	}

	clip := Clip{
		Bytes:           clipBytes,
		MIME:            clipMIME,
		DurationSeconds: duration.Seconds(),
		SessionID:       s.id,
		Canonical:       canonical,
	}

	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		handle.Release()
		return
	}
	s.handle = nil
	s.state = StateCompleted
	close(s.done)
	s.mu.Unlock()

	handle.Release()
	s.notifyState(StateCompleted)
	if s.cfg.OnClip != nil {
		s.cfg.OnClip(clip)
	}
}

// failLocked moves the session to Error. Caller holds the lock and releases
// any handle itself.
func (s *Session) failLocked(err error) {
	s.errMsg = err.Error()
	s.state = StateError
	s.stopTickLocked()
	close(s.done)
	s.log.Warn("capture session failed",
		zap.String("session_id", s.id),
		zap.String("backend", string(s.cfg.Backend.Kind())),
		zap.String("category", string(CategoryOf(err))),
		zap.Error(err))
}

func (s *Session) stopTickLocked() {
	if s.tickStop != nil {
		close(s.tickStop)
		s.tickStop = nil
	}
}

func (s *Session) notifyState(st State) {
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(st)
	}
}

// Package mediasurface implements playback.Surface for WAV resources
// reachable over HTTP or the local filesystem. It decodes the resource for
// its authoritative duration and drives a wall-clock transport, emitting the
// same lifecycle events a waveform renderer would.
package mediasurface

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicebox-app/voicebox/internal/playback"
	"github.com/voicebox-app/voicebox/internal/wav"
)

const defaultTickInterval = 100 * time.Millisecond

// Config tunes the surface.
type Config struct {
	HTTPClient   *http.Client
	TickInterval time.Duration
	Logger       *zap.Logger
}

// Factory returns a playback.SurfaceFactory creating surfaces with cfg.
func Factory(cfg Config) playback.SurfaceFactory {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return func(events playback.Events) (playback.Surface, error) {
		return newSurface(cfg, events), nil
	}
}

// surface is one bound media resource. Position is derived from a fixed
// play timestamp, not accumulated ticks.
type surface struct {
	cfg    Config
	events playback.Events
	log    *zap.Logger

	// emitMu serializes asynchronous event dispatch (load results, ticks)
	// against Destroy: the destroyed check and the callback share one
	// critical section, so no event fires after Destroy returns. Transport
	// callbacks (play/pause) stay outside it; they run on the caller's own
	// stack, and handlers re-enter the surface from a finish event.
	emitMu sync.Mutex

	mu        sync.Mutex
	destroyed bool
	ready     bool
	playing   bool
	duration  float64
	position  float64 // seconds at last transport change
	playedAt  time.Time
	volume    float64
	tmpPath   string
	tickStop  chan struct{}
}

func newSurface(cfg Config, events playback.Events) *surface {
	return &surface{cfg: cfg, events: events, log: cfg.Logger, volume: 1.0}
}

// Load fetches and decodes the resource asynchronously.
func (s *surface) Load(url string) error {
	if url == "" {
		return fmt.Errorf("empty url")
	}
	go s.load(url)
	return nil
}

func (s *surface) load(url string) {
	data, err := s.fetch(url)
	if err != nil {
		s.emitError(fmt.Errorf("load failure: %w", err))
		return
	}
	s.emitLoading(100)

	duration, err := wav.Duration(data)
	if err != nil {
		s.emitError(fmt.Errorf("decode failure: %w", err))
		return
	}

	// Spill the decoded resource to a temp file, the binding's only
	// owned disk resource; Destroy must delete it.
	tmp, err := os.CreateTemp("", "voicebox-media-*.wav")
	if err != nil {
		s.emitError(fmt.Errorf("load failure: %w", err))
		return
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		s.emitError(fmt.Errorf("load failure: %w", err))
		return
	}
	tmp.Close()

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		os.Remove(tmp.Name())
		return
	}
	s.tmpPath = tmp.Name()
	s.duration = duration
	s.ready = true
	s.mu.Unlock()

	s.log.Debug("media ready", zap.String("url", url), zap.Float64("duration_s", duration))
	s.dispatch(func() {
		if s.events.Ready != nil {
			s.events.Ready(duration)
		}
	})
}

// dispatch invokes fn unless the surface has been destroyed. Destroy blocks
// on the same lock after flipping the flag, so callers of Destroy never see
// an event afterwards.
func (s *surface) dispatch(fn func()) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	destroyed := s.destroyed
	s.mu.Unlock()
	if !destroyed {
		fn()
	}
}

func (s *surface) fetch(url string) ([]byte, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		resp, err := s.cfg.HTTPClient.Get(url)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		return io.ReadAll(resp.Body)
	}
	return os.ReadFile(strings.TrimPrefix(url, "file://"))
}

// Play starts or resumes the transport.
func (s *surface) Play() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return fmt.Errorf("surface destroyed")
	}
	if !s.ready {
		s.mu.Unlock()
		return fmt.Errorf("media not ready")
	}
	if s.playing {
		s.mu.Unlock()
		return nil
	}
	if s.position >= s.duration {
		s.position = 0
	}
	s.playing = true
	s.playedAt = time.Now()
	if s.tickStop == nil {
		s.tickStop = make(chan struct{})
		go s.tickLoop(s.tickStop)
	}
	s.mu.Unlock()

	if s.events.Play != nil {
		s.events.Play()
	}
	return nil
}

// Pause halts the transport, keeping position.
func (s *surface) Pause() {
	s.mu.Lock()
	if s.destroyed || !s.playing {
		s.mu.Unlock()
		return
	}
	s.position += time.Since(s.playedAt).Seconds()
	if s.position > s.duration {
		s.position = s.duration
	}
	s.playing = false
	s.mu.Unlock()

	if s.events.Pause != nil {
		s.events.Pause()
	}
}

// Seek moves to an absolute position in seconds.
func (s *surface) Seek(seconds float64) {
	s.mu.Lock()
	if s.destroyed || !s.ready {
		s.mu.Unlock()
		return
	}
	if seconds < 0 {
		seconds = 0
	} else if seconds > s.duration {
		seconds = s.duration
	}
	s.position = seconds
	if s.playing {
		s.playedAt = time.Now()
	}
	s.mu.Unlock()
}

// SetVolume stores the gain for the render path.
func (s *surface) SetVolume(v float64) {
	s.mu.Lock()
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	s.volume = v
	s.mu.Unlock()
}

// Destroy stops the transport and deletes the temp resource. Idempotent; no
// events fire afterwards.
func (s *surface) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.playing = false
	if s.tickStop != nil {
		close(s.tickStop)
		s.tickStop = nil
	}
	tmpPath := s.tmpPath
	s.tmpPath = ""
	s.mu.Unlock()

	// Wait out any event dispatch that already passed its destroyed check.
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	if tmpPath != "" {
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			s.log.Debug("failed to remove media temp file", zap.Error(err))
		}
	}
}

func (s *surface) tickLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.destroyed {
				s.mu.Unlock()
				return
			}
			if !s.playing {
				s.mu.Unlock()
				continue
			}
			pos := s.position + time.Since(s.playedAt).Seconds()
			finished := pos >= s.duration
			if finished {
				pos = s.duration
				s.position = s.duration
				s.playing = false
			}
			s.mu.Unlock()

			s.dispatch(func() {
				if s.events.Time != nil {
					s.events.Time(pos)
				}
				if finished && s.events.Finish != nil {
					s.events.Finish()
				}
			})
		}
	}
}

func (s *surface) emitLoading(percent int) {
	s.dispatch(func() {
		if s.events.Loading != nil {
			s.events.Loading(percent)
		}
	})
}

func (s *surface) emitError(err error) {
	s.dispatch(func() {
		if s.events.Error != nil {
			s.events.Error(err)
		}
	})
}

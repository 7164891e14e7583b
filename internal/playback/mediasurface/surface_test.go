package mediasurface

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voicebox-app/voicebox/internal/playback"
	"github.com/voicebox-app/voicebox/internal/wav"
)

// eventRecorder funnels surface events into channels for synchronization.
type eventRecorder struct {
	ready  chan float64
	times  chan float64
	finish chan struct{}
	errs   chan error
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		ready:  make(chan float64, 1),
		times:  make(chan float64, 64),
		finish: make(chan struct{}, 1),
		errs:   make(chan error, 1),
	}
}

func (r *eventRecorder) events() playback.Events {
	return playback.Events{
		Ready:  func(d float64) { r.ready <- d },
		Time:   func(s float64) { r.times <- s },
		Finish: func() { r.finish <- struct{}{} },
		Error:  func(err error) { r.errs <- err },
	}
}

func (r *eventRecorder) waitReady(t *testing.T) float64 {
	t.Helper()
	select {
	case d := <-r.ready:
		return d
	case err := <-r.errs:
		t.Fatalf("error instead of ready: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ready")
	}
	return 0
}

func (r *eventRecorder) waitError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errs:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
	}
	return nil
}

// writeClip produces a WAV file with the given length in seconds.
func writeClip(t *testing.T, seconds float64) string {
	t.Helper()
	const rate = 8000
	samples := make([]int16, int(seconds*rate))
	data, err := wav.Encode(samples, rate, 1)
	if err != nil {
		t.Fatalf("encode clip: %v", err)
	}
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	return path
}

func newTestSurface(t *testing.T, rec *eventRecorder) playback.Surface {
	t.Helper()
	factory := Factory(Config{TickInterval: 5 * time.Millisecond})
	s, err := factory(rec.events())
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	t.Cleanup(s.Destroy)
	return s
}

func TestLoadLocalFileReportsDuration(t *testing.T) {
	path := writeClip(t, 2.0)
	rec := newEventRecorder()
	s := newTestSurface(t, rec)

	if err := s.Load("file://" + path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if d := rec.waitReady(t); d < 1.99 || d > 2.01 {
		t.Errorf("duration = %f, want ~2.0", d)
	}
}

func TestLoadOverHTTP(t *testing.T) {
	samples := make([]int16, 8000)
	data, err := wav.Encode(samples, 8000, 1)
	if err != nil {
		t.Fatalf("encode clip: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", wav.MIMEType)
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)

	rec := newEventRecorder()
	s := newTestSurface(t, rec)
	if err := s.Load(server.URL + "/clip.wav"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if d := rec.waitReady(t); d < 0.99 || d > 1.01 {
		t.Errorf("duration = %f, want ~1.0", d)
	}
}

func TestLoadMissingFileEmitsError(t *testing.T) {
	rec := newEventRecorder()
	s := newTestSurface(t, rec)
	if err := s.Load("file:///nonexistent/clip.wav"); err != nil {
		t.Fatalf("Load returned synchronous error: %v", err)
	}
	if err := rec.waitError(t); err == nil {
		t.Fatal("no error for missing file")
	}
}

func TestLoadCorruptDataEmitsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.wav")
	if err := os.WriteFile(path, []byte("not a riff header at all"), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	rec := newEventRecorder()
	s := newTestSurface(t, rec)
	if err := s.Load("file://" + path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := rec.waitError(t); err == nil {
		t.Fatal("no error for corrupt data")
	}
}

func TestPlayEmitsTimeThenFinish(t *testing.T) {
	path := writeClip(t, 0.05)
	rec := newEventRecorder()
	s := newTestSurface(t, rec)
	if err := s.Load("file://" + path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	rec.waitReady(t)

	if err := s.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	select {
	case pos := <-rec.times:
		if pos < 0 || pos > 0.05 {
			t.Errorf("time event %f outside clip bounds", pos)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no time event while playing")
	}

	select {
	case <-rec.finish:
	case <-time.After(2 * time.Second):
		t.Fatal("clip never finished")
	}

	// Replaying after a natural finish rewinds to the start.
	if err := s.Play(); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	select {
	case <-rec.finish:
	case <-time.After(2 * time.Second):
		t.Fatal("replay never finished")
	}
}

func TestPlayBeforeReadyFails(t *testing.T) {
	rec := newEventRecorder()
	s := newTestSurface(t, rec)
	if err := s.Play(); err == nil {
		t.Fatal("Play succeeded before any media loaded")
	}
}

func TestSeekMovesPosition(t *testing.T) {
	path := writeClip(t, 1.0)
	rec := newEventRecorder()
	s := newTestSurface(t, rec)
	if err := s.Load("file://" + path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	rec.waitReady(t)

	s.Seek(0.9)
	if err := s.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	select {
	case pos := <-rec.times:
		if pos < 0.9 {
			t.Errorf("first time event %f, want >= 0.9 after seek", pos)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no time event after seek+play")
	}
}

func TestNoEventsAfterDestroy(t *testing.T) {
	path := writeClip(t, 1.0)
	factory := Factory(Config{TickInterval: time.Millisecond})

	var destroyed atomic.Bool
	var late atomic.Bool
	ready := make(chan struct{}, 1)
	markLate := func() {
		if destroyed.Load() {
			late.Store(true)
		}
	}
	s, err := factory(playback.Events{
		Ready: func(float64) {
			select {
			case ready <- struct{}{}:
			default:
			}
		},
		Time:   func(float64) { markLate() },
		Finish: func() { markLate() },
		Error:  func(error) { markLate() },
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	if err := s.Load("file://" + path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ready")
	}
	if err := s.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	// Destroy must wait out any tick already past its liveness check, so
	// once it returns no further event may fire.
	s.Destroy()
	destroyed.Store(true)

	time.Sleep(20 * time.Millisecond)
	if late.Load() {
		t.Error("event fired after Destroy returned")
	}
}

func TestDestroyRemovesTempResource(t *testing.T) {
	glob := filepath.Join(os.TempDir(), "voicebox-media-*.wav")
	before, _ := filepath.Glob(glob)

	path := writeClip(t, 1.0)
	rec := newEventRecorder()
	factory := Factory(Config{TickInterval: 5 * time.Millisecond})
	s, err := factory(rec.events())
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if err := s.Load("file://" + path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	rec.waitReady(t)

	during, _ := filepath.Glob(glob)
	if len(during) != len(before)+1 {
		t.Fatalf("temp files during playback = %d, want %d", len(during), len(before)+1)
	}

	s.Destroy()
	s.Destroy() // idempotent

	after, _ := filepath.Glob(glob)
	if len(after) != len(before) {
		t.Errorf("temp files after destroy = %d, want %d", len(after), len(before))
	}

	if err := s.Play(); err == nil {
		t.Error("Play succeeded on a destroyed surface")
	}
}

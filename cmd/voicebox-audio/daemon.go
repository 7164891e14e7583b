package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/voicebox-app/voicebox/internal/capture"
	"github.com/voicebox-app/voicebox/internal/capture/microphone"
	"github.com/voicebox-app/voicebox/internal/capture/systemaudio"
	"github.com/voicebox-app/voicebox/internal/config"
	"github.com/voicebox-app/voicebox/internal/encode"
	"github.com/voicebox-app/voicebox/internal/ipc"
	"github.com/voicebox-app/voicebox/internal/logging"
	"github.com/voicebox-app/voicebox/internal/metrics"
	"github.com/voicebox-app/voicebox/internal/pidfile"
	"github.com/voicebox-app/voicebox/internal/playback"
	"github.com/voicebox-app/voicebox/internal/playback/mediasurface"
)

// supportedProbeTTL bounds how often the status loop re-probes backend
// availability.
const supportedProbeTTL = time.Minute

// daemon ties the capture manager and playback controller to the IPC
// channel and keeps the status file current.
type daemon struct {
	cfg        *config.Config
	log        *zap.Logger
	manager    *capture.Manager
	controller *playback.Controller
	cacheDir   string

	statusDirty chan struct{}
	quit        chan struct{}

	// Written by the loop goroutine and by clip-delivery callbacks.
	mu           sync.Mutex
	lastClipPath string
	lastError    string
}

func (d *daemon) setError(msg string) {
	d.mu.Lock()
	d.lastError = msg
	d.mu.Unlock()
}

func runDaemon(cfg *config.Config) error {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	pf, err := pidfile.Acquire(pidfile.Path("voicebox-audio"))
	if err != nil {
		return fmt.Errorf("daemon already running? %w", err)
	}
	defer func() {
		if err := pf.Release(); err != nil {
			logger.Warn("failed to remove PID file", zap.Error(err))
		}
	}()

	met := metrics.New(nil)
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	d := &daemon{
		cfg:         cfg,
		log:         logging.Named(logger, "daemon"),
		cacheDir:    config.CacheDir(),
		statusDirty: make(chan struct{}, 1),
		quit:        make(chan struct{}),
	}

	canonicalizer := encode.NewFFmpeg(cfg.FFmpegPath, cfg.EncodeTimeout, logging.Named(logger, "encode"))
	d.manager = capture.NewManager(capture.ManagerConfig{
		MaxDuration:     cfg.MaxCaptureDuration,
		FinalizeTimeout: cfg.FinalizeTimeout,
		Canonicalizer:   canonicalizer,
		Logger:          logging.Named(logger, "capture"),
		Metrics:         met,
	})
	d.manager.Register(microphone.NewBackend(microphone.Config{
		SampleRate: cfg.MicSampleRate,
		FrameSize:  cfg.MicFrameSize,
		Logger:     logging.Named(logger, "microphone"),
	}))
	bridge := systemaudio.NewClient(cfg.BridgeURL, cfg.BridgeRequestTimeout, logging.Named(logger, "bridge"))
	d.manager.Register(systemaudio.NewBackend(bridge, cfg.MaxCaptureDuration, logging.Named(logger, "systemaudio")))
	defer bridge.Close()

	d.controller = playback.NewController(playback.ControllerConfig{
		Factory: mediasurface.Factory(mediasurface.Config{
			Logger: logging.Named(logger, "mediasurface"),
		}),
		Volume:  cfg.DefaultVolume,
		Logger:  logging.Named(logger, "playback"),
		Metrics: met,
	})
	defer d.controller.Close()
	defer d.manager.CancelAll()

	// Every published playback snapshot refreshes the status file.
	unsubscribe := d.controller.Store().Subscribe(func(playback.Snapshot) {
		d.markDirty()
	})
	defer unsubscribe()

	d.log.Info("audio core started",
		zap.String("version", Version),
		zap.Int("pid", os.Getpid()),
		zap.String("bridge_url", cfg.BridgeURL))

	return d.loop()
}

// loop serves IPC commands until quit or a shutdown signal.
func (d *daemon) loop() error {
	if err := os.MkdirAll(d.cacheDir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	// Ensure the command file exists so the watcher has something to watch.
	cmdPath := ipc.CommandPath(d.cacheDir)
	if _, err := os.Stat(cmdPath); os.IsNotExist(err) {
		if err := os.WriteFile(cmdPath, nil, 0644); err != nil {
			return fmt.Errorf("create command file: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(d.cacheDir); err != nil {
		return fmt.Errorf("watch cache dir: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Periodic status refresh keeps the elapsed-time display moving even
	// when nothing else changes.
	statusTicker := time.NewTicker(500 * time.Millisecond)
	defer statusTicker.Stop()

	d.writeStatus()
	for {
		select {
		case sig := <-sigCh:
			d.log.Info("shutting down", zap.String("signal", sig.String()))
			return nil
		case <-d.quit:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name == cmdPath && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				d.handlePending()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.log.Warn("watcher error", zap.Error(err))
		case <-d.statusDirty:
			d.writeStatus()
		case <-statusTicker.C:
			d.writeStatus()
		}
	}
}

func (d *daemon) handlePending() {
	req, err := ipc.ReadCommand(d.cacheDir)
	if err != nil {
		d.log.Warn("failed to read command", zap.Error(err))
		return
	}
	if req == nil {
		return
	}
	d.log.Info("command received", zap.String("command", string(req.Command)), zap.String("arg", req.Arg))
	d.dispatch(req)
	d.markDirty()
}

func (d *daemon) dispatch(req *ipc.Request) {
	switch req.Command {
	case ipc.CmdRecordMic:
		d.startCapture(capture.KindMicrophone)
	case ipc.CmdRecordSystem:
		d.startCapture(capture.KindSystem)
	case ipc.CmdStop:
		d.stopCapture()
	case ipc.CmdCancel:
		d.cancelCapture()
	case ipc.CmdPlay:
		if req.Arg == "" {
			d.setError("play requires a url")
			return
		}
		if err := d.controller.AssignSource(req.Arg); err != nil {
			d.setError(err.Error())
		}
	case ipc.CmdClear:
		_ = d.controller.AssignSource("")
	case ipc.CmdPause:
		d.controller.Pause()
	case ipc.CmdResume:
		d.controller.Play()
	case ipc.CmdSeek:
		if f, err := strconv.ParseFloat(req.Arg, 64); err == nil {
			d.controller.SeekFraction(f)
		} else {
			d.setError(fmt.Sprintf("bad seek fraction %q", req.Arg))
		}
	case ipc.CmdVolume:
		if v, err := strconv.ParseFloat(req.Arg, 64); err == nil {
			d.controller.SetVolume(v)
		} else {
			d.setError(fmt.Sprintf("bad volume %q", req.Arg))
		}
	case ipc.CmdLoop:
		d.controller.ToggleLoop()
	case ipc.CmdQuit:
		close(d.quit)
	}
}

func (d *daemon) startCapture(kind capture.Kind) {
	d.setError("")
	_, err := d.manager.Start(context.Background(), kind, capture.StartOptions{
		Stream: capture.DefaultStreamOptions(),
		OnClip: d.deliverClip,
		OnState: func(capture.State) {
			d.markDirty()
		},
	})
	if err != nil {
		d.setError(err.Error())
		d.log.Warn("capture start rejected", zap.String("backend", string(kind)), zap.Error(err))
	}
}

func (d *daemon) stopCapture() {
	if s := d.activeSession(); s != nil {
		if err := s.Stop(); err != nil {
			d.setError(err.Error())
		}
	}
}

func (d *daemon) cancelCapture() {
	if s := d.activeSession(); s != nil {
		if err := s.Cancel(); err != nil {
			d.setError(err.Error())
		}
	}
}

func (d *daemon) activeSession() *capture.Session {
	for _, kind := range []capture.Kind{capture.KindMicrophone, capture.KindSystem} {
		if s := d.manager.Active(kind); s != nil {
			return s
		}
	}
	return nil
}

// deliverClip hands a finished clip to the front-end by writing it under the
// cache dir and pointing the status file at it.
func (d *daemon) deliverClip(clip capture.Clip) {
	name := fmt.Sprintf("clip-%s.wav", clip.SessionID)
	if !clip.Canonical {
		name = fmt.Sprintf("clip-%s.raw", clip.SessionID)
	}
	path := ipc.ClipPath(d.cacheDir, name)
	if err := ipc.WriteClip(path, clip); err != nil {
		d.setError(fmt.Sprintf("write clip: %v", err))
		d.log.Warn("failed to persist clip", zap.Error(err))
		d.markDirty()
		return
	}
	d.mu.Lock()
	d.lastClipPath = path
	d.mu.Unlock()
	d.markDirty()
}

func (d *daemon) writeStatus() {
	status := &ipc.StatusSnapshot{
		Playback:  d.controller.Store().Snapshot(),
		Timestamp: time.Now(),
	}
	// The status file is rewritten on every tick; probing the bridge that
	// often would open a websocket twice a second.
	for _, kind := range d.manager.SupportedCached(supportedProbeTTL) {
		status.SupportedBackends = append(status.SupportedBackends, string(kind))
	}
	if s := d.activeSession(); s != nil {
		status.Capture = ipc.CaptureStatus{
			Active:         true,
			SessionID:      s.ID(),
			Backend:        string(s.Kind()),
			State:          string(s.State()),
			ElapsedSeconds: s.ElapsedSeconds(),
		}
	}
	d.mu.Lock()
	if d.lastError != "" {
		status.Capture.LastError = d.lastError
	}
	status.LastClipPath = d.lastClipPath
	d.mu.Unlock()

	if err := ipc.WriteStatus(d.cacheDir, status); err != nil {
		d.log.Warn("failed to write status", zap.Error(err))
	}
}

func (d *daemon) markDirty() {
	select {
	case d.statusDirty <- struct{}{}:
	default:
	}
}

func runProbe(cfg *config.Config) error {
	logger := zap.NewNop()
	manager := capture.NewManager(capture.ManagerConfig{
		MaxDuration:     cfg.MaxCaptureDuration,
		FinalizeTimeout: cfg.FinalizeTimeout,
		Logger:          logger,
	})
	manager.Register(microphone.NewBackend(microphone.Config{
		SampleRate: cfg.MicSampleRate,
		FrameSize:  cfg.MicFrameSize,
	}))
	bridge := systemaudio.NewClient(cfg.BridgeURL, cfg.BridgeRequestTimeout, logger)
	defer bridge.Close()
	manager.Register(systemaudio.NewBackend(bridge, cfg.MaxCaptureDuration, logger))

	supported := make(map[capture.Kind]bool)
	for _, kind := range manager.Supported() {
		supported[kind] = true
	}
	for _, kind := range []capture.Kind{capture.KindMicrophone, capture.KindSystem} {
		fmt.Printf("%-12s supported=%v\n", kind, supported[kind])
	}
	return nil
}

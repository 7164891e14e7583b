// Package microphone captures audio from the local input device via
// PortAudio.
package microphone

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/voicebox-app/voicebox/internal/capture"
	"github.com/voicebox-app/voicebox/internal/wav"
)

// Config tunes the capture stream.
type Config struct {
	SampleRate int // default 48000
	FrameSize  int // samples per read, default 4800 (100ms)
	DeviceName string
	Logger     *zap.Logger
}

// Backend implements capture.Backend for the default (or named) input device.
type Backend struct {
	cfg Config
	log *zap.Logger

	initOnce sync.Once
	initErr  error
}

// NewBackend creates the microphone backend. PortAudio is initialized lazily
// on first Acquire so construction never touches hardware.
func NewBackend(cfg Config) *Backend {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = cfg.SampleRate / 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{cfg: cfg, log: logger}
}

// Kind identifies this backend as the local microphone.
func (b *Backend) Kind() capture.Kind { return capture.KindMicrophone }

// IsSupported reports whether PortAudio can initialize and an input device
// exists. Microphone capture is near-universal but headless hosts lack one.
func (b *Backend) IsSupported() bool {
	if err := b.initialize(); err != nil {
		return false
	}
	_, err := portaudio.DefaultInputDevice()
	return err == nil
}

func (b *Backend) initialize() error {
	b.initOnce.Do(func() {
		b.initErr = portaudio.Initialize()
	})
	return b.initErr
}

// Acquire opens the input device. Stream processing options (echo
// cancellation, noise suppression, auto gain) are requested from the host
// API where it honors them; PortAudio itself passes frames through raw.
func (b *Backend) Acquire(ctx context.Context, opts capture.StreamOptions) (capture.Handle, error) {
	if err := b.initialize(); err != nil {
		return nil, capture.NewError(capture.CategoryUnsupportedPlatform,
			fmt.Errorf("portaudio init: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return nil, capture.NewError(capture.CategoryDeviceUnavailable, err)
	}

	device, err := b.findDevice()
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = 1
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = float64(b.cfg.SampleRate)
	params.FramesPerBuffer = b.cfg.FrameSize

	buffer := make([]int16, b.cfg.FrameSize)
	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		return nil, capture.NewError(categorize(err), fmt.Errorf("open capture stream: %w", err))
	}

	b.log.Debug("microphone acquired",
		zap.String("device", device.Name),
		zap.Int("sample_rate", b.cfg.SampleRate),
		zap.Bool("echo_cancellation", opts.EchoCancellation),
		zap.Bool("noise_suppression", opts.NoiseSuppression),
		zap.Bool("auto_gain", opts.AutoGainControl))

	return &handle{
		stream:     stream,
		buffer:     buffer,
		sampleRate: b.cfg.SampleRate,
		log:        b.log,
	}, nil
}

func (b *Backend) findDevice() (*portaudio.DeviceInfo, error) {
	if b.cfg.DeviceName != "" {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, capture.NewError(capture.CategoryDeviceUnavailable,
				fmt.Errorf("enumerate devices: %w", err))
		}
		for _, d := range devices {
			if d.MaxInputChannels > 0 && strings.Contains(d.Name, b.cfg.DeviceName) {
				return d, nil
			}
		}
		return nil, capture.Errorf(capture.CategoryDeviceUnavailable,
			"no input device matching %q", b.cfg.DeviceName)
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, capture.NewError(capture.CategoryDeviceUnavailable,
			fmt.Errorf("no input device: %w", err))
	}
	return device, nil
}

func categorize(err error) capture.Category {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") {
		return capture.CategoryPermissionDenied
	}
	return capture.CategoryDeviceUnavailable
}

// handle owns one open input stream and its sample buffer.
type handle struct {
	stream     *portaudio.Stream
	buffer     []int16
	sampleRate int
	log        *zap.Logger

	mu       sync.Mutex
	samples  []int16
	running  bool
	released bool
	stopped  chan struct{}
}

// BeginStreaming starts the read loop appending frames to the sample buffer.
func (h *handle) BeginStreaming() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running || h.released {
		return fmt.Errorf("stream not in a startable state")
	}
	if err := h.stream.Start(); err != nil {
		return capture.NewError(capture.CategoryDeviceUnavailable,
			fmt.Errorf("start capture stream: %w", err))
	}
	h.running = true
	h.stopped = make(chan struct{})
	go h.readLoop(h.stopped)
	return nil
}

func (h *handle) readLoop(stopped chan struct{}) {
	defer close(stopped)
	for {
		h.mu.Lock()
		if !h.running {
			h.mu.Unlock()
			return
		}
		h.mu.Unlock()

		// Blocking read of one frame; returns when the stream stops.
		if err := h.stream.Read(); err != nil {
			return
		}

		h.mu.Lock()
		if h.running {
			h.samples = append(h.samples, h.buffer...)
		}
		h.mu.Unlock()
	}
}

// Finalize stops the stream and encodes the buffered PCM as WAV.
func (h *handle) Finalize(ctx context.Context) ([]byte, string, error) {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil, "", fmt.Errorf("stream already released")
	}
	wasRunning := h.running
	h.running = false
	stopped := h.stopped
	h.mu.Unlock()

	if wasRunning {
		if err := h.stream.Stop(); err != nil {
			h.log.Debug("stop capture stream", zap.Error(err))
		}
		select {
		case <-stopped:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}

	h.mu.Lock()
	samples := h.samples
	h.samples = nil
	h.released = true
	h.mu.Unlock()
	_ = h.stream.Close()

	if len(samples) == 0 {
		return nil, "", capture.Errorf(capture.CategoryDeviceUnavailable, "no audio samples captured")
	}
	data, err := wav.Encode(samples, h.sampleRate, 1)
	if err != nil {
		return nil, "", fmt.Errorf("encode captured audio: %w", err)
	}
	return data, wav.MIMEType, nil
}

// Release stops the stream and discards all buffered audio.
func (h *handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	wasRunning := h.running
	h.running = false
	h.samples = nil
	h.released = true
	h.mu.Unlock()

	if wasRunning {
		_ = h.stream.Abort()
	}
	_ = h.stream.Close()
}

package systemaudio

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicebox-app/voicebox/internal/capture"
	"github.com/voicebox-app/voicebox/internal/wav"
)

// Backend implements capture.Backend on top of the native capture bridge.
// Platform capture facilities live in the bridge process; this side only
// speaks the protocol.
type Backend struct {
	client *Client
	log    *zap.Logger

	maxDuration time.Duration
}

// NewBackend wraps a bridge client. maxDuration is forwarded to the bridge
// as its hard recording bound.
func NewBackend(client *Client, maxDuration time.Duration, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{client: client, log: logger, maxDuration: maxDuration}
}

// Kind identifies this backend as the system-audio capturer.
func (b *Backend) Kind() capture.Kind { return capture.KindSystem }

// IsSupported probes the bridge at runtime. Availability is host-restricted
// and must never be assumed.
func (b *Backend) IsSupported() bool {
	if !b.client.IsConnected() {
		if err := b.client.Connect(); err != nil {
			b.log.Debug("capture bridge unreachable", zap.Error(err))
			return false
		}
	}
	supported, err := b.client.Supported()
	if err != nil {
		b.log.Debug("capability probe failed", zap.Error(err))
		return false
	}
	return supported
}

// Acquire asks the bridge to start system-wide capture.
func (b *Backend) Acquire(ctx context.Context, _ capture.StreamOptions) (capture.Handle, error) {
	if !b.client.IsConnected() {
		if err := b.client.Connect(); err != nil {
			return nil, capture.NewError(capture.CategoryDeviceUnavailable,
				fmt.Errorf("capture bridge unreachable: %w", err))
		}
	}

	supported, err := b.client.Supported()
	if err != nil {
		return nil, capture.NewError(capture.CategoryDeviceUnavailable, err)
	}
	if !supported {
		return nil, capture.NewError(capture.CategoryUnsupportedPlatform, errNotSupported)
	}

	if err := b.client.StartCapture(b.maxDuration); err != nil {
		return nil, capture.NewError(categorize(err), err)
	}
	return &handle{client: b.client, log: b.log}, nil
}

// categorize maps bridge error strings onto the capture taxonomy. The bridge
// propagates platform errors as plain messages.
func categorize(err error) capture.Category {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied"):
		return capture.CategoryPermissionDenied
	case strings.Contains(msg, "not supported") || strings.Contains(msg, "unsupported"):
		return capture.CategoryUnsupportedPlatform
	default:
		return capture.CategoryDeviceUnavailable
	}
}

// handle is one in-flight bridge capture.
type handle struct {
	client *Client
	log    *zap.Logger

	mu       sync.Mutex
	released bool
}

// BeginStreaming is a no-op: the bridge buffers samples in its own process
// from the moment start_capture succeeds.
func (h *handle) BeginStreaming() error { return nil }

// Finalize stops the bridge capture and decodes its base64 payload.
func (h *handle) Finalize(ctx context.Context) ([]byte, string, error) {
	type result struct {
		encoded string
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		encoded, err := h.client.StopCapture()
		ch <- result{encoded, err}
	}()

	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, "", capture.NewError(capture.CategoryDeviceUnavailable, r.err)
		}
		raw, err := base64.StdEncoding.DecodeString(r.encoded)
		if err != nil {
			return nil, "", capture.NewError(capture.CategoryDeviceUnavailable,
				fmt.Errorf("decode bridge audio: %w", err))
		}
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()
		return raw, wav.MIMEType, nil
	}
}

// Release discards the in-flight capture without keeping its audio.
func (h *handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.mu.Unlock()

	if _, err := h.client.StopCapture(); err != nil {
		h.log.Debug("discarding bridge capture failed", zap.Error(err))
	}
}

package wav

import (
	"math"
	"testing"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	samples := make([]int16, 4800) // 100ms mono at 48kHz
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(float64(i)*0.05))
	}

	data, err := Encode(samples, 48000, 1)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, rate, channels, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if rate != 48000 {
		t.Errorf("sample rate = %d, want 48000", rate)
	}
	if channels != 1 {
		t.Errorf("channels = %d, want 1", channels)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, decoded[i], samples[i])
		}
	}
}

func TestEncodeRejectsInvalidInput(t *testing.T) {
	if _, err := Encode(nil, 48000, 1); err == nil {
		t.Error("expected error for empty samples")
	}
	if _, err := Encode([]int16{1, 2}, 0, 1); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := Encode([]int16{1, 2}, 48000, 0); err == nil {
		t.Error("expected error for zero channels")
	}
}

func TestDuration(t *testing.T) {
	// 3 seconds of stereo at 44.1kHz.
	samples := make([]int16, 44100*2*3)
	data, err := Encode(samples, 44100, 2)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	dur, err := Duration(data)
	if err != nil {
		t.Fatalf("Duration failed: %v", err)
	}
	if math.Abs(dur-3.0) > 0.001 {
		t.Errorf("duration = %.3f, want 3.0", dur)
	}
}

func TestIsWAV(t *testing.T) {
	data, err := Encode([]int16{0, 0, 0, 0}, 16000, 1)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !IsWAV(data) {
		t.Error("IsWAV = false for encoded WAV")
	}
	if IsWAV([]byte("OggS e.g. an ogg container header")) {
		t.Error("IsWAV = true for non-WAV data")
	}
	if IsWAV(nil) {
		t.Error("IsWAV = true for nil")
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too short", []byte("RIFF")},
		{"wrong magic", make([]byte, 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, _, err := Decode(tt.data); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

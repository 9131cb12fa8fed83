package audio_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"audiobatch/internal/audio"
)

func writeBytes(path string, body []byte) error {
	return os.WriteFile(path, body, 0o644)
}

func TestWAVRoundTrip(t *testing.T) {
	samples := make([]int16, 16000)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	path := filepath.Join(t.TempDir(), "tone.wav")

	if err := audio.WriteWAV(path, audio.WAV{Samples: samples, SampleRate: 16000, Channels: 1}); err != nil {
		t.Fatalf("WriteWAV returned error: %v", err)
	}

	wav, err := audio.ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV returned error: %v", err)
	}
	if wav.SampleRate != 16000 || wav.Channels != 1 {
		t.Fatalf("unexpected format: rate=%d channels=%d", wav.SampleRate, wav.Channels)
	}
	if len(wav.Samples) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(wav.Samples))
	}
	for i := range samples {
		if wav.Samples[i] != samples[i] {
			t.Fatalf("sample %d mismatch: %d != %d", i, wav.Samples[i], samples[i])
		}
	}
	if got := wav.DurationSeconds(); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("expected 1s duration, got %f", got)
	}
}

func TestFloat32Normalizes(t *testing.T) {
	wav := audio.WAV{Samples: []int16{0, 16384, -16384, 32767, -32768}, SampleRate: 16000, Channels: 1}
	floats := wav.Float32()
	if floats[0] != 0 {
		t.Fatalf("expected 0, got %f", floats[0])
	}
	if math.Abs(float64(floats[1])-0.5) > 1e-4 {
		t.Fatalf("expected 0.5, got %f", floats[1])
	}
	if floats[4] != -1.0 {
		t.Fatalf("expected -1.0, got %f", floats[4])
	}
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.wav")
	if err := writeBytes(path, []byte("definitely not a wav file")); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := audio.ReadWAV(path); err == nil {
		t.Fatal("expected error for garbage input")
	}
}

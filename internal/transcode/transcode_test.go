package transcode_test

import (
	"errors"
	"testing"

	"audiobatch/internal/services"
	"audiobatch/internal/transcode"
)

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := transcode.New("sox", transcode.Options{SampleRate: 16000, Channels: 1})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewRejectsInvalidTargetFormat(t *testing.T) {
	_, err := transcode.New("ffmpeg", transcode.Options{SampleRate: 0, Channels: 1})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewBuildsFFmpegEngine(t *testing.T) {
	engine, err := transcode.New("ffmpeg", transcode.Options{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if engine == nil {
		t.Fatal("expected engine")
	}
}

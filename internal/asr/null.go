package asr

import (
	"context"

	"audiobatch/internal/audio"
	"audiobatch/internal/services"
)

// nullEngine produces an empty transcript. It exists so a deployment without
// any recognizer still moves batches through the full lifecycle.
type nullEngine struct{}

func newNullEngine(Options) (Engine, error) {
	return nullEngine{}, nil
}

func (nullEngine) Transcribe(ctx context.Context, audioPath string) (Transcript, error) {
	if _, err := audio.ReadWAV(audioPath); err != nil {
		return Transcript{}, services.Wrap(services.ErrPermanent, "transcribe", "read", audioPath, err)
	}
	return Transcript{Provider: "null", Segments: []Segment{}}, nil
}

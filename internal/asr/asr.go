// Package asr turns cleaned speech audio into a transcript. Two real
// providers are supported: a local sherpa-onnx offline recognizer and a
// remote batch transcription service with speaker diarization.
package asr

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"audiobatch/internal/services"
)

// Word is a single recognized word with timing.
type Word struct {
	Text         string  `json:"text"`
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
	Confidence   float64 `json:"confidence,omitempty"`
}

// Segment is a run of consecutive words attributed to one speaker.
type Segment struct {
	Index        int     `json:"index"`
	Speaker      string  `json:"speaker,omitempty"`
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
	Text         string  `json:"text"`
	Words        []Word  `json:"words,omitempty"`
}

// Transcript is the transcription artifact body.
type Transcript struct {
	Provider     string    `json:"provider"`
	Language     string    `json:"language,omitempty"`
	Segments     []Segment `json:"segments"`
	Formatted    string    `json:"formatted,omitempty"`
	JobID        string    `json:"job_id,omitempty"`
	CostEstimate float64   `json:"cost_estimate,omitempty"`
}

// Text joins all segment texts with single spaces.
func (t Transcript) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, segment := range t.Segments {
		if segment.Text != "" {
			parts = append(parts, segment.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Engine transcribes one cleaned working-format WAV file.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string) (Transcript, error)
}

// Options configures engine construction.
type Options struct {
	ModelDir   string
	Language   string
	SampleRate int
	NumThreads int
	Endpoint   string
	APIKey     string
}

type factory func(Options) (Engine, error)

var registry = map[string]factory{
	"sherpa-onnx": newSherpaEngine,
	"remote":      newRemoteEngine,
	"null":        newNullEngine,
}

// New builds the engine selected by provider name.
func New(provider string, opts Options) (Engine, error) {
	build, ok := registry[provider]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "transcribe", "registry",
			fmt.Sprintf("unknown provider %q, have %s", provider, providerNames()), nil)
	}
	return build(opts)
}

func providerNames() string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

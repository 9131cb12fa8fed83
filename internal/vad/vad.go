// Package vad detects speech segments and trims silence from working audio.
//
// Input is the transcode stage's 16 kHz mono WAV. The silero provider runs
// the Silero model through sherpa-onnx; the null provider passes the file
// through as a single full-length speech segment so deployments without a
// model still produce a cleaned-audio artifact.
package vad

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"audiobatch/internal/services"
)

// Segment is one contiguous run of detected speech.
type Segment struct {
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
}

// Result reports detected speech and the trimmed output file.
type Result struct {
	OutputPath            string
	Segments              []Segment
	SpeechDurationSeconds float64
	TotalDurationSeconds  float64
	SpeechRatio           float64
}

// Engine trims one working-format WAV file.
type Engine interface {
	Process(ctx context.Context, inputPath, outputDir string) (Result, error)
}

// Options configures engine construction.
type Options struct {
	ModelPath     string
	PaddingMillis int
	Threshold     float32
}

type factory func(Options) (Engine, error)

var registry = map[string]factory{
	"silero": newSileroEngine,
	"null":   newNullEngine,
}

// New builds the engine selected by provider name.
func New(provider string, opts Options) (Engine, error) {
	build, ok := registry[provider]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "trim", "registry",
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

// Package denoise applies spectral noise reduction to the trimmed speech
// track before it reaches transcription.
package denoise

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"audiobatch/internal/services"
)

// Result reports a completed denoise pass.
type Result struct {
	OutputPath      string
	InputSizeBytes  int64
	OutputSizeBytes int64
	Applied         bool
}

// Engine cleans one working-format WAV file.
type Engine interface {
	Process(ctx context.Context, inputPath, outputDir string) (Result, error)
}

// Options configures engine construction.
type Options struct {
	FFmpegBin string
}

type factory func(Options) (Engine, error)

var registry = map[string]factory{
	"afftdn": newAFFTDNEngine,
	"null":   newNullEngine,
}

// New builds the engine selected by provider name.
func New(provider string, opts Options) (Engine, error) {
	build, ok := registry[provider]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "denoise", "registry",
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

// Package transcode normalizes uploaded audio into the pipeline's working
// format: 16 kHz mono 16-bit PCM WAV.
package transcode

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"audiobatch/internal/services"
)

// Result reports a completed transcode.
type Result struct {
	OutputPath           string
	InputDurationSeconds float64
	InputSizeBytes       int64
	OutputSizeBytes      int64
	SampleRate           int
	Channels             int
}

// Engine converts one uploaded audio file into the working format.
type Engine interface {
	Process(ctx context.Context, inputPath, outputDir string) (Result, error)
}

// Options configures engine construction.
type Options struct {
	FFmpegBin  string
	FFprobeBin string
	SampleRate int
	Channels   int
}

type factory func(Options) (Engine, error)

var registry = map[string]factory{
	"ffmpeg": newFFmpegEngine,
}

// New builds the engine selected by provider name. An unknown name is a
// configuration error, not a runtime one.
func New(provider string, opts Options) (Engine, error) {
	build, ok := registry[provider]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "transcode", "registry",
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

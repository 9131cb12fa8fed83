// Package emotion scores transcript segments for sentiment. The stage is
// best-effort: the pipeline records its output when available but never
// fails a batch over it.
package emotion

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"audiobatch/internal/asr"
	"audiobatch/internal/services"
)

// Analysis holds the per-segment sentiment values: score in [-1, 1] and a
// non-negative magnitude.
type Analysis struct {
	Score     float64 `json:"score"`
	Magnitude float64 `json:"magnitude"`
}

// SegmentResult pairs one transcript segment with its analysis.
type SegmentResult struct {
	SegmentIndex int      `json:"segment_index"`
	StartSeconds float64  `json:"start_seconds"`
	EndSeconds   float64  `json:"end_seconds"`
	Speaker      string   `json:"speaker,omitempty"`
	Text         string   `json:"text"`
	Analysis     Analysis `json:"analysis"`
}

// Result is the emotion artifact body.
type Result struct {
	Provider        string          `json:"provider"`
	ProviderVersion string          `json:"provider_version"`
	AnalyzedAt      string          `json:"analyzed_at"`
	BatchID         string          `json:"batch_id"`
	Segments        []SegmentResult `json:"segments"`
}

// Engine analyzes the segments of one transcript.
type Engine interface {
	Analyze(ctx context.Context, batchID string, segments []asr.Segment) (Result, error)
}

// Options configures engine construction.
type Options struct {
	Endpoint string
}

type factory func(Options) (Engine, error)

var registry = map[string]factory{
	"remote": newRemoteEngine,
	"null":   newNullEngine,
}

// New builds the engine selected by provider name.
func New(provider string, opts Options) (Engine, error) {
	build, ok := registry[provider]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "analyze-emotion", "registry",
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

func newEnvelope(provider, version, batchID string, count int) Result {
	return Result{
		Provider:        provider,
		ProviderVersion: version,
		AnalyzedAt:      time.Now().UTC().Format(time.RFC3339Nano),
		BatchID:         batchID,
		Segments:        make([]SegmentResult, 0, count),
	}
}

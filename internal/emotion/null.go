package emotion

import (
	"context"

	"audiobatch/internal/asr"
)

// nullEngine emits neutral sentiment for every segment.
type nullEngine struct{}

func newNullEngine(Options) (Engine, error) {
	return nullEngine{}, nil
}

func (nullEngine) Analyze(ctx context.Context, batchID string, segments []asr.Segment) (Result, error) {
	result := newEnvelope("null", "v1", batchID, len(segments))
	for _, segment := range segments {
		result.Segments = append(result.Segments, SegmentResult{
			SegmentIndex: segment.Index,
			StartSeconds: segment.StartSeconds,
			EndSeconds:   segment.EndSeconds,
			Speaker:      segment.Speaker,
			Text:         segment.Text,
		})
	}
	return result, nil
}

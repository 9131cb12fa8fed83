package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"audiobatch/internal/asr"
	"audiobatch/internal/services"
)

// remoteEngine posts each segment's text to a sentiment endpoint and maps
// the response onto the segment.
type remoteEngine struct {
	endpoint string
	client   *http.Client
}

func newRemoteEngine(opts Options) (Engine, error) {
	if opts.Endpoint == "" {
		return nil, services.Wrap(services.ErrConfiguration, "analyze-emotion", "remote",
			"endpoint not configured", nil)
	}
	return &remoteEngine{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type sentimentRequest struct {
	Text string `json:"text"`
}

type sentimentResponse struct {
	Score     float64 `json:"score"`
	Magnitude float64 `json:"magnitude"`
}

func (e *remoteEngine) Analyze(ctx context.Context, batchID string, segments []asr.Segment) (Result, error) {
	result := newEnvelope("remote-sentiment", "v1", batchID, len(segments))
	for _, segment := range segments {
		analysis, err := e.analyzeText(ctx, segment.Text)
		if err != nil {
			return Result{}, err
		}
		result.Segments = append(result.Segments, SegmentResult{
			SegmentIndex: segment.Index,
			StartSeconds: segment.StartSeconds,
			EndSeconds:   segment.EndSeconds,
			Speaker:      segment.Speaker,
			Text:         segment.Text,
			Analysis:     analysis,
		})
	}
	return result, nil
}

func (e *remoteEngine) analyzeText(ctx context.Context, text string) (Analysis, error) {
	payload, err := json.Marshal(sentimentRequest{Text: text})
	if err != nil {
		return Analysis{}, services.Wrap(services.ErrPermanent, "analyze-emotion", "remote", "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Analysis{}, services.Wrap(services.ErrPermanent, "analyze-emotion", "remote", e.endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Analysis{}, services.Wrap(services.ErrTimeout, "analyze-emotion", "remote", e.endpoint, ctx.Err())
		}
		return Analysis{}, services.Wrap(services.ErrTransient, "analyze-emotion", "remote", e.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := fmt.Sprintf("sentiment returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			return Analysis{}, services.Wrap(services.ErrTransient, "analyze-emotion", "remote", msg, nil)
		}
		return Analysis{}, services.Wrap(services.ErrPermanent, "analyze-emotion", "remote", msg, nil)
	}

	var body sentimentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Analysis{}, services.Wrap(services.ErrPermanent, "analyze-emotion", "remote", "decode response", err)
	}
	return Analysis{Score: body.Score, Magnitude: body.Magnitude}, nil
}

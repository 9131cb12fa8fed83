package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"audiobatch/internal/services"
)

const (
	remotePollInterval = 5 * time.Second

	// Batch transcription list price per audio hour, used for the cost
	// estimate reported in batch metrics.
	remoteCostPerHour = 0.80
)

// remoteEngine drives a batch transcription API: submit the audio as a job,
// poll until it finishes, fetch the word-level transcript, and group words
// into speaker turns.
type remoteEngine struct {
	endpoint string
	apiKey   string
	language string
	client   *http.Client
}

func newRemoteEngine(opts Options) (Engine, error) {
	if opts.Endpoint == "" {
		return nil, services.Wrap(services.ErrConfiguration, "transcribe", "remote",
			"endpoint not configured", nil)
	}
	if opts.APIKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "transcribe", "remote",
			"api key not configured", nil)
	}
	language := opts.Language
	if language == "" {
		language = "en"
	}
	return &remoteEngine{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		apiKey:   opts.APIKey,
		language: language,
		client:   &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (e *remoteEngine) Transcribe(ctx context.Context, audioPath string) (Transcript, error) {
	jobID, err := e.submitJob(ctx, audioPath)
	if err != nil {
		return Transcript{}, err
	}
	duration, err := e.pollUntilDone(ctx, jobID)
	if err != nil {
		return Transcript{}, err
	}
	raw, err := e.fetchTranscript(ctx, jobID)
	if err != nil {
		return Transcript{}, err
	}

	transcript := convertRemoteResponse(raw)
	transcript.Provider = "remote"
	transcript.Language = e.language
	transcript.JobID = jobID
	transcript.CostEstimate = duration / 3600.0 * remoteCostPerHour
	transcript.Formatted = Format(transcript)
	return transcript, nil
}

type remoteJobResponse struct {
	ID  string `json:"id"`
	Job struct {
		ID       string  `json:"id"`
		Status   string  `json:"status"`
		Duration float64 `json:"duration"`
	} `json:"job"`
}

func (e *remoteEngine) submitJob(ctx context.Context, audioPath string) (string, error) {
	audioFile, err := os.Open(audioPath)
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, "transcribe", "remote", audioPath, err)
	}
	defer audioFile.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("data_file", "audio.wav")
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribe", "remote", "build request", err)
	}
	if _, err := io.Copy(part, audioFile); err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribe", "remote", "build request", err)
	}
	jobConfig := map[string]any{
		"type": "transcription",
		"transcription_config": map[string]any{
			"language":    e.language,
			"diarization": "speaker",
		},
	}
	configJSON, err := json.Marshal(jobConfig)
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, "transcribe", "remote", "encode config", err)
	}
	if err := writer.WriteField("config", string(configJSON)); err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribe", "remote", "build request", err)
	}
	if err := writer.Close(); err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribe", "remote", "build request", err)
	}

	resp, err := e.do(ctx, http.MethodPost, e.endpoint+"/jobs/", &body, writer.FormDataContentType())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := classifyRemoteStatus("submit", resp, http.StatusCreated); err != nil {
		return "", err
	}
	var job remoteJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return "", services.Wrap(services.ErrPermanent, "transcribe", "remote", "decode submit response", err)
	}
	if job.ID == "" {
		return "", services.Wrap(services.ErrPermanent, "transcribe", "remote",
			"no job id in submission response", nil)
	}
	return job.ID, nil
}

// pollUntilDone returns the billed audio duration in seconds once the job
// completes. The caller's context bounds the total wait.
func (e *remoteEngine) pollUntilDone(ctx context.Context, jobID string) (float64, error) {
	for {
		resp, err := e.do(ctx, http.MethodGet, e.endpoint+"/jobs/"+jobID, nil, "")
		if err != nil {
			return 0, err
		}
		transientPoll := resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusServiceUnavailable
		if !transientPoll {
			if err := classifyRemoteStatus("poll", resp, http.StatusOK); err != nil {
				resp.Body.Close()
				return 0, err
			}
			var job remoteJobResponse
			decodeErr := json.NewDecoder(resp.Body).Decode(&job)
			resp.Body.Close()
			if decodeErr != nil {
				return 0, services.Wrap(services.ErrPermanent, "transcribe", "remote", "decode poll response", decodeErr)
			}
			switch job.Job.Status {
			case "done":
				return job.Job.Duration, nil
			case "rejected", "deleted":
				return 0, services.Wrap(services.ErrPermanent, "transcribe", "remote",
					fmt.Sprintf("job %s was %s", jobID, job.Job.Status), nil)
			}
		} else {
			resp.Body.Close()
		}

		select {
		case <-ctx.Done():
			return 0, services.Wrap(services.ErrTimeout, "transcribe", "remote",
				fmt.Sprintf("job %s did not finish in time", jobID), ctx.Err())
		case <-time.After(remotePollInterval):
		}
	}
}

type remoteResult struct {
	Type         string  `json:"type"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	Alternatives []struct {
		Content    string  `json:"content"`
		Speaker    string  `json:"speaker"`
		Confidence float64 `json:"confidence"`
	} `json:"alternatives"`
}

type remoteTranscriptResponse struct {
	Results []remoteResult `json:"results"`
}

func (e *remoteEngine) fetchTranscript(ctx context.Context, jobID string) (remoteTranscriptResponse, error) {
	resp, err := e.do(ctx, http.MethodGet, e.endpoint+"/jobs/"+jobID+"/transcript?format=json-v2", nil, "")
	if err != nil {
		return remoteTranscriptResponse{}, err
	}
	defer resp.Body.Close()

	if err := classifyRemoteStatus("fetch", resp, http.StatusOK); err != nil {
		return remoteTranscriptResponse{}, err
	}
	var body remoteTranscriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return remoteTranscriptResponse{}, services.Wrap(services.ErrPermanent, "transcribe", "remote",
			"decode transcript response", err)
	}
	return body, nil
}

func (e *remoteEngine) do(ctx context.Context, method, url string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, "transcribe", "remote", url, err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrTimeout, "transcribe", "remote", url, ctx.Err())
		}
		return nil, services.Wrap(services.ErrTransient, "transcribe", "remote", url, err)
	}
	return resp, nil
}

// classifyRemoteStatus maps HTTP status codes onto retry semantics: 429 and
// 503 are transient, anything else unexpected is permanent.
func classifyRemoteStatus(op string, resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("%s returned status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(detail)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return services.Wrap(services.ErrTransient, "transcribe", "remote", msg, nil)
	}
	return services.Wrap(services.ErrPermanent, "transcribe", "remote", msg, nil)
}

// convertRemoteResponse groups word results into speaker turns. Raw speaker
// IDs (S1, S2, ...) become "Speaker 1", "Speaker 2" in first-seen order.
func convertRemoteResponse(raw remoteTranscriptResponse) Transcript {
	transcript := Transcript{Segments: []Segment{}}
	speakerLabels := map[string]string{}
	var current *Segment

	flush := func() {
		if current != nil {
			current.Text = joinWords(current.Words)
			transcript.Segments = append(transcript.Segments, *current)
			current = nil
		}
	}

	for _, result := range raw.Results {
		if result.Type != "word" || len(result.Alternatives) == 0 {
			continue
		}
		alt := result.Alternatives[0]
		rawSpeaker := alt.Speaker
		if rawSpeaker == "" {
			rawSpeaker = "UU"
		}
		label, ok := speakerLabels[rawSpeaker]
		if !ok {
			label = fmt.Sprintf("Speaker %d", len(speakerLabels)+1)
			speakerLabels[rawSpeaker] = label
		}

		word := Word{
			Text:         alt.Content,
			StartSeconds: result.StartTime,
			EndSeconds:   result.EndTime,
			Confidence:   alt.Confidence,
		}
		if current == nil || current.Speaker != label {
			flush()
			current = &Segment{
				Index:        len(transcript.Segments),
				Speaker:      label,
				StartSeconds: word.StartSeconds,
			}
		}
		current.Words = append(current.Words, word)
		current.EndSeconds = word.EndSeconds
	}
	flush()
	return transcript
}

func joinWords(words []Word) string {
	parts := make([]string, len(words))
	for i, word := range words {
		parts[i] = word.Text
	}
	return strings.Join(parts, " ")
}

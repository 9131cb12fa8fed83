package asr

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"audiobatch/internal/audio"
	"audiobatch/internal/services"
)

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, err := New("whisper", Options{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSherpaRequiresModelDir(t *testing.T) {
	if _, err := New("sherpa-onnx", Options{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := New("sherpa-onnx", Options{ModelDir: t.TempDir()}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for empty model dir, got %v", err)
	}
}

func TestRemoteRequiresEndpointAndKey(t *testing.T) {
	if _, err := New("remote", Options{APIKey: "k"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error without endpoint, got %v", err)
	}
	if _, err := New("remote", Options{Endpoint: "https://asr.example.com/v2"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error without api key, got %v", err)
	}
}

func TestNullEngineEmptyTranscript(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "cleaned.wav")
	if err := audio.WriteWAV(audioPath, audio.WAV{Samples: make([]int16, 1600), SampleRate: 16000, Channels: 1}); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	engine, err := New("null", Options{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	transcript, err := engine.Transcribe(context.Background(), audioPath)
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if len(transcript.Segments) != 0 || transcript.Provider != "null" {
		t.Fatalf("unexpected transcript: %+v", transcript)
	}
}

func TestRemoteTranscribe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		switch {
		case r.Method == http.MethodPost:
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			if _, _, err := r.FormFile("data_file"); err != nil {
				t.Errorf("missing data_file part: %v", err)
			}
			if !strings.Contains(r.FormValue("config"), `"diarization":"speaker"`) {
				t.Errorf("config missing diarization: %s", r.FormValue("config"))
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"job-42"}`))
		case strings.HasSuffix(r.URL.Path, "/transcript"):
			w.Write([]byte(`{"results":[
				{"type":"word","start_time":0.2,"end_time":0.5,"alternatives":[{"content":"hello","speaker":"S1","confidence":0.98}]},
				{"type":"punctuation","alternatives":[{"content":"."}]},
				{"type":"word","start_time":0.6,"end_time":0.9,"alternatives":[{"content":"there","speaker":"S1","confidence":0.97}]},
				{"type":"word","start_time":1.1,"end_time":1.4,"alternatives":[{"content":"hi","speaker":"S2","confidence":0.95}]}
			]}`))
		default:
			w.Write([]byte(`{"job":{"id":"job-42","status":"done","duration":3600}}`))
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	dir := t.TempDir()
	audioPath := filepath.Join(dir, "cleaned.wav")
	if err := audio.WriteWAV(audioPath, audio.WAV{Samples: make([]int16, 1600), SampleRate: 16000, Channels: 1}); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	engine, err := New("remote", Options{Endpoint: server.URL + "/v2", APIKey: "secret"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	transcript, err := engine.Transcribe(context.Background(), audioPath)
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if transcript.JobID != "job-42" {
		t.Fatalf("expected job id job-42, got %q", transcript.JobID)
	}
	if len(transcript.Segments) != 2 {
		t.Fatalf("expected 2 speaker turns, got %+v", transcript.Segments)
	}
	if transcript.Segments[0].Speaker != "Speaker 1" || transcript.Segments[0].Text != "hello there" {
		t.Fatalf("unexpected first segment: %+v", transcript.Segments[0])
	}
	if transcript.Segments[1].Speaker != "Speaker 2" || transcript.Segments[1].Text != "hi" {
		t.Fatalf("unexpected second segment: %+v", transcript.Segments[1])
	}
	if transcript.CostEstimate != remoteCostPerHour {
		t.Fatalf("expected cost %f for one hour, got %f", remoteCostPerHour, transcript.CostEstimate)
	}
	if !strings.Contains(transcript.Formatted, "Speaker 1:") {
		t.Fatalf("formatted transcript missing speaker label:\n%s", transcript.Formatted)
	}
}

func TestRemoteSubmitRateLimitIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	dir := t.TempDir()
	audioPath := filepath.Join(dir, "cleaned.wav")
	if err := audio.WriteWAV(audioPath, audio.WAV{Samples: make([]int16, 160), SampleRate: 16000, Channels: 1}); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	engine, err := New("remote", Options{Endpoint: server.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	_, err = engine.Transcribe(context.Background(), audioPath)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestRemoteRejectedJobIsPermanent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"job-9"}`))
			return
		}
		w.Write([]byte(`{"job":{"id":"job-9","status":"rejected"}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	dir := t.TempDir()
	audioPath := filepath.Join(dir, "cleaned.wav")
	if err := audio.WriteWAV(audioPath, audio.WAV{Samples: make([]int16, 160), SampleRate: 16000, Channels: 1}); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	engine, err := New("remote", Options{Endpoint: server.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	_, err = engine.Transcribe(context.Background(), audioPath)
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestFormatInsertsMarkersAndSpeakers(t *testing.T) {
	transcript := Transcript{Segments: []Segment{
		{
			Index: 0, Speaker: "Speaker 1", StartSeconds: 0, EndSeconds: 16,
			Words: []Word{
				{Text: "good", StartSeconds: 0.1, EndSeconds: 0.4},
				{Text: "morning", StartSeconds: 0.5, EndSeconds: 0.9},
				{Text: "everyone", StartSeconds: 16.0, EndSeconds: 16.4},
			},
		},
		{
			Index: 1, Speaker: "Speaker 2", StartSeconds: 17, EndSeconds: 17.5,
			Words: []Word{{Text: "morning", StartSeconds: 17.0, EndSeconds: 17.5}},
		},
	}}

	got := Format(transcript)
	want := "[00:00] Speaker 1: good morning\n[00:15] everyone\n\nSpeaker 2: morning"
	if got != want {
		t.Fatalf("unexpected formatting:\n got: %q\nwant: %q", got, want)
	}
}

func TestFormatEmptyTranscript(t *testing.T) {
	if got := Format(Transcript{}); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

package asr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"audiobatch/internal/audio"
	"audiobatch/internal/services"
)

// Expected layout of a transducer model directory.
var sherpaModelFiles = []string{"encoder.onnx", "decoder.onnx", "joiner.onnx", "tokens.txt"}

// ModelFiles lists the files a transducer model directory must contain.
func ModelFiles() []string {
	files := make([]string, len(sherpaModelFiles))
	copy(files, sherpaModelFiles)
	return files
}

// sherpaEngine runs a local offline transducer recognizer. It produces one
// unattributed segment covering the whole file; diarization needs the remote
// provider.
type sherpaEngine struct {
	recognizer *sherpa.OfflineRecognizer
	sampleRate int
	language   string
}

func newSherpaEngine(opts Options) (Engine, error) {
	if opts.ModelDir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "transcribe", "sherpa-onnx",
			"model directory not configured", nil)
	}
	for _, name := range sherpaModelFiles {
		if _, err := os.Stat(filepath.Join(opts.ModelDir, name)); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "transcribe", "sherpa-onnx",
				fmt.Sprintf("model directory %s is missing %s", opts.ModelDir, name), err)
		}
	}
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	numThreads := opts.NumThreads
	if numThreads <= 0 {
		numThreads = 2
	}

	config := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: sampleRate,
			FeatureDim: 80,
		},
		ModelConfig: sherpa.OfflineModelConfig{
			Transducer: sherpa.OfflineTransducerModelConfig{
				Encoder: filepath.Join(opts.ModelDir, "encoder.onnx"),
				Decoder: filepath.Join(opts.ModelDir, "decoder.onnx"),
				Joiner:  filepath.Join(opts.ModelDir, "joiner.onnx"),
			},
			Tokens:     filepath.Join(opts.ModelDir, "tokens.txt"),
			NumThreads: numThreads,
			Debug:      0,
		},
	}
	recognizer := sherpa.NewOfflineRecognizer(&config)
	if recognizer == nil {
		return nil, services.Wrap(services.ErrConfiguration, "transcribe", "sherpa-onnx",
			"recognizer initialization failed", nil)
	}
	return &sherpaEngine{
		recognizer: recognizer,
		sampleRate: sampleRate,
		language:   opts.Language,
	}, nil
}

func (e *sherpaEngine) Transcribe(ctx context.Context, audioPath string) (Transcript, error) {
	wav, err := audio.ReadWAV(audioPath)
	if err != nil {
		return Transcript{}, services.Wrap(services.ErrPermanent, "transcribe", "read", audioPath, err)
	}
	if wav.SampleRate != e.sampleRate {
		return Transcript{}, services.Wrap(services.ErrPermanent, "transcribe", "sherpa-onnx",
			fmt.Sprintf("expected %d Hz input, got %d Hz", e.sampleRate, wav.SampleRate), nil)
	}
	if err := ctx.Err(); err != nil {
		return Transcript{}, services.Wrap(services.ErrTimeout, "transcribe", "sherpa-onnx", audioPath, err)
	}

	stream := sherpa.NewOfflineStream(e.recognizer)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(e.sampleRate, wav.Float32())
	e.recognizer.Decode(stream)
	text := strings.TrimSpace(stream.GetResult().Text)

	transcript := Transcript{
		Provider: "sherpa-onnx",
		Language: e.language,
		Segments: []Segment{},
	}
	if text != "" {
		transcript.Segments = append(transcript.Segments, Segment{
			Index:        0,
			StartSeconds: 0,
			EndSeconds:   wav.DurationSeconds(),
			Text:         text,
		})
	}
	transcript.Formatted = Format(transcript)
	return transcript, nil
}

// Close releases the native recognizer.
func (e *sherpaEngine) Close() error {
	if e.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(e.recognizer)
		e.recognizer = nil
	}
	return nil
}

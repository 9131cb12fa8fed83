package vad

import (
	"context"
	"os"
	"path/filepath"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"audiobatch/internal/audio"
	"audiobatch/internal/services"
)

const (
	trimmedFilename = "speech.wav"
	windowSize      = 512
	defaultThreshold float32 = 0.5
)

type sileroEngine struct {
	modelPath string
	padding   float64
	threshold float32
}

func newSileroEngine(opts Options) (Engine, error) {
	if opts.ModelPath == "" {
		return nil, services.Wrap(services.ErrConfiguration, "trim", "silero", "model path is required", nil)
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "trim", "silero", opts.ModelPath, err)
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &sileroEngine{
		modelPath: opts.ModelPath,
		padding:   float64(opts.PaddingMillis) / 1000.0,
		threshold: threshold,
	}, nil
}

func (e *sileroEngine) Process(ctx context.Context, inputPath, outputDir string) (Result, error) {
	wav, err := audio.ReadWAV(inputPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrPermanent, "trim", "read", inputPath, err)
	}
	if wav.Channels != 1 {
		return Result{}, services.Wrap(services.ErrPermanent, "trim", "read",
			"expected mono input from transcode", nil)
	}

	segments, err := e.detect(ctx, wav)
	if err != nil {
		return Result{}, err
	}
	segments = padAndMerge(segments, e.padding, wav.DurationSeconds())

	outputPath := filepath.Join(outputDir, trimmedFilename)
	trimmed := extractSegments(wav, segments)
	if err := audio.WriteWAV(outputPath, trimmed); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "trim", "write", outputPath, err)
	}

	return buildResult(outputPath, segments, wav.DurationSeconds()), nil
}

func (e *sileroEngine) detect(ctx context.Context, wav audio.WAV) ([]Segment, error) {
	modelConfig := sherpa.VadModelConfig{
		SileroVad: sherpa.SileroVadModelConfig{
			Model:              e.modelPath,
			Threshold:          e.threshold,
			MinSilenceDuration: 0.5,
			MinSpeechDuration:  0.25,
			WindowSize:         windowSize,
		},
		SampleRate: wav.SampleRate,
		NumThreads: 1,
		Debug:      0,
	}
	detector := sherpa.NewVoiceActivityDetector(&modelConfig, 30)
	if detector == nil {
		return nil, services.Wrap(services.ErrConfiguration, "trim", "silero", "failed to create detector", nil)
	}
	defer sherpa.DeleteVoiceActivityDetector(detector)

	samples := wav.Float32()
	var segments []Segment
	drain := func() {
		for !detector.IsEmpty() {
			front := detector.Front()
			detector.Pop()
			start := float64(front.Start) / float64(wav.SampleRate)
			end := start + float64(len(front.Samples))/float64(wav.SampleRate)
			segments = append(segments, Segment{StartSeconds: start, EndSeconds: end})
		}
	}

	for offset := 0; offset < len(samples); offset += windowSize {
		if err := ctx.Err(); err != nil {
			return nil, services.Wrap(services.ErrTimeout, "trim", "silero", "", err)
		}
		end := offset + windowSize
		if end > len(samples) {
			end = len(samples)
		}
		detector.AcceptWaveform(samples[offset:end])
		drain()
	}
	detector.Flush()
	drain()

	return segments, nil
}

// padAndMerge widens each segment by the configured padding and coalesces
// overlaps, clamped to the file bounds.
func padAndMerge(segments []Segment, padding, total float64) []Segment {
	if len(segments) == 0 {
		return nil
	}
	padded := make([]Segment, 0, len(segments))
	for _, segment := range segments {
		start := segment.StartSeconds - padding
		if start < 0 {
			start = 0
		}
		end := segment.EndSeconds + padding
		if end > total {
			end = total
		}
		padded = append(padded, Segment{StartSeconds: start, EndSeconds: end})
	}

	merged := padded[:1]
	for _, segment := range padded[1:] {
		last := &merged[len(merged)-1]
		if segment.StartSeconds <= last.EndSeconds {
			if segment.EndSeconds > last.EndSeconds {
				last.EndSeconds = segment.EndSeconds
			}
			continue
		}
		merged = append(merged, segment)
	}
	return merged
}

func extractSegments(wav audio.WAV, segments []Segment) audio.WAV {
	out := audio.WAV{SampleRate: wav.SampleRate, Channels: wav.Channels}
	for _, segment := range segments {
		start := int(segment.StartSeconds * float64(wav.SampleRate))
		end := int(segment.EndSeconds * float64(wav.SampleRate))
		if start < 0 {
			start = 0
		}
		if end > len(wav.Samples) {
			end = len(wav.Samples)
		}
		if start >= end {
			continue
		}
		out.Samples = append(out.Samples, wav.Samples[start:end]...)
	}
	return out
}

func buildResult(outputPath string, segments []Segment, total float64) Result {
	var speech float64
	for _, segment := range segments {
		speech += segment.EndSeconds - segment.StartSeconds
	}
	ratio := 0.0
	if total > 0 {
		ratio = speech / total
	}
	return Result{
		OutputPath:            outputPath,
		Segments:              segments,
		SpeechDurationSeconds: speech,
		TotalDurationSeconds:  total,
		SpeechRatio:           ratio,
	}
}

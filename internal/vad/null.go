package vad

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"audiobatch/internal/audio"
	"audiobatch/internal/services"
)

// nullEngine treats the whole file as speech. The pipeline still gets a
// cleaned-audio artifact and a speech ratio of 1.0.
type nullEngine struct{}

func newNullEngine(Options) (Engine, error) {
	return nullEngine{}, nil
}

func (nullEngine) Process(ctx context.Context, inputPath, outputDir string) (Result, error) {
	wav, err := audio.ReadWAV(inputPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrPermanent, "trim", "read", inputPath, err)
	}
	total := wav.DurationSeconds()

	outputPath := filepath.Join(outputDir, trimmedFilename)
	if err := copyFile(inputPath, outputPath); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "trim", "copy", outputPath, err)
	}

	segments := []Segment{{StartSeconds: 0, EndSeconds: total}}
	return buildResult(outputPath, segments, total), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

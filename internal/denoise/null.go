package denoise

import (
	"context"
	"os"
	"path/filepath"

	"audiobatch/internal/fileutil"
	"audiobatch/internal/services"
)

// nullEngine copies the input through unchanged. Batches still produce a
// cleaned-audio artifact, so downstream stages never special-case it.
type nullEngine struct{}

func newNullEngine(Options) (Engine, error) {
	return nullEngine{}, nil
}

func (nullEngine) Process(ctx context.Context, inputPath, outputDir string) (Result, error) {
	inputStat, err := os.Stat(inputPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrPermanent, "denoise", "stat", inputPath, err)
	}

	outputPath := filepath.Join(outputDir, outputFilename)
	if err := fileutil.CopyFile(inputPath, outputPath); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "denoise", "copy", outputPath, err)
	}

	return Result{
		OutputPath:      outputPath,
		InputSizeBytes:  inputStat.Size(),
		OutputSizeBytes: inputStat.Size(),
		Applied:         false,
	}, nil
}

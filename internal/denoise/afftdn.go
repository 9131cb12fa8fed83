package denoise

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"audiobatch/internal/services"
)

const outputFilename = "cleaned.wav"

type afftdnEngine struct {
	ffmpegBin string
}

func newAFFTDNEngine(opts Options) (Engine, error) {
	ffmpegBin := opts.FFmpegBin
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	return &afftdnEngine{ffmpegBin: ffmpegBin}, nil
}

// Process runs ffmpeg's adaptive FFT denoiser with noise-floor tracking.
// The input is already normalized WAV, so a failure here means the file is
// unusable rather than a transient fault.
func (e *afftdnEngine) Process(ctx context.Context, inputPath, outputDir string) (Result, error) {
	inputStat, err := os.Stat(inputPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrPermanent, "denoise", "stat", inputPath, err)
	}

	outputPath := filepath.Join(outputDir, outputFilename)
	cmd := exec.CommandContext(ctx, e.ffmpegBin,
		"-y",
		"-i", inputPath,
		"-af", "afftdn=nf=-25:nt=w:tn=1",
		"-loglevel", "error",
		outputPath,
	)
	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return Result{}, services.Wrap(services.ErrTimeout, "denoise", "ffmpeg", inputPath, ctx.Err())
	}
	if err != nil {
		return Result{}, services.Wrap(services.ErrPermanent, "denoise", "ffmpeg",
			strings.TrimSpace(string(output)), err)
	}

	outputStat, err := os.Stat(outputPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "denoise", "stat", outputPath, err)
	}

	return Result{
		OutputPath:      outputPath,
		InputSizeBytes:  inputStat.Size(),
		OutputSizeBytes: outputStat.Size(),
		Applied:         true,
	}, nil
}

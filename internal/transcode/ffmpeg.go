package transcode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"audiobatch/internal/audio"
	"audiobatch/internal/services"
)

const outputFilename = "audio.wav"

type ffmpegEngine struct {
	ffmpegBin  string
	ffprobeBin string
	sampleRate int
	channels   int
}

func newFFmpegEngine(opts Options) (Engine, error) {
	if opts.SampleRate <= 0 || opts.Channels <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "transcode", "ffmpeg",
			fmt.Sprintf("invalid target format: rate=%d channels=%d", opts.SampleRate, opts.Channels), nil)
	}
	ffmpegBin := opts.FFmpegBin
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	ffprobeBin := opts.FFprobeBin
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	return &ffmpegEngine{
		ffmpegBin:  ffmpegBin,
		ffprobeBin: ffprobeBin,
		sampleRate: opts.SampleRate,
		channels:   opts.Channels,
	}, nil
}

// Process pre-validates the input with ffprobe, then converts it. The probe
// catches corrupt uploads in seconds instead of letting ffmpeg grind until
// the stage timeout.
func (e *ffmpegEngine) Process(ctx context.Context, inputPath, outputDir string) (Result, error) {
	inputStat, err := os.Stat(inputPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrPermanent, "transcode", "stat", inputPath, err)
	}

	info, err := audio.Probe(ctx, e.ffprobeBin, inputPath)
	if err != nil {
		return Result{}, err
	}

	outputPath := filepath.Join(outputDir, outputFilename)
	cmd := exec.CommandContext(ctx, e.ffmpegBin,
		"-y",
		"-i", inputPath,
		"-ar", strconv.Itoa(e.sampleRate),
		"-ac", strconv.Itoa(e.channels),
		"-sample_fmt", "s16",
		"-loglevel", "error",
		outputPath,
	)
	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return Result{}, services.Wrap(services.ErrTimeout, "transcode", "ffmpeg", inputPath, ctx.Err())
	}
	if err != nil {
		// ffprobe accepted the file, so a conversion failure means the
		// payload is unusable; retrying cannot help.
		return Result{}, services.Wrap(services.ErrPermanent, "transcode", "ffmpeg",
			strings.TrimSpace(string(output)), err)
	}

	outputStat, err := os.Stat(outputPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "transcode", "stat", outputPath, err)
	}

	return Result{
		OutputPath:           outputPath,
		InputDurationSeconds: info.DurationSeconds,
		InputSizeBytes:       inputStat.Size(),
		OutputSizeBytes:      outputStat.Size(),
		SampleRate:           e.sampleRate,
		Channels:             e.channels,
	}, nil
}

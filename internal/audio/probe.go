package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"audiobatch/internal/services"
)

// ProbeTimeout bounds the ffprobe pre-check so a corrupt upload fails fast
// instead of tying up a worker.
const ProbeTimeout = 10 * time.Second

// Info is the subset of ffprobe output the pipeline needs.
type Info struct {
	DurationSeconds float64
	SampleRate      int
	Channels        int
	Codec           string
	Format          string
}

// Probe validates an audio file with ffprobe and returns its stream info.
// A file ffprobe cannot parse is permanently bad, never retryable.
func Probe(ctx context.Context, ffprobeBin, inputPath string) (Info, error) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffprobeBin,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "a:0",
		inputPath,
	)
	output, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return Info{}, services.Wrap(services.ErrTimeout, "", "audio.probe", inputPath, ctx.Err())
	}
	if err != nil {
		return Info{}, services.Wrap(services.ErrPermanent, "", "audio.probe",
			fmt.Sprintf("%s is not valid audio", inputPath), err)
	}

	var payload struct {
		Format struct {
			FormatName string `json:"format_name"`
			Duration   string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecName  string `json:"codec_name"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
			Duration   string `json:"duration"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &payload); err != nil {
		return Info{}, services.Wrap(services.ErrPermanent, "", "audio.probe", "parse ffprobe output", err)
	}
	if len(payload.Streams) == 0 {
		return Info{}, services.Wrap(services.ErrPermanent, "", "audio.probe",
			fmt.Sprintf("%s has no audio stream", inputPath), nil)
	}

	stream := payload.Streams[0]
	info := Info{
		Codec:    stream.CodecName,
		Channels: stream.Channels,
		Format:   strings.TrimSpace(payload.Format.FormatName),
	}
	if rate, err := strconv.Atoi(stream.SampleRate); err == nil {
		info.SampleRate = rate
	}
	for _, raw := range []string{stream.Duration, payload.Format.Duration} {
		if duration, err := strconv.ParseFloat(raw, 64); err == nil && duration > 0 {
			info.DurationSeconds = duration
			break
		}
	}
	return info, nil
}

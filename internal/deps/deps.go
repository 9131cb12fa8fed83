// Package deps checks the external pieces the pipeline leans on: the ffmpeg
// binaries and any on-disk model directories the configured providers need.
// Checks run at daemon startup and behind the CLI so a missing binary is
// reported before the first batch fails on it.
package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"audiobatch/internal/asr"
	"audiobatch/internal/config"
)

// Requirement is one external dependency of the pipeline.
type Requirement struct {
	Name        string
	Command     string
	Path        string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Target      string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements derives the dependency list from configuration. Binaries are
// always listed; model files only when the matching provider is configured.
func Requirements(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{
			Name:        "ffmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "transcode, trim, and denoise stages",
		},
		{
			Name:        "ffprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "audio duration probing",
		},
	}
	if cfg.Pipeline.VADProvider == config.ProviderSilero {
		reqs = append(reqs, Requirement{
			Name:        "silero model",
			Path:        cfg.Pipeline.VADModelPath,
			Description: "voice activity detection",
		})
	}
	if cfg.Pipeline.ASRProvider == config.ProviderSherpa {
		for _, file := range asr.ModelFiles() {
			reqs = append(reqs, Requirement{
				Name:        "sherpa-onnx " + file,
				Path:        filepath.Join(cfg.Pipeline.ASRModelDir, file),
				Description: "local transcription model",
			})
		}
	}
	return reqs
}

// Check evaluates the requirements and reports availability. Commands are
// resolved on PATH, paths are stat'ed.
func Check(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, check(req))
	}
	return results
}

// Missing filters statuses down to unavailable required dependencies.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}

func check(req Requirement) Status {
	status := Status{
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}

	switch {
	case strings.TrimSpace(req.Command) != "":
		command := strings.TrimSpace(req.Command)
		status.Target = command
		resolved, err := exec.LookPath(command)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found on PATH", command)
			return status
		}
		status.Target = resolved
		status.Available = true
	case strings.TrimSpace(req.Path) != "":
		path := strings.TrimSpace(req.Path)
		status.Target = path
		info, err := os.Stat(path)
		if err != nil {
			status.Detail = fmt.Sprintf("file %q not found", path)
			return status
		}
		if info.IsDir() {
			status.Detail = fmt.Sprintf("%q is a directory, expected a file", path)
			return status
		}
		status.Available = true
	default:
		status.Detail = "dependency not configured"
	}
	return status
}

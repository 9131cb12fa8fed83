package pipeline

import (
	"io"

	"audiobatch/internal/asr"
	"audiobatch/internal/config"
	"audiobatch/internal/denoise"
	"audiobatch/internal/emotion"
	"audiobatch/internal/transcode"
	"audiobatch/internal/vad"
)

// Engines is the resolved set of stage providers for one daemon instance.
type Engines struct {
	Transcode  transcode.Engine
	Trim       vad.Engine
	Denoise    denoise.Engine
	Transcribe asr.Engine
	Emotion    emotion.Engine
}

// NewEngines resolves every configured provider up front so a bad provider
// name fails daemon startup instead of the first batch.
func NewEngines(cfg *config.Config) (Engines, error) {
	transcodeEngine, err := transcode.New(config.ProviderFFmpeg, transcode.Options{
		FFmpegBin:  cfg.FFmpegBinary(),
		FFprobeBin: cfg.FFprobeBinary(),
		SampleRate: cfg.Pipeline.TargetSampleRate,
		Channels:   cfg.Pipeline.TargetChannels,
	})
	if err != nil {
		return Engines{}, err
	}
	trimEngine, err := vad.New(cfg.Pipeline.VADProvider, vad.Options{
		ModelPath:     cfg.Pipeline.VADModelPath,
		PaddingMillis: cfg.Pipeline.VADPaddingMillis,
	})
	if err != nil {
		return Engines{}, err
	}
	denoiseEngine, err := denoise.New(cfg.Pipeline.DenoiseProvider, denoise.Options{
		FFmpegBin: cfg.FFmpegBinary(),
	})
	if err != nil {
		return Engines{}, err
	}
	asrEngine, err := asr.New(cfg.Pipeline.ASRProvider, asr.Options{
		ModelDir:   cfg.Pipeline.ASRModelDir,
		Language:   cfg.Pipeline.ASRLanguage,
		SampleRate: cfg.Pipeline.TargetSampleRate,
		Endpoint:   cfg.Pipeline.ASREndpoint,
		APIKey:     cfg.Pipeline.ASRAPIKey,
	})
	if err != nil {
		return Engines{}, err
	}
	emotionEngine, err := emotion.New(cfg.Pipeline.EmotionProvider, emotion.Options{
		Endpoint: cfg.Pipeline.EmotionEndpoint,
	})
	if err != nil {
		return Engines{}, err
	}
	return Engines{
		Transcode:  transcodeEngine,
		Trim:       trimEngine,
		Denoise:    denoiseEngine,
		Transcribe: asrEngine,
		Emotion:    emotionEngine,
	}, nil
}

// Close releases engine-held resources, such as loaded ASR models.
func (e Engines) Close() {
	if closer, ok := e.Transcribe.(io.Closer); ok {
		_ = closer.Close()
	}
}

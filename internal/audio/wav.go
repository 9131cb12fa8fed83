// Package audio holds WAV and ffprobe helpers shared by the stage engines.
//
// The pipeline standardizes on 16-bit PCM WAV between stages, so a minimal
// RIFF reader/writer covers every internal hand-off. Probing arbitrary
// uploads is delegated to ffprobe.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	// SampleWidth is bytes per sample for 16-bit PCM.
	SampleWidth = 2
)

// WAV is decoded 16-bit PCM audio.
type WAV struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// DurationSeconds returns the audio length.
func (w WAV) DurationSeconds() float64 {
	if w.SampleRate <= 0 || w.Channels <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate*w.Channels)
}

// Float32 converts samples to normalized float32, the shape sherpa-onnx
// consumes.
func (w WAV) Float32() []float32 {
	out := make([]float32, len(w.Samples))
	for i, sample := range w.Samples {
		out[i] = float32(sample) / 32768.0
	}
	return out
}

// ReadWAV decodes a 16-bit PCM RIFF/WAVE file.
func ReadWAV(path string) (WAV, error) {
	file, err := os.Open(path)
	if err != nil {
		return WAV{}, fmt.Errorf("open wav: %w", err)
	}
	defer file.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(file, header); err != nil {
		return WAV{}, fmt.Errorf("read riff header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return WAV{}, fmt.Errorf("%s is not a RIFF/WAVE file", path)
	}

	var wav WAV
	var bitsPerSample int
	for {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(file, chunkHeader); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return WAV{}, fmt.Errorf("read chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		switch chunkID {
		case "fmt ":
			fmtData := make([]byte, chunkSize)
			if _, err := io.ReadFull(file, fmtData); err != nil {
				return WAV{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			if len(fmtData) < 16 {
				return WAV{}, fmt.Errorf("fmt chunk too short (%d bytes)", len(fmtData))
			}
			wav.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			wav.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
		case "data":
			if bitsPerSample != 16 {
				return WAV{}, fmt.Errorf("unsupported sample width %d bits, want 16", bitsPerSample)
			}
			raw := make([]byte, chunkSize)
			if _, err := io.ReadFull(file, raw); err != nil {
				return WAV{}, fmt.Errorf("read data chunk: %w", err)
			}
			wav.Samples = make([]int16, len(raw)/SampleWidth)
			for i := range wav.Samples {
				wav.Samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
			}
			return wav, nil
		default:
			if _, err := file.Seek(chunkSize+chunkSize%2, io.SeekCurrent); err != nil {
				return WAV{}, fmt.Errorf("skip chunk %q: %w", chunkID, err)
			}
		}
	}
	return WAV{}, fmt.Errorf("%s has no data chunk", path)
}

// WriteWAV encodes 16-bit PCM samples as a RIFF/WAVE file.
func WriteWAV(path string, wav WAV) error {
	if wav.SampleRate <= 0 || wav.Channels <= 0 {
		return fmt.Errorf("invalid wav parameters: rate=%d channels=%d", wav.SampleRate, wav.Channels)
	}
	dataSize := len(wav.Samples) * SampleWidth
	buf := make([]byte, 0, 44+dataSize)

	le := binary.LittleEndian
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	le.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	le.PutUint32(header[16:20], 16)
	le.PutUint16(header[20:22], 1) // PCM
	le.PutUint16(header[22:24], uint16(wav.Channels))
	le.PutUint32(header[24:28], uint32(wav.SampleRate))
	le.PutUint32(header[28:32], uint32(wav.SampleRate*wav.Channels*SampleWidth))
	le.PutUint16(header[32:34], uint16(wav.Channels*SampleWidth))
	le.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	le.PutUint32(header[40:44], uint32(dataSize))
	buf = append(buf, header...)

	sampleBytes := make([]byte, 2)
	for _, sample := range wav.Samples {
		le.PutUint16(sampleBytes, uint16(sample))
		buf = append(buf, sampleBytes...)
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}

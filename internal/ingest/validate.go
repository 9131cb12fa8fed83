package ingest

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"audiobatch/internal/services"
)

var audioExtensions = map[string]string{
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
}

var attachmentExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// Metadata is the required upload metadata document.
type Metadata struct {
	Recording struct {
		StartedAt time.Time `json:"started_at"`
		EndedAt   time.Time `json:"ended_at"`
	} `json:"recording"`
	DurationSeconds float64 `json:"duration_seconds"`
	SizeBytes       int64   `json:"size_bytes"`
}

func (s *Service) validateAudio(header *multipart.FileHeader) error {
	if header == nil {
		return services.Wrap(services.ErrValidation, "", "ingest", "exactly one audio part is required", nil)
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := audioExtensions[ext]; !ok {
		return services.Wrap(services.ErrValidation, "", "ingest",
			fmt.Sprintf("unsupported audio extension %q", ext), nil)
	}
	limit := int64(s.cfg.MaxAudioMiB) << 20
	if limit > 0 && header.Size > limit {
		return services.Wrap(services.ErrValidation, "", "ingest",
			fmt.Sprintf("audio file exceeds %d MiB", s.cfg.MaxAudioMiB), nil)
	}
	return nil
}

// parseMetadata enforces the metadata schema. Error messages name the
// offending field so clients can fix the payload without guessing.
func parseMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 {
		return Metadata{}, services.Wrap(services.ErrValidation, "", "ingest", "metadata part is required", nil)
	}
	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return Metadata{}, services.Wrap(services.ErrValidation, "", "ingest", "metadata is not valid JSON", err)
	}
	if metadata.Recording.StartedAt.IsZero() {
		return Metadata{}, services.Wrap(services.ErrValidation, "", "ingest", "metadata missing recording.started_at", nil)
	}
	if metadata.Recording.EndedAt.IsZero() {
		return Metadata{}, services.Wrap(services.ErrValidation, "", "ingest", "metadata missing recording.ended_at", nil)
	}
	if !metadata.Recording.EndedAt.After(metadata.Recording.StartedAt) {
		return Metadata{}, services.Wrap(services.ErrValidation, "", "ingest", "recording.ended_at must be after recording.started_at", nil)
	}
	if metadata.DurationSeconds <= 0 {
		return Metadata{}, services.Wrap(services.ErrValidation, "", "ingest", "metadata missing duration_seconds", nil)
	}
	if metadata.SizeBytes <= 0 {
		return Metadata{}, services.Wrap(services.ErrValidation, "", "ingest", "metadata missing size_bytes", nil)
	}
	return metadata, nil
}

func (s *Service) validateAttachments(headers []*multipart.FileHeader) error {
	if s.cfg.MaxAttachments > 0 && len(headers) > s.cfg.MaxAttachments {
		return services.Wrap(services.ErrValidation, "", "ingest",
			fmt.Sprintf("at most %d attachments are allowed", s.cfg.MaxAttachments), nil)
	}
	limit := int64(s.cfg.MaxAttachmentMiB) << 20
	for _, header := range headers {
		ext := strings.ToLower(filepath.Ext(header.Filename))
		if _, ok := attachmentExtensions[ext]; !ok {
			return services.Wrap(services.ErrValidation, "", "ingest",
				fmt.Sprintf("unsupported attachment extension %q", ext), nil)
		}
		if limit > 0 && header.Size > limit {
			return services.Wrap(services.ErrValidation, "", "ingest",
				fmt.Sprintf("attachment %s exceeds %d MiB", filepath.Base(header.Filename), s.cfg.MaxAttachmentMiB), nil)
		}
	}
	return nil
}

// validateNotes checks the optional notes part: a JSON array of strings.
func validateNotes(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	var notes []string
	if err := json.Unmarshal(raw, &notes); err != nil {
		return services.Wrap(services.ErrValidation, "", "ingest", "notes must be a JSON array of strings", err)
	}
	return nil
}

func contentTypeFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ct, ok := audioExtensions[ext]; ok {
		return ct
	}
	if ct, ok := attachmentExtensions[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

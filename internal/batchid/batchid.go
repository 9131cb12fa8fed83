// Package batchid generates and parses batch identifiers.
//
// A batch ID is "{20060102T150405Z}-{8-hex}": the recording start timestamp
// in compact UTC form plus a random suffix. IDs sort chronologically and
// carry enough information to rebuild an index from store listings alone.
package batchid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	timeLayout   = "20060102T150405Z"
	suffixLength = 8
)

// New returns a fresh batch identifier embedding the recording start time.
func New(recordingStart time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:suffixLength]
	return recordingStart.UTC().Format(timeLayout) + "-" + suffix
}

// Parse splits a batch identifier into its recording start time and suffix.
func Parse(id string) (time.Time, string, error) {
	stamp, suffix, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}, "", fmt.Errorf("batch id %q missing suffix separator", id)
	}
	start, err := time.Parse(timeLayout, stamp)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("batch id %q has invalid timestamp: %w", id, err)
	}
	if len(suffix) != suffixLength {
		return time.Time{}, "", fmt.Errorf("batch id %q has invalid suffix length %d", id, len(suffix))
	}
	for _, r := range suffix {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return time.Time{}, "", fmt.Errorf("batch id %q has non-hex suffix", id)
		}
	}
	return start, suffix, nil
}

// Valid reports whether id parses as a batch identifier.
func Valid(id string) bool {
	_, _, err := Parse(id)
	return err == nil
}

package asr

import (
	"fmt"
	"strings"
)

// markerIntervalSeconds is how often a [MM:SS] timestamp marker appears in
// the formatted transcript.
const markerIntervalSeconds = 15

// Format renders a transcript as readable text: a [MM:SS] marker at each
// 15-second boundary, a speaker label at the start of every turn, and a
// blank line between speaker changes.
func Format(transcript Transcript) string {
	if len(transcript.Segments) == 0 {
		return ""
	}

	var lines []string
	nextMarker := 0.0
	prevSpeaker := ""

	for _, segment := range transcript.Segments {
		words := segment.Words
		if len(words) == 0 && segment.Text != "" {
			// Segment-only transcripts (no word timings) get synthetic
			// words so markers still land on segment starts.
			words = []Word{{Text: segment.Text, StartSeconds: segment.StartSeconds, EndSeconds: segment.EndSeconds}}
		}
		if len(words) == 0 {
			continue
		}

		if prevSpeaker != "" && segment.Speaker != prevSpeaker {
			lines = append(lines, "")
		}
		prevSpeaker = segment.Speaker
		labelEmitted := segment.Speaker == ""

		for _, word := range words {
			var parts []string
			if word.StartSeconds >= nextMarker {
				boundary := float64(int(word.StartSeconds)/markerIntervalSeconds) * markerIntervalSeconds
				parts = append(parts, formatTimestamp(boundary))
				nextMarker = boundary + markerIntervalSeconds
			}
			if !labelEmitted {
				parts = append(parts, segment.Speaker+":")
				labelEmitted = true
			}
			parts = append(parts, word.Text)

			if len(parts) > 1 {
				lines = append(lines, strings.Join(parts, " "))
				continue
			}
			if len(lines) > 0 && !strings.HasSuffix(lines[len(lines)-1], ":") && lines[len(lines)-1] != "" {
				lines[len(lines)-1] += " " + word.Text
			} else {
				lines = append(lines, word.Text)
			}
		}
	}
	return strings.Join(lines, "\n")
}

func formatTimestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("[%02d:%02d]", total/60, total%60)
}

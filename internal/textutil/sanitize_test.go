package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"clean", "recording.m4a", "recording.m4a"},
		{"slashes", "team/standup.wav", "team-standup.wav"},
		{"windows path", `C:\audio\note.mp3`, "C--audio-note.mp3"},
		{"stripped characters", `what?"<>|.ogg`, "what.ogg"},
		{"whitespace", "  padded.flac  ", "padded.flac"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeFileName(tc.in); got != tc.want {
				t.Fatalf("SanitizeFileName(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

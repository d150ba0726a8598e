package whisper

import (
	"regexp"
	"strings"
)

// nonSpeech matches the annotations whisper emits for audio without words:
// "[BLANK_AUDIO]", "[Music]", "(silence)", "(wind blowing)".
var nonSpeech = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)

// Clean strips non-speech annotations and collapses whitespace. A recording
// that contained only noise comes back as "", which callers treat as no
// speech.
func Clean(text string) string {
	return strings.Join(strings.Fields(nonSpeech.ReplaceAllString(text, " ")), " ")
}

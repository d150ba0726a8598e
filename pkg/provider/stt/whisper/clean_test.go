package whisper_test

import (
	"testing"

	"github.com/MrWong99/waketurn/pkg/provider/stt/whisper"
)

func TestClean(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{in: "", want: ""},
		{in: "[BLANK_AUDIO]", want: ""},
		{in: " (silence) ", want: ""},
		{in: "[Music] (wind blowing)", want: ""},
		{in: "  what time   is it \n", want: "what time is it"},
		{in: "[BLANK_AUDIO] turn on the lights", want: "turn on the lights"},
		{in: "set a timer (coughs) for five minutes", want: "set a timer for five minutes"},
	}
	for _, tt := range tests {
		if got := whisper.Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

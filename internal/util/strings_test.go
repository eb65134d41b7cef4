package util

import "testing"

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"shorter than max", "hello", 10, "hello"},
		{"exactly max", "hello", 5, "hello"},
		{"longer than max", "hello world", 8, "hello..."},
		{"max too small", "hello", 3, "..."},
		{"unicode", "héllo wörld", 8, "héllo..."},
		{"empty", "", 10, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.input, tt.maxLen); got != tt.expected {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single line", "hello", "hello"},
		{"multi line", "first\nsecond", "first"},
		{"leading whitespace", "  padded  \nrest", "padded"},
		{"empty", "", ""},
		{"only newline", "\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FirstLine(tt.input); got != tt.expected {
				t.Errorf("FirstLine(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

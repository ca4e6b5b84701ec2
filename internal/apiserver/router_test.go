package apiserver

import "testing"

func TestRedactSecrets(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no query string",
			input:    "/api/sessions",
			expected: "/api/sessions",
		},
		{
			name:     "no sensitive params",
			input:    "/api/sessions?cols=80&rows=24",
			expected: "/api/sessions?cols=80&rows=24",
		},
		{
			name:     "token param",
			input:    "/ws/mux?token=abc123xyz",
			expected: "/ws/mux?token=%5BREDACTED%5D",
		},
		{
			name:     "session param",
			input:    "/ws/state?session=eyJhbGciOiJIUzI1NiJ9",
			expected: "/ws/state?session=%5BREDACTED%5D",
		},
		{
			name:     "multiple sensitive params",
			input:    "/api/sessions?api_key=key123&token=token456&cols=80",
			expected: "/api/sessions?api_key=%5BREDACTED%5D&cols=80&token=%5BREDACTED%5D",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := redactSecrets(tc.input); got != tc.expected {
				t.Errorf("redactSecrets(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestRedactQueryPatternsFallback(t *testing.T) {
	input := "/api/sessions?token=abc;weird=1"
	got := redactQueryPatterns(input)
	if got == input {
		t.Errorf("redactQueryPatterns did not redact %q", input)
	}
}

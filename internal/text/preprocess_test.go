package text

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{
			name:  "passthrough clean text",
			input: "Hello world",
			want:  "Hello world",
		},
		{
			name:  "trims surrounding whitespace",
			input: "\t\n Hello world \n\t",
			want:  "Hello world",
		},
		{
			name:  "normalizes CRLF to LF",
			input: "line one\r\nline two",
			want:  "line one\nline two",
		},
		{
			name:  "normalizes bare CR to LF",
			input: "line one\rline two",
			want:  "line one\nline two",
		},
		{
			name:  "normalizes mixed line endings",
			input: "a\r\nb\rc\nd",
			want:  "a\nb\nc\nd",
		},
		{
			name:  "preserves internal whitespace",
			input: "  hello   world  ",
			want:  "hello   world",
		},
		{
			name:  "preserves unicode content",
			input: "  Héllo wörld  ",
			want:  "Héllo wörld",
		},
		{
			name:    "rejects empty string",
			input:   "",
			wantErr: ErrEmptyText,
		},
		{
			name:    "rejects whitespace-only string",
			input:   "   \t\r\n  ",
			wantErr: ErrEmptyText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Normalize(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}

				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPreprocess(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{
			name:  "capitalizes and appends period",
			input: "hello",
			want:  "Hello.",
		},
		{
			name:  "already prepared text is unchanged",
			input: "Hello world.",
			want:  "Hello world.",
		},
		{
			name:  "trims whitespace before preparing",
			input: "  hello world  ",
			want:  "Hello world.",
		},
		{
			name:  "keeps exclamation mark",
			input: "stop right there!",
			want:  "Stop right there!",
		},
		{
			name:  "keeps question mark",
			input: "what time is it?",
			want:  "What time is it?",
		},
		{
			name:  "appends period after trailing digit",
			input: "the answer is 42",
			want:  "The answer is 42.",
		},
		{
			name:  "leading digit is not capitalized",
			input: "42 is the answer",
			want:  "42 is the answer.",
		},
		{
			name:  "uppercase first letter is kept",
			input: "NASA launched today",
			want:  "NASA launched today.",
		},
		{
			name:  "leading punctuation is kept",
			input: "'quoted'",
			want:  "'quoted'",
		},
		{
			name:  "capitalizes accented first letter",
			input: "émile spoke",
			want:  "Émile spoke.",
		},
		{
			name:  "internal newline is preserved",
			input: "hello\nworld",
			want:  "Hello\nworld.",
		},
		{
			name:    "rejects empty string",
			input:   "",
			wantErr: ErrEmptyText,
		},
		{
			name:    "rejects whitespace-only string",
			input:   " \t\n ",
			wantErr: ErrEmptyText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Preprocess(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Preprocess(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}

				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got != tt.want {
				t.Errorf("Preprocess(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPreprocessIdempotent(t *testing.T) {
	inputs := []string{
		"hello",
		"the answer is 42",
		"what time is it?",
		"émile spoke",
	}

	for _, input := range inputs {
		once, err := Preprocess(input)
		if err != nil {
			t.Fatalf("Preprocess(%q): %v", input, err)
		}

		twice, err := Preprocess(once)
		if err != nil {
			t.Fatalf("Preprocess(%q): %v", once, err)
		}

		if twice != once {
			t.Errorf("Preprocess not idempotent for %q: %q != %q", input, twice, once)
		}
	}
}

package text

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrEmptyText is returned when the input text is empty or whitespace-only.
var ErrEmptyText = errors.New("text is empty")

// lineEndings rewrites CRLF and bare CR to LF in a single pass.
var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Normalize prepares raw input text for synthesis: line endings become LF,
// surrounding whitespace is trimmed, and empty or whitespace-only input is
// rejected with ErrEmptyText.
func Normalize(s string) (string, error) {
	s = strings.TrimSpace(lineEndings.Replace(s))
	if s == "" {
		return "", ErrEmptyText
	}

	return s, nil
}

// Preprocess applies the reference text preparation expected by the language
// model before tokenization:
//
//  1. Trim surrounding whitespace; empty input yields ErrEmptyText.
//  2. Append a period when the text ends with a letter or digit.
//  3. Uppercase a lowercase first letter.
//
// Text that already ends in punctuation or starts with an uppercase or
// non-letter rune passes through those steps unchanged.
func Preprocess(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyText
	}

	if last, _ := utf8.DecodeLastRuneInString(s); unicode.IsLetter(last) || unicode.IsDigit(last) {
		s += "."
	}

	if first, size := utf8.DecodeRuneInString(s); unicode.IsLower(first) {
		s = string(unicode.ToUpper(first)) + s[size:]
	}

	return s, nil
}

package text

import (
	"strings"
	"unicode/utf8"
)

// ChunkBySentence splits text into chunks at sentence boundaries (., !, ?),
// grouping consecutive sentences together while staying within maxRunes per
// chunk. If maxRunes is 0, no splitting is performed. A sentence that alone
// exceeds maxRunes is kept intact as its own chunk.
func ChunkBySentence(text string, maxRunes int) []string {
	if maxRunes <= 0 {
		return []string{text}
	}

	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentRunes := 0

	for _, s := range sentences {
		n := utf8.RuneCountInString(s)
		if current.Len() == 0 {
			current.WriteString(s)
			currentRunes = n
			continue
		}
		// +1 accounts for the joining space.
		if currentRunes+1+n > maxRunes {
			chunks = append(chunks, current.String())
			current.Reset()
			current.WriteString(s)
			currentRunes = n
		} else {
			current.WriteByte(' ')
			current.WriteString(s)
			currentRunes += 1 + n
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	return chunks
}

// splitSentences splits text on sentence-ending punctuation (., !, ?),
// keeping the terminator attached to its sentence.
// Empty segments are dropped.
func splitSentences(text string) []string {
	var sentences []string
	start := 0

	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(text[start : i+1])
			if s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}

	// Trailing text after the last terminator (if any).
	if start < len(text) {
		s := strings.TrimSpace(text[start:])
		if s != "" {
			sentences = append(sentences, s)
		}
	}

	return sentences
}

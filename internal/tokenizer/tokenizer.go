// Package tokenizer provides text tokenization for the PocketTTS engine.
package tokenizer

// Tokenizer encodes text into SentencePiece token IDs.
type Tokenizer interface {
	Encode(text string) ([]int64, error)
}

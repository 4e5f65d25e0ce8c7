package tokenaccount

import (
	"fmt"

	"github.com/daulet/tokenizers"
)

// BPETokenizer is the production Tokenizer, backed by a Hugging
// Face-compatible byte-pair-encoder vocabulary loaded from disk.
type BPETokenizer struct {
	tok *tokenizers.Tokenizer
}

// NewBPETokenizer loads a tokenizer.json vocabulary file. Callers must call
// Close when done to release the underlying native allocation.
func NewBPETokenizer(vocabPath string) (*BPETokenizer, error) {
	tok, err := tokenizers.FromFile(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer vocabulary from %s: %w", vocabPath, err)
	}
	return &BPETokenizer{tok: tok}, nil
}

func (b *BPETokenizer) CountTokens(s string) int {
	ids, _ := b.tok.Encode(s, false)
	return len(ids)
}

func (b *BPETokenizer) Close() error {
	return b.tok.Close()
}

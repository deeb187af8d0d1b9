package providers

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Boundary markers live outside the BPE id space so they can never collide
// with a real token and are trivially dropped on decode.
const (
	startMarker = -1
	endMarker   = -2
)

// BPETokenizer counts tokens with a tiktoken encoding. Remote embedding
// APIs do not expose their tokenizer, so this approximates the budget the
// server applies.
type BPETokenizer struct {
	enc    *tiktoken.Tiktoken
	maxLen int
}

// NewBPETokenizer loads the named encoding, cl100k_base if empty
func NewBPETokenizer(encoding string, maxLen int) (*BPETokenizer, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer encoding %s: %w", encoding, err)
	}
	return &BPETokenizer{enc: enc, maxLen: maxLen}, nil
}

func (t *BPETokenizer) Encode(text string, addSpecial bool) []int {
	ids := t.enc.Encode(text, nil, nil)
	if !addSpecial {
		return ids
	}
	out := make([]int, 0, len(ids)+2)
	out = append(out, startMarker)
	out = append(out, ids...)
	return append(out, endMarker)
}

func (t *BPETokenizer) Decode(ids []int) string {
	clean := make([]int, 0, len(ids))
	for _, id := range ids {
		if id >= 0 {
			clean = append(clean, id)
		}
	}
	return t.enc.Decode(clean)
}

func (t *BPETokenizer) ModelMaxLength() int { return t.maxLen }

package reference

import (
	"strings"

	"github.com/r3d91ll/palinor/pkg/model"
)

// Byte-level vocabulary: ids 0-255 are raw bytes, followed by two specials.
const (
	BOS       = 256
	EOS       = 257
	VocabSize = 258
)

// ByteTokenizer maps text to UTF-8 bytes, prefixed with BOS.
type ByteTokenizer struct{}

var _ model.Tokenizer = ByteTokenizer{}

// Encode returns BOS followed by the bytes of text.
func (ByteTokenizer) Encode(text string) []int {
	out := make([]int, 0, len(text)+1)
	out = append(out, BOS)
	for i := 0; i < len(text); i++ {
		out = append(out, int(text[i]))
	}
	return out
}

// Decode drops special tokens and replaces invalid UTF-8.
func (ByteTokenizer) Decode(tokens []int) string {
	buf := make([]byte, 0, len(tokens))
	for _, t := range tokens {
		if t >= 0 && t < 256 {
			buf = append(buf, byte(t))
		}
	}
	return strings.ToValidUTF8(string(buf), "�")
}

// Package tokenizer counts and slices text in model tokens.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const (
	// CL100K is the default encoding used for chunk budgets and prompt estimates.
	CL100K = "cl100k_base"
	// Approx counts roughly four characters per token and needs no vocabulary.
	Approx = "approx-4chars"
)

// Tokenizer encodes text to token ids and back.
type Tokenizer interface {
	ID() string
	Encode(text string) []int
	Decode(tokens []int) string
	Count(text string) int
}

var loaderOnce sync.Once

// New returns the tokenizer registered under id.
func New(id string) (Tokenizer, error) {
	switch id {
	case "", CL100K:
		loaderOnce.Do(func() {
			tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		})
		enc, err := tiktoken.GetEncoding(CL100K)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", CL100K, err)
		}
		return &bpeTokenizer{enc: enc}, nil
	case Approx:
		return newApprox(), nil
	}
	return nil, fmt.Errorf("unknown tokenizer %q", id)
}

type bpeTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t *bpeTokenizer) ID() string { return CL100K }

func (t *bpeTokenizer) Encode(text string) []int {
	if text == "" {
		return nil
	}
	return t.enc.Encode(text, nil, nil)
}

func (t *bpeTokenizer) Decode(tokens []int) string {
	if len(tokens) == 0 {
		return ""
	}
	return t.enc.Decode(tokens)
}

func (t *bpeTokenizer) Count(text string) int {
	return len(t.Encode(text))
}

// approxTokenizer treats every four runes as one token. The runes are packed
// into the id as 16-bit slots holding rune+1, so Decode needs no vocabulary
// and the tokenizer holds no state. A piece with a rune above U+FFFE is
// emitted one rune per id instead, as rune<<16 with the low slot empty.
type approxTokenizer struct{}

const (
	slotBits = 16
	slotMask = 1<<slotBits - 1
)

func newApprox() *approxTokenizer {
	return &approxTokenizer{}
}

func (t *approxTokenizer) ID() string { return Approx }

func (t *approxTokenizer) Encode(text string) []int {
	runes := []rune(text)
	out := make([]int, 0, (len(runes)+3)/4)
	for i := 0; i < len(runes); i += 4 {
		piece := runes[i:min(i+4, len(runes))]
		if !packable(piece) {
			for _, r := range piece {
				out = append(out, int(uint64(r)<<slotBits))
			}
			continue
		}
		var id uint64
		for j, r := range piece {
			id |= uint64(r+1) << (slotBits * j)
		}
		out = append(out, int(id))
	}
	return out
}

func packable(piece []rune) bool {
	for _, r := range piece {
		if r < 0 || r >= slotMask {
			return false
		}
	}
	return true
}

func (t *approxTokenizer) Decode(tokens []int) string {
	var b strings.Builder
	for _, id := range tokens {
		u := uint64(id)
		if u&slotMask == 0 {
			b.WriteRune(rune(u >> slotBits))
			continue
		}
		for ; u != 0; u >>= slotBits {
			slot := u & slotMask
			if slot == 0 {
				break
			}
			b.WriteRune(rune(slot - 1))
		}
	}
	return b.String()
}

func (t *approxTokenizer) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

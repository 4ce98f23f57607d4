package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCL100KRoundTrip(t *testing.T) {
	tok, err := New(CL100K)
	require.NoError(t, err)

	text := "The capital of France is Paris."
	ids := tok.Encode(text)
	require.NotEmpty(t, ids)
	assert.Equal(t, len(ids), tok.Count(text))
	assert.Equal(t, text, tok.Decode(ids))
	assert.Equal(t, CL100K, tok.ID())
}

func TestCL100KEmpty(t *testing.T) {
	tok, err := New(CL100K)
	require.NoError(t, err)
	assert.Zero(t, tok.Count(""))
	assert.Empty(t, tok.Decode(nil))
}

func TestApproxRoundTrip(t *testing.T) {
	tok, err := New(Approx)
	require.NoError(t, err)

	text := strings.Repeat("abcdefg ", 10)
	ids := tok.Encode(text)
	assert.Len(t, ids, 20)
	assert.Equal(t, 20, tok.Count(text))
	assert.Equal(t, text, tok.Decode(ids))
	assert.Equal(t, "abcd", tok.Decode(ids[:1]))
}

func TestApproxIsStateless(t *testing.T) {
	a, err := New(Approx)
	require.NoError(t, err)
	b, err := New(Approx)
	require.NoError(t, err)

	text := "Straße, café, 東京タワー and naïve text"
	ids := a.Encode(text)
	assert.Equal(t, ids, b.Encode(text))
	assert.Equal(t, text, b.Decode(ids))
	assert.Equal(t, a.Count(text), len(ids))
	assert.Equal(t, "Stra", b.Decode(ids[:1]))
}

func TestApproxRoundTripsAstralRunes(t *testing.T) {
	tok, err := New(Approx)
	require.NoError(t, err)

	text := "hi 👋🏽 there \uffff\x00end"
	ids := tok.Encode(text)
	assert.Equal(t, text, tok.Decode(ids))

	var joined strings.Builder
	for i := range ids {
		joined.WriteString(tok.Decode(ids[i : i+1]))
	}
	assert.Equal(t, text, joined.String())
}

func TestUnknownTokenizer(t *testing.T) {
	_, err := New("gpt2-ish")
	assert.Error(t, err)
}

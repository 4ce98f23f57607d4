package ingestion_engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/chatbase/internal/config"
	"github.com/markdave123-py/chatbase/internal/core/tokenizer"
	"github.com/markdave123-py/chatbase/internal/models"
)

var testMeta = ChunkMeta{ChatbotID: "bot-1", SourceID: "src-1", Kind: models.SourceKindText, DisplayName: "notes"}

func approxChunker(t *testing.T, mode string, size, overlap int) *Chunker {
	t.Helper()
	tok, err := tokenizer.New(tokenizer.Approx)
	require.NoError(t, err)
	c, err := NewChunker(tok, config.ChunkerConfig{Mode: mode, ChunkSizeTokens: size, OverlapTokens: overlap})
	require.NoError(t, err)
	return c
}

func assertWellFormed(t *testing.T, chunks []models.Chunk, size int) {
	t.Helper()
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.NotEmpty(t, strings.TrimSpace(ch.Text))
		assert.LessOrEqual(t, ch.TokenCount, size)
		assert.Positive(t, ch.TokenCount)
		assert.Equal(t, testMeta.SourceID, ch.SourceID)
		assert.Equal(t, testMeta.ChatbotID, ch.ChatbotID)
	}
}

func TestChunkEmptyInput(t *testing.T) {
	c := approxChunker(t, ModeParagraph, 600, 100)
	assert.Empty(t, c.Chunk("", testMeta))
	assert.Empty(t, c.Chunk(" \n\n\t\n ", testMeta))
}

func TestChunkPacksSmallParagraphs(t *testing.T) {
	c := approxChunker(t, ModeParagraph, 600, 100)
	text := "First paragraph here.\n\nSecond paragraph here.\n\n\nThird one."

	chunks := c.Chunk(text, testMeta)
	require.Len(t, chunks, 1)
	assert.Equal(t, "First paragraph here.\n\nSecond paragraph here.\n\nThird one.", chunks[0].Text)
	assertWellFormed(t, chunks, 600)
}

func TestChunkFlushesAtBudget(t *testing.T) {
	// 16 runes = 4 tokens per paragraph, separator = 1 token.
	c := approxChunker(t, ModeParagraph, 10, 2)
	p := "abcdefghijklmnop"
	text := strings.Join([]string{p, p, p}, "\n\n")

	chunks := c.Chunk(text, testMeta)
	require.Len(t, chunks, 2)
	assert.Equal(t, p+"\n\n"+p, chunks[0].Text)
	assert.Equal(t, p, chunks[1].Text)
	assertWellFormed(t, chunks, 10)
}

func TestChunkOversizedParagraphUsesWindows(t *testing.T) {
	c := approxChunker(t, ModeParagraph, 10, 2)
	long := strings.Repeat("x", 100) // 25 tokens, stride 8

	chunks := c.Chunk("short intro\n\n"+long, testMeta)
	require.Len(t, chunks, 5)
	assert.Equal(t, "short intro", chunks[0].Text)
	assert.Equal(t, 10, chunks[1].TokenCount)
	assert.Equal(t, 1, chunks[4].TokenCount)
	assertWellFormed(t, chunks, 10)
}

func TestChunkTokenModeCount(t *testing.T) {
	cases := []struct {
		runes int
		want  int
	}{
		{4, 1},
		{40, 2},  // T=10, s=8
		{100, 4}, // T=25
		{128, 4}, // T=32
		{132, 5}, // T=33
	}
	for _, tc := range cases {
		c := approxChunker(t, ModeToken, 10, 2)
		chunks := c.Chunk(strings.Repeat("y", tc.runes), testMeta)
		assert.Len(t, chunks, tc.want, "runes=%d", tc.runes)
		assertWellFormed(t, chunks, 10)
	}
}

func TestChunkDeterministic(t *testing.T) {
	c := approxChunker(t, ModeParagraph, 20, 5)
	text := strings.Repeat("Lorem ipsum dolor sit amet.\n\n", 30)

	first := c.Chunk(text, testMeta)
	second := c.Chunk(text, testMeta)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Text, second[i].Text)
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestChunkWithCL100K(t *testing.T) {
	tok, err := tokenizer.New(tokenizer.CL100K)
	require.NoError(t, err)
	c, err := NewChunker(tok, config.ChunkerConfig{Mode: ModeParagraph, ChunkSizeTokens: 50, OverlapTokens: 10})
	require.NoError(t, err)

	var paras []string
	for i := 0; i < 40; i++ {
		paras = append(paras, "Paris is the capital and most populous city of France.")
	}
	paras = append(paras, strings.Repeat("word ", 300))

	chunks := c.Chunk(strings.Join(paras, "\n\n"), testMeta)
	require.NotEmpty(t, chunks)
	assertWellFormed(t, chunks, 50)
}

func TestNewChunkerRejectsBadOverlap(t *testing.T) {
	tok, err := tokenizer.New(tokenizer.Approx)
	require.NoError(t, err)
	_, err = NewChunker(tok, config.ChunkerConfig{Mode: ModeParagraph, ChunkSizeTokens: 100, OverlapTokens: 100})
	assert.Error(t, err)
}

func TestChunkIDStable(t *testing.T) {
	assert.Equal(t, ChunkID("a", 1), ChunkID("a", 1))
	assert.NotEqual(t, ChunkID("a", 1), ChunkID("a", 2))
	assert.NotEqual(t, ChunkID("a", 1), ChunkID("b", 1))
}

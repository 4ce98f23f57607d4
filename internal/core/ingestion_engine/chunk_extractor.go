package ingestion_engine

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/markdave123-py/chatbase/internal/config"
	"github.com/markdave123-py/chatbase/internal/core/tokenizer"
	"github.com/markdave123-py/chatbase/internal/models"
)

const (
	ModeParagraph = "paragraph"
	ModeToken     = "token"

	paragraphSep = "\n\n"
)

var blankLine = regexp.MustCompile(`\n[ \t]*\n`)

// ChunkMeta is copied onto every chunk of a source.
type ChunkMeta struct {
	ChatbotID   string
	SourceID    string
	Kind        models.SourceKind
	DisplayName string
}

// Chunker splits text into token-bounded chunks.
//
// In paragraph mode blank-line separated paragraphs are packed greedily up to
// size tokens; a paragraph larger than size is cut in token windows of size
// with stride size-overlap. Token mode windows the whole text.
type Chunker struct {
	tok     tokenizer.Tokenizer
	mode    string
	size    int
	overlap int
}

func NewChunker(tok tokenizer.Tokenizer, cfg config.ChunkerConfig) (*Chunker, error) {
	if tok == nil {
		return nil, fmt.Errorf("chunker: nil tokenizer")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeParagraph
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{tok: tok, mode: cfg.Mode, size: cfg.ChunkSizeTokens, overlap: cfg.OverlapTokens}, nil
}

// Size returns the maximum token count of an emitted chunk.
func (c *Chunker) Size() int { return c.size }

// Chunk splits text into ordered chunks with contiguous indexes from zero.
// Empty or blank input yields no chunks.
func (c *Chunker) Chunk(text string, meta ChunkMeta) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var pieces []piece
	if c.mode == ModeToken {
		pieces = c.windows(text)
	} else {
		pieces = c.paragraphs(text)
	}

	out := make([]models.Chunk, 0, len(pieces))
	for _, p := range pieces {
		idx := len(out)
		out = append(out, models.Chunk{
			ID:          ChunkID(meta.SourceID, idx),
			ChatbotID:   meta.ChatbotID,
			SourceID:    meta.SourceID,
			ChunkIndex:  idx,
			Text:        p.text,
			TokenCount:  p.tokens,
			SourceKind:  meta.Kind,
			DisplayName: meta.DisplayName,
		})
	}
	return out
}

// ChunkID derives a stable id from the source and position so that
// re-ingesting a source rewrites the same rows.
func ChunkID(sourceID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, fmt.Appendf(nil, "chunk:%s/%d", sourceID, index)).String()
}

type piece struct {
	text   string
	tokens int
}

func (c *Chunker) paragraphs(text string) []piece {
	var (
		out    []piece
		buf    []string
		bufTok int
	)
	sepTok := c.tok.Count(paragraphSep)

	flush := func() {
		if len(buf) == 0 {
			return
		}
		joined := strings.Join(buf, paragraphSep)
		buf, bufTok = buf[:0], 0

		// merges across the separator can shift the count; recount and fall
		// back to windows if the joined text no longer fits.
		n := c.tok.Count(joined)
		if n > c.size {
			out = append(out, c.windows(joined)...)
			return
		}
		out = append(out, piece{text: joined, tokens: n})
	}

	for _, para := range blankLine.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := c.tok.Count(para)
		switch {
		case n > c.size:
			flush()
			out = append(out, c.windows(para)...)
		case len(buf) == 0:
			buf, bufTok = append(buf, para), n
		case bufTok+sepTok+n <= c.size:
			buf = append(buf, para)
			bufTok += sepTok + n
		default:
			flush()
			buf, bufTok = append(buf, para), n
		}
	}
	flush()
	return out
}

// windows emits ceil(T/stride) windows over the token sequence of text; the
// last partial window is always emitted.
func (c *Chunker) windows(text string) []piece {
	ids := c.tok.Encode(text)
	stride := c.size - c.overlap

	var out []piece
	for start := 0; start < len(ids); start += stride {
		end := min(start+c.size, len(ids))
		s := c.tok.Decode(ids[start:end])
		if !utf8.ValidString(s) {
			s = strings.ToValidUTF8(s, "")
		}
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, piece{text: s, tokens: end - start})
	}
	return out
}

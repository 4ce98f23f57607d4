package retrieval

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/markdave123-py/chatbase/internal/config"
	"github.com/markdave123-py/chatbase/internal/models"
)

// Result is what the chat pipeline needs from retrieval for one query.
type Result struct {
	HasContext     bool
	ContextBlock   string
	CitationFooter string
	Citations      []models.Citation
	Matches        []Match
}

// Ranker is the part of Index the retriever depends on.
type Ranker interface {
	Rank(ctx context.Context, chatbotID, query string, topK int, minScore float64) ([]Match, error)
}

type Retriever struct {
	ranker   Ranker
	topK     int
	minScore float64
}

func NewRetriever(ranker Ranker, cfg config.RetrieverConfig) *Retriever {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 2
	}
	return &Retriever{ranker: ranker, topK: topK, minScore: cfg.MinScore}
}

// Retrieve ranks the chatbot's chunks against query and formats the context
// block and citation footer. Rank errors are returned unchanged.
func (r *Retriever) Retrieve(ctx context.Context, chatbotID, query string) (Result, error) {
	matches, err := r.ranker.Rank(ctx, chatbotID, query, r.topK, r.minScore)
	if err != nil {
		return Result{}, err
	}
	if len(matches) == 0 {
		return Result{}, nil
	}

	lines := make([]string, len(matches))
	footer := make([]string, len(matches))
	citations := make([]models.Citation, len(matches))
	for i, m := range matches {
		rank := i + 1
		c := models.Citation{
			Rank:        rank,
			SourceID:    m.Chunk.SourceID,
			ChunkID:     m.Chunk.ID,
			DisplayName: m.Chunk.DisplayName,
			Kind:        m.Chunk.SourceKind,
			ChunkIndex:  m.Chunk.ChunkIndex,
			Confidence:  Confidence(m.Score),
		}
		citations[i] = c
		lines[i] = fmt.Sprintf("[Source %d]: %s", rank, m.Chunk.Text)
		footer[i] = fmt.Sprintf("[Source %d]: %s (confidence: %s%%)", rank, c.DisplayName, strconv.FormatFloat(c.Confidence, 'f', -1, 64))
	}

	return Result{
		HasContext:     true,
		ContextBlock:   strings.Join(lines, "\n\n"),
		CitationFooter: "\n" + strings.Join(footer, "\n"),
		Citations:      citations,
		Matches:        matches,
	}, nil
}

// Confidence is score·100 rounded to one decimal.
func Confidence(score float64) float64 {
	return math.Round(score*1000) / 10
}

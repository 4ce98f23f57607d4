package retrieval

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/core/metrics"
	"github.com/markdave123-py/chatbase/internal/models"
)

// Match is one ranked chunk with its normalized score.
type Match struct {
	Chunk models.Chunk
	Score float64
}

// Index is the chunk store of the core: it analyzes chunk text into postings
// on insert and ranks a chatbot's processed chunks with BM25.
type Index struct {
	store    core.ChunkStore
	analyzer *Analyzer
	metrics  *metrics.Metrics
	logger   *log.Logger
}

func NewIndex(store core.ChunkStore, analyzer *Analyzer, m *metrics.Metrics, logger *log.Logger) *Index {
	if analyzer == nil {
		analyzer = NewAnalyzer(nil)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Index{store: store, analyzer: analyzer, metrics: m, logger: logger}
}

func (ix *Index) Analyzer() *Analyzer { return ix.analyzer }

// InsertChunks stores every chunk of a source with its postings, all or nothing.
func (ix *Index) InsertChunks(ctx context.Context, chatbotID, sourceID string, chunks []models.Chunk) error {
	terms := make([][]models.ChunkTerm, len(chunks))
	for i, ch := range chunks {
		terms[i] = ix.analyzer.Postings(ch.Text)
	}
	return ix.store.InsertChunks(ctx, chatbotID, sourceID, chunks, terms)
}

func (ix *Index) DeleteBySource(ctx context.Context, chatbotID, sourceID string) (int, error) {
	return ix.store.DeleteChunksBySource(ctx, chatbotID, sourceID)
}

func (ix *Index) DeleteByChatbot(ctx context.Context, chatbotID string) (int, error) {
	return ix.store.DeleteChunksByChatbot(ctx, chatbotID)
}

// Rank returns up to topK chunks of the chatbot scoring at least minScore,
// ordered by score desc, chunk_index asc, source_id asc, chunk id asc.
// Store failures are reported as ErrRetrievalUnavailable.
func (ix *Index) Rank(ctx context.Context, chatbotID, query string, topK int, minScore float64) ([]Match, error) {
	start := time.Now()
	defer func() { ix.metrics.ObserveRetrieval(time.Since(start)) }()

	if topK <= 0 {
		return nil, nil
	}
	terms := ix.analyzer.Terms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	n, avgdl, err := ix.store.CorpusStats(ctx, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("%w: corpus stats: %v", core.ErrRetrievalUnavailable, err)
	}
	if n == 0 {
		return nil, nil
	}
	postings, err := ix.store.Postings(ctx, chatbotID, terms)
	if err != nil {
		return nil, fmt.Errorf("%w: postings: %v", core.ErrRetrievalUnavailable, err)
	}

	candidates := scorePostings(postings, n, avgdl)
	normalize(candidates)

	// keep everything tied with the topK-th score so the tie-break below
	// sees the full group.
	keep := 0
	for keep < len(candidates) && candidates[keep].score >= minScore {
		if keep >= topK && candidates[keep].score < candidates[topK-1].score {
			break
		}
		keep++
	}
	candidates = candidates[:keep]
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, len(candidates))
	scores := make(map[string]float64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.chunkID
		scores[c.chunkID] = c.score
	}
	chunks, err := ix.store.GetChunks(ctx, chatbotID, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: load chunks: %v", core.ErrRetrievalUnavailable, err)
	}

	matches := make([]Match, 0, len(chunks))
	for _, ch := range chunks {
		if ch.ChatbotID != chatbotID {
			ix.logger.Printf("[Retrieval] dropped chunk %s of chatbot %s from results of %s", ch.ID, ch.ChatbotID, chatbotID)
			continue
		}
		matches = append(matches, Match{Chunk: ch, Score: scores[ch.ID]})
	}
	sortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func sortMatches(m []Match) {
	sort.Slice(m, func(i, j int) bool {
		a, b := m[i], m[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.ChunkIndex != b.Chunk.ChunkIndex {
			return a.Chunk.ChunkIndex < b.Chunk.ChunkIndex
		}
		if a.Chunk.SourceID != b.Chunk.SourceID {
			return a.Chunk.SourceID < b.Chunk.SourceID
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}

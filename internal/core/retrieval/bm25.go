package retrieval

import (
	"math"
	"sort"

	"github.com/markdave123-py/chatbase/internal/core"
)

const (
	K1 = 1.5
	B  = 0.75
)

// IDF is ln((N - df + 0.5) / (df + 0.5) + 1).
func IDF(n, df int) float64 {
	return math.Log((float64(n)-float64(df)+0.5)/(float64(df)+0.5) + 1)
}

// TermScore is the BM25 contribution of one term to one chunk.
func TermScore(idf float64, tf, length int, avgdl float64) float64 {
	if tf <= 0 {
		return 0
	}
	norm := 1.0
	if avgdl > 0 {
		norm = 1 - B + B*float64(length)/avgdl
	}
	f := float64(tf)
	return idf * (f * (K1 + 1)) / (f + K1*norm)
}

type scored struct {
	chunkID string
	score   float64
}

// scorePostings sums BM25 over the query terms for every chunk that holds at
// least one of them. n and avgdl describe the chatbot's queryable corpus.
func scorePostings(postings []core.Posting, n int, avgdl float64) []scored {
	df := map[string]int{}
	for _, p := range postings {
		df[p.Term]++
	}
	// summing in term order keeps equal texts at bit-identical scores.
	postings = append([]core.Posting(nil), postings...)
	sort.Slice(postings, func(i, j int) bool { return postings[i].Term < postings[j].Term })
	sums := map[string]float64{}
	for _, p := range postings {
		sums[p.ChunkID] += TermScore(IDF(n, df[p.Term]), p.TF, p.TokenCount, avgdl)
	}
	out := make([]scored, 0, len(sums))
	for id, s := range sums {
		out = append(out, scored{chunkID: id, score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].chunkID < out[j].chunkID
	})
	return out
}

// normalize divides by max(1, observed max) so scores land in [0,1].
func normalize(in []scored) {
	top := 1.0
	for _, s := range in {
		top = math.Max(top, s.score)
	}
	for i := range in {
		in[i].score /= top
	}
}

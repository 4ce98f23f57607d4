package retrieval

import (
	"sort"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/analysis"
	"github.com/blevesearch/bleve/analysis/token/lowercase"
	"github.com/blevesearch/bleve/analysis/token/porter"
	"github.com/blevesearch/bleve/analysis/token/stop"
	unicodetok "github.com/blevesearch/bleve/analysis/tokenizer/unicode"

	"github.com/markdave123-py/chatbase/internal/models"
)

// DefaultStopwords is the small English list removed before stemming.
var DefaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "can", "did", "do", "does",
	"for", "from", "had", "has", "have", "he", "her", "his", "how", "i", "if", "in", "into",
	"is", "it", "its", "me", "my", "no", "not", "of", "on", "or", "our", "she", "so", "than",
	"that", "the", "their", "them", "then", "there", "these", "they", "this", "those", "to",
	"was", "we", "were", "what", "when", "where", "which", "who", "whom", "why", "will",
	"with", "you", "your",
}

// Analyzer turns text into index terms. The same chain runs at index and
// query time: unicode words, lowercase, alphanumeric strip, stop words, porter.
type Analyzer struct {
	chain *analysis.Analyzer
}

func NewAnalyzer(stopwords []string) *Analyzer {
	if len(stopwords) == 0 {
		stopwords = DefaultStopwords
	}
	stops := analysis.NewTokenMap()
	for _, w := range stopwords {
		stops.AddToken(strings.ToLower(strings.TrimSpace(w)))
	}
	return &Analyzer{chain: &analysis.Analyzer{
		Tokenizer: unicodetok.NewUnicodeTokenizer(),
		TokenFilters: []analysis.TokenFilter{
			lowercase.NewLowerCaseFilter(),
			alnumFilter{},
			stop.NewStopTokensFilter(stops),
			porter.NewPorterStemmer(),
		},
	}}
}

// Tokens returns the analyzed terms of text in order, repeats included.
func (a *Analyzer) Tokens(text string) []string {
	stream := a.chain.Analyze([]byte(text))
	out := make([]string, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) > 0 {
			out = append(out, string(tok.Term))
		}
	}
	return out
}

// Terms returns the distinct query terms of text, sorted.
func (a *Analyzer) Terms(text string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range a.Tokens(text) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Postings returns the term frequencies of one chunk text, sorted by term.
func (a *Analyzer) Postings(text string) []models.ChunkTerm {
	tf := map[string]int{}
	for _, t := range a.Tokens(text) {
		tf[t]++
	}
	out := make([]models.ChunkTerm, 0, len(tf))
	for term, n := range tf {
		out = append(out, models.ChunkTerm{Term: term, TF: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out
}

// alnumFilter removes every non letter/digit rune from a token and drops
// tokens left empty.
type alnumFilter struct{}

func (alnumFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := input[:0]
	for _, tok := range input {
		term := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, string(tok.Term))
		if term == "" {
			continue
		}
		tok.Term = []byte(term)
		out = append(out, tok)
	}
	return out
}

// Package prompt builds the provider-neutral envelope of one chat turn.
package prompt

import (
	"strings"

	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/core/tokenizer"
	"github.com/markdave123-py/chatbase/internal/models"
)

// RetrievalPreamble introduces the context block in the system text.
const RetrievalPreamble = "Use the following reference context. Cite sources inline as [Source N]. If the answer is not in the context, say so."

// perMessageOverhead approximates the role and framing tokens of one message.
const perMessageOverhead = 4

// Input is everything needed to assemble one turn.
type Input struct {
	Instructions string
	ContextBlock string
	History      []models.Message // chronological
	UserTurn     string

	// ContextBudget is the provider window in tokens; <= 0 disables truncation.
	ContextBudget  int
	ResponseBudget int
}

type Assembler struct {
	tok           tokenizer.Tokenizer
	historyWindow int
}

func NewAssembler(tok tokenizer.Tokenizer, historyWindow int) *Assembler {
	if historyWindow < 0 {
		historyWindow = 0
	}
	return &Assembler{tok: tok, historyWindow: historyWindow}
}

// System joins the chatbot instructions with the retrieval preamble and
// context block when there is context.
func System(instructions, contextBlock string) string {
	instructions = strings.TrimSpace(instructions)
	if contextBlock == "" {
		return instructions
	}
	retrieval := RetrievalPreamble + "\n\n" + contextBlock
	if instructions == "" {
		return retrieval
	}
	return instructions + "\n\n" + retrieval
}

// Assemble keeps the last historyWindow messages, then drops the oldest ones
// until history plus the user turn fit the budget left after the system text
// and the response. The user turn is always kept.
func (a *Assembler) Assemble(in Input) core.Envelope {
	system := System(in.Instructions, in.ContextBlock)

	history := in.History
	if len(history) > a.historyWindow {
		history = history[len(history)-a.historyWindow:]
	}

	turns := make([]core.Turn, 0, len(history)+1)
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		turns = append(turns, core.Turn{Role: string(m.Role), Content: m.Content})
	}
	current := core.Turn{Role: string(models.RoleUser), Content: in.UserTurn}

	if in.ContextBudget > 0 && a.tok != nil {
		budget := in.ContextBudget - in.ResponseBudget - a.tok.Count(system)
		used := a.cost(current)
		for _, t := range turns {
			used += a.cost(t)
		}
		for len(turns) > 0 && used > budget {
			used -= a.cost(turns[0])
			turns = turns[1:]
		}
	}

	return core.Envelope{System: system, Messages: append(turns, current)}
}

func (a *Assembler) cost(t core.Turn) int {
	return a.tok.Count(t.Content) + perMessageOverhead
}

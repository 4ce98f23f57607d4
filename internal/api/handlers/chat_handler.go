package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/core/chat"
)

// TurnHandler answers one turn. *chat.Orchestrator implements it.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req chat.TurnRequest) (chat.TurnResult, error)
}

type ChatHandler struct {
	turns TurnHandler
}

func NewChatHandler(turns TurnHandler) *ChatHandler {
	return &ChatHandler{turns: turns}
}

// Send is the public widget endpoint: POST /api/chat/{chatbotID}.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req chat.TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}
	req.ChatbotID = chi.URLParam(r, "chatbotID")
	if req.Platform == "" {
		req.Platform = "web"
	}

	res, err := h.turns.HandleTurn(r.Context(), req)
	if errors.Is(err, core.ErrQuotaExceeded) {
		status, code := StatusFor(err)
		writeJSON(w, status, struct {
			errorBody
			AssistantText string `json:"assistant_text"`
		}{errorBody{Error: err.Error(), Code: code}, res.AssistantText})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

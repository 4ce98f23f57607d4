package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/core/quota"
	"github.com/markdave123-py/chatbase/internal/models"
	"github.com/markdave123-py/chatbase/internal/services"
)

type ChatbotHandler struct {
	bots   *services.ChatbotService
	ledger *quota.Ledger
}

func NewChatbotHandler(bots *services.ChatbotService, ledger *quota.Ledger) *ChatbotHandler {
	return &ChatbotHandler{bots: bots, ledger: ledger}
}

func (h *ChatbotHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	var spec services.ChatbotSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}
	bot, err := h.bots.Create(r.Context(), ownerID, spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bot)
}

func (h *ChatbotHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	bots, err := h.bots.List(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if bots == nil {
		bots = []models.Chatbot{}
	}
	writeJSON(w, http.StatusOK, bots)
}

func (h *ChatbotHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	bot, err := h.bots.Get(r.Context(), ownerID, chi.URLParam(r, "chatbotID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

func (h *ChatbotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	if err := h.bots.Delete(r.Context(), ownerID, chi.URLParam(r, "chatbotID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type usageResponse struct {
	PlanID   string                  `json:"plan_id"`
	Counters *models.QuotaCounters   `json:"counters"`
	Limits   models.PlanLimits       `json:"limits"`
	Status   map[string]quota.Status `json:"status"`
}

// Usage reports the caller's counters against their plan.
func (h *ChatbotHandler) Usage(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	q, limits, err := h.ledger.Usage(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	status := make(map[string]quota.Status)
	for _, res := range []models.Resource{
		models.ResourceChatbots, models.ResourceMessages, models.ResourceFileUploads,
		models.ResourceWebsiteSources, models.ResourceTextSources,
	} {
		status[string(res)] = quota.StatusOf(q, limits, res)
	}
	writeJSON(w, http.StatusOK, usageResponse{PlanID: q.PlanID, Counters: q, Limits: limits, Status: status})
}

package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	middleware "github.com/markdave123-py/chatbase/internal/api/middlewares"
	"github.com/markdave123-py/chatbase/internal/core"
)

// errorBody is the JSON shape of every failed API response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("handlers: encode response: %v", err)
	}
}

// StatusFor maps an error kind to its HTTP status and code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest, "InvalidInput"
	case errors.Is(err, core.ErrUnknownProvider):
		return http.StatusBadRequest, "UnknownProvider"
	case errors.Is(err, core.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "UnsupportedFormat"
	case errors.Is(err, core.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "PayloadTooLarge"
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, core.ErrChatbotNotFound):
		return http.StatusNotFound, "ChatbotNotFound"
	case errors.Is(err, core.ErrSourceNotFound):
		return http.StatusNotFound, "SourceNotFound"
	case errors.Is(err, core.ErrConversationNotFound):
		return http.StatusNotFound, "ConversationNotFound"
	case errors.Is(err, core.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "QuotaExceeded"
	case core.IsProviderError(err):
		return http.StatusBadGateway, "ProviderError"
	}
	return http.StatusInternalServerError, "Internal"
}

func writeError(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("handlers: internal error: %v", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// owner returns the authenticated owner or writes a 401.
func owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.OwnerID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "owner not found in context", Code: "Unauthorized"})
	}
	return id, ok
}

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/models"
	"github.com/markdave123-py/chatbase/internal/services"
)

type SourceHandler struct {
	sources  *services.SourceService
	maxBytes int64
}

func NewSourceHandler(sources *services.SourceService, maxUploadBytes int64) *SourceHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 256 << 20
	}
	return &SourceHandler{sources: sources, maxBytes: maxUploadBytes}
}

// sourceRequest is the JSON body for website and text sources.
type sourceRequest struct {
	Kind models.SourceKind `json:"kind"`
	Name string            `json:"name"`
	URL  string            `json:"url"`
	Text string            `json:"text"`
}

// Create accepts either a multipart upload with a "file" field or a JSON
// website/text source.
func (h *SourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	var spec services.SourceSpec
	var err error
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		spec, err = h.fileSpec(r)
	} else {
		spec, err = h.jsonSpec(r)
	}
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			err = fmt.Errorf("%w: request exceeds %d bytes", core.ErrPayloadTooLarge, tooBig.Limit)
		}
		writeError(w, err)
		return
	}

	src, err := h.sources.Ingest(r.Context(), ownerID, chi.URLParam(r, "chatbotID"), spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

func (h *SourceHandler) fileSpec(r *http.Request) (services.SourceSpec, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return services.SourceSpec{}, err
		}
		return services.SourceSpec{}, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return services.SourceSpec{}, fmt.Errorf("%w: invalid file", core.ErrInvalidInput)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return services.SourceSpec{}, fmt.Errorf("read upload: %w", err)
	}
	return services.SourceSpec{
		Kind:        models.SourceKindFile,
		Name:        r.FormValue("name"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (h *SourceHandler) jsonSpec(r *http.Request) (services.SourceSpec, error) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return services.SourceSpec{}, err
		}
		return services.SourceSpec{}, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	if req.Kind == models.SourceKindFile {
		return services.SourceSpec{}, fmt.Errorf("%w: files must be sent as multipart/form-data", core.ErrInvalidInput)
	}
	return services.SourceSpec{Kind: req.Kind, Name: req.Name, URL: req.URL, Data: []byte(req.Text)}, nil
}

func (h *SourceHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	sources, err := h.sources.List(r.Context(), ownerID, chi.URLParam(r, "chatbotID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if sources == nil {
		sources = []models.Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

func (h *SourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	src, err := h.sources.Lookup(r.Context(), ownerID, chi.URLParam(r, "sourceID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (h *SourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	if err := h.sources.Delete(r.Context(), ownerID, chi.URLParam(r, "sourceID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

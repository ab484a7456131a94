package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/veridate/faceseek/internal/match"
	"github.com/veridate/faceseek/internal/recognition"
)

// Searcher runs the match search. Satisfied by *match.Searcher.
type Searcher interface {
	Search(ctx context.Context, queryImage *recognition.Image, thresholdOverride *float64) ([]match.Result, error)
}

// ProviderSource resolves the active provider config.
type ProviderSource interface {
	Active(ctx context.Context) (*recognition.ProviderConfig, error)
}

// SearchHandler serves match searches.
type SearchHandler struct {
	searcher  Searcher
	providers ProviderSource
}

func NewSearchHandler(searcher Searcher, providers ProviderSource) *SearchHandler {
	return &SearchHandler{searcher: searcher, providers: providers}
}

type searchRequest struct {
	// Photo is a data URI, bare base64 payload, or http(s) URL.
	Photo string `json:"photo"`
	// Threshold optionally overrides the provider's similarity threshold.
	Threshold *float64 `json:"threshold,omitempty"`
}

type searchResponse struct {
	// ProviderActive distinguishes "no matches" from "matching unavailable".
	ProviderActive bool           `json:"provider_active"`
	Results        []match.Result `json:"results"`
}

// Search handles POST /api/v1/match/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Photo == "" {
		respondError(w, http.StatusBadRequest, "photo is required")
		return
	}
	if req.Threshold != nil && (*req.Threshold < 0 || *req.Threshold > 1) {
		respondError(w, http.StatusBadRequest, "threshold must be between 0 and 1")
		return
	}

	img, err := recognition.ParseImage(req.Photo)
	if err != nil {
		respondError(w, http.StatusBadRequest, "photo is not a usable image reference")
		return
	}

	results, err := h.searcher.Search(r.Context(), img, req.Threshold)
	if err != nil {
		if errors.Is(err, match.ErrNoFaceDetected) {
			respondErrorCode(w, http.StatusUnprocessableEntity, "no_face_detected", "no face detected in the submitted photo")
			return
		}
		log.Printf("search failed: %v", err)
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	active, err := h.providers.Active(r.Context())
	if err != nil {
		log.Printf("failed to resolve provider for response: %v", err)
	}

	respondJSON(w, http.StatusOK, searchResponse{
		ProviderActive: active != nil,
		Results:        results,
	})
}

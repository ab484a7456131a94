package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/veridate/faceseek/internal/config"
	"github.com/veridate/faceseek/internal/database"
	"github.com/veridate/faceseek/internal/recognition"
)

// ProviderStore is the persistence API the handler needs. Satisfied by
// *database.ProviderRepository.
type ProviderStore interface {
	List(ctx context.Context) ([]*recognition.ProviderConfig, error)
	Create(ctx context.Context, cfg *recognition.ProviderConfig) error
	Activate(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error
}

// RegistryInvalidator drops the cached active provider after writes.
type RegistryInvalidator interface {
	Invalidate()
}

// ProvidersHandler manages provider configurations.
type ProvidersHandler struct {
	config   *config.Config
	store    ProviderStore
	registry RegistryInvalidator
}

func NewProvidersHandler(cfg *config.Config, store ProviderStore, registry RegistryInvalidator) *ProvidersHandler {
	return &ProvidersHandler{config: cfg, store: store, registry: registry}
}

// providerView is the API shape of a config. Credentials never leave the
// server; only their presence is reported.
type providerView struct {
	ID                  string    `json:"id"`
	ProviderType        string    `json:"provider_type"`
	Active              bool      `json:"active"`
	Enabled             bool      `json:"enabled"`
	HasCredentials      bool      `json:"has_credentials"`
	SimilarityThreshold float64   `json:"similarity_threshold"`
	MaxResults          int       `json:"max_results"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func toView(cfg *recognition.ProviderConfig) providerView {
	return providerView{
		ID:                  cfg.ID,
		ProviderType:        string(cfg.Type),
		Active:              cfg.Active,
		Enabled:             cfg.Enabled,
		HasCredentials:      cfg.Credentials != (recognition.Credentials{}),
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxResults:          cfg.MaxResults,
		CreatedAt:           cfg.CreatedAt,
		UpdatedAt:           cfg.UpdatedAt,
	}
}

// List handles GET /api/v1/providers.
func (h *ProvidersHandler) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.List(r.Context())
	if err != nil {
		log.Printf("failed to list providers: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list providers")
		return
	}

	views := make([]providerView, 0, len(configs))
	for _, cfg := range configs {
		views = append(views, toView(cfg))
	}
	respondJSON(w, http.StatusOK, map[string]any{"providers": views})
}

type createProviderRequest struct {
	ProviderType        string                  `json:"provider_type"`
	Enabled             *bool                   `json:"enabled,omitempty"`
	Credentials         recognition.Credentials `json:"credentials"`
	SimilarityThreshold *float64                `json:"similarity_threshold,omitempty"`
	MaxResults          *int                    `json:"max_results,omitempty"`
}

// Create handles POST /api/v1/providers. Threshold and result cap fall back
// to the shipped per-type defaults when omitted.
func (h *ProvidersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProviderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	providerType := recognition.ProviderType(req.ProviderType)
	if !providerType.Valid() {
		respondError(w, http.StatusBadRequest, "unknown provider_type")
		return
	}

	defaults := h.config.ProviderDefault(req.ProviderType)
	cfg := &recognition.ProviderConfig{
		Type:                providerType,
		Enabled:             true,
		Credentials:         req.Credentials,
		SimilarityThreshold: defaults.SimilarityThreshold,
		MaxResults:          defaults.MaxResults,
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.SimilarityThreshold != nil {
		if *req.SimilarityThreshold < 0 || *req.SimilarityThreshold > 1 {
			respondError(w, http.StatusBadRequest, "similarity_threshold must be between 0 and 1")
			return
		}
		cfg.SimilarityThreshold = *req.SimilarityThreshold
	}
	if req.MaxResults != nil {
		if *req.MaxResults <= 0 {
			respondError(w, http.StatusBadRequest, "max_results must be positive")
			return
		}
		cfg.MaxResults = *req.MaxResults
	}

	if err := h.store.Create(r.Context(), cfg); err != nil {
		log.Printf("failed to create provider: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to create provider")
		return
	}

	respondJSON(w, http.StatusCreated, toView(cfg))
}

// Activate handles POST /api/v1/providers/{id}/activate.
func (h *ProvidersHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.Activate(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "no enabled provider config with that id")
			return
		}
		log.Printf("failed to activate provider %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to activate provider")
		return
	}

	// Make the switch visible before the registry TTL runs out.
	h.registry.Invalidate()

	respondJSON(w, http.StatusOK, map[string]string{"status": "activated", "id": id})
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetEnabled handles PUT /api/v1/providers/{id}/enabled.
func (h *ProvidersHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req setEnabledRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if err := h.store.SetEnabled(r.Context(), id, req.Enabled); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "no provider config with that id")
			return
		}
		log.Printf("failed to update provider %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to update provider")
		return
	}

	h.registry.Invalidate()

	respondJSON(w, http.StatusOK, map[string]any{"status": "updated", "id": id, "enabled": req.Enabled})
}

// Delete handles DELETE /api/v1/providers/{id}.
func (h *ProvidersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "no provider config with that id")
			return
		}
		log.Printf("failed to delete provider %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to delete provider")
		return
	}

	h.registry.Invalidate()

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/veridate/faceseek/internal/config"
	"github.com/veridate/faceseek/internal/database"
	"github.com/veridate/faceseek/internal/match"
	"github.com/veridate/faceseek/internal/recognition"
)

type fakeSearcher struct {
	results []match.Result
	err     error

	gotThreshold *float64
}

func (f *fakeSearcher) Search(ctx context.Context, img *recognition.Image, threshold *float64) ([]match.Result, error) {
	f.gotThreshold = threshold
	return f.results, f.err
}

type fakeRegistry struct {
	cfg         *recognition.ProviderConfig
	invalidated int
}

func (f *fakeRegistry) Active(ctx context.Context) (*recognition.ProviderConfig, error) {
	return f.cfg, nil
}

func (f *fakeRegistry) Invalidate() {
	f.invalidated++
}

type fakeProviderStore struct {
	configs   []*recognition.ProviderConfig
	created   *recognition.ProviderConfig
	activated string
	missing   bool
}

func (f *fakeProviderStore) List(ctx context.Context) ([]*recognition.ProviderConfig, error) {
	return f.configs, nil
}

func (f *fakeProviderStore) Create(ctx context.Context, cfg *recognition.ProviderConfig) error {
	cfg.ID = "generated-id"
	f.created = cfg
	return nil
}

func (f *fakeProviderStore) Activate(ctx context.Context, id string) error {
	if f.missing {
		return database.ErrNotFound
	}
	f.activated = id
	return nil
}

func (f *fakeProviderStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if f.missing {
		return database.ErrNotFound
	}
	return nil
}

func (f *fakeProviderStore) Delete(ctx context.Context, id string) error {
	if f.missing {
		return database.ErrNotFound
	}
	return nil
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func TestSearchHandler(t *testing.T) {
	queryPhoto := "data:image/jpeg;base64,aGVsbG8="

	t.Run("Results", func(t *testing.T) {
		searcher := &fakeSearcher{results: []match.Result{
			{EntityID: "e1", Name: "Person 1", Similarity: 0.95},
		}}
		h := NewSearchHandler(searcher, &fakeRegistry{cfg: &recognition.ProviderConfig{ID: "c1"}})

		rr := postJSON(t, http.HandlerFunc(h.Search), "/api/v1/match/search", map[string]any{"photo": queryPhoto})
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			ProviderActive bool           `json:"provider_active"`
			Results        []match.Result `json:"results"`
		}
		decodeBody(t, rr, &resp)
		if !resp.ProviderActive {
			t.Error("Expected provider_active true")
		}
		if len(resp.Results) != 1 || resp.Results[0].EntityID != "e1" {
			t.Errorf("Unexpected results: %v", resp.Results)
		}
	})

	t.Run("NoProvider", func(t *testing.T) {
		h := NewSearchHandler(&fakeSearcher{results: []match.Result{}}, &fakeRegistry{cfg: nil})

		rr := postJSON(t, http.HandlerFunc(h.Search), "/api/v1/match/search", map[string]any{"photo": queryPhoto})
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rr.Code)
		}

		var resp struct {
			ProviderActive bool           `json:"provider_active"`
			Results        []match.Result `json:"results"`
		}
		decodeBody(t, rr, &resp)
		if resp.ProviderActive {
			t.Error("Expected provider_active false")
		}
		if len(resp.Results) != 0 {
			t.Errorf("Expected no results, got %v", resp.Results)
		}
	})

	t.Run("NoFaceDetected", func(t *testing.T) {
		h := NewSearchHandler(&fakeSearcher{err: match.ErrNoFaceDetected}, &fakeRegistry{})

		rr := postJSON(t, http.HandlerFunc(h.Search), "/api/v1/match/search", map[string]any{"photo": queryPhoto})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("Expected 422, got %d", rr.Code)
		}

		var resp map[string]string
		decodeBody(t, rr, &resp)
		if resp["code"] != "no_face_detected" {
			t.Errorf("Expected code no_face_detected, got %q", resp["code"])
		}
	})

	t.Run("ThresholdPassedThrough", func(t *testing.T) {
		searcher := &fakeSearcher{results: []match.Result{}}
		h := NewSearchHandler(searcher, &fakeRegistry{})

		rr := postJSON(t, http.HandlerFunc(h.Search), "/api/v1/match/search", map[string]any{
			"photo":     queryPhoto,
			"threshold": 0.42,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rr.Code)
		}
		if searcher.gotThreshold == nil || *searcher.gotThreshold != 0.42 {
			t.Errorf("Expected threshold 0.42 passed through, got %v", searcher.gotThreshold)
		}
	})

	t.Run("BadRequests", func(t *testing.T) {
		h := NewSearchHandler(&fakeSearcher{}, &fakeRegistry{})

		cases := []map[string]any{
			{},                          // missing photo
			{"photo": "not base64 !!!"}, // unparseable image
			{"photo": queryPhoto, "threshold": 1.5}, // threshold out of range
		}
		for _, body := range cases {
			rr := postJSON(t, http.HandlerFunc(h.Search), "/api/v1/match/search", body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("Body %v: expected 400, got %d", body, rr.Code)
			}
		}
	})
}

func testRouter(h *ProvidersHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/providers", h.List)
	r.Post("/providers", h.Create)
	r.Post("/providers/{id}/activate", h.Activate)
	r.Put("/providers/{id}/enabled", h.SetEnabled)
	r.Delete("/providers/{id}", h.Delete)
	return r
}

func TestProvidersHandler(t *testing.T) {
	cfg := config.Load()

	t.Run("CreateAppliesDefaults", func(t *testing.T) {
		store := &fakeProviderStore{}
		h := NewProvidersHandler(cfg, store, &fakeRegistry{})

		rr := postJSON(t, testRouter(h), "/providers", map[string]any{
			"provider_type": "custom_http",
			"credentials":   map[string]string{"endpoint": "https://faces.internal", "api_key": "k"},
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
		if store.created == nil {
			t.Fatal("Expected a stored config")
		}
		defaults := cfg.ProviderDefault("custom_http")
		if store.created.SimilarityThreshold != defaults.SimilarityThreshold {
			t.Errorf("Expected default threshold %v, got %v", defaults.SimilarityThreshold, store.created.SimilarityThreshold)
		}
		if store.created.MaxResults != defaults.MaxResults {
			t.Errorf("Expected default max results %d, got %d", defaults.MaxResults, store.created.MaxResults)
		}
		if !store.created.Enabled {
			t.Error("Expected enabled by default")
		}
	})

	t.Run("CreateRejectsUnknownType", func(t *testing.T) {
		h := NewProvidersHandler(cfg, &fakeProviderStore{}, &fakeRegistry{})

		rr := postJSON(t, testRouter(h), "/providers", map[string]any{"provider_type": "cloud_z"})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("Expected 400, got %d", rr.Code)
		}
	})

	t.Run("ListRedactsCredentials", func(t *testing.T) {
		store := &fakeProviderStore{configs: []*recognition.ProviderConfig{
			{
				ID:          "c1",
				Type:        recognition.TypeCustomHTTP,
				Enabled:     true,
				Credentials: recognition.Credentials{APIKey: "super-secret"},
			},
		}}
		h := NewProvidersHandler(cfg, store, &fakeRegistry{})

		req := httptest.NewRequest(http.MethodGet, "/providers", nil)
		rr := httptest.NewRecorder()
		testRouter(h).ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rr.Code)
		}
		if bytes.Contains(rr.Body.Bytes(), []byte("super-secret")) {
			t.Error("Credentials leaked into the listing")
		}
		var resp struct {
			Providers []map[string]any `json:"providers"`
		}
		decodeBody(t, rr, &resp)
		if len(resp.Providers) != 1 {
			t.Fatalf("Expected 1 provider, got %d", len(resp.Providers))
		}
		if resp.Providers[0]["has_credentials"] != true {
			t.Error("Expected has_credentials true")
		}
	})

	t.Run("ActivateInvalidatesRegistry", func(t *testing.T) {
		store := &fakeProviderStore{}
		registry := &fakeRegistry{}
		h := NewProvidersHandler(cfg, store, registry)

		rr := postJSON(t, testRouter(h), "/providers/c1/activate", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if store.activated != "c1" {
			t.Errorf("Expected c1 activated, got %q", store.activated)
		}
		if registry.invalidated != 1 {
			t.Errorf("Expected 1 invalidation, got %d", registry.invalidated)
		}
	})

	t.Run("ActivateUnknown", func(t *testing.T) {
		registry := &fakeRegistry{}
		h := NewProvidersHandler(cfg, &fakeProviderStore{missing: true}, registry)

		rr := postJSON(t, testRouter(h), "/providers/ghost/activate", nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("Expected 404, got %d", rr.Code)
		}
		if registry.invalidated != 0 {
			t.Error("Registry must not be invalidated on failure")
		}
	})
}

type fakeRegenerator struct {
	report  *match.Report
	err     error
	release chan struct{} // blocks Run until closed, nil runs immediately
}

func (f *fakeRegenerator) Run(ctx context.Context) (*match.Report, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.report, f.err
}

func regenRouter(h *RegenerateHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/regenerate", h.Start)
	r.Get("/regenerate/{jobId}", h.Status)
	r.Delete("/regenerate/{jobId}", h.Cancel)
	return r
}

func waitForStatus(t *testing.T, router http.Handler, jobID string, want JobStatus) regenJobView {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/regenerate/"+jobID, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("Status request failed with %d", rr.Code)
		}
		var view regenJobView
		decodeBody(t, rr, &view)
		if view.Status == want {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Job %s never reached status %s", jobID, want)
	return regenJobView{}
}

func TestRegenerateHandler(t *testing.T) {
	t.Run("StartAndComplete", func(t *testing.T) {
		regen := &fakeRegenerator{report: &match.Report{Total: 3, Success: 3}}
		h := NewRegenerateHandler(NewJobManager(), func(onProgress func(int, int), retryOnly bool) Regenerator {
			return regen
		})
		router := regenRouter(h)

		rr := postJSON(t, router, "/regenerate", nil)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("Expected 202, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp map[string]string
		decodeBody(t, rr, &resp)
		if resp["job_id"] == "" {
			t.Fatal("Expected job id")
		}

		view := waitForStatus(t, router, resp["job_id"], JobStatusCompleted)
		if view.Report == nil || view.Report.Success != 3 {
			t.Errorf("Expected report with 3 successes, got %+v", view.Report)
		}
	})

	t.Run("RejectsConcurrentRuns", func(t *testing.T) {
		release := make(chan struct{})
		regen := &fakeRegenerator{report: &match.Report{}, release: release}
		h := NewRegenerateHandler(NewJobManager(), func(onProgress func(int, int), retryOnly bool) Regenerator {
			return regen
		})
		router := regenRouter(h)

		rr := postJSON(t, router, "/regenerate", nil)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("Expected 202, got %d", rr.Code)
		}
		var resp map[string]string
		decodeBody(t, rr, &resp)

		rr = postJSON(t, router, "/regenerate", nil)
		if rr.Code != http.StatusConflict {
			t.Fatalf("Expected 409 while running, got %d", rr.Code)
		}

		close(release)
		waitForStatus(t, router, resp["job_id"], JobStatusCompleted)

		// A finished run no longer blocks new ones.
		rr = postJSON(t, router, "/regenerate", nil)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("Expected 202 after completion, got %d", rr.Code)
		}
	})

	t.Run("RetryOnlyPassedThrough", func(t *testing.T) {
		var gotRetryOnly bool
		h := NewRegenerateHandler(NewJobManager(), func(onProgress func(int, int), retryOnly bool) Regenerator {
			gotRetryOnly = retryOnly
			return &fakeRegenerator{report: &match.Report{}}
		})
		router := regenRouter(h)

		rr := postJSON(t, router, "/regenerate", map[string]bool{"retry_only": true})
		if rr.Code != http.StatusAccepted {
			t.Fatalf("Expected 202, got %d: %s", rr.Code, rr.Body.String())
		}
		if !gotRetryOnly {
			t.Error("Expected retry_only to reach the run factory")
		}

		var resp map[string]string
		decodeBody(t, rr, &resp)
		waitForStatus(t, router, resp["job_id"], JobStatusCompleted)
	})

	t.Run("Cancel", func(t *testing.T) {
		regen := &fakeRegenerator{report: &match.Report{}, release: make(chan struct{})}
		h := NewRegenerateHandler(NewJobManager(), func(onProgress func(int, int), retryOnly bool) Regenerator {
			return regen
		})
		router := regenRouter(h)

		rr := postJSON(t, router, "/regenerate", nil)
		var resp map[string]string
		decodeBody(t, rr, &resp)

		req := httptest.NewRequest(http.MethodDelete, "/regenerate/"+resp["job_id"], nil)
		drr := httptest.NewRecorder()
		router.ServeHTTP(drr, req)
		if drr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", drr.Code)
		}

		waitForStatus(t, router, resp["job_id"], JobStatusCancelled)
	})

	t.Run("UnknownJob", func(t *testing.T) {
		h := NewRegenerateHandler(NewJobManager(), func(onProgress func(int, int), retryOnly bool) Regenerator {
			return &fakeRegenerator{}
		})
		router := regenRouter(h)

		req := httptest.NewRequest(http.MethodGet, "/regenerate/ghost", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("Expected 404, got %d", rr.Code)
		}
	})
}

package recognition

import (
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testPhoto() *Image {
	return ImageFromBytes(encodeTestJPEG(createTestImage(64, 64, color.White)))
}

func TestRekognitionExtract(t *testing.T) {
	var gotTarget string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTarget = r.Header.Get("X-Amz-Target")
		json.NewEncoder(w).Encode(map[string]any{
			"FaceRecords": []map[string]any{
				{"Face": map[string]string{"FaceId": "face-123"}},
			},
		})
	}))
	defer server.Close()

	client, err := newRekognitionClient(Credentials{
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Endpoint:        server.URL,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	descriptor, err := client.Extract(context.Background(), testPhoto())
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if descriptor != "face-123" {
		t.Errorf("Expected face-123, got %q", descriptor)
	}
	if gotTarget != "RekognitionService.IndexFaces" {
		t.Errorf("Unexpected target header: %q", gotTarget)
	}
}

func TestRekognitionExtractNoFace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"FaceRecords": []any{}})
	}))
	defer server.Close()

	client, _ := newRekognitionClient(Credentials{AccessKeyID: "key", SecretAccessKey: "secret", Endpoint: server.URL})

	descriptor, err := client.Extract(context.Background(), testPhoto())
	if err != nil {
		t.Fatalf("Expected clean no-face outcome, got error %v", err)
	}
	if descriptor != "" {
		t.Errorf("Expected empty descriptor, got %q", descriptor)
	}
}

func TestRekognitionAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"__type": "AccessDeniedException"})
	}))
	defer server.Close()

	client, _ := newRekognitionClient(Credentials{AccessKeyID: "key", SecretAccessKey: "secret", Endpoint: server.URL})

	_, err := client.Extract(context.Background(), testPhoto())
	if !errors.Is(err, ErrAuthorizationRequired) {
		t.Fatalf("Expected ErrAuthorizationRequired, got %v", err)
	}
}

func TestRekognitionCompare(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]float64{"Similarity": 87.5})
	}))
	defer server.Close()

	client, _ := newRekognitionClient(Credentials{AccessKeyID: "key", SecretAccessKey: "secret", Endpoint: server.URL})

	got := client.Compare(context.Background(), "a", "b", nil)
	if got != 0.875 {
		t.Errorf("Expected 0.875, got %v", got)
	}

	// Missing descriptors score zero without a network call.
	if got := client.Compare(context.Background(), "", "b", nil); got != 0 {
		t.Errorf("Expected 0, got %v", got)
	}
}

func TestRekognitionCompareSoftFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, _ := newRekognitionClient(Credentials{AccessKeyID: "key", SecretAccessKey: "secret", Endpoint: server.URL})

	if got := client.Compare(context.Background(), "a", "b", nil); got != 0 {
		t.Errorf("Expected 0 on backend failure, got %v", got)
	}
}

func TestAzureFaceExtract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/face/v1.0/detect" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "sub-key" {
			t.Error("Missing subscription key header")
		}
		json.NewEncoder(w).Encode([]map[string]string{{"faceId": "azure-face-1"}})
	}))
	defer server.Close()

	client, err := newAzureFaceClient(Credentials{Endpoint: server.URL, SubscriptionKey: "sub-key"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	descriptor, err := client.Extract(context.Background(), testPhoto())
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if descriptor != "azure-face-1" {
		t.Errorf("Expected azure-face-1, got %q", descriptor)
	}
}

func TestAzureFaceExtractNoFace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]any{})
	}))
	defer server.Close()

	client, _ := newAzureFaceClient(Credentials{Endpoint: server.URL, SubscriptionKey: "sub-key"})

	descriptor, err := client.Extract(context.Background(), testPhoto())
	if err != nil {
		t.Fatalf("Expected clean no-face outcome, got error %v", err)
	}
	if descriptor != "" {
		t.Errorf("Expected empty descriptor, got %q", descriptor)
	}
}

func TestAzureFaceCompareRedetectsCandidate(t *testing.T) {
	var verifyBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/face/v1.0/detect":
			json.NewEncoder(w).Encode([]map[string]string{{"faceId": "fresh-id"}})
		case "/face/v1.0/verify":
			json.NewDecoder(r.Body).Decode(&verifyBody)
			json.NewEncoder(w).Encode(map[string]any{"isIdentical": true, "confidence": 0.91})
		default:
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client, _ := newAzureFaceClient(Credentials{Endpoint: server.URL, SubscriptionKey: "sub-key"})

	// The stored candidate id is stale by contract; a candidate photo forces
	// re-detection.
	got := client.Compare(context.Background(), "query-id", "stale-id", testPhoto())
	if got != 0.91 {
		t.Errorf("Expected 0.91, got %v", got)
	}
	if verifyBody["faceId2"] != "fresh-id" {
		t.Errorf("Expected verify against fresh-id, got %q", verifyBody["faceId2"])
	}
}

func TestAzureFaceFeatureGating(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "UnsupportedFeature", "message": "feature is not authorized"},
		})
	}))
	defer server.Close()

	client, _ := newAzureFaceClient(Credentials{Endpoint: server.URL, SubscriptionKey: "sub-key"})

	_, err := client.Extract(context.Background(), testPhoto())
	if !errors.Is(err, ErrAuthorizationRequired) {
		t.Fatalf("Expected ErrAuthorizationRequired, got %v", err)
	}

	// The same refusal during compare soft-fails to zero.
	if got := client.Compare(context.Background(), "query-id", "candidate-id", testPhoto()); got != 0 {
		t.Errorf("Expected 0, got %v", got)
	}
}

func TestCustomHTTPExtractAndCompare(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "api-key" {
			t.Error("Missing API key header")
		}
		switch r.URL.Path {
		case "/api/v1/recognition/descriptors":
			json.NewEncoder(w).Encode(map[string]string{"descriptor_id": "custom-d1"})
		case "/api/v1/recognition/compare":
			json.NewEncoder(w).Encode(map[string]float64{"similarity": 0.77})
		default:
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client, err := newCustomHTTPClient(Credentials{Endpoint: server.URL, APIKey: "api-key"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	descriptor, err := client.Extract(context.Background(), testPhoto())
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if descriptor != "custom-d1" {
		t.Errorf("Expected custom-d1, got %q", descriptor)
	}

	if got := client.Compare(context.Background(), "a", "b", nil); got != 0.77 {
		t.Errorf("Expected 0.77, got %v", got)
	}
}

func TestCustomHTTPFeatureGating(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"message":"subscription expired"}`))
	}))
	defer server.Close()

	client, _ := newCustomHTTPClient(Credentials{Endpoint: server.URL, APIKey: "api-key"})

	_, err := client.Extract(context.Background(), testPhoto())
	if !errors.Is(err, ErrAuthorizationRequired) {
		t.Fatalf("Expected ErrAuthorizationRequired, got %v", err)
	}

	if got := client.Compare(context.Background(), "a", "b", nil); got != 0 {
		t.Errorf("Expected 0 on gated compare, got %v", got)
	}
}

func TestAdapterConstructorValidation(t *testing.T) {
	if _, err := newRekognitionClient(Credentials{}); err == nil {
		t.Error("cloud_a must require credentials")
	}
	if _, err := newAzureFaceClient(Credentials{Endpoint: "https://x"}); err == nil {
		t.Error("cloud_b must require a subscription key")
	}
	if _, err := newCustomHTTPClient(Credentials{}); err == nil {
		t.Error("custom_http must require an endpoint")
	}
}

func TestNewRecognizerDispatch(t *testing.T) {
	ctx := context.Background()

	rec, err := New(ctx, &ProviderConfig{Type: TypeLocalFallback})
	if err != nil {
		t.Fatalf("Failed to build local fallback: %v", err)
	}
	if rec.Type() != TypeLocalFallback {
		t.Errorf("Expected local_fallback, got %s", rec.Type())
	}

	rec, err = New(ctx, &ProviderConfig{
		Type:        TypeCustomHTTP,
		Credentials: Credentials{Endpoint: "https://faces.internal"},
	})
	if err != nil {
		t.Fatalf("Failed to build custom_http: %v", err)
	}
	if rec.Type() != TypeCustomHTTP {
		t.Errorf("Expected custom_http, got %s", rec.Type())
	}

	if _, err := New(ctx, nil); err == nil {
		t.Error("Expected error for nil config")
	}
	if _, err := New(ctx, &ProviderConfig{Type: "cloud_z"}); err == nil {
		t.Error("Expected error for unknown type")
	}
}

package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// customHTTPClient is the custom_http adapter: a self-hosted recognition
// service (CompreFace-style REST API) behind an endpoint and API key. This is
// the backend most deployments run, since it keeps face data off third-party
// clouds.
type customHTTPClient struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func newCustomHTTPClient(creds Credentials) (*customHTTPClient, error) {
	if creds.Endpoint == "" {
		return nil, errors.New("custom_http requires an endpoint URL")
	}
	return &customHTTPClient{
		endpoint: strings.TrimSuffix(creds.Endpoint, "/"),
		apiKey:   creds.APIKey,
		model:    creds.Model,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *customHTTPClient) Type() ProviderType {
	return TypeCustomHTTP
}

func (c *customHTTPClient) DescriptorTTL() time.Duration {
	return 0
}

type customExtractResponse struct {
	DescriptorID string `json:"descriptor_id"`
}

type customCompareResponse struct {
	Similarity float64 `json:"similarity"`
}

func (c *customHTTPClient) Extract(ctx context.Context, img *Image) (string, error) {
	data, err := img.Normalized(ctx)
	if err != nil {
		return "", fmt.Errorf("custom_http could not prepare image: %w", err)
	}

	reqBody := map[string]any{
		"image": base64.StdEncoding.EncodeToString(data),
	}
	if c.model != "" {
		reqBody["model"] = c.model
	}

	var resp customExtractResponse
	if err := c.post(ctx, "/api/v1/recognition/descriptors", reqBody, &resp); err != nil {
		log.Printf("custom_http extract failed: %v", err)
		return "", err
	}
	// An empty id means the service processed the image but found no face.
	return resp.DescriptorID, nil
}

func (c *customHTTPClient) Compare(ctx context.Context, descriptorA, descriptorB string, candidateImage *Image) float64 {
	if descriptorA == "" || descriptorB == "" {
		return 0
	}

	var resp customCompareResponse
	err := c.post(ctx, "/api/v1/recognition/compare", map[string]string{
		"descriptor_a": descriptorA,
		"descriptor_b": descriptorB,
	}, &resp)
	if err != nil {
		log.Printf("custom_http compare failed: %v", err)
		return 0
	}
	return resp.Similarity
}

func (c *customHTTPClient) post(ctx context.Context, path string, body any, result any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusPaymentRequired {
		return fmt.Errorf("%w: %s", ErrAuthorizationRequired, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// azureDescriptorTTL is how long the cloud_b backend keeps a detected face id
// alive server-side. A stored id older than this is useless and must be
// re-extracted from the source photo.
const azureDescriptorTTL = 24 * time.Hour

// azureFaceClient is the cloud_b adapter: an Azure-Face-style detect/verify
// API behind an endpoint URL and subscription key. Its descriptor ids are
// time-limited, so Compare always re-detects the candidate side from its
// photo instead of trusting a stored id.
type azureFaceClient struct {
	endpoint        string
	subscriptionKey string
	client          *http.Client
}

func newAzureFaceClient(creds Credentials) (*azureFaceClient, error) {
	if creds.Endpoint == "" || creds.SubscriptionKey == "" {
		return nil, errors.New("cloud_b requires endpoint URL and subscription key")
	}
	return &azureFaceClient{
		endpoint:        strings.TrimSuffix(creds.Endpoint, "/"),
		subscriptionKey: creds.SubscriptionKey,
		client:          &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *azureFaceClient) Type() ProviderType {
	return TypeCloudB
}

func (c *azureFaceClient) DescriptorTTL() time.Duration {
	return azureDescriptorTTL
}

type azureDetectedFace struct {
	FaceID string `json:"faceId"`
}

type azureVerifyResponse struct {
	IsIdentical bool    `json:"isIdentical"`
	Confidence  float64 `json:"confidence"`
}

type azureError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *azureFaceClient) Extract(ctx context.Context, img *Image) (string, error) {
	data, err := img.Normalized(ctx)
	if err != nil {
		return "", fmt.Errorf("cloud_b could not prepare image: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/face/v1.0/detect", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("cloud_b detect failed: %v", err)
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := c.asError(resp.StatusCode, body)
		log.Printf("cloud_b detect failed: %v", err)
		return "", err
	}

	var faces []azureDetectedFace
	if err := json.Unmarshal(body, &faces); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(faces) == 0 {
		// Answered cleanly, no face found.
		return "", nil
	}
	return faces[0].FaceID, nil
}

// Compare verifies the query descriptor against a freshly detected id for the
// candidate. Stored candidate ids are ignored when the photo is available,
// because they expire after azureDescriptorTTL and a stale id would turn
// every real match into a silent zero.
func (c *azureFaceClient) Compare(ctx context.Context, descriptorA, descriptorB string, candidateImage *Image) float64 {
	if descriptorA == "" {
		return 0
	}

	if candidateImage != nil {
		fresh, err := c.Extract(ctx, candidateImage)
		if err != nil || fresh == "" {
			return 0
		}
		descriptorB = fresh
	}
	if descriptorB == "" {
		return 0
	}

	reqBody, err := json.Marshal(map[string]string{
		"faceId1": descriptorA,
		"faceId2": descriptorB,
	})
	if err != nil {
		return 0
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/face/v1.0/verify", bytes.NewReader(reqBody))
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("cloud_b verify failed: %v", err)
		return 0
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("cloud_b verify failed: %v", c.asError(resp.StatusCode, body))
		return 0
	}

	var verify azureVerifyResponse
	if err := json.Unmarshal(body, &verify); err != nil {
		log.Printf("cloud_b verify returned malformed body: %v", err)
		return 0
	}
	return verify.Confidence
}

// asError classifies a non-200 response. Feature gating (the vendor requires
// an approval step before face identification is usable) maps to
// ErrAuthorizationRequired so batch reports can collapse it to one advisory.
func (c *azureFaceClient) asError(status int, body []byte) error {
	var ae azureError
	_ = json.Unmarshal(body, &ae)

	gated := status == http.StatusForbidden ||
		strings.Contains(ae.Error.Code, "UnsupportedFeature") ||
		strings.Contains(ae.Error.Message, "not authorized")
	if gated {
		return fmt.Errorf("%w: %s", ErrAuthorizationRequired, ae.Error.Message)
	}
	return fmt.Errorf("API error (status %d): %s", status, string(body))
}

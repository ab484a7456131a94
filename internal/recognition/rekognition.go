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

// rekognitionClient is the cloud_a adapter: a Rekognition-style collection
// API reached through a JSON gateway. It is a thin stub behind the Recognizer
// contract — a production integration would swap in the vendor SDK without
// touching any caller.
type rekognitionClient struct {
	baseURL   string
	accessKey string
	secretKey string
	region    string
	client    *http.Client
}

func newRekognitionClient(creds Credentials) (*rekognitionClient, error) {
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, errors.New("cloud_a requires access key id and secret")
	}
	region := creds.Region
	if region == "" {
		region = "us-east-1"
	}
	baseURL := creds.Endpoint
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://rekognition.%s.amazonaws.com", region)
	}
	return &rekognitionClient{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		accessKey: creds.AccessKeyID,
		secretKey: creds.SecretAccessKey,
		region:    region,
		client:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *rekognitionClient) Type() ProviderType {
	return TypeCloudA
}

func (c *rekognitionClient) DescriptorTTL() time.Duration {
	return 0 // indexed face ids persist in the collection
}

type rekognitionIndexResponse struct {
	FaceRecords []struct {
		Face struct {
			FaceID string `json:"FaceId"`
		} `json:"Face"`
	} `json:"FaceRecords"`
}

type rekognitionCompareResponse struct {
	Similarity float64 `json:"Similarity"`
}

func (c *rekognitionClient) Extract(ctx context.Context, img *Image) (string, error) {
	data, err := img.Normalized(ctx)
	if err != nil {
		return "", fmt.Errorf("cloud_a could not prepare image: %w", err)
	}

	var resp rekognitionIndexResponse
	err = c.call(ctx, "RekognitionService.IndexFaces", map[string]any{
		"CollectionId": "faceseek",
		"MaxFaces":     1,
		"Image": map[string]any{
			"Bytes": base64.StdEncoding.EncodeToString(data),
		},
	}, &resp)
	if err != nil {
		log.Printf("cloud_a extract failed: %v", err)
		return "", err
	}

	if len(resp.FaceRecords) == 0 {
		// The backend answered but found no usable face.
		return "", nil
	}
	return resp.FaceRecords[0].Face.FaceID, nil
}

func (c *rekognitionClient) Compare(ctx context.Context, descriptorA, descriptorB string, candidateImage *Image) float64 {
	if descriptorA == "" || descriptorB == "" {
		return 0
	}

	var resp rekognitionCompareResponse
	err := c.call(ctx, "RekognitionService.CompareFaces", map[string]any{
		"SourceFaceId": descriptorA,
		"TargetFaceId": descriptorB,
	}, &resp)
	if err != nil {
		log.Printf("cloud_a compare failed: %v", err)
		return 0
	}

	return resp.Similarity / 100.0
}

// call posts one X-Amz-Target verb and decodes the JSON response.
// Authorization failures surface as ErrAuthorizationRequired.
func (c *rekognitionClient) call(ctx context.Context, target string, body any, result any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", target)
	req.Header.Set("Authorization", fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s/rekognition", c.accessKey, c.region))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if isRekognitionAuthError(respBody) {
			return fmt.Errorf("%w: %s", ErrAuthorizationRequired, string(respBody))
		}
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func isRekognitionAuthError(body []byte) bool {
	var e struct {
		Type string `json:"__type"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return false
	}
	return strings.Contains(e.Type, "AccessDenied") || strings.Contains(e.Type, "NotAuthorized")
}

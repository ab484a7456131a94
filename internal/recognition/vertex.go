package recognition

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/auth/credentials"
	"google.golang.org/genai"
)

const vertexEmbeddingModel = "multimodalembedding@001"

// vertexClient is the cloud_c adapter: face photos are embedded with a Vertex
// multimodal embedding model and the descriptor id carries the encoded vector
// itself. Comparison is local cosine similarity, so unlike the other cloud
// backends compare() needs no network round trip and its descriptors never
// expire.
type vertexClient struct {
	client *genai.Client
}

func newVertexClient(ctx context.Context, creds Credentials) (*vertexClient, error) {
	if creds.ProjectID == "" {
		return nil, errors.New("cloud_c requires a project id")
	}
	location := creds.Location
	if location == "" {
		location = "us-central1"
	}

	cfg := &genai.ClientConfig{
		Project:  creds.ProjectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}
	if creds.CredentialsJSON != "" {
		authCreds, err := credentials.DetectDefault(&credentials.DetectOptions{
			CredentialsJSON: []byte(creds.CredentialsJSON),
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
		})
		if err != nil {
			return nil, fmt.Errorf("cloud_c credentials blob is invalid: %w", err)
		}
		cfg.Credentials = authCreds
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud_c client: %w", err)
	}
	return &vertexClient{client: client}, nil
}

func (c *vertexClient) Type() ProviderType {
	return TypeCloudC
}

func (c *vertexClient) DescriptorTTL() time.Duration {
	return 0
}

func (c *vertexClient) Extract(ctx context.Context, img *Image) (string, error) {
	data, err := img.Normalized(ctx)
	if err != nil {
		return "", fmt.Errorf("cloud_c could not prepare image: %w", err)
	}

	contents := []*genai.Content{
		{
			Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: data, MIMEType: "image/jpeg"}},
			},
		},
	}

	resp, err := c.client.Models.EmbedContent(ctx, vertexEmbeddingModel, contents, nil)
	if err != nil {
		err = c.classify(err)
		log.Printf("cloud_c embed failed: %v", err)
		return "", err
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return "", nil
	}
	return encodeEmbedding(resp.Embeddings[0].Values), nil
}

func (c *vertexClient) Compare(ctx context.Context, descriptorA, descriptorB string, candidateImage *Image) float64 {
	if descriptorB == "" && candidateImage != nil {
		fresh, err := c.Extract(ctx, candidateImage)
		if err != nil || fresh == "" {
			return 0
		}
		descriptorB = fresh
	}

	a, err := decodeEmbedding(descriptorA)
	if err != nil {
		log.Printf("cloud_c descriptor A is malformed: %v", err)
		return 0
	}
	b, err := decodeEmbedding(descriptorB)
	if err != nil {
		log.Printf("cloud_c descriptor B is malformed: %v", err)
		return 0
	}

	return cosineSimilarity(a, b)
}

func (c *vertexClient) classify(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "PERMISSION_DENIED") || strings.Contains(msg, "SERVICE_DISABLED") {
		return fmt.Errorf("%w: %v", ErrAuthorizationRequired, err)
	}
	return err
}

// encodeEmbedding packs a float32 vector into an opaque descriptor string.
// The encoding is an implementation detail of this adapter; callers only ever
// round-trip the string.
func encodeEmbedding(values []float32) string {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return base64.RawStdEncoding.EncodeToString(buf)
}

func decodeEmbedding(descriptor string) ([]float32, error) {
	buf, err := base64.RawStdEncoding.DecodeString(descriptor)
	if err != nil {
		return nil, fmt.Errorf("not base64: %w", err)
	}
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, fmt.Errorf("unexpected descriptor length %d", len(buf))
	}

	values := make([]float32, len(buf)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return values, nil
}

package recognition

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProviderType identifies a recognition backend. Descriptor ids are only
// meaningful under the provider type that produced them; descriptors from
// different types must never be compared.
type ProviderType string

const (
	TypeCloudA        ProviderType = "cloud_a"
	TypeCloudB        ProviderType = "cloud_b"
	TypeCloudC        ProviderType = "cloud_c"
	TypeCustomHTTP    ProviderType = "custom_http"
	TypeLocalFallback ProviderType = "local_fallback"
)

// ProviderTypes lists every supported backend discriminant.
var ProviderTypes = []ProviderType{TypeCloudA, TypeCloudB, TypeCloudC, TypeCustomHTTP, TypeLocalFallback}

// Valid reports whether t is a known provider type.
func (t ProviderType) Valid() bool {
	for _, known := range ProviderTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Credentials is the backend-specific credential blob. Only the fields
// relevant to the config's provider type are populated; the rest stay empty.
type Credentials struct {
	// cloud_a
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	Region          string `json:"region,omitempty"`

	// cloud_b and custom_http
	Endpoint        string `json:"endpoint,omitempty"`
	SubscriptionKey string `json:"subscription_key,omitempty"`

	// cloud_c
	ProjectID       string `json:"project_id,omitempty"`
	Location        string `json:"location,omitempty"`
	CredentialsJSON string `json:"credentials_json,omitempty"`

	// custom_http
	APIKey string `json:"api_key,omitempty"`
	Model  string `json:"model,omitempty"`
}

// ProviderConfig is one configured recognition backend. At most one config is
// both active and enabled at any time; once read it is treated as an
// immutable snapshot and is safe for unsynchronized concurrent reads.
type ProviderConfig struct {
	ID                  string
	Type                ProviderType
	Active              bool
	Enabled             bool
	Credentials         Credentials
	SimilarityThreshold float64
	MaxResults          int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ErrAuthorizationRequired marks a backend refusal that an operator has to
// resolve out of band (vendor feature gating, expired subscription). Callers
// must treat it like any other extraction failure: retryable, never fatal.
var ErrAuthorizationRequired = errors.New("recognition backend requires authorization")

// Recognizer is one recognition backend behind a uniform contract.
//
// Extract returns the opaque descriptor id for the face in img. Failure to
// produce a descriptor is an ordinary outcome, not a fault: ("", nil) means
// the backend answered but found no usable face, ("", err) means the attempt
// failed and may succeed later. Callers must never abort on either.
//
// Compare scores similarity of two descriptors in [0,1]. candidateImage is
// the image the candidate descriptor came from; backends whose ids expire
// re-extract from it internally. Any backend failure scores 0.0 — "could not
// compare" is no evidence of a match.
type Recognizer interface {
	Type() ProviderType

	// DescriptorTTL is how long this backend's descriptor ids stay valid.
	// Zero means they never expire.
	DescriptorTTL() time.Duration

	Extract(ctx context.Context, img *Image) (string, error)

	Compare(ctx context.Context, descriptorA, descriptorB string, candidateImage *Image) float64
}

// New builds the Recognizer for a provider config.
func New(ctx context.Context, cfg *ProviderConfig) (Recognizer, error) {
	if cfg == nil {
		return nil, errors.New("provider config is nil")
	}
	switch cfg.Type {
	case TypeCloudA:
		return newRekognitionClient(cfg.Credentials)
	case TypeCloudB:
		return newAzureFaceClient(cfg.Credentials)
	case TypeCloudC:
		return newVertexClient(ctx, cfg.Credentials)
	case TypeCustomHTTP:
		return newCustomHTTPClient(cfg.Credentials)
	case TypeLocalFallback:
		return newLocalRecognizer(), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

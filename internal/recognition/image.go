package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// maxImageDimension bounds what we send to cloud backends; larger photos are
// scaled down before upload.
const maxImageDimension = 1024

// maxFetchBytes caps remote photo downloads.
const maxFetchBytes = 20 << 20

var fetchClient = &http.Client{Timeout: 30 * time.Second}

// Image is a face photo given either as inline bytes or as a fetchable URL.
// Remote payloads are fetched lazily and cached for the lifetime of the value.
type Image struct {
	url  string
	data []byte
}

// ImageFromBytes wraps an inline payload.
func ImageFromBytes(data []byte) *Image {
	return &Image{data: data}
}

// ImageFromURL wraps a remote photo location.
func ImageFromURL(url string) *Image {
	return &Image{url: url}
}

// ParseImage accepts the wire forms the API takes: a data URI, bare base64,
// or an http(s) URL.
func ParseImage(s string) (*Image, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty image")
	}

	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return ImageFromURL(s), nil
	}

	if strings.HasPrefix(s, "data:") {
		_, payload, found := strings.Cut(s, ",")
		if !found {
			return nil, errors.New("malformed data URI")
		}
		s = payload
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some clients send URL-safe base64.
		data, err = base64.URLEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("image is neither a URL nor valid base64: %w", err)
	}
	return ImageFromBytes(data), nil
}

// URL returns the remote location, or "" for inline images.
func (i *Image) URL() string {
	return i.url
}

// Bytes returns the raw payload, fetching the remote photo on first use.
func (i *Image) Bytes(ctx context.Context) ([]byte, error) {
	if i.data != nil {
		return i.data, nil
	}
	if i.url == "" {
		return nil, errors.New("image has neither data nor URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.url, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	resp, err := fetchClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image fetch failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("could not read image body: %w", err)
	}

	i.data = data
	return data, nil
}

// Normalized returns the payload resized to fit maxImageDimension and
// re-encoded as JPEG, the form every cloud backend accepts.
func (i *Image) Normalized(ctx context.Context) ([]byte, error) {
	data, err := i.Bytes(ctx)
	if err != nil {
		return nil, err
	}
	return resizeImage(data, maxImageDimension)
}

// resizeImage resizes an image to fit within maxSize (width or height) while
// keeping aspect ratio, and re-encodes as JPEG for a consistent upload format.
func resizeImage(data []byte, maxSize int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxSize && height <= maxSize {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
		return buf.Bytes(), nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = int(float64(height) * float64(maxSize) / float64(width))
	} else {
		newHeight = maxSize
		newWidth = int(float64(width) * float64(maxSize) / float64(height))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}

	return buf.Bytes(), nil
}

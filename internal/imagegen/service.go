// Package imagegen renders illustration prompts into stored image files via
// an HTTP diffusion endpoint.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRenderFailed marks a provider-side failure (HTTP error, empty body).
var ErrRenderFailed = errors.New("image render failed")

// ErrStoreFailed marks a failure to persist the rendered bytes.
var ErrStoreFailed = errors.New("image store failed")

// Renderer renders one illustration and returns its public URL.
type Renderer interface {
	RenderAndStore(ctx context.Context, segmentID uuid.UUID, prompt, ratio string) (string, error)
}

// Config is the render backend configuration.
type Config struct {
	ProviderURL   string
	Timeout       time.Duration
	SavePath      string
	PublicBaseURL string
}

type renderer struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewRenderer validates the storage configuration and builds the HTTP client.
func NewRenderer(cfg Config, logger *zap.Logger) (Renderer, error) {
	if cfg.SavePath == "" {
		return nil, errors.New("image save path is not configured")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("image public base URL is not configured")
	}
	return &renderer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("Renderer"),
	}, nil
}

type renderRequest struct {
	Prompt string `json:"prompt"`
	Ratio  string `json:"ratio"`
}

func (r *renderer) RenderAndStore(ctx context.Context, segmentID uuid.UUID, prompt, ratio string) (string, error) {
	log := r.logger.With(zap.Stringer("segmentID", segmentID))

	if ratio == "" {
		ratio = "1:1"
	}

	imageData, err := r.callProvider(ctx, prompt, ratio)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	if len(imageData) == 0 {
		return "", fmt.Errorf("%w: provider returned empty data", ErrRenderFailed)
	}
	log.Info("Image data received", zap.Int("sizeBytes", len(imageData)))

	fileName := segmentID.String() + ".jpg"
	filePath := filepath.Join(r.cfg.SavePath, fileName)
	if err := os.WriteFile(filePath, imageData, 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}

	imageURL := r.cfg.PublicBaseURL + "/" + fileName
	log.Info("Image stored", zap.String("path", filePath), zap.String("url", imageURL))
	return imageURL, nil
}

func (r *renderer) callProvider(ctx context.Context, prompt, ratio string) ([]byte, error) {
	body, err := json.Marshal(renderRequest{Prompt: prompt, Ratio: ratio})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal render request: %w", err)
	}

	endpoint := r.cfg.ProviderURL + "/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", readErr)
	}
	return respBody, nil
}

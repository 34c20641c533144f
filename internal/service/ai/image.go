package ai

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

	"github.com/moyuka/groundedchat/internal/config"
)

const (
	imageHTTPTimeout  = 60 * time.Second
	imageMaxAttempts  = 4
	imageBackoffUnit  = time.Second
	imageMaxBodyBytes = 4 * 1024 * 1024
)

// ImageClient calls an openai-compatible image generation deployment.
type ImageClient struct {
	endpoint   string
	apiKey     string
	deployment string
	apiVersion string
	httpClient *http.Client
}

func NewImageClient(cfg config.ImageConfig) (*ImageClient, error) {
	if cfg.Endpoint == "" || cfg.Deployment == "" {
		return nil, errors.New("image endpoint and deployment must be configured")
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2024-05-01-preview"
	}
	return &ImageClient{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		deployment: cfg.Deployment,
		apiVersion: apiVersion,
		httpClient: &http.Client{Timeout: imageHTTPTimeout},
	}, nil
}

// Generate renders one image and returns its URL (or base64 payload when the
// backend returns no URL).
func (c *ImageClient) Generate(ctx context.Context, prompt, size string) (string, error) {
	url := fmt.Sprintf("%s/openai/deployments/%s/images/generations?api-version=%s",
		c.endpoint, c.deployment, c.apiVersion)

	payload, err := json.Marshal(map[string]any{
		"prompt": prompt,
		"size":   size,
		"n":      1,
	})
	if err != nil {
		return "", fmt.Errorf("marshal image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, imageMaxBodyBytes))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("image API error %d: %s", resp.StatusCode, string(body))
		return "", fmt.Errorf("image generation: %s", resp.Status)
	}

	var parsed struct {
		Data []struct {
			URL     string `json:"url"`
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode image response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return "", errors.New("image response contained no data")
	}
	if parsed.Data[0].URL != "" {
		return parsed.Data[0].URL, nil
	}
	if parsed.Data[0].B64JSON != "" {
		return parsed.Data[0].B64JSON, nil
	}
	return "", errors.New("image response contained no url")
}

// GenerateWithRetry wraps Generate with a fixed attempt count and exponential
// backoff to ride out transient 429s from the image backend.
func (c *ImageClient) GenerateWithRetry(ctx context.Context, prompt, size string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < imageMaxAttempts; attempt++ {
		result, err := c.Generate(ctx, prompt, size)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == imageMaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(imageBackoffUnit * (1 << attempt)):
		}
	}
	return "", fmt.Errorf("image generation failed after retries: %w", lastErr)
}

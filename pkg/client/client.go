// Package client talks to the audio analysis service over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bandbridge/audio/internal/model"
	"github.com/bandbridge/audio/pkg/response"
)

type (
	TempoResponse  = model.TempoResponse
	KeyResponse    = model.KeyResponse
	ChromaResponse = model.ChromaResponse
	BeatsResponse  = model.BeatsResponse
	ChordsResponse = model.ChordsResponse
)

// DefaultBaseURL is where a locally started server listens.
const DefaultBaseURL = "http://localhost:6000"

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("audio service error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("audio service error (status %d, %s): %s", e.Status, e.Code, e.Message)
}

// Client calls the analysis endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a client for baseURL. A zero timeout means no timeout, which
// suits long recordings.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// Tempo uploads the file at path to /librosa/tempo
func (c *Client) Tempo(ctx context.Context, path string) (*TempoResponse, error) {
	var result TempoResponse
	if err := c.upload(ctx, "/librosa/tempo", path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Key uploads the file at path to /librosa/key
func (c *Client) Key(ctx context.Context, path string) (*KeyResponse, error) {
	var result KeyResponse
	if err := c.upload(ctx, "/librosa/key", path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Chroma uploads the file at path to /librosa/chroma
func (c *Client) Chroma(ctx context.Context, path string) (*ChromaResponse, error) {
	var result ChromaResponse
	if err := c.upload(ctx, "/librosa/chroma", path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Beats uploads the file at path to /madmom/beats
func (c *Client) Beats(ctx context.Context, path string) (*BeatsResponse, error) {
	var result BeatsResponse
	if err := c.upload(ctx, "/madmom/beats", path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BeatTempo uploads the file at path to /aubio/tempo
func (c *Client) BeatTempo(ctx context.Context, path string) (*TempoResponse, error) {
	var result TempoResponse
	if err := c.upload(ctx, "/aubio/tempo", path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Chords lists the diatonic triads of key in mode
func (c *Client) Chords(ctx context.Context, key, mode string) (*ChordsResponse, error) {
	body, err := json.Marshal(model.ChordsRequest{Key: key, Mode: mode})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var result ChordsResponse
	if err := c.do(ctx, "/scale/chords", "application/json", bytes.NewReader(body), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Health checks if the service is available
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("audio service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// upload posts the file at path as the multipart field "file"
func (c *Client) upload(ctx context.Context, endpoint, path string, result interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close form: %w", err)
	}

	return c.do(ctx, endpoint, w.FormDataContentType(), &body, result)
}

// do sends a POST request and parses the response
func (c *Client) do(ctx context.Context, endpoint, contentType string, body io.Reader, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: string(respBody)}
		var envelope response.ErrorResponse
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

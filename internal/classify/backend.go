package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sethvargo/go-retry"
)

const (
	defaultEndpoint  = "https://api-inference.huggingface.co"
	defaultTimeout   = 60 * time.Second
	defaultRetryBase = 500 * time.Millisecond
	maxResponseLen   = 1 << 20
	deviceHeader     = "X-Compute-Device"
	loadingSubstring = "currently loading"
	maxErrorMessage  = 200
)

// BackendConfig configures the HTTP model server client.
type BackendConfig struct {
	Endpoint   string
	Token      string
	Timeout    time.Duration
	MaxRetries uint64
	RetryBase  time.Duration
}

// HTTPBackend talks to a Hugging Face style model server:
// GET {endpoint}/models/{id} to check a model, POST raw image bytes to the
// same path to classify.
type HTTPBackend struct {
	endpoint   string
	token      string
	maxRetries uint64
	retryBase  time.Duration
	http       *http.Client
	logger     *slog.Logger
}

// NewHTTPBackend fills unset fields with defaults.
func NewHTTPBackend(cfg BackendConfig, logger *slog.Logger) *HTTPBackend {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = defaultRetryBase
	}
	return &HTTPBackend{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		token:      cfg.Token,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
		http:       &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// statusError is a non-2xx answer from the model server.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("model server returned %d", e.Code)
	}
	return fmt.Sprintf("model server returned %d: %s", e.Code, e.Body)
}

func (b *HTTPBackend) modelURL(modelID string) string {
	parts := strings.Split(modelID, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return b.endpoint + "/models/" + strings.Join(parts, "/")
}

// Load checks the model exists and is accessible with the configured token.
func (b *HTTPBackend) Load(ctx context.Context, modelID string) error {
	_, err := b.do(ctx, http.MethodGet, modelID, "", nil)
	if err != nil {
		return &ModelLoadError{ModelID: modelID, Err: err}
	}
	return nil
}

// Infer posts the image and decodes the score list.
func (b *HTTPBackend) Infer(ctx context.Context, req InferRequest) ([]Score, error) {
	data, err := b.do(ctx, http.MethodPost, req.ModelID, req.Device, req.Image)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && isModelUnavailable(se) {
			return nil, &ModelLoadError{ModelID: req.ModelID, Err: err}
		}
		return nil, &InferenceError{Op: "infer", Err: err}
	}
	scores, err := parseScores(data)
	if err != nil {
		return nil, &InferenceError{Op: "infer", Err: err}
	}
	return scores, nil
}

func (b *HTTPBackend) do(ctx context.Context, method, modelID, device string, body []byte) ([]byte, error) {
	var out []byte
	backoff := retry.WithMaxRetries(b.maxRetries, retry.NewExponential(b.retryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, b.modelURL(modelID), rd)
		if err != nil {
			return err
		}
		if b.token != "" {
			req.Header.Set("Authorization", "Bearer "+b.token)
		}
		if body != nil {
			req.Header.Set("Content-Type", "image/png")
		}
		if device != "" {
			req.Header.Set(deviceHeader, device)
		}

		resp, err := b.http.Do(req)
		if err != nil {
			b.logger.Debug("model server request failed", "model", modelID, "err", err)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read response: %w", err))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			se := &statusError{Code: resp.StatusCode, Body: errorMessage(data)}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				b.logger.Debug("model server busy", "model", modelID, "status", resp.StatusCode)
				return retry.RetryableError(se)
			}
			return se
		}
		out = data
		return nil
	})
	return out, err
}

// isModelUnavailable separates "the model is gone or still loading" from
// "this input was rejected".
func isModelUnavailable(se *statusError) bool {
	switch se.Code {
	case http.StatusNotFound, http.StatusUnauthorized, http.StatusForbidden, http.StatusGone:
		return true
	case http.StatusServiceUnavailable:
		return strings.Contains(strings.ToLower(se.Body), loadingSubstring)
	}
	return false
}

// errorMessage pulls {"error": "..."} out of a response body, falling back
// to the raw text.
func errorMessage(data []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	s := strings.TrimSpace(string(data))
	if len(s) > maxErrorMessage {
		n := maxErrorMessage
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	return s
}

// parseScores accepts a flat [{label, score}] list or the batched
// [[{label, score}]] form.
func parseScores(data []byte) ([]Score, error) {
	var flat []Score
	if err := json.Unmarshal(data, &flat); err == nil {
		return flat, nil
	}
	var batched [][]Score
	if err := json.Unmarshal(data, &batched); err == nil && len(batched) > 0 {
		return batched[0], nil
	}
	return nil, fmt.Errorf("decode scores: unexpected response %q", errorMessage(data))
}

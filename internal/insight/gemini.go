package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
)

const (
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel    = "gemini-1.5-flash"
	defaultGeminiEnvVar   = "GEMINI_API_KEY"
	defaultGeminiTimeout  = 60 * time.Second
	maxGeminiResponseLen  = 1 << 20
)

// GeminiConfig configures the Gemini provider. Endpoint overrides the
// versioned API base URL and is only needed for proxies and tests.
type GeminiConfig struct {
	Model     string
	MaxTokens int64
	Endpoint  string
	Timeout   time.Duration
	Creds     CredentialSource
}

// Gemini generates text with Google's Gemini models through the
// generateContent REST method.
type Gemini struct {
	cfg  GeminiConfig
	http *http.Client

	mu  sync.Mutex
	key string
}

// NewGemini never fails; the API key is resolved on first use.
func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultGeminiEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultGeminiTimeout
	}
	if cfg.Creds.EnvVar == "" {
		cfg.Creds.EnvVar = defaultGeminiEnvVar
	}
	return &Gemini{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (g *Gemini) Name() string { return "gemini/" + g.cfg.Model }

func (g *Gemini) apiKey() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.key != "" {
		return g.key, nil
	}
	key, err := g.cfg.Creds.Resolve()
	if err != nil {
		return "", err
	}
	g.key = key
	return key, nil
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int64 `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      *geminiContent `json:"content"`
		FinishReason string         `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Generate sends prompt as a single user turn and joins the text parts of
// the first candidate.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	key, err := g.apiKey()
	if err != nil {
		return "", err
	}

	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}},
		}},
	}
	if g.cfg.MaxTokens > 0 {
		payload.GenerationConfig = &geminiGenerationConfig{MaxOutputTokens: g.cfg.MaxTokens}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := strings.TrimRight(g.cfg.Endpoint, "/") + "/models/" + url.PathEscape(g.cfg.Model) + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", key)

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		return "", classifyGoogleError(err)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxGeminiResponseLen))
	if err != nil {
		return "", fmt.Errorf("gemini: read response: %w", err)
	}
	var out geminiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}

	if len(out.Candidates) == 0 || out.Candidates[0].Content == nil {
		if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("gemini: prompt blocked: %s", out.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}

	var sb strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}
	return sb.String(), nil
}

func classifyGoogleError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("gemini: %w: %s", ErrUnauthorized, gerr.Message)
		case http.StatusTooManyRequests:
			return fmt.Errorf("gemini: %w: %s", ErrRateLimited, gerr.Message)
		}
		if gerr.Message != "" {
			return fmt.Errorf("gemini: api error %d: %s", gerr.Code, gerr.Message)
		}
	}
	return fmt.Errorf("gemini: %w", err)
}

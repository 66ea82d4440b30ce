package insight

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTextGenerator(t *testing.T) {
	g, err := NewTextGenerator(ProviderConfig{}, CredentialSource{})
	require.NoError(t, err)
	assert.Equal(t, "gemini/gemini-1.5-flash", g.Name())

	g, err = NewTextGenerator(ProviderConfig{Provider: "Anthropic", Model: "claude-x"}, CredentialSource{})
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-x", g.Name())

	g, err = NewTextGenerator(ProviderConfig{Provider: "none"}, CredentialSource{})
	require.NoError(t, err)
	assert.Nil(t, g)

	_, err = NewTextGenerator(ProviderConfig{Provider: "watson"}, CredentialSource{})
	assert.Error(t, err)
}

func TestProvidersFailLazilyWithoutCredential(t *testing.T) {
	t.Setenv("RADIOLENS_TEST_MISSING_KEY", "")
	creds := CredentialSource{EnvVar: "RADIOLENS_TEST_MISSING_KEY"}

	gemini := NewGemini(GeminiConfig{Creds: creds})
	_, err := gemini.Generate(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrMissingCredential)

	claude := NewAnthropic(AnthropicConfig{Creds: creds})
	_, err = claude.Generate(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrMissingCredential)

	out := New(gemini, discard()).Generate(context.Background(), "CT", "Benign Tissue", 0.9)
	assert.True(t, IsPlaceholder(out))
	assert.Contains(t, out, "missing API credential")
}

func TestGeminiGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-1.5-flash:generateContent"), r.URL.Path)
		key := r.URL.Query().Get("key")
		if key == "" {
			key = r.Header.Get("X-Goog-Api-Key")
		}
		assert.Equal(t, "test-key", key)

		var body struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Contents, 1)
		assert.Equal(t, "explain", body.Contents[0].Parts[0].Text)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"  Likely pneumonia. "},{"text":"Consult a physician."}]}}]}`)
	}))
	defer srv.Close()

	t.Setenv("RADIOLENS_TEST_GEMINI_KEY", "test-key")
	g := NewGemini(GeminiConfig{
		Endpoint: srv.URL + "/",
		Creds:    CredentialSource{EnvVar: "RADIOLENS_TEST_GEMINI_KEY"},
	})

	out, err := g.Generate(context.Background(), "explain")
	require.NoError(t, err)
	assert.Equal(t, "  Likely pneumonia. Consult a physician.", out)
}

func TestGeminiErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusTooManyRequests, `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`, ErrRateLimited},
		{http.StatusForbidden, `{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`, ErrUnauthorized},
		{http.StatusOK, `{"candidates":[]}`, ErrEmptyResponse},
	}
	t.Setenv("RADIOLENS_TEST_GEMINI_KEY", "test-key")
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			io.WriteString(w, tc.body)
		}))

		g := NewGemini(GeminiConfig{
			Endpoint: srv.URL + "/",
			Creds:    CredentialSource{EnvVar: "RADIOLENS_TEST_GEMINI_KEY"},
		})
		_, err := g.Generate(context.Background(), "explain")
		assert.ErrorIs(t, err, tc.want)
		srv.Close()
	}
}

func TestGeminiRequestShapeAndBlockedPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/gemini-pro:generateContent", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Contents []struct {
				Role string `json:"role"`
			} `json:"contents"`
			GenerationConfig struct {
				MaxOutputTokens int `json:"maxOutputTokens"`
			} `json:"generationConfig"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Contents, 1)
		assert.Equal(t, "user", body.Contents[0].Role)
		assert.Equal(t, 128, body.GenerationConfig.MaxOutputTokens)

		io.WriteString(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))
	defer srv.Close()

	t.Setenv("RADIOLENS_TEST_GEMINI_KEY", "test-key")
	g := NewGemini(GeminiConfig{
		Model:     "gemini-pro",
		MaxTokens: 128,
		Endpoint:  srv.URL + "/v1beta",
		Creds:     CredentialSource{EnvVar: "RADIOLENS_TEST_GEMINI_KEY"},
	})
	assert.Equal(t, "gemini/gemini-pro", g.Name())

	_, err := g.Generate(context.Background(), "explain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt blocked: SAFETY")
}

func TestAnthropicGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-test", r.Header.Get("X-Api-Key"))

		var body struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body.Model)
		assert.Equal(t, 256, body.MaxTokens)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": " Benign findings. No action needed. "}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 8}
		}`)
	}))
	defer srv.Close()

	t.Setenv("RADIOLENS_TEST_ANTHROPIC_KEY", "sk-test")
	a := NewAnthropic(AnthropicConfig{
		Model:     "claude-test",
		MaxTokens: 256,
		BaseURL:   srv.URL,
		Creds:     CredentialSource{EnvVar: "RADIOLENS_TEST_ANTHROPIC_KEY"},
	})

	out, err := a.Generate(context.Background(), "explain")
	require.NoError(t, err)
	assert.Equal(t, " Benign findings. No action needed. ", out)
}

func TestAnthropicUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	t.Setenv("RADIOLENS_TEST_ANTHROPIC_KEY", "sk-bad")
	a := NewAnthropic(AnthropicConfig{
		BaseURL: srv.URL,
		Creds:   CredentialSource{EnvVar: "RADIOLENS_TEST_ANTHROPIC_KEY"},
	})

	_, err := a.Generate(context.Background(), "explain")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

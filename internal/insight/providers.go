package insight

import (
	"fmt"
	"strings"
)

// Provider names accepted in configuration.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// ProviderConfig selects and configures the text-generation service.
type ProviderConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	MaxTokens  int64  `yaml:"max_tokens"`
	Endpoint   string `yaml:"endpoint"`
	UseBedrock bool   `yaml:"use_bedrock"`
	// APIKeyEnv overrides the environment variable (and secrets key) holding
	// the credential.
	APIKeyEnv string `yaml:"api_key_env"`
}

// NewTextGenerator builds the configured provider. "none" returns nil, which
// makes every insight a placeholder. creds supplies the secret store and env
// lookup; its EnvVar is replaced by cfg.APIKeyEnv.
func NewTextGenerator(cfg ProviderConfig, creds CredentialSource) (TextGenerator, error) {
	creds.EnvVar = cfg.APIKeyEnv

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderGemini:
		return NewGemini(GeminiConfig{
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Endpoint:  cfg.Endpoint,
			Creds:     creds,
		}), nil
	case ProviderAnthropic:
		return NewAnthropic(AnthropicConfig{
			Model:      cfg.Model,
			MaxTokens:  cfg.MaxTokens,
			BaseURL:    cfg.Endpoint,
			UseBedrock: cfg.UseBedrock,
			Creds:      creds,
		}), nil
	case ProviderNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("insight: unknown provider %q", cfg.Provider)
	}
}

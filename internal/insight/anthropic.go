package insight

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultClaudeModel     = "claude-3-5-haiku-latest"
	defaultBedrockModel    = "global.anthropic.claude-sonnet-4-5-20250929-v1:0"
	defaultAnthropicEnvVar = "ANTHROPIC_API_KEY"
	defaultClaudeMaxTokens = 512
)

// AnthropicConfig configures the Claude provider. With UseBedrock the
// request goes through AWS Bedrock using the default AWS credential chain
// instead of an Anthropic API key.
type AnthropicConfig struct {
	Model      string
	MaxTokens  int64
	BaseURL    string
	UseBedrock bool
	Creds      CredentialSource
}

// Anthropic generates text with Claude.
type Anthropic struct {
	cfg AnthropicConfig

	mu     sync.Mutex
	client *anthropic.Client
}

// NewAnthropic never fails; the client is built on first use.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.Model == "" {
		cfg.Model = defaultClaudeModel
		if cfg.UseBedrock {
			cfg.Model = defaultBedrockModel
		}
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultClaudeMaxTokens
	}
	if cfg.Creds.EnvVar == "" {
		cfg.Creds.EnvVar = defaultAnthropicEnvVar
	}
	return &Anthropic{cfg: cfg}
}

func (a *Anthropic) Name() string { return "anthropic/" + a.cfg.Model }

func (a *Anthropic) messages(ctx context.Context) (*anthropic.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}

	var opts []option.RequestOption
	if a.cfg.UseBedrock {
		if os.Getenv("AWS_ACCESS_KEY_ID") == "" && os.Getenv("AWS_PROFILE") == "" {
			return nil, fmt.Errorf("%w: AWS credentials not configured", ErrMissingCredential)
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx))
	} else {
		key, err := a.cfg.Creds.Resolve()
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithAPIKey(key))
	}
	if a.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(a.cfg.BaseURL))
	}

	client := anthropic.NewClient(opts...)
	a.client = &client
	return a.client, nil
}

// Generate sends prompt as a single user message and concatenates the text
// blocks of the reply.
func (a *Anthropic) Generate(ctx context.Context, prompt string) (string, error) {
	client, err := a.messages(ctx)
	if err != nil {
		return "", err
	}

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: a.cfg.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classifyAnthropicError(err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("anthropic: %w", ErrEmptyResponse)
	}
	return sb.String(), nil
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("anthropic: %w: %v", ErrUnauthorized, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("anthropic: %w: %v", ErrRateLimited, err)
		}
	}
	return fmt.Errorf("anthropic: %w", err)
}

// Package insight asks a text-generation service to explain a
// classification in plain language. It never fails: every problem with the
// service turns into a placeholder string.
package insight

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// TextGenerator is the external text-generation capability.
type TextGenerator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

const placeholderPrefix = "(insight unavailable: "

// Unavailable is a degraded insight: why the service could not answer.
type Unavailable struct {
	Reason string
}

// Placeholder renders the reason in the form shown to users.
func (u Unavailable) Placeholder() string {
	reason := strings.Join(strings.Fields(u.Reason), " ")
	if reason == "" {
		reason = "unknown error"
	}
	return placeholderPrefix + reason + ")"
}

// IsPlaceholder reports whether s is a degraded insight.
func IsPlaceholder(s string) bool {
	return strings.HasPrefix(s, placeholderPrefix) && strings.HasSuffix(s, ")")
}

const promptTemplate = `You are an AI medical assistant. A clinician uploaded a %s scan.
The automated model classified it as: %s
with confidence %s.

Please provide a short, plain-language insight:
- Describe what this finding means clinically.
- Mention next steps or cautions, but keep it concise.
- Use professional but clear tone.`

// BuildPrompt is deterministic in its inputs.
func BuildPrompt(modality, label string, confidence float64) string {
	return fmt.Sprintf(promptTemplate, modality, label, FormatConfidence(confidence))
}

// FormatConfidence renders a 0..1 confidence as a percentage with two
// decimals, e.g. 0.8734 -> "87.34%".
func FormatConfidence(confidence float64) string {
	return fmt.Sprintf("%.2f%%", confidence*100)
}

// Generator produces insights through a TextGenerator.
type Generator struct {
	text   TextGenerator
	logger *slog.Logger
}

// New wraps text. A nil text generator is allowed; every insight is then a
// placeholder.
func New(text TextGenerator, logger *slog.Logger) *Generator {
	return &Generator{text: text, logger: logger}
}

// Generate returns the service's explanation, trimmed, or a placeholder.
func (g *Generator) Generate(ctx context.Context, modality, label string, confidence float64) (insight string) {
	if g.text == nil {
		return Unavailable{Reason: "no text generator configured"}.Placeholder()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("insight provider panicked", "provider", g.text.Name(), "panic", r)
			insight = Unavailable{Reason: fmt.Sprintf("provider panic: %v", r)}.Placeholder()
		}
	}()

	out, err := g.text.Generate(ctx, BuildPrompt(modality, label, confidence))
	if err != nil {
		g.logger.Warn("insight unavailable",
			"provider", g.text.Name(),
			"err", err,
			"elapsed", time.Since(start),
		)
		return Unavailable{Reason: err.Error()}.Placeholder()
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return Unavailable{Reason: "empty response from " + g.text.Name()}.Placeholder()
	}
	g.logger.Debug("insight generated", "provider", g.text.Name(), "elapsed", time.Since(start))
	return out
}

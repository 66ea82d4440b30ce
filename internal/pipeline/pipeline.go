// Package pipeline is the entry point of a classification: it routes by
// modality, runs the model, rephrases the label and attaches an insight.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/radiolens/radiolens/internal/classify"
	"github.com/radiolens/radiolens/internal/insight"
	"github.com/radiolens/radiolens/internal/modality"
)

// Result is what callers get back.
type Result struct {
	Label      string  `json:"label_name"`
	Confidence float64 `json:"confidence"`
	Insight    string  `json:"ai_insight"`
}

// Models hands out the classifier for a modality.
type Models interface {
	Get(ctx context.Context, m modality.Modality) (classify.Classifier, error)
}

// Rephraser maps raw labels to display labels.
type Rephraser interface {
	Rephrase(raw string) string
}

// Insights explains a result. Implementations must not fail.
type Insights interface {
	Generate(ctx context.Context, modality, label string, confidence float64) string
}

// Pipeline runs classifications. It holds no per-request state and is safe
// for concurrent use.
type Pipeline struct {
	models    Models
	rephraser Rephraser
	insights  Insights
	fallback  classify.Classifier
	logger    *slog.Logger
}

// New creates a pipeline.
func New(models Models, rephraser Rephraser, insights Insights, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		models:    models,
		rephraser: rephraser,
		insights:  insights,
		fallback:  classify.NotImplemented{},
		logger:    logger,
	}
}

// Run classifies the image at imagePath. Steps run strictly in order:
// resolve modality, get the model, predict, rephrase, generate the insight.
// Prediction failures abort with an error wrapping *classify.ModelLoadError
// or *classify.InferenceError; insight failures never do.
func (p *Pipeline) Run(ctx context.Context, modalityTag, imagePath string) (*Result, error) {
	requestID := uuid.NewString()
	start := time.Now()
	logger := p.logger.With("request_id", requestID)

	m := modality.Parse(modalityTag)
	insightModality := m.String()

	var classifier classify.Classifier
	if m == modality.Unknown {
		insightModality = strings.TrimSpace(modalityTag)
		classifier = p.fallback
		logger.Info("no model for modality", "modality", modalityTag)
	} else {
		c, err := p.models.Get(ctx, m)
		if err != nil {
			logger.Error("model unavailable", "modality", m, "err", err)
			return nil, fmt.Errorf("classify %s: %w", m, err)
		}
		classifier = c
	}

	raw, err := classifier.Predict(ctx, imagePath)
	if err != nil {
		logger.Error("prediction failed", "modality", m, "err", err)
		return nil, fmt.Errorf("classify %s: %w", m, err)
	}
	if err := checkConfidence(raw.Confidence); err != nil {
		logger.Error("prediction out of range", "modality", m, "err", err)
		return nil, fmt.Errorf("classify %s: %w", m, err)
	}

	label := p.rephraser.Rephrase(raw.Label)
	text := p.insights.Generate(ctx, insightModality, label, raw.Confidence)

	logger.Info("classification complete",
		"modality", m,
		"raw_label", raw.Label,
		"label", label,
		"confidence", raw.Confidence,
		"insight_degraded", insight.IsPlaceholder(text),
		"elapsed", time.Since(start),
	)

	return &Result{
		Label:      label,
		Confidence: raw.Confidence,
		Insight:    text,
	}, nil
}

func checkConfidence(c float64) error {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return &classify.InferenceError{Op: "scores", Err: fmt.Errorf("confidence %v outside [0, 1]", c)}
	}
	return nil
}

// Error kinds reported to API clients.
const (
	KindModelLoad = "model_load_error"
	KindInference = "inference_error"
	KindInternal  = "internal_error"
)

// ErrorKind names the failure class of an error returned by Run.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, classify.ErrModelLoad):
		return KindModelLoad
	case errors.Is(err, classify.ErrInference):
		return KindInference
	default:
		return KindInternal
	}
}

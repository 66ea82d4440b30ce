// Package classify wraps pretrained image models behind one capability:
// given an image, return a label and the full score distribution.
package classify

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// NotImplementedLabel is reported for modalities without a model.
const NotImplementedLabel = "Not Implemented"

// Classifier is the capability every modality variant provides.
type Classifier interface {
	// Predict classifies the image at imagePath. Failures are
	// *ModelLoadError or *InferenceError.
	Predict(ctx context.Context, imagePath string) (*RawResult, error)

	// Labels returns the declared label ordering used for tie-breaks.
	Labels() []string
}

// Variant tags the concrete classifier kind.
type Variant string

const (
	VariantCT             Variant = "ct"
	VariantXRay           Variant = "xray"
	VariantNotImplemented Variant = "not_implemented"
)

// Spec is the static configuration of a model-backed classifier.
type Spec struct {
	ModelID string
	Labels  []string
	Device  string
	// ImageSize is the square edge the image is resized to; 0 keeps the
	// original size.
	ImageSize int
}

// Backend runs a pretrained model somewhere: a model server, a sidecar, a
// test fake.
type Backend interface {
	// Load checks that modelID can be served.
	Load(ctx context.Context, modelID string) error
	// Infer runs the model on a PNG-encoded image.
	Infer(ctx context.Context, req InferRequest) ([]Score, error)
}

// InferRequest is one forward pass.
type InferRequest struct {
	ModelID string
	Device  string
	Image   []byte
}

// ModelClassifier is the CT and X-ray implementation. The variants differ in
// how they decode and size the input.
type ModelClassifier struct {
	variant Variant
	spec    Spec
	backend Backend
	decode  decodeFunc
}

// NewCT builds the CT classifier. Inputs may be DICOM, PNG or JPEG and are
// resized to spec.ImageSize (224 when unset).
func NewCT(ctx context.Context, spec Spec, backend Backend) (*ModelClassifier, error) {
	if spec.ImageSize == 0 {
		spec.ImageSize = 224
	}
	return newModelClassifier(ctx, VariantCT, spec, backend, decodeScan)
}

// NewXRay builds the chest X-ray classifier for PNG and JPEG inputs.
func NewXRay(ctx context.Context, spec Spec, backend Backend) (*ModelClassifier, error) {
	return newModelClassifier(ctx, VariantXRay, spec, backend, decodeRaster)
}

func newModelClassifier(ctx context.Context, variant Variant, spec Spec, backend Backend, decode decodeFunc) (*ModelClassifier, error) {
	if spec.ModelID == "" {
		return nil, &ModelLoadError{Err: errors.New("no model id configured")}
	}
	if len(spec.Labels) == 0 {
		return nil, &ModelLoadError{ModelID: spec.ModelID, Err: errors.New("empty label set")}
	}
	if backend == nil {
		return nil, &ModelLoadError{ModelID: spec.ModelID, Err: errors.New("no model backend")}
	}
	if err := backend.Load(ctx, spec.ModelID); err != nil {
		var mle *ModelLoadError
		if errors.As(err, &mle) {
			return nil, err
		}
		return nil, &ModelLoadError{ModelID: spec.ModelID, Err: err}
	}
	spec.Labels = slices.Clone(spec.Labels)
	return &ModelClassifier{variant: variant, spec: spec, backend: backend, decode: decode}, nil
}

// Variant reports which concrete classifier this is.
func (c *ModelClassifier) Variant() Variant { return c.variant }

// Labels returns a copy of the declared label ordering.
func (c *ModelClassifier) Labels() []string { return slices.Clone(c.spec.Labels) }

// Predict decodes the image, runs the model and normalizes the scores.
func (c *ModelClassifier) Predict(ctx context.Context, imagePath string) (*RawResult, error) {
	img, err := c.decode(imagePath)
	if err != nil {
		return nil, &InferenceError{Op: "decode", Path: imagePath, Err: err}
	}
	if c.spec.ImageSize > 0 {
		img = resizeSquare(img, c.spec.ImageSize)
	}
	data, err := encodePNG(img)
	if err != nil {
		return nil, &InferenceError{Op: "encode", Path: imagePath, Err: err}
	}

	scores, err := c.backend.Infer(ctx, InferRequest{
		ModelID: c.spec.ModelID,
		Device:  c.spec.Device,
		Image:   data,
	})
	if err != nil {
		if errors.Is(err, ErrModelLoad) || errors.Is(err, ErrInference) {
			return nil, err
		}
		return nil, &InferenceError{Op: "infer", Path: imagePath, Err: err}
	}

	dist, err := c.mapScores(scores)
	if err != nil {
		return nil, &InferenceError{Op: "scores", Path: imagePath, Err: err}
	}
	return Argmax(c.spec.Labels, dist)
}

var indexLabel = regexp.MustCompile(`^LABEL_(\d+)$`)

// mapScores places server labels onto the declared label set. Servers that
// only know class indices report "LABEL_<i>".
func (c *ModelClassifier) mapScores(scores []Score) (map[string]float64, error) {
	if len(scores) == 0 {
		return nil, errors.New("model returned no scores")
	}
	out := make(map[string]float64, len(c.spec.Labels))
	for _, s := range scores {
		label, ok := c.resolveLabel(s.Label)
		if !ok {
			return nil, fmt.Errorf("unexpected label %q", s.Label)
		}
		if _, dup := out[label]; dup {
			return nil, fmt.Errorf("duplicate score for %q", label)
		}
		out[label] = s.Score
	}
	return out, nil
}

func (c *ModelClassifier) resolveLabel(raw string) (string, bool) {
	for _, l := range c.spec.Labels {
		if l == raw {
			return l, true
		}
	}
	for _, l := range c.spec.Labels {
		if strings.EqualFold(l, raw) {
			return l, true
		}
	}
	if m := indexLabel.FindStringSubmatch(raw); m != nil {
		i, err := strconv.Atoi(m[1])
		if err == nil && i < len(c.spec.Labels) {
			return c.spec.Labels[i], true
		}
	}
	return "", false
}

// NotImplemented stands in for modalities with no model. It never reads
// the image.
type NotImplemented struct{}

func (NotImplemented) Predict(context.Context, string) (*RawResult, error) {
	return &RawResult{
		Label:      NotImplementedLabel,
		Confidence: 0,
		Scores:     map[string]float64{},
	}, nil
}

func (NotImplemented) Labels() []string { return []string{NotImplementedLabel} }

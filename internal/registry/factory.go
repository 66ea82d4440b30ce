package registry

import (
	"context"
	"errors"

	"github.com/radiolens/radiolens/internal/classify"
	"github.com/radiolens/radiolens/internal/modality"
)

// ErrNoModel is returned when a modality has no model configured.
var ErrNoModel = errors.New("no model configured for modality")

// BackendFactory builds CT and X-ray classifiers from static specs,
// all served by the same backend.
func BackendFactory(specs map[modality.Modality]classify.Spec, backend classify.Backend) Factory {
	return func(ctx context.Context, m modality.Modality) (classify.Classifier, error) {
		spec, ok := specs[m]
		if !ok {
			return nil, &classify.ModelLoadError{Err: ErrNoModel}
		}

		var (
			c   *classify.ModelClassifier
			err error
		)
		switch m {
		case modality.CT:
			c, err = classify.NewCT(ctx, spec, backend)
		case modality.XRay:
			c, err = classify.NewXRay(ctx, spec, backend)
		default:
			return nil, &classify.ModelLoadError{ModelID: spec.ModelID, Err: ErrNoModel}
		}
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

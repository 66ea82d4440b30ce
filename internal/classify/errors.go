package classify

import (
	"errors"
	"fmt"
)

// Sentinel kinds for errors.Is. The concrete errors carry the detail.
var (
	ErrModelLoad = errors.New("model unavailable")
	ErrInference = errors.New("inference failed")
)

// ModelLoadError means the pretrained model behind a classifier could not be
// obtained or is incompatible with the configuration.
type ModelLoadError struct {
	ModelID string
	Err     error
}

func (e *ModelLoadError) Error() string {
	if e.ModelID == "" {
		return fmt.Sprintf("load model: %v", e.Err)
	}
	return fmt.Sprintf("load model %s: %v", e.ModelID, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

func (e *ModelLoadError) Is(target error) bool { return target == ErrModelLoad }

// InferenceError means the image could not be decoded or the forward pass
// failed. Op names the stage ("decode", "encode", "infer", "scores").
type InferenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *InferenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("inference %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("inference %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func (e *InferenceError) Is(target error) bool { return target == ErrInference }

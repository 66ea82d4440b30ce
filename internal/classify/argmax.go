package classify

import (
	"errors"
	"fmt"
	"math"
)

// sumTolerance is how far a distribution may drift from 1 before it is rescaled.
const sumTolerance = 1e-3

// Argmax turns a score distribution over labels into a RawResult. Labels
// missing from scores count as zero. The confidence is the maximum score and
// ties go to the label that comes first in labels.
func Argmax(labels []string, scores map[string]float64) (*RawResult, error) {
	if len(labels) == 0 {
		return nil, &InferenceError{Op: "scores", Err: errors.New("empty label set")}
	}

	dist := make(map[string]float64, len(labels))
	sum := 0.0
	for _, label := range labels {
		s := scores[label]
		if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
			return nil, &InferenceError{Op: "scores", Err: fmt.Errorf("invalid score %v for %q", s, label)}
		}
		dist[label] = s
		sum += s
	}
	if sum <= 0 {
		return nil, &InferenceError{Op: "scores", Err: errors.New("score distribution sums to zero")}
	}
	if math.Abs(sum-1) > sumTolerance {
		for label, s := range dist {
			dist[label] = s / sum
		}
	}

	best := 0
	for i := 1; i < len(labels); i++ {
		if dist[labels[i]] > dist[labels[best]] {
			best = i
		}
	}

	conf := dist[labels[best]]
	if conf > 1 {
		conf = 1
	}
	return &RawResult{
		Label:      labels[best],
		Confidence: conf,
		Scores:     dist,
	}, nil
}

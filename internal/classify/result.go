package classify

// RawResult is the normalized output of a single classifier run.
type RawResult struct {
	Label      string             `json:"label_name"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"all_scores"`
}

// Score is one label/probability pair as reported by a model server.
type Score struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Package rephrase turns raw model labels into clinician-facing text.
package rephrase

import "maps"

// UnknownLabel is shown when a model reports no label at all.
const UnknownLabel = "unknown"

// DefaultTable covers the labels of the bundled CT model. Labels that
// already read well (the X-ray "Normal" and "Pneumonia") are left out and
// pass through unchanged.
var DefaultTable = map[string]string{
	"malignant": "Malignant Tumor",
	"benign":    "Benign Tissue",
}

// Rephraser is a fixed raw -> display mapping with identity fallback.
type Rephraser struct {
	table map[string]string
}

// New copies table so later changes by the caller have no effect.
func New(table map[string]string) *Rephraser {
	return &Rephraser{table: maps.Clone(table)}
}

// Rephrase never fails and never returns an empty string.
func (r *Rephraser) Rephrase(raw string) string {
	if r != nil {
		if display, ok := r.table[raw]; ok && display != "" {
			return display
		}
	}
	if raw == "" {
		return UnknownLabel
	}
	return raw
}

// Table returns a copy of the mapping.
func (r *Rephraser) Table() map[string]string {
	if r == nil {
		return map[string]string{}
	}
	return maps.Clone(r.table)
}

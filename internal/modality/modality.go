// Package modality names the imaging techniques the classifier understands.
package modality

import "strings"

// Modality is the imaging technique of an uploaded scan.
type Modality int

const (
	Unknown Modality = iota
	CT
	XRay
)

// Parse maps a caller-supplied tag onto a Modality. Matching is
// case-insensitive against "CT" and "X-RAY"; anything else is Unknown.
func Parse(tag string) Modality {
	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case "CT":
		return CT
	case "X-RAY":
		return XRay
	default:
		return Unknown
	}
}

// Supported lists the modalities that have a model behind them.
func Supported() []Modality {
	return []Modality{CT, XRay}
}

func (m Modality) String() string {
	switch m {
	case CT:
		return "CT"
	case XRay:
		return "X-RAY"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the canonical tag, so modalities encode as strings in JSON.
func (m Modality) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

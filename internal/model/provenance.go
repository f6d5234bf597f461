package model

import (
	"strings"
	"time"
)

// Source identifies where a preference value came from. Sources are totally
// ordered; a higher Source outranks a lower one on conflict.
type Source int

// Sources in ascending rank.
const (
	SourceInferred Source = iota + 1
	SourceInvoiceExtraction
	SourceDrip
	SourceUserStated
	SourceUserCorrection
)

var sourceNames = map[Source]string{
	SourceInferred:          "inferred",
	SourceInvoiceExtraction: "invoice_extraction",
	SourceDrip:              "drip",
	SourceUserStated:        "user_stated",
	SourceUserCorrection:    "user_correction",
}

func (s Source) String() string {
	if n, ok := sourceNames[s]; ok {
		return n
	}
	return "unknown"
}

// Valid reports whether s is one of the defined sources.
func (s Source) Valid() bool {
	_, ok := sourceNames[s]
	return ok
}

// Compare returns -1, 0 or 1 as s ranks below, equal to or above other.
func (s Source) Compare(other Source) int {
	switch {
	case s < other:
		return -1
	case s > other:
		return 1
	default:
		return 0
	}
}

// Outranks reports whether s strictly outranks other.
func (s Source) Outranks(other Source) bool {
	return s.Compare(other) > 0
}

// AtLeast reports whether s ranks at or above other.
func (s Source) AtLeast(other Source) bool {
	return s.Compare(other) >= 0
}

// ParseSource converts a stored or user-supplied name into a Source.
func ParseSource(name string) (Source, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for s, sn := range sourceNames {
		if sn == n {
			return s, nil
		}
	}
	return 0, NewValidationError("source", "unknown source %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(b []byte) error {
	v, err := ParseSource(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Provenance records the origin of a single preference value.
type Provenance struct {
	Source Source    `json:"source"`
	Actor  string    `json:"actor"`
	At     time.Time `json:"at"`
}

package journey

import (
	"fmt"
	"math"
)

// Validate checks kind and confidence range.
func (s ActivitySample) Validate() error {
	_, err := s.Canonical()
	return err
}

// Canonical validates s and returns it with Kind in canonical form.
func (s ActivitySample) Canonical() (ActivitySample, error) {
	kind, err := ParseActivityKind(string(s.Kind))
	if err != nil {
		return s, err
	}
	if s.Confidence < 0 || s.Confidence > 100 {
		return s, &InvalidSampleError{Field: "confidence", Reason: fmt.Sprintf("%d outside 0..100", s.Confidence)}
	}
	s.Kind = kind
	return s, nil
}

// Validate rejects non-finite or out-of-range coordinates and a negative or
// non-finite accuracy.
func (f LocationFix) Validate() error {
	if !f.Coordinate().Valid() {
		return &InvalidSampleError{Field: "coordinate", Reason: fmt.Sprintf("(%v, %v) is not a valid position", f.Latitude, f.Longitude)}
	}
	if math.IsNaN(f.AccuracyMeters) || math.IsInf(f.AccuracyMeters, 0) || f.AccuracyMeters < 0 {
		return &InvalidSampleError{Field: "accuracy_meters", Reason: fmt.Sprintf("%v is not a valid accuracy", f.AccuracyMeters)}
	}
	return nil
}

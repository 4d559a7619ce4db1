package store

import (
	"encoding/json"
	"fmt"

	"journey-detector/internal/journey"
)

// Encode serialises j into the blob format shared by all backends.
func Encode(j *journey.Journey) ([]byte, error) {
	if j == nil {
		return nil, Wrap(opEncode, fmt.Errorf("nil journey"))
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, Wrap(opEncode, err)
	}
	return b, nil
}

// Decode rebuilds a journey from a blob written by Encode, keeping the fix
// sequence in stored order.
func Decode(b []byte) (*journey.Journey, error) {
	var j journey.Journey
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, Wrap(opDecode, fmt.Errorf("%w: %v", ErrCorruptRecord, err))
	}
	if j.ID == "" || j.StartedAt.IsZero() {
		return nil, Wrap(opDecode, fmt.Errorf("%w: missing id or started_at", ErrCorruptRecord))
	}
	switch j.Status {
	case journey.StatusOpen:
		if j.EndedAt != nil {
			return nil, Wrap(opDecode, fmt.Errorf("%w: open journey %s has ended_at", ErrCorruptRecord, j.ID))
		}
	case journey.StatusClosed, journey.StatusAccepted, journey.StatusRejected:
		if j.EndedAt == nil {
			return nil, Wrap(opDecode, fmt.Errorf("%w: %s journey %s lacks ended_at", ErrCorruptRecord, j.Status, j.ID))
		}
	default:
		return nil, Wrap(opDecode, fmt.Errorf("%w: unknown status %q", ErrCorruptRecord, j.Status))
	}
	if j.Fixes == nil {
		j.Fixes = []journey.LocationFix{}
	}
	return &j, nil
}

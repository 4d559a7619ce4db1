// Package journey models a single detected trip and the rules for building,
// mutating and classifying it. It performs no I/O.
package journey

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"journey-detector/internal/geo"
)

// New returns an open journey with no fixes and zero distance.
func New(startedAt time.Time, kind ActivityKind) *Journey {
	return &Journey{
		ID:           uuid.NewString(),
		StartedAt:    startedAt,
		ActivityKind: kind,
		Fixes:        []LocationFix{},
		Status:       StatusOpen,
	}
}

// AppendFix appends fix in arrival order. From the second fix on, the
// distance grows by the leg from the previous fix. Out-of-order timestamps
// are kept as received.
func (j *Journey) AppendFix(fix LocationFix) {
	if n := len(j.Fixes); n > 0 {
		j.DistanceMeters += geo.DistanceMeters(j.Fixes[n-1].Coordinate(), fix.Coordinate())
	}
	j.Fixes = append(j.Fixes, fix)
}

// Retarget switches the dominant activity. It reports false when kind is
// already current so callers can skip a redundant write.
func (j *Journey) Retarget(kind ActivityKind) bool {
	if j.ActivityKind == kind {
		return false
	}
	j.ActivityKind = kind
	return true
}

// Close stamps endedAt once and marks the journey Closed. Calling it again,
// or on an already classified journey, changes nothing.
func (j *Journey) Close(endedAt time.Time) {
	if j.EndedAt == nil {
		t := endedAt
		j.EndedAt = &t
	}
	if j.Status == StatusOpen {
		j.Status = StatusClosed
	}
}

// Classify moves a Closed journey to Accepted or Rejected.
func (j *Journey) Classify(valid bool) error {
	if j.Status != StatusClosed {
		return fmt.Errorf("%w: classify from %s", ErrInvalidTransition, j.Status)
	}
	if valid {
		j.Status = StatusAccepted
	} else {
		j.Status = StatusRejected
	}
	return nil
}

// Duration is endedAt (or now while open) minus startedAt.
func (j *Journey) Duration(now time.Time) time.Duration {
	end := now
	if j.EndedAt != nil {
		end = *j.EndedAt
	}
	return end.Sub(j.StartedAt)
}

// DurationMinutes truncates Duration to whole minutes.
func (j *Journey) DurationMinutes(now time.Time) int {
	return int(j.Duration(now) / time.Minute)
}

// IsValid applies DefaultThresholds.
func (j *Journey) IsValid(now time.Time) bool {
	return j.ValidAgainst(DefaultThresholds, now)
}

// ValidAgainst requires strictly more than MinDistanceMeters and at least
// MinDuration counted in whole minutes.
func (j *Journey) ValidAgainst(th Thresholds, now time.Time) bool {
	if j.DistanceMeters <= th.MinDistanceMeters {
		return false
	}
	return time.Duration(j.DurationMinutes(now))*time.Minute >= th.MinDuration
}

// Clone returns a deep copy sharing no mutable state with j.
func (j *Journey) Clone() *Journey {
	if j == nil {
		return nil
	}
	c := *j
	if j.EndedAt != nil {
		t := *j.EndedAt
		c.EndedAt = &t
	}
	c.Fixes = make([]LocationFix, len(j.Fixes))
	copy(c.Fixes, j.Fixes)
	return &c
}

// SortByRecency orders js newest first by end time, falling back to the
// start time for journeys that have not ended.
func SortByRecency(js []*Journey) {
	sort.SliceStable(js, func(a, b int) bool {
		return js[a].recency().After(js[b].recency())
	})
}

func (j *Journey) recency() time.Time {
	if j.EndedAt != nil {
		return *j.EndedAt
	}
	return j.StartedAt
}

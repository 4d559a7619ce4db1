package journey

import (
	"time"

	"journey-detector/internal/geo"
)

// Snapshot is an immutable view of a journey handed to observers.
type Snapshot struct {
	ID              string          `json:"id"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	ActivityKind    ActivityKind    `json:"activity_kind"`
	TransportType   string          `json:"transport_type,omitempty"`
	DistanceMeters  float64         `json:"distance_meters"`
	DistanceKm      float64         `json:"distance_km"`
	DurationMinutes int             `json:"duration_minutes"`
	Status          Status          `json:"status"`
	FixCount        int             `json:"fix_count"`
	Start           *geo.Coordinate `json:"start,omitempty"`
	End             *geo.Coordinate `json:"end,omitempty"`
	Fixes           []LocationFix   `json:"fixes"`
}

// Snapshot copies j. now is used for the duration of an open journey.
func (j *Journey) Snapshot(now time.Time) Snapshot {
	c := j.Clone()
	s := Snapshot{
		ID:              c.ID,
		StartedAt:       c.StartedAt,
		EndedAt:         c.EndedAt,
		ActivityKind:    c.ActivityKind,
		TransportType:   c.ActivityKind.TransportType(),
		DistanceMeters:  c.DistanceMeters,
		DistanceKm:      c.DistanceMeters / 1000,
		DurationMinutes: c.DurationMinutes(now),
		Status:          c.Status,
		FixCount:        len(c.Fixes),
		Fixes:           c.Fixes,
	}
	if n := len(c.Fixes); n > 0 {
		first, last := c.Fixes[0].Coordinate(), c.Fixes[n-1].Coordinate()
		s.Start, s.End = &first, &last
	}
	return s
}

package journey

import (
	"strconv"
	"strings"
	"time"

	"journey-detector/internal/geo"
)

type ActivityKind string

const (
	Stationary ActivityKind = "STATIONARY"
	Walking    ActivityKind = "WALKING"
	Running    ActivityKind = "RUNNING"
	Cycling    ActivityKind = "CYCLING"
	InVehicle  ActivityKind = "IN_VEHICLE"
	Unknown    ActivityKind = "UNKNOWN"
)

var kinds = []ActivityKind{Stationary, Walking, Running, Cycling, InVehicle, Unknown}

// ParseActivityKind accepts the canonical names case-insensitively, with
// either '_' or '-' as separator.
func ParseActivityKind(s string) (ActivityKind, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for _, k := range kinds {
		if string(k) == norm {
			return k, nil
		}
	}
	return "", &InvalidSampleError{Field: "kind", Reason: "unknown activity kind " + strconv.Quote(s)}
}

// Moving reports whether k describes locomotion.
func (k ActivityKind) Moving() bool {
	switch k {
	case Walking, Running, Cycling, InVehicle:
		return true
	}
	return false
}

// TransportType maps k onto the backend transport vocabulary. Stationary and
// unknown activity have no transport type.
func (k ActivityKind) TransportType() string {
	switch k {
	case Walking, Running:
		return "apied"
	case Cycling:
		return "velo"
	case InVehicle:
		return "transport_commun"
	}
	return ""
}

type ActivitySample struct {
	Kind       ActivityKind `json:"kind"`
	Confidence int          `json:"confidence"` // 0..100
	ObservedAt time.Time    `json:"observed_at"`
}

// MovingConfident reports whether the sample is a moving activity with at
// least minConfidence.
func (s ActivitySample) MovingConfident(minConfidence int) bool {
	return s.Kind.Moving() && s.Confidence >= minConfidence
}

type LocationFix struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	ObservedAt     time.Time `json:"observed_at"`
	AccuracyMeters float64   `json:"accuracy_meters"`
}

func (f LocationFix) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: f.Latitude, Lon: f.Longitude}
}

type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusClosed   Status = "CLOSED"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// Final reports whether s is Closed, Accepted or Rejected.
func (s Status) Final() bool {
	return s == StatusClosed || s == StatusAccepted || s == StatusRejected
}

// Journey is one detected trip. Fixes are kept in arrival order and
// DistanceMeters only ever grows by the leg between the last two fixes.
type Journey struct {
	ID             string        `json:"id"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	ActivityKind   ActivityKind  `json:"activity_kind"`
	DistanceMeters float64       `json:"distance_meters"`
	Fixes          []LocationFix `json:"fixes"`
	Status         Status        `json:"status"`
}

// Thresholds decide whether a closed journey is kept.
type Thresholds struct {
	MinDistanceMeters float64
	MinDuration       time.Duration
}

// DefaultThresholds filter GPS noise and accidental micro-movements.
var DefaultThresholds = Thresholds{
	MinDistanceMeters: 100,
	MinDuration:       2 * time.Minute,
}

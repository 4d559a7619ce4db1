// Package store persists the in-progress journey and the archive of finished
// journeys. Every backend failure surfaces as a *StorageError.
package store

import (
	"context"
	"errors"

	"journey-detector/internal/journey"
)

// Store holds a single "current journey" slot plus an append-only archive
// for one detection session.
type Store interface {
	// SaveOpenJourney overwrites the current slot. Last writer wins.
	SaveOpenJourney(ctx context.Context, j *journey.Journey) error
	// ClearOpenJourney empties the current slot. Clearing an empty slot is fine.
	ClearOpenJourney(ctx context.Context) error
	// LoadOpenJourney returns the slot content, or nil when nothing is stored.
	LoadOpenJourney(ctx context.Context) (*journey.Journey, error)
	// AppendToArchive appends j. Appending an id that is already archived is
	// a no-op; existing entries are never rewritten or reordered.
	AppendToArchive(ctx context.Context, j *journey.Journey) error
	// LoadArchive returns archived journeys oldest first.
	LoadArchive(ctx context.Context) ([]*journey.Journey, error)
}

var (
	// ErrStorage matches every *StorageError.
	ErrStorage = errors.New("journey storage failure")
	// ErrCorruptRecord marks a persisted blob that cannot be turned back
	// into a journey.
	ErrCorruptRecord = errors.New("corrupt journey record")
)

// StorageError reports a failed persistence operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage " + e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Wrap tags err with op unless it already is a *StorageError.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

const (
	opSave        = "save_open"
	opClear       = "clear_open"
	opLoad        = "load_open"
	opAppend      = "append_archive"
	opLoadArchive = "load_archive"
	opEncode      = "encode"
	opDecode      = "decode"
)

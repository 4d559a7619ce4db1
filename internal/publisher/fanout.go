package publisher

import (
	"context"
	"errors"

	"journey-detector/internal/detection"
)

// Fanout emits every event to each sink in order. A failing sink does not
// stop the others; their errors are joined.
type Fanout []detection.Sink

func (f Fanout) Emit(ctx context.Context, ev detection.Event) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

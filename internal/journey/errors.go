package journey

import "errors"

var (
	// ErrInvalidSample matches every *InvalidSampleError.
	ErrInvalidSample = errors.New("invalid sample")
	// ErrInvalidTransition is returned when a status change would move a
	// journey backwards.
	ErrInvalidTransition = errors.New("invalid journey status transition")
)

// InvalidSampleError rejects malformed activity or location input before it
// reaches the lifecycle manager.
type InvalidSampleError struct {
	Field  string
	Reason string
}

func (e *InvalidSampleError) Error() string {
	return "invalid sample: " + e.Field + ": " + e.Reason
}

func (e *InvalidSampleError) Is(target error) bool { return target == ErrInvalidSample }

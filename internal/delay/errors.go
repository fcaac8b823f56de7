package delay

import (
	"fmt"

	"delayd/internal/shared"
)

var (
	// ErrMissingMessage is returned when a spec carries no message.
	ErrMissingMessage = fmt.Errorf("%w: message must be populated", shared.ErrValidation)

	// ErrInvalidTime is returned when the time does not resolve to a non-zero
	// finite epoch millisecond value.
	ErrInvalidTime = fmt.Errorf("%w: time must be a time.Time or a non-zero integer timestamp", shared.ErrValidation)

	// ErrInvalidSpec is returned by FromList for items that are neither Spec nor Job.
	ErrInvalidSpec = fmt.Errorf("%w: invalid job spec", shared.ErrValidation)

	// ErrDuplicateID is returned when a caller-supplied id is already pending.
	ErrDuplicateID = fmt.Errorf("%w: job id already scheduled", shared.ErrConflict)
)

package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Failure classes shared by the scheduler, the stores and the adapters.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrInternal          = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
	ErrDependencyFailure = errors.New("dependency failure")
)

// Kind classifies an error independently of where it came from.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindConflict
	KindInternal
	KindTimeout
	KindDependencyFailure
	KindCanceled
)

type kindInfo struct {
	kind     Kind
	name     string
	sentinel error
	match    func(error) bool
}

// kinds is checked top to bottom by KindOf, so an error marked with several
// classes reports the first one listed here.
var kinds = []kindInfo{
	{KindCanceled, "Canceled", nil, IsCanceled},
	{KindTimeout, "Timeout", ErrTimeout, IsTimeout},
	{KindNotFound, "NotFound", ErrNotFound, nil},
	{KindValidation, "Validation", ErrValidation, nil},
	{KindConflict, "Conflict", ErrConflict, nil},
	{KindDependencyFailure, "DependencyFailure", ErrDependencyFailure, nil},
	{KindInternal, "Internal", ErrInternal, nil},
}

func (k Kind) String() string {
	for _, info := range kinds {
		if info.kind == k {
			return info.name
		}
	}
	return "Unknown"
}

// KindOf classifies err: canceled, timeout, not found, validation, conflict,
// dependency failure, internal, in that order. Unrecognized errors are
// KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, info := range kinds {
		if info.match != nil {
			if info.match(err) {
				return info.kind
			}
			continue
		}
		if errors.Is(err, info.sentinel) {
			return info.kind
		}
	}
	return KindUnknown
}

func sentinelOf(kind Kind) error {
	for _, info := range kinds {
		if info.kind == kind {
			return info.sentinel
		}
	}
	return nil
}

// MarkKind attaches the sentinel of kind to err, keeping err in the chain.
// An error already of that kind is returned unchanged; a nil err yields the
// bare sentinel.
func MarkKind(err error, kind Kind) error {
	sentinel := sentinelOf(kind)
	if err == nil {
		return sentinel
	}
	if sentinel == nil || KindOf(err) == kind {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap prefixes err with context. Nil stays nil.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf is Wrap with a formatted context.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsCanceled reports a canceled context.
func IsCanceled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}

// IsTimeout reports an expired deadline, a network timeout or ErrTimeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool        { return errors.Is(err, ErrValidation) }
func IsConflict(err error) bool          { return errors.Is(err, ErrConflict) }
func IsDependencyFailure(err error) bool { return errors.Is(err, ErrDependencyFailure) }

package shared_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delayd/internal/shared"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		context  string
		expected string
		isNil    bool
	}{
		{name: "nil error", err: nil, context: "some context", isNil: true},
		{name: "simple error", err: errors.New("original"), context: "wrapper", expected: "wrapper: original"},
		{name: "empty context", err: errors.New("original"), context: "", expected: "original"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shared.Wrap(tt.err, tt.context)
			if tt.isNil {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.Equal(t, tt.expected, result.Error())
			assert.True(t, errors.Is(result, tt.err))
		})
	}
}

func TestWrapf(t *testing.T) {
	base := errors.New("boom")
	err := shared.Wrapf(base, "job %s", "abc")
	assert.EqualError(t, err, "job abc: boom")
	assert.ErrorIs(t, err, base)
	assert.Nil(t, shared.Wrapf(nil, "job %s", "abc"))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want shared.Kind
	}{
		{name: "nil", err: nil, want: shared.KindUnknown},
		{name: "plain", err: errors.New("x"), want: shared.KindUnknown},
		{name: "not found", err: fmt.Errorf("job: %w", shared.ErrNotFound), want: shared.KindNotFound},
		{name: "validation", err: fmt.Errorf("%w: bad time", shared.ErrValidation), want: shared.KindValidation},
		{name: "conflict", err: shared.ErrConflict, want: shared.KindConflict},
		{name: "dependency", err: shared.ErrDependencyFailure, want: shared.KindDependencyFailure},
		{name: "internal", err: shared.ErrInternal, want: shared.KindInternal},
		{name: "deadline", err: context.DeadlineExceeded, want: shared.KindTimeout},
		{name: "canceled", err: fmt.Errorf("op: %w", context.Canceled), want: shared.KindCanceled},
		{
			name: "join prefers higher priority",
			err:  errors.Join(shared.ErrInternal, shared.ErrNotFound),
			want: shared.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shared.KindOf(tt.err))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "Validation", shared.KindValidation.String())
	assert.Equal(t, "DependencyFailure", shared.KindDependencyFailure.String())
	assert.Equal(t, "Unknown", shared.Kind(99).String())
}

func TestMarkKind(t *testing.T) {
	original := errors.New("connection reset")

	marked := shared.MarkKind(original, shared.KindDependencyFailure)
	assert.True(t, shared.IsDependencyFailure(marked))
	assert.ErrorIs(t, marked, original)

	again := shared.MarkKind(marked, shared.KindDependencyFailure)
	assert.Same(t, marked, again)

	assert.Equal(t, shared.ErrNotFound, shared.MarkKind(nil, shared.KindNotFound))
	assert.Equal(t, original, shared.MarkKind(original, shared.KindUnknown))
	assert.Equal(t, original, shared.MarkKind(original, shared.KindCanceled))
}

func TestPredicates(t *testing.T) {
	assert.True(t, shared.IsNotFound(fmt.Errorf("x: %w", shared.ErrNotFound)))
	assert.True(t, shared.IsValidation(shared.ErrValidation))
	assert.True(t, shared.IsConflict(shared.ErrConflict))
	assert.True(t, shared.IsTimeout(shared.ErrTimeout))
	assert.True(t, shared.IsCanceled(context.Canceled))
	assert.False(t, shared.IsCanceled(nil))
	assert.False(t, shared.IsTimeout(nil))
}

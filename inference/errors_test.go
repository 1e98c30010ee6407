package inference

import (
	"fmt"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize(t *testing.T) {
	categories := []error{ErrInvalidArgument, ErrResource, ErrInternal, ErrClosed}

	err := categorize(ErrResource, io.ErrUnexpectedEOF, "read weights")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResource)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, io.ErrUnexpectedEOF, errors.Cause(err))
	assert.Contains(t, err.Error(), "read weights")

	matches := 0
	for _, c := range categories {
		if errors.Is(err, c) {
			matches++
		}
	}
	assert.Equal(t, 1, matches)

	t.Run("keeps first category", func(t *testing.T) {
		wrapped := categorize(ErrInternal, err, "outer")
		assert.ErrorIs(t, wrapped, ErrResource)
		assert.NotErrorIs(t, wrapped, ErrInternal)
	})

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, categorize(ErrInternal, nil, "noop"))
	})

	t.Run("stack trace", func(t *testing.T) {
		assert.Contains(t, fmt.Sprintf("%+v", err), "read weights")
	})
}

func TestRecoverPanic(t *testing.T) {
	run := func() (err error) {
		defer recoverPanic(&err)
		var m map[string]int
		m["boom"]++
		return nil
	}

	err := run()
	assert.ErrorIs(t, err, ErrInternal)
	assert.Contains(t, err.Error(), "panic")
}

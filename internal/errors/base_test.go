package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	testCases := []struct {
		desc     string
		err      error
		expected Kind
	}{
		{"nil", nil, KindNone},
		{"plain error is retryable", base, KindRetryable},
		{"retryable", Retryable(base), KindRetryable},
		{"fatal", Fatal(base), KindFatal},
		{"fatal wrapped by fmt", fmt.Errorf("compute: %w", Fatal(base)), KindFatal},
		{"outermost kind wins", Retryable(Fatal(base)), KindRetryable},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expected, KindOf(tc.err))
		})
	}
}

func TestKindErrorUnwrap(t *testing.T) {
	err := Fatal(errWrapped)
	require.ErrorIs(t, err, errWrapped)
	assert.Equal(t, "fatal: wrapped error", err.Error())
	assert.True(t, IsFatal(err))
	assert.Nil(t, Retryable(nil))
}

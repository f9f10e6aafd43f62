package errs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusd/internal/errs"
)

func TestRetryable(t *testing.T) {
	assert.True(t, errs.New(errs.Transient, "timeout").Retryable())
	assert.False(t, errs.New(errs.Permanent, "bad input").Retryable())
	assert.False(t, errs.New(errs.Validation, "missing field").Retryable())
}

func TestHTTPStatus(t *testing.T) {
	cases := map[errs.Kind]int{
		errs.Validation:   400,
		errs.Authorization: 401,
		errs.RateLimited:  429,
		errs.Transient:    503,
		errs.Permanent:    422,
		errs.Consistency:  500,
	}
	for kind, want := range cases {
		assert.Equal(t, want, errs.HTTPStatus(kind), "kind=%s", kind)
	}
}

func TestAsUnwrapsWrappedCause(t *testing.T) {
	root := errs.Wrap(errs.Transient, "store call failed", errors.New("dial tcp: timeout"))
	wrapped := fakeWrap{cause: root}

	found, ok := errs.As(wrapped)
	require.True(t, ok)
	assert.Equal(t, errs.Transient, found.Kind)
}

func TestAsReturnsFalseForUnrelatedError(t *testing.T) {
	_, ok := errs.As(errors.New("plain error"))
	assert.False(t, ok)
}

type fakeWrap struct{ cause error }

func (f fakeWrap) Error() string { return "wrapped: " + f.cause.Error() }
func (f fakeWrap) Unwrap() error { return f.cause }

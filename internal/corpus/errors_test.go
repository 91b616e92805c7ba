package corpus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutNetErr struct{ timeout bool }

func (e timeoutNetErr) Error() string   { return "net failure" }
func (e timeoutNetErr) Timeout() bool   { return e.timeout }
func (e timeoutNetErr) Temporary() bool { return false }

var _ net.Error = timeoutNetErr{}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindUnknown},
		{name: "plain", err: errors.New("boom"), want: KindUnknown},
		{name: "typed", err: E(KindMalformedResponse, "decode", errors.New("bad json")), want: KindMalformedResponse},
		{
			name: "wrapped typed",
			err:  fmt.Errorf("insert: %w", E(KindUniquenessConflict, "insert", nil)),
			want: KindUniquenessConflict,
		},
		{name: "deadline", err: context.DeadlineExceeded, want: KindTimeout},
		{name: "net timeout", err: timeoutNetErr{timeout: true}, want: KindTimeout},
		{name: "net other", err: timeoutNetErr{}, want: KindTransientNetwork},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestKindRetriable(t *testing.T) {
	t.Parallel()

	retriable := []Kind{KindUnknown, KindTransientNetwork, KindRateLimited, KindTimeout}
	terminal := []Kind{KindMalformedResponse, KindUniquenessConflict, KindStoreUnavailable}
	for _, k := range retriable {
		assert.True(t, k.Retriable(), k.String())
	}
	for _, k := range terminal {
		assert.False(t, k.Retriable(), k.String())
	}
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := E(KindStoreUnavailable, "read ids", cause).WithID("cat-1")
	require.Equal(t, "read ids: cat-1: store_unavailable: connection refused", err.Error())
	require.ErrorIs(t, err, cause)
	require.True(t, IsStoreUnavailable(fmt.Errorf("phase: %w", err)))
	require.False(t, IsConflict(err))
}

func TestRetryAfterExtracted(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: KindRateLimited, RetryAfter: 3 * time.Second}
	require.Equal(t, 3*time.Second, RetryAfter(fmt.Errorf("wrap: %w", err)))
	require.Zero(t, RetryAfter(errors.New("x")))
}

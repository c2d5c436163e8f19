package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeNetError struct{ timeout bool }

func (e *fakeNetError) Error() string   { return "dial tcp: connection refused" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return true }

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"tagged blocked", NewError(KindBlocked, 403, "forbidden", nil), KindBlocked},
		{"tagged server", NewError(KindServer, 503, "unavailable", nil), KindServer},
		{"wrapped tagged", fmt.Errorf("fetch: %w", NewError(KindTransport, 0, "timeout", nil)), KindTransport},
		{"net error", &fakeNetError{timeout: true}, KindTransport},
		{"deadline", context.DeadlineExceeded, KindTransport},
		{"plain error defaults to content", errors.New("no strategy"), KindContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	require.True(t, IsRetryable(NewError(KindTransport, 0, "refused", nil)))
	require.True(t, IsRetryable(NewError(KindServer, 429, "throttled", nil)))
	require.False(t, IsRetryable(NewError(KindBlocked, 403, "forbidden", nil)))
	require.False(t, IsRetryable(NewError(KindContent, 0, "parse failure", nil)))
	require.False(t, IsRetryable(NewError(KindInfra, 0, "store down", nil)))
	require.False(t, IsRetryable(nil))
}

func TestIsBlocked(t *testing.T) {
	t.Parallel()

	require.True(t, IsBlocked(NewError(KindBlocked, 403, "", nil)))
	require.True(t, IsBlocked(fmt.Errorf("item: %w", NewError(KindBlocked, 403, "captcha", nil))))
	require.False(t, IsBlocked(NewError(KindServer, 500, "", nil)))
}

func TestHasBlockSignature(t *testing.T) {
	t.Parallel()

	require.True(t, HasBlockSignature([]byte("<html><body><h1>Access Denied</h1></body></html>")))
	require.True(t, HasBlockSignature([]byte("<title>Attention Required! | Cloudflare</title>")))
	require.True(t, HasBlockSignature([]byte("Please verify you are human to continue.")))
	require.False(t, HasBlockSignature([]byte("<html><body>Jane Doe's profile</body></html>")))
	require.False(t, HasBlockSignature(nil))
}

func TestClassifyStatusCode(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindBlocked, ClassifyStatusCode(403))
	require.Equal(t, KindServer, ClassifyStatusCode(429))
	require.Equal(t, KindServer, ClassifyStatusCode(500))
	require.Equal(t, KindServer, ClassifyStatusCode(503))
	require.Equal(t, KindContent, ClassifyStatusCode(404))
	require.Equal(t, KindContent, ClassifyStatusCode(410))
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := NewError(KindTransport, 0, "fetch https://example.com", cause)
	require.Equal(t, "fetch https://example.com: connection reset", err.Error())
	require.ErrorIs(t, err, cause)

	require.Equal(t, "forbidden", NewError(KindBlocked, 403, "forbidden", nil).Error())
	require.Equal(t, "blocked", NewError(KindBlocked, 403, "", nil).Error())

	require.Equal(t, 403, StatusCodeOf(NewError(KindBlocked, 403, "", nil)))
	require.Zero(t, StatusCodeOf(errors.New("plain")))
}

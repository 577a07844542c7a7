package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiftfs/swiftfs/internal/swifttest"
	"github.com/swiftfs/swiftfs/pkg/errors"
	"github.com/swiftfs/swiftfs/pkg/types"
)

func newTestSession(t *testing.T, srv *swifttest.Server, clock types.Clock, mutate func(*types.Credentials)) *Session {
	t.Helper()

	creds := srv.Credentials()
	if mutate != nil {
		mutate(&creds)
	}
	session, err := NewSession(Config{Credentials: creds, Clock: clock})
	require.NoError(t, err)
	return session
}

func TestNewSession_ValidatesCredentials(t *testing.T) {
	_, err := NewSession(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))
}

func TestSession_TokenAndEndpoint(t *testing.T) {
	srv := swifttest.NewServer(t, nil)
	session := newTestSession(t, srv, nil, nil)
	ctx := context.Background()

	endpoint, err := session.Endpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.StorageURL(), endpoint)

	token, err := session.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	assert.Equal(t, 1, srv.TokenRequests())
	assert.Equal(t, int64(1), session.Authentications())
}

func TestSession_LazyRefresh(t *testing.T) {
	clock := swifttest.NewClock(time.Unix(1700000000, 0))
	srv := swifttest.NewServer(t, clock)
	srv.TokenTTL = time.Second
	session := newTestSession(t, srv, clock, nil)
	ctx := context.Background()

	t.Run("calls within expiry share a token", func(t *testing.T) {
		first, err := session.Token(ctx)
		require.NoError(t, err)
		clock.Advance(500 * time.Millisecond)
		second, err := session.Token(ctx)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, int64(1), session.Authentications())
	})

	t.Run("call past expiry re-authenticates", func(t *testing.T) {
		clock.Advance(time.Second)
		token, err := session.Token(ctx)
		require.NoError(t, err)

		assert.Equal(t, "tok-2", token)
		assert.Equal(t, int64(2), session.Authentications())
	})

	t.Run("expiry instant counts as expired", func(t *testing.T) {
		clock.Advance(time.Second)
		_, err := session.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), session.Authentications())
	})
}

func TestSession_ConcurrentCallersShareOneAuthentication(t *testing.T) {
	srv := swifttest.NewServer(t, nil)
	session := newTestSession(t, srv, nil, nil)

	var wg sync.WaitGroup
	tokens := make([]string, 20)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := session.Token(context.Background())
			assert.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	for _, token := range tokens {
		assert.Equal(t, tokens[0], token)
	}
	assert.LessOrEqual(t, srv.TokenRequests(), 2)
}

func TestSession_Failures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*types.Credentials)
		wantCode errors.ErrorCode
		wantMsg  string
	}{
		{
			name:     "unknown version",
			mutate:   func(c *types.Credentials) { c.AuthVersion = "v9" },
			wantCode: errors.ErrCodeAuthenticationFailed,
			wantMsg:  "no matching auth version",
		},
		{
			name:     "listed but unsupported version",
			mutate:   func(c *types.Credentials) { c.AuthVersion = "v3.0" },
			wantCode: errors.ErrCodeUnsupportedOperation,
			wantMsg:  "not supported",
		},
		{
			name:     "region without endpoint",
			mutate:   func(c *types.Credentials) { c.Region = "Nowhere" },
			wantCode: errors.ErrCodeAuthenticationFailed,
			wantMsg:  "endpoint not found for region",
		},
		{
			name:     "service name filter",
			mutate:   func(c *types.Credentials) { c.ServiceName = "cinder" },
			wantCode: errors.ErrCodeAuthenticationFailed,
			wantMsg:  "endpoint not found for region",
		},
		{
			name:     "wrong password",
			mutate:   func(c *types.Credentials) { c.Password = "nope" },
			wantCode: errors.ErrCodeAuthenticationFailed,
			wantMsg:  "401",
		},
	}

	srv := swifttest.NewServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newTestSession(t, srv, nil, tt.mutate)

			_, err := session.Token(context.Background())
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.wantCode), "got %v", err)
			assert.Contains(t, err.Error(), tt.wantMsg)

			_, err = session.Endpoint(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestSession_ServiceNameMatch(t *testing.T) {
	srv := swifttest.NewServer(t, nil)
	session := newTestSession(t, srv, nil, func(c *types.Credentials) { c.ServiceName = "swift" })

	endpoint, err := session.Endpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.StorageURL(), endpoint)
}

func TestSession_MalformedIdentityResponse(t *testing.T) {
	identity := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer identity.Close()

	session, err := NewSession(Config{Credentials: types.Credentials{
		AuthURL:     identity.URL,
		AuthVersion: VersionV2,
		Username:    "u",
		Region:      "r",
	}})
	require.NoError(t, err)

	_, err = session.Token(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthenticationFailed))
	assert.Contains(t, err.Error(), "malformed identity response")
}

func TestSession_UnreachableIdentityService(t *testing.T) {
	identity := httptest.NewServer(http.NotFoundHandler())
	url := identity.URL
	identity.Close()

	session, err := NewSession(Config{Credentials: types.Credentials{
		AuthURL:     url,
		AuthVersion: VersionV2,
		Username:    "u",
		Region:      "r",
	}})
	require.NoError(t, err)

	_, err = session.Token(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthenticationFailed))
}

func TestSession_Invalidate(t *testing.T) {
	srv := swifttest.NewServer(t, nil)
	session := newTestSession(t, srv, nil, nil)
	ctx := context.Background()

	_, err := session.Token(ctx)
	require.NoError(t, err)
	session.Invalidate()
	token, endpoint, err := session.Credentials(ctx)
	require.NoError(t, err)

	assert.Equal(t, "tok-2", token)
	assert.Equal(t, srv.StorageURL(), endpoint)
}

func TestToken_ExpiredAt(t *testing.T) {
	now := time.Unix(100, 0)
	token := Token{ID: "x", Expires: now}
	assert.True(t, token.ExpiredAt(now))
	assert.False(t, token.ExpiredAt(now.Add(-time.Nanosecond)))
}

// Package auth implements the identity session that supplies object-store
// requests with a valid token and the region's storage endpoint.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/swiftfs/swiftfs/pkg/errors"
	"github.com/swiftfs/swiftfs/pkg/types"
)

// VersionV2 is the only identity API version this session speaks.
const VersionV2 = "v2.0"

const (
	component       = "auth-session"
	objectStoreType = "object-store"
	maxBodySize     = 4 << 20
)

// Token is an identity token and its absolute expiry.
type Token struct {
	ID      string
	Expires time.Time
}

// ExpiredAt reports whether the token is unusable at now.
func (t Token) ExpiredAt(now time.Time) bool {
	return !now.Before(t.Expires)
}

// Config configures a Session.
type Config struct {
	Credentials types.Credentials
	// HTTPClient performs identity requests. Nil means a client with a 30s timeout.
	HTTPClient *http.Client
	Clock      types.Clock
	Logger     *slog.Logger
}

// state is replaced wholesale so a token is never observed without its endpoint.
type state struct {
	token    Token
	endpoint string
}

// Session produces tokens and the storage endpoint for one set of
// credentials, re-authenticating lazily when the token is absent or expired.
// It is safe for concurrent use; concurrent refreshes share one round trip.
type Session struct {
	creds  types.Credentials
	client *http.Client
	clock  types.Clock
	logger *slog.Logger

	mu      sync.RWMutex
	current *state

	group singleflight.Group
	runs  atomic.Int64
}

// NewSession validates the credentials and returns an unauthenticated session.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Credentials.Validate(); err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).WithComponent(component)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Clock == nil {
		cfg.Clock = types.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Session{
		creds:  cfg.Credentials,
		client: cfg.HTTPClient,
		clock:  cfg.Clock,
		logger: cfg.Logger.With("component", component, "region", cfg.Credentials.Region),
	}, nil
}

// Token returns a token id valid at the time of the call.
func (s *Session) Token(ctx context.Context) (string, error) {
	if st := s.snapshot(); st != nil && !st.token.ExpiredAt(s.clock.Now()) {
		return st.token.ID, nil
	}

	st, err := s.refresh(ctx, false)
	if err != nil {
		return "", err
	}
	return st.token.ID, nil
}

// Endpoint returns the storage URL of the configured region.
func (s *Session) Endpoint(ctx context.Context) (string, error) {
	if st := s.snapshot(); st != nil {
		return st.endpoint, nil
	}

	st, err := s.refresh(ctx, false)
	if err != nil {
		return "", err
	}
	return st.endpoint, nil
}

// Credentials returns the token and endpoint together, refreshing when needed.
func (s *Session) Credentials(ctx context.Context) (token, endpoint string, err error) {
	st := s.snapshot()
	if st == nil || st.token.ExpiredAt(s.clock.Now()) {
		if st, err = s.refresh(ctx, false); err != nil {
			return "", "", err
		}
	}
	return st.token.ID, st.endpoint, nil
}

// Authenticate forces a new identity round trip.
func (s *Session) Authenticate(ctx context.Context) (Token, error) {
	st, err := s.refresh(ctx, true)
	if err != nil {
		return Token{}, err
	}
	return st.token, nil
}

// Invalidate discards the token and endpoint so the next call re-authenticates.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// Authentications returns how many identity round trips have run.
func (s *Session) Authentications() int64 {
	return s.runs.Load()
}

func (s *Session) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// refresh runs one shared authentication. Unless forced, a flight that finds
// a state installed by a flight that just finished returns that state.
func (s *Session) refresh(ctx context.Context, force bool) (*state, error) {
	ch := s.group.DoChan("authenticate", func() (interface{}, error) {
		if cur := s.snapshot(); !force && cur != nil && !cur.token.ExpiredAt(s.clock.Now()) {
			return cur, nil
		}
		st, err := s.authenticate(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.current = st
		s.mu.Unlock()
		return st, nil
	})

	select {
	case <-ctx.Done():
		return nil, errors.NewError(errors.ErrCodeOperationCanceled, "authentication canceled").
			WithComponent(component).WithCause(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*state), nil
	}
}

type versionsResponse struct {
	Versions struct {
		Values []struct {
			ID    string `json:"id"`
			Links []struct {
				Href string `json:"href"`
			} `json:"links"`
		} `json:"values"`
	} `json:"versions"`
}

type tokenRequest struct {
	Auth struct {
		TenantName          string `json:"tenantName"`
		PasswordCredentials struct {
			Username string `json:"username"`
			Password string `json:"password"`
		} `json:"passwordCredentials"`
	} `json:"auth"`
}

type tokenResponse struct {
	Access struct {
		Token struct {
			ID      string `json:"id"`
			Expires string `json:"expires"`
		} `json:"token"`
		ServiceCatalog []struct {
			Type      string `json:"type"`
			Name      string `json:"name"`
			Endpoints []struct {
				Region    string `json:"region"`
				PublicURL string `json:"publicURL"`
			} `json:"endpoints"`
		} `json:"serviceCatalog"`
	} `json:"access"`
}

func (s *Session) authenticate(ctx context.Context) (*state, error) {
	s.runs.Add(1)
	start := time.Now()

	href, err := s.discoverVersion(ctx)
	if err != nil {
		return nil, err
	}

	if s.creds.AuthVersion != VersionV2 {
		return nil, errors.NewUnsupportedError("identity API "+s.creds.AuthVersion).
			WithComponent(component).WithOperation("authenticate")
	}

	st, err := s.requestToken(ctx, strings.TrimSuffix(href, "/")+"/tokens")
	if err != nil {
		return nil, err
	}

	s.logger.Info("authenticated",
		"expires", st.token.Expires,
		"endpoint", st.endpoint,
		"duration", time.Since(start))
	return st, nil
}

// discoverVersion returns the link of the configured identity API version.
func (s *Session) discoverVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.creds.AuthURL, nil)
	if err != nil {
		return "", authError("invalid auth url", err)
	}
	req.Header.Set("Accept", "application/json")

	var versions versionsResponse
	if err := s.doJSON(req, &versions, http.StatusOK, http.StatusMultipleChoices); err != nil {
		return "", err
	}

	for _, v := range versions.Versions.Values {
		if v.ID == s.creds.AuthVersion && len(v.Links) > 0 {
			return v.Links[0].Href, nil
		}
	}
	return "", authError("no matching auth version", nil).WithDetail("version", s.creds.AuthVersion)
}

func (s *Session) requestToken(ctx context.Context, tokensURL string) (*state, error) {
	var body tokenRequest
	body.Auth.TenantName = s.creds.TenantName
	body.Auth.PasswordCredentials.Username = s.creds.Username
	body.Auth.PasswordCredentials.Password = s.creds.Password

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, authError("encode token request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokensURL, bytes.NewReader(payload))
	if err != nil {
		return nil, authError("invalid token url", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var resp tokenResponse
	if err := s.doJSON(req, &resp, http.StatusOK, http.StatusNonAuthoritativeInfo); err != nil {
		return nil, err
	}

	if resp.Access.Token.ID == "" {
		return nil, authError("token id missing from identity response", nil)
	}
	expires, err := time.Parse(time.RFC3339, resp.Access.Token.Expires)
	if err != nil {
		return nil, authError("malformed token expiry", err)
	}

	endpoint := s.selectEndpoint(&resp)
	if endpoint == "" {
		return nil, authError("endpoint not found for region", nil).WithDetail("region", s.creds.Region)
	}

	return &state{
		token:    Token{ID: resp.Access.Token.ID, Expires: expires},
		endpoint: strings.TrimSuffix(endpoint, "/"),
	}, nil
}

func (s *Session) selectEndpoint(resp *tokenResponse) string {
	for _, entry := range resp.Access.ServiceCatalog {
		if entry.Type != objectStoreType {
			continue
		}
		if s.creds.ServiceName != "" && entry.Name != s.creds.ServiceName {
			continue
		}
		for _, ep := range entry.Endpoints {
			if ep.Region == s.creds.Region && ep.PublicURL != "" {
				return ep.PublicURL
			}
		}
	}
	return ""
}

func (s *Session) doJSON(req *http.Request, out interface{}, accepted ...int) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return authError(fmt.Sprintf("identity service unreachable: %s %s", req.Method, req.URL.Redacted()), err)
	}
	defer resp.Body.Close()

	ok := false
	for _, status := range accepted {
		if resp.StatusCode == status {
			ok = true
			break
		}
	}
	if !ok {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		sfErr := authError(fmt.Sprintf("identity service answered %s", resp.Status), nil)
		sfErr.HTTPStatus = resp.StatusCode
		return sfErr
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(out); err != nil {
		return authError("malformed identity response", err)
	}
	return nil
}

func authError(message string, cause error) *errors.SwiftFSError {
	err := errors.NewError(errors.ErrCodeAuthenticationFailed, message).
		WithComponent(component).
		WithOperation("authenticate")
	if cause != nil {
		err.WithCause(cause)
	}
	return err
}

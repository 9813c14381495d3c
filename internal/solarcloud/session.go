package solarcloud

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TelemetrySession supplies credentials for the remote API. Token lifecycle
// belongs to the session, never to the client or the engine.
type TelemetrySession interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticSession returns a fixed token.
type StaticSession string

// AccessToken implements TelemetrySession.
func (s StaticSession) AccessToken(context.Context) (string, error) {
	return string(s), nil
}

// Credentials are the app credentials exchanged for an access token.
type Credentials struct {
	AppID     string
	AppSecret string
	Email     string
	Password  string
}

// TokenSession exchanges credentials for a bearer token and caches it until
// shortly before expiry. Expiry comes from the token's exp claim when the
// token is a JWT, otherwise from expires_in.
type TokenSession struct {
	baseURL     string
	credentials Credentials
	client      *http.Client
	clock       func() time.Time
	leeway      time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// SessionOption configures a TokenSession.
type SessionOption func(*TokenSession)

// WithSessionHTTPClient overrides the HTTP client.
func WithSessionHTTPClient(client *http.Client) SessionOption {
	return func(s *TokenSession) {
		if client != nil {
			s.client = client
		}
	}
}

// WithSessionClock overrides the clock.
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(s *TokenSession) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewTokenSession constructs a credential-exchanging session.
func NewTokenSession(baseURL string, credentials Credentials, opts ...SessionOption) (*TokenSession, error) {
	if baseURL == "" {
		return nil, errors.New("solarcloud session: empty base url")
	}
	if credentials.AppID == "" || credentials.AppSecret == "" {
		return nil, errors.New("solarcloud session: app id and secret required")
	}
	s := &TokenSession{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: credentials,
		client:      &http.Client{Timeout: 10 * time.Second},
		clock:       time.Now,
		leeway:      time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessToken implements TelemetrySession.
func (s *TokenSession) AccessToken(ctx context.Context) (string, error) {
	if s == nil {
		return "", errors.New("solarcloud session: nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	if s.token != "" && now.Add(s.leeway).Before(s.expiresAt) {
		return s.token, nil
	}

	body := map[string]any{
		"appSecret": s.credentials.AppSecret,
		"email":     s.credentials.Email,
		"password":  hashPassword(s.credentials.Password),
	}
	var resp tokenResponse
	path := pathToken + "?appId=" + url.QueryEscape(s.credentials.AppID)
	if err := postJSON(ctx, s.client, s.baseURL, path, "", body, &resp); err != nil {
		return "", err
	}
	if !resp.ok() || resp.AccessToken == "" {
		return "", &RemoteAPIError{Endpoint: "token", Code: string(resp.Code), Message: resp.Msg}
	}
	s.token = resp.AccessToken
	s.expiresAt = tokenExpiry(resp.AccessToken, now, time.Duration(resp.ExpiresIn)*time.Second)
	return s.token, nil
}

// Invalidate drops the cached token.
func (s *TokenSession) Invalidate() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

// tokenExpiry reads the exp claim without verifying the signature; the
// remote API is the party that verifies it.
func tokenExpiry(token string, now time.Time, expiresIn time.Duration) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if expiresIn > 0 {
		return now.Add(expiresIn)
	}
	return now.Add(time.Hour)
}

func hashPassword(password string) string {
	if password == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

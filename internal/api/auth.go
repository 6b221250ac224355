package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/JonMunkholm/upstream/internal/core"
	"github.com/JonMunkholm/upstream/internal/logging"
)

const (
	// Tokens are treated as expired this long before their stated expiry.
	tokenEarlyExpiry = 5 * time.Minute

	// Lifetime assumed when the server omits expires_in.
	defaultTokenLifetime = time.Hour
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// loginSource mints tokens from the auth endpoints. With a refresh token in
// hand it refreshes first and falls back to a full login.
type loginSource struct {
	c    *Client
	mu   sync.Mutex
	last *oauth2.Token
}

// Token implements oauth2.TokenSource. The exchange is bounded by the
// client timeout since the interface carries no context.
func (s *loginSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.c.timeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last != nil && s.last.RefreshToken != "" {
		tok, err := s.c.refresh(ctx, s.last.RefreshToken)
		if err == nil {
			s.last = tok
			return tok, nil
		}
		logging.FromContext(ctx).Warn("token refresh failed, logging in again", "error", err)
	}

	tok, err := s.c.login(ctx)
	if err != nil {
		return nil, err
	}
	s.last = tok
	return tok, nil
}

func (s *loginSource) set(tok *oauth2.Token) {
	s.mu.Lock()
	s.last = tok
	s.mu.Unlock()
}

func (s *loginSource) current() *oauth2.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Authenticate forces a fresh login, replacing any cached token.
func (c *Client) Authenticate(ctx context.Context) error {
	tok, err := c.login(ctx)
	if err != nil {
		return err
	}
	c.src.set(tok)
	c.resetTokens(tok)
	logging.FromContext(ctx).Info("authenticated with Upstream API", "user", c.username)
	return nil
}

// IsAuthenticated reports whether the client holds a token that is not
// about to expire.
func (c *Client) IsAuthenticated() bool {
	tok := c.src.current()
	return tok != nil && time.Until(tok.Expiry) > tokenEarlyExpiry
}

// Logout revokes the session on a best-effort basis and clears local tokens.
func (c *Client) Logout(ctx context.Context) {
	if tok := c.src.current(); tok != nil {
		_, _, err := c.send(ctx, request{
			op:     "logout",
			method: http.MethodPost,
			path:   "/auth/logout",
			token:  tok,
		})
		if err != nil {
			logging.FromContext(ctx).Debug("logout request failed", "error", err)
		}
	}
	c.src.set(nil)
	c.resetTokens(nil)
}

func (c *Client) resetTokens(tok *oauth2.Token) {
	c.authMu.Lock()
	c.tokens = oauth2.ReuseTokenSourceWithExpiry(tok, c.src, tokenEarlyExpiry)
	c.authMu.Unlock()
}

// token returns a valid bearer token, logging in or refreshing as needed.
func (c *Client) token() (*oauth2.Token, error) {
	c.authMu.Lock()
	ts := c.tokens
	c.authMu.Unlock()
	return ts.Token()
}

func (c *Client) login(ctx context.Context) (*oauth2.Token, error) {
	if c.username == "" || c.password == "" {
		return nil, &core.AuthenticationError{Message: "username and password are required"}
	}

	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return nil, fmt.Errorf("encode login: %w", err)
	}

	_, resp, err := c.send(ctx, request{
		op:          "login",
		method:      http.MethodPost,
		path:        "/auth/login",
		body:        body,
		contentType: "application/json",
		anonymous:   true,
	})
	if err != nil {
		var apiErr *core.APIError
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusUnauthorized {
				return nil, &core.AuthenticationError{Message: "invalid username or password", Err: err}
			}
			return nil, &core.AuthenticationError{Message: "login rejected", Err: err}
		}
		return nil, err
	}

	return parseToken(resp, "")
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, fmt.Errorf("encode refresh: %w", err)
	}

	_, resp, err := c.send(ctx, request{
		op:          "refresh",
		method:      http.MethodPost,
		path:        "/auth/refresh",
		body:        body,
		contentType: "application/json",
		anonymous:   true,
	})
	if err != nil {
		return nil, &core.AuthenticationError{Message: "token refresh failed", Err: err}
	}

	return parseToken(resp, refreshToken)
}

// parseToken decodes a login or refresh response. A response without a
// refresh token keeps the previous one.
func parseToken(body []byte, prevRefresh string) (*oauth2.Token, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &core.AuthenticationError{Message: "malformed token response", Err: err}
	}
	if tr.AccessToken == "" {
		return nil, &core.AuthenticationError{Message: "no access token received"}
	}

	lifetime := defaultTokenLifetime
	if tr.ExpiresIn > 0 {
		lifetime = time.Duration(tr.ExpiresIn) * time.Second
	}
	if tr.RefreshToken == "" {
		tr.RefreshToken = prevRefresh
	}

	return &oauth2.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		Expiry:       time.Now().Add(lifetime),
	}, nil
}

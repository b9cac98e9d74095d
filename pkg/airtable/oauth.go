package airtable

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// TokenResponse is the result of an OAuth token exchange.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// ExpiresAt converts expires_in into an absolute expiry from now.
func (t *TokenResponse) ExpiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Profile describes the account behind an access token.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// GenerateVerifier returns a new high-entropy PKCE code verifier.
func GenerateVerifier() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ChallengeS256 derives the S256 code challenge for a verifier.
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// AuthorizeURL builds the URL the user is redirected to for consent.
func (c *Client) AuthorizeURL(state string, challenge string) string {
	query := url.Values{}
	query.Set("client_id", c.config.ClientID)
	query.Set("redirect_uri", c.config.RedirectURI)
	query.Set("response_type", "code")
	query.Set("state", state)
	query.Set("code_challenge", challenge)
	query.Set("code_challenge_method", "S256")
	if len(c.config.Scopes) > 0 {
		query.Set("scope", strings.Join(c.config.Scopes, " "))
	}

	return fmt.Sprintf("%s/oauth2/v1/authorize?%s", c.config.AuthBaseURL, query.Encode())
}

// ExchangeAuthorizationCode trades an authorization code plus its PKCE
// verifier for a token pair.
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, code string, verifier string) (*TokenResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "Airtable.ExchangeAuthorizationCode")
	defer span.End()

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("code_verifier", verifier)
	form.Set("redirect_uri", c.config.RedirectURI)
	form.Set("client_id", c.config.ClientID)

	return c.exchangeToken(ctx, form, "token exchange")
}

// ExchangeRefreshToken trades a refresh token for a new token pair. The
// old refresh token is invalidated upstream on success, so the caller must
// persist the returned pair before using it.
func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "Airtable.ExchangeRefreshToken")
	defer span.End()

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.config.ClientID)

	return c.exchangeToken(ctx, form, "token refresh")
}

func (c *Client) exchangeToken(ctx context.Context, form url.Values, operation string) (*TokenResponse, error) {
	tokenURL := c.config.AuthBaseURL + "/oauth2/v1/token"

	headers := map[string]string{}
	if c.config.ClientSecret != "" {
		basic := base64.StdEncoding.EncodeToString([]byte(c.config.ClientID + ":" + c.config.ClientSecret))
		headers["Authorization"] = "Basic " + basic
	}

	resp, err := c.http.PostForm(ctx, tokenURL, form.Encode(), headers)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, ErrUpstreamUnavailable)
	}

	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		// Token endpoints signal a dead grant with 400/401.
		if resp.StatusCode == 400 || resp.StatusCode == 401 {
			c.logger.WithContext(ctx).Warnf("%s rejected with status %d", operation, resp.StatusCode)
			return nil, fmt.Errorf("%s returned %d: %w", operation, resp.StatusCode, ErrUnauthorized)
		}
		return nil, mapStatusError(resp, operation)
	}

	var token TokenResponse
	if err := resp.DecodeJSON(&token); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", operation, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%s returned an empty access token: %w", operation, ErrUnauthorized)
	}

	return &token, nil
}

// WhoAmI returns the profile of the account the token belongs to.
func (c *Client) WhoAmI(ctx context.Context, accessToken string) (*Profile, error) {
	ctx, span := tracing.StartSpan(ctx, "Airtable.WhoAmI")
	defer span.End()

	resp, err := c.http.Get(ctx, c.config.BaseURL+"/v0/meta/whoami", c.authHeaders(accessToken))
	if err != nil {
		return nil, fmt.Errorf("whoami: %w", ErrUpstreamUnavailable)
	}

	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil, mapStatusError(resp, "whoami")
	}

	var profile Profile
	if err := resp.DecodeJSON(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode whoami response: %w", err)
	}

	return &profile, nil
}

package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/airtable"
	"github.com/Ramsey-B/fern/pkg/credentials"
	"github.com/Ramsey-B/fern/pkg/redis"
)

// OAuthHandler drives the authorization-code flow that connects an
// external account to a user.
type OAuthHandler struct {
	client      *airtable.Client
	store       *credentials.Store
	verifiers   *redis.VerifierStore
	frontendURL string
	logger      ectologger.Logger
}

// NewOAuthHandler creates a new OAuth handler. frontendURL is where the
// browser lands after the callback, with either a connected flag or an
// error pair in the query string.
func NewOAuthHandler(
	client *airtable.Client,
	store *credentials.Store,
	verifiers *redis.VerifierStore,
	frontendURL string,
	logger ectologger.Logger,
) *OAuthHandler {
	return &OAuthHandler{
		client:      client,
		store:       store,
		verifiers:   verifiers,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// RegisterAuthorize registers the authenticated half of the flow
func (h *OAuthHandler) RegisterAuthorize(g *echo.Group) {
	g.GET("/oauth/authorize", h.Authorize)
	g.GET("/oauth/connection", h.Connection)
}

// ConnectionResponse describes the user's connected account without
// exposing tokens.
type ConnectionResponse struct {
	ExternalAccountID string `json:"external_account_id"`
	Email             string `json:"email"`
	DisplayName       string `json:"display_name"`
	ExpiresAt         string `json:"expires_at"`
}

// Connection handles GET /oauth/connection
func (h *OAuthHandler) Connection(c echo.Context) error {
	ctx := c.Request().Context()

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	credential, err := h.store.GetByUser(ctx, userID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, ConnectionResponse{
		ExternalAccountID: credential.ExternalAccountID,
		Email:             credential.Email,
		DisplayName:       credential.DisplayName,
		ExpiresAt:         credential.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// RegisterCallback registers the public callback the provider redirects to
func (h *OAuthHandler) RegisterCallback(e *echo.Echo) {
	e.GET("/oauth/callback", h.Callback)
}

// Authorize handles GET /oauth/authorize. It stashes a PKCE verifier under
// a fresh state token and sends the browser to the provider's consent page.
func (h *OAuthHandler) Authorize(c echo.Context) error {
	ctx := c.Request().Context()

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	verifier, err := airtable.GenerateVerifier()
	if err != nil {
		return err
	}

	state := uuid.New().String()
	// The callback arrives unauthenticated, so the user travels with the
	// verifier under the state token.
	if err := h.verifiers.Put(ctx, state, userID.String()+":"+verifier); err != nil {
		return err
	}

	return c.Redirect(http.StatusFound, h.client.AuthorizeURL(state, airtable.ChallengeS256(verifier)))
}

// Callback handles GET /oauth/callback. Every outcome ends in a redirect
// to the frontend; errors travel as query parameters rather than status
// codes because the client here is a browser mid-flow.
func (h *OAuthHandler) Callback(c echo.Context) error {
	ctx := c.Request().Context()

	if errCode := c.QueryParam("error"); errCode != "" {
		h.logger.WithContext(ctx).Warnf("authorization denied: %s", errCode)
		return h.redirectError(c, errCode, c.QueryParam("error_description"))
	}

	state := c.QueryParam("state")
	code := c.QueryParam("code")
	if state == "" || code == "" {
		return h.redirectError(c, "invalid_callback", "missing state or code")
	}

	stored, err := h.verifiers.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, redis.ErrVerifierNotFound) {
			return h.redirectError(c, "expired_state", "the authorization attempt expired, start over")
		}
		return h.redirectError(c, "internal_error", "failed to verify the authorization attempt")
	}

	userIDStr, verifier, found := strings.Cut(stored, ":")
	if !found {
		return h.redirectError(c, "internal_error", "malformed authorization state")
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return h.redirectError(c, "internal_error", "malformed authorization state")
	}

	token, err := h.client.ExchangeAuthorizationCode(ctx, code, verifier)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("authorization code exchange failed")
		return h.redirectError(c, "exchange_failed", "the provider rejected the authorization code")
	}

	profile, err := h.client.WhoAmI(ctx, token.AccessToken)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("failed to load account profile")
		return h.redirectError(c, "profile_failed", "could not identify the connected account")
	}

	if _, err := h.store.UpsertFromAuthorization(ctx, userID, profile, token); err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("failed to store credential")
		return h.redirectError(c, "internal_error", "failed to store the connection")
	}

	return c.Redirect(http.StatusFound, h.frontendURL+"/settings/connections?connected=true")
}

func (h *OAuthHandler) redirectError(c echo.Context, code string, description string) error {
	query := url.Values{}
	query.Set("error", code)
	if description != "" {
		query.Set("error_description", description)
	}
	return c.Redirect(http.StatusFound, h.frontendURL+"/settings/connections?"+query.Encode())
}

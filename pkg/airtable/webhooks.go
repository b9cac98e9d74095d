package airtable

import (
	"context"
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Webhook is a change-notification subscription on a base.
type Webhook struct {
	ID              string `json:"id"`
	MACSecretBase64 string `json:"macSecretBase64"`
	ExpirationTime  string `json:"expirationTime"`
}

// ExpiresAt parses the expiration time, if the service returned one.
func (w *Webhook) ExpiresAt() *time.Time {
	if w.ExpirationTime == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, w.ExpirationTime)
	if err != nil {
		return nil
	}
	return &t
}

type webhookSpec struct {
	NotificationURL string             `json:"notificationUrl"`
	Specification   webhookSpecDetails `json:"specification"`
}

type webhookSpecDetails struct {
	Options webhookOptions `json:"options"`
}

type webhookOptions struct {
	Filters webhookFilters `json:"filters"`
}

type webhookFilters struct {
	DataTypes        []string `json:"dataTypes"`
	RecordChangeScope string  `json:"recordChangeScope,omitempty"`
}

// CreateWebhook registers a webhook on the base, scoped to one table, that
// notifies notificationURL on record data changes.
func (c *Client) CreateWebhook(ctx context.Context, accessToken string, baseID string, tableID string, notificationURL string) (*Webhook, error) {
	ctx, span := tracing.StartSpan(ctx, "Airtable.CreateWebhook")
	defer span.End()

	body := webhookSpec{
		NotificationURL: notificationURL,
		Specification: webhookSpecDetails{
			Options: webhookOptions{
				Filters: webhookFilters{
					DataTypes:         []string{"tableData"},
					RecordChangeScope: tableID,
				},
			},
		},
	}

	url := fmt.Sprintf("%s/v0/bases/%s/webhooks", c.config.BaseURL, baseID)
	resp, err := c.http.PostJSON(ctx, url, body, c.authHeaders(accessToken))
	if err != nil {
		return nil, fmt.Errorf("create webhook: %w", ErrUpstreamUnavailable)
	}

	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil, mapStatusError(resp, "create webhook")
	}

	var webhook Webhook
	if err := resp.DecodeJSON(&webhook); err != nil {
		return nil, fmt.Errorf("failed to decode create webhook response: %w", err)
	}

	return &webhook, nil
}

type refreshResponse struct {
	ExpirationTime string `json:"expirationTime"`
}

// RefreshWebhook extends the webhook's lifetime and returns the new expiry,
// if the service reports one.
func (c *Client) RefreshWebhook(ctx context.Context, accessToken string, baseID string, webhookID string) (*time.Time, error) {
	ctx, span := tracing.StartSpan(ctx, "Airtable.RefreshWebhook")
	defer span.End()

	url := fmt.Sprintf("%s/v0/bases/%s/webhooks/%s/refresh", c.config.BaseURL, baseID, webhookID)
	resp, err := c.http.PostJSON(ctx, url, nil, c.authHeaders(accessToken))
	if err != nil {
		return nil, fmt.Errorf("refresh webhook: %w", ErrUpstreamUnavailable)
	}

	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil, mapStatusError(resp, "refresh webhook")
	}

	var refreshed refreshResponse
	if err := resp.DecodeJSON(&refreshed); err != nil {
		return nil, fmt.Errorf("failed to decode refresh webhook response: %w", err)
	}

	if refreshed.ExpirationTime == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, refreshed.ExpirationTime)
	if err != nil {
		return nil, nil
	}
	return &t, nil
}

// DeleteWebhook removes the webhook from the base.
func (c *Client) DeleteWebhook(ctx context.Context, accessToken string, baseID string, webhookID string) error {
	ctx, span := tracing.StartSpan(ctx, "Airtable.DeleteWebhook")
	defer span.End()

	url := fmt.Sprintf("%s/v0/bases/%s/webhooks/%s", c.config.BaseURL, baseID, webhookID)
	resp, err := c.http.Delete(ctx, url, c.authHeaders(accessToken))
	if err != nil {
		return fmt.Errorf("delete webhook: %w", ErrUpstreamUnavailable)
	}

	// A webhook that is already gone counts as deleted.
	if resp.StatusCode == 404 {
		return nil
	}
	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return mapStatusError(resp, "delete webhook")
	}

	return nil
}

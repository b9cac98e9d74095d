package airtable

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Record is one row of an external table.
type Record struct {
	ID          string         `json:"id"`
	CreatedTime string         `json:"createdTime"`
	Fields      map[string]any `json:"fields"`
}

type createRecordRequest struct {
	Fields   map[string]any `json:"fields"`
	Typecast bool           `json:"typecast"`
}

// CreateRecord creates a record in the given table. Fields are keyed by
// external field name.
func (c *Client) CreateRecord(ctx context.Context, accessToken string, baseID string, tableID string, fields map[string]any) (*Record, error) {
	ctx, span := tracing.StartSpan(ctx, "Airtable.CreateRecord")
	defer span.End()

	body := createRecordRequest{
		Fields:   fields,
		Typecast: true,
	}

	url := fmt.Sprintf("%s/v0/%s/%s", c.config.BaseURL, baseID, tableID)
	resp, err := c.http.PostJSON(ctx, url, body, c.authHeaders(accessToken))
	if err != nil {
		return nil, fmt.Errorf("create record: %w", ErrUpstreamUnavailable)
	}

	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil, mapStatusError(resp, "create record")
	}

	var record Record
	if err := resp.DecodeJSON(&record); err != nil {
		return nil, fmt.Errorf("failed to decode create record response: %w", err)
	}

	return &record, nil
}

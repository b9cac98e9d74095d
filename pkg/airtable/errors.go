package airtable

import "errors"

var (
	// ErrUnauthorized indicates the token was rejected by the external
	// service. The grant has to be re-established by the user.
	ErrUnauthorized = errors.New("external service rejected the token")

	// ErrNotFound indicates the addressed resource does not exist upstream.
	ErrNotFound = errors.New("external resource not found")

	// ErrUpstreamUnavailable indicates a transport failure or a 5xx from
	// the external service. Safe to retry later.
	ErrUpstreamUnavailable = errors.New("external service unavailable")
)

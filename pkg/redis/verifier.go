package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrVerifierNotFound is returned when no verifier exists for the state,
// either because it expired or because it was already consumed.
var ErrVerifierNotFound = errors.New("verifier not found")

const verifierKeyPrefix = "oauth:verifier:"

// VerifierStore keeps PKCE code verifiers keyed by the opaque state token
// handed to the authorization redirect. Entries are short-lived and are
// consumed atomically on first use, so a state token can never be replayed.
type VerifierStore struct {
	client *Client
	ttl    time.Duration
}

func NewVerifierStore(client *Client, ttl time.Duration) *VerifierStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &VerifierStore{
		client: client,
		ttl:    ttl,
	}
}

// Put stores the verifier for the given state token.
func (s *VerifierStore) Put(ctx context.Context, state string, verifier string) error {
	return s.client.Set(ctx, verifierKeyPrefix+state, verifier, s.ttl)
}

// Consume returns the verifier for the state token and deletes it in the
// same round trip.
func (s *VerifierStore) Consume(ctx context.Context, state string) (string, error) {
	verifier, err := s.client.GetDel(ctx, verifierKeyPrefix+state)
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", ErrVerifierNotFound
		}
		return "", err
	}
	if verifier == "" {
		return "", ErrVerifierNotFound
	}
	return verifier, nil
}

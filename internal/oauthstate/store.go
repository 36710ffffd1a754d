// Package oauthstate keeps the short-lived records that tie an identity
// provider callback to the login attempt that started it.
package oauthstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjordcrew/crewfront/internal/crypto"
	"github.com/fjordcrew/crewfront/internal/kv"
)

// TTL is how long a login attempt may take.
const TTL = 30 * time.Minute

const keyPrefix = "oauth:state:"

// ErrStateNotFound is returned for unknown, expired or already used states.
var ErrStateNotFound = errors.New("oauth state not found or expired")

// Record is the state stored for one login attempt.
type Record struct {
	State       string    `json:"state"`
	ReturnPath  string    `json:"returnPath"`
	CallbackURL string    `json:"callbackUrl"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store issues and consumes state records.
type Store struct {
	kv  kv.Store
	ttl time.Duration
	now func() time.Time
}

// NewStore creates a state store over the shared KV store.
func NewStore(store kv.Store) *Store {
	return &Store{kv: store, ttl: TTL, now: time.Now}
}

// Key returns the KV key for state.
func Key(state string) string {
	return keyPrefix + state
}

// Issue creates a fresh state and stores it with the return path and the
// callback URL the provider will be told to redirect to.
func (s *Store) Issue(ctx context.Context, returnPath, callbackURL string) (*Record, error) {
	state, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, err
	}

	rec := &Record{
		State:       state,
		ReturnPath:  returnPath,
		CallbackURL: callbackURL,
		CreatedAt:   s.now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding oauth state: %w", err)
	}
	if err := s.kv.SetWithTTL(ctx, Key(state), data, s.ttl); err != nil {
		return nil, fmt.Errorf("storing oauth state: %w", err)
	}
	return rec, nil
}

// Consume returns the record for state and deletes it in the same step, so
// a state can complete at most one login.
func (s *Store) Consume(ctx context.Context, state string) (*Record, error) {
	if state == "" {
		return nil, ErrStateNotFound
	}

	data, err := s.kv.GetDel(ctx, Key(state))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading oauth state: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding oauth state: %w", err)
	}
	if rec.State != state {
		return nil, ErrStateNotFound
	}
	return &rec, nil
}

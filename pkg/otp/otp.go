// Package otp holds ephemeral one-time codes that authorize remote
// configuration changes. Requests live in memory only; a process restart
// simply voids outstanding codes.
package otp

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	cache "github.com/patrickmn/go-cache"
)

var (
	ErrNotFound = errors.New("no request found")
	ErrExpired  = errors.New("expired")
	ErrMismatch = errors.New("incorrect code")
)

// Request is one pending configuration change awaiting verification.
type Request struct {
	Code      string
	Config    json.RawMessage
	ExpiresAt time.Time
}

type Store struct {
	cache *cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewStore creates a store whose codes expire after ttl. Entries are kept in
// the cache for twice the window so a late verification attempt can still be
// answered with "expired" instead of "no request found".
func NewStore(ttl time.Duration) *Store {
	return &Store{
		cache: cache.New(2*ttl, ttl),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Create issues a new six-digit code for number, replacing any outstanding
// request for the same number.
func (s *Store) Create(number string, pending json.RawMessage) (Request, error) {
	code, err := generateCode()
	if err != nil {
		return Request{}, err
	}
	req := Request{
		Code:      code,
		Config:    pending,
		ExpiresAt: s.now().Add(s.ttl),
	}
	s.cache.Set(number, req, 2*s.ttl)
	return req, nil
}

// Verify consumes the pending request for number. A matching, unexpired code
// returns the pending configuration payload and removes the request. An
// expired request is removed regardless of the code. A wrong code leaves the
// request in place for another attempt within the window.
func (s *Store) Verify(number string, code string) (json.RawMessage, error) {
	v, found := s.cache.Get(number)
	if !found {
		return nil, ErrNotFound
	}
	req := v.(Request)

	if s.now().After(req.ExpiresAt) {
		s.cache.Delete(number)
		return nil, ErrExpired
	}
	if req.Code != code {
		return nil, ErrMismatch
	}

	s.cache.Delete(number)
	return req.Config, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Package userstore is a minimal in-memory stand-in for the out-of-core
// SQL user table spec.md §6 names as an external collaborator, keyed by
// username. It exists so internal/server and internal/authchannel can be
// exercised end-to-end in this repository without a real database; a
// production deployment swaps it for a SQL-backed implementation of the
// same Lookup contract.
package userstore

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/photonicgluon/excalibur-server/internal/authchannel"
	"github.com/photonicgluon/excalibur-server/internal/srp"
)

// ErrUserExists is returned by Create when username is already registered.
var ErrUserExists = errors.New("userstore: user already exists")

// ErrUserNotFound is returned when username has no record.
var ErrUserNotFound = errors.New("userstore: user not found")

// Record is the full external user record spec.md §3 describes. AUKSalt
// and KeyEnc are opaque to this server: it stores and returns them
// verbatim but never interprets their contents (the client-side key
// derivation and vault-key unwrap own that meaning).
type Record struct {
	Username    string
	AUKSalt     []byte
	Group       *srp.Group
	SRPSalt     []byte
	SRPVerifier *big.Int
	KeyEnc      []byte
}

// Store is a concurrency-safe in-memory user table.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
}

// New creates an empty Store.
func New() *Store {
	return &Store{records: make(map[string]Record)}
}

// Create registers a new user record. Returns ErrUserExists if username
// is already registered.
func (s *Store) Create(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.Username]; exists {
		return ErrUserExists
	}
	s.records[rec.Username] = rec
	return nil
}

// Get returns the full record for username.
func (s *Store) Get(username string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[username]
	return rec, ok
}

// Lookup implements authchannel.UserStore: it adapts this store's full
// Record down to the SRP salt and verifier the auth-channel handshake
// needs, without exposing AUKSalt or KeyEnc to the handshake package.
func (s *Store) Lookup(_ context.Context, username string) (authchannel.UserRecord, bool, error) {
	rec, ok := s.Get(username)
	if !ok {
		return authchannel.UserRecord{}, false, nil
	}
	return authchannel.UserRecord{Salt: rec.SRPSalt, Verifier: rec.SRPVerifier}, true, nil
}

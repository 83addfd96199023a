package crypto

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// DefaultBcryptCost is the work factor used for passwords and refresh tokens.
const DefaultBcryptCost = 10

// bcryptMaxInput is the number of bytes bcrypt actually reads.
const bcryptMaxInput = 72

var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

// Hasher hashes and verifies stored secrets (passwords and refresh tokens).
// Verify never reports an error: a malformed or missing hash is simply a mismatch.
type Hasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, encodedHash string) bool
}

// HasherConfig selects the hashing backend at startup.
type HasherConfig struct {
	Algorithm   string // "bcrypt" or "argon2id"
	BcryptCost  int
	Concurrency int64 // >0 bounds simultaneous hash/verify operations
}

// NewHasher builds the Hasher for cfg. Verification accepts both bcrypt and
// argon2id hashes regardless of which algorithm produces new ones.
func NewHasher(cfg HasherConfig) (Hasher, error) {
	bc := NewBcryptHasher(cfg.BcryptCost)
	ar := NewArgon2Hasher(DefaultArgon2Params())

	var primary Hasher
	switch strings.ToLower(cfg.Algorithm) {
	case "", "bcrypt":
		primary = bc
	case "argon2id", "argon2":
		primary = ar
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, cfg.Algorithm)
	}

	var h Hasher = &MultiHasher{primary: primary, bcrypt: bc, argon2: ar}
	if cfg.Concurrency > 0 {
		h = NewBoundedHasher(h, cfg.Concurrency)
	}
	return h, nil
}

// BcryptHasher hashes with bcrypt at a fixed cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a bcrypt hasher; cost 0 means DefaultBcryptCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash returns a salted bcrypt hash of plaintext.
func (h *BcryptHasher) Hash(_ context.Context, plaintext string) (string, error) {
	out, err := bcrypt.GenerateFromPassword(bcryptInput(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(out), nil
}

// Verify compares plaintext against a bcrypt hash in constant time.
func (h *BcryptHasher) Verify(_ context.Context, plaintext, encodedHash string) bool {
	if encodedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(encodedHash), bcryptInput(plaintext)) == nil
}

// bcryptInput reduces secrets longer than bcrypt's input limit to their
// SHA-256 hex digest so that every byte of the secret is bound by the hash.
func bcryptInput(plaintext string) []byte {
	if len(plaintext) <= bcryptMaxInput {
		return []byte(plaintext)
	}
	sum := sha256.Sum256([]byte(plaintext))
	return []byte(hex.EncodeToString(sum[:]))
}

// MultiHasher produces hashes with the primary algorithm and verifies any
// supported format by inspecting the stored hash prefix.
type MultiHasher struct {
	primary Hasher
	bcrypt  *BcryptHasher
	argon2  *Argon2Hasher
}

// Hash hashes with the configured primary algorithm.
func (m *MultiHasher) Hash(ctx context.Context, plaintext string) (string, error) {
	return m.primary.Hash(ctx, plaintext)
}

// Verify picks bcrypt or argon2id from the hash prefix. Unknown formats never verify.
func (m *MultiHasher) Verify(ctx context.Context, plaintext, encodedHash string) bool {
	switch {
	case strings.HasPrefix(encodedHash, "$2a$"),
		strings.HasPrefix(encodedHash, "$2b$"),
		strings.HasPrefix(encodedHash, "$2y$"):
		return m.bcrypt.Verify(ctx, plaintext, encodedHash)
	case strings.HasPrefix(encodedHash, "$argon2id$"):
		return m.argon2.Verify(ctx, plaintext, encodedHash)
	default:
		return false
	}
}

// BoundedHasher limits how many hash operations run at the same time so a
// burst of logins cannot monopolise every CPU.
type BoundedHasher struct {
	next Hasher
	sem  *semaphore.Weighted
}

// NewBoundedHasher wraps next with a concurrency limit of n.
func NewBoundedHasher(next Hasher, n int64) *BoundedHasher {
	return &BoundedHasher{next: next, sem: semaphore.NewWeighted(n)}
}

// Hash waits for a free slot, then delegates. It fails with ctx's error if
// ctx ends first.
func (b *BoundedHasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("waiting for hash slot: %w", err)
	}
	defer b.sem.Release(1)
	return b.next.Hash(ctx, plaintext)
}

// Verify waits for a free slot, then delegates. It reports false if ctx ends first.
func (b *BoundedHasher) Verify(ctx context.Context, plaintext, encodedHash string) bool {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer b.sem.Release(1)
	return b.next.Verify(ctx, plaintext, encodedHash)
}

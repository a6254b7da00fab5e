package user

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(ctx context.Context, pw string) (string, error)
	Verify(ctx context.Context, hash, pw string) (bool, error)
	NeedsRehash(hash string) bool
}

// BcryptHasher bounds how many bcrypt operations run at once so a burst of
// logins cannot starve the rest of the process of CPU.
type BcryptHasher struct {
	Cost int
	sem  *semaphore.Weighted
}

func NewBcryptHasher(cost, concurrency int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &BcryptHasher{Cost: cost, sem: semaphore.NewWeighted(int64(concurrency))}
}

func (b *BcryptHasher) Hash(ctx context.Context, pw string) (string, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer b.sem.Release(1)
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.Cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b *BcryptHasher) Verify(ctx context.Context, hash, pw string) (bool, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer b.sem.Release(1)
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

// NeedsRehash is true when hash was produced with a lower cost than configured.
func (b *BcryptHasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return cost < b.Cost
}

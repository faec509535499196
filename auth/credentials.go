// Package auth owns the credential pair for the learner's session and its
// redundant persistence across two storage targets.
package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Pair is the access/refresh token combination representing an authenticated
// session. A refresh always replaces both tokens together or neither.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// IsZero reports whether no credentials are held.
func (p Pair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Storage persists a credential pair. Implementations are best-effort write
// targets; the keeper tolerates individual failures.
type Storage interface {
	ReadPair(ctx context.Context) (Pair, error)
	WritePair(ctx context.Context, p Pair) error
	Clear(ctx context.Context) error
}

// Keeper holds the in-memory credential pair and mirrors it to a primary
// (cookie-jar-like file) and secondary (key/value store) target. Reads prefer
// the primary deterministically. Writes go to both, ignoring individual
// failures, so a partial storage outage degrades redundancy rather than
// logging the learner out.
type Keeper struct {
	mu        sync.RWMutex
	pair      Pair
	primary   Storage
	secondary Storage
	logger    *slog.Logger
}

// NewKeeper creates a keeper over the two storage targets. Either target may
// be nil, leaving a single-target keeper.
func NewKeeper(primary, secondary Storage, logger *slog.Logger) *Keeper {
	return &Keeper{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
	}
}

// Load populates the in-memory pair from storage, preferring the primary
// target. Absent or unreadable targets are skipped.
func (k *Keeper) Load(ctx context.Context) {
	for _, s := range []Storage{k.primary, k.secondary} {
		if s == nil {
			continue
		}
		p, err := s.ReadPair(ctx)
		if err != nil {
			continue
		}
		if !p.IsZero() {
			k.mu.Lock()
			k.pair = p
			k.mu.Unlock()
			return
		}
	}
}

// Pair returns the current credential pair.
func (k *Keeper) Pair() Pair {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.pair
}

// AccessToken returns the current access token, or empty if none is held.
func (k *Keeper) AccessToken() string {
	return k.Pair().AccessToken
}

// RefreshToken returns the current refresh token, or empty if none is held.
func (k *Keeper) RefreshToken() string {
	return k.Pair().RefreshToken
}

// Set atomically replaces the in-memory pair and mirrors it to both storage
// targets. Storage failures are logged and swallowed.
func (k *Keeper) Set(ctx context.Context, p Pair) {
	k.mu.Lock()
	k.pair = p
	k.mu.Unlock()

	k.eachStorage(func(name string, s Storage) {
		if err := s.WritePair(ctx, p); err != nil {
			k.logger.Warn("persist credentials failed",
				slog.String("target", name),
				slog.String("error", err.Error()),
			)
		}
	})
}

// Clear drops the in-memory pair and removes it from both storage targets.
// Invoked on logout and on irrecoverable refresh failure.
func (k *Keeper) Clear(ctx context.Context) {
	k.mu.Lock()
	k.pair = Pair{}
	k.mu.Unlock()

	k.eachStorage(func(name string, s Storage) {
		if err := s.Clear(ctx); err != nil {
			k.logger.Warn("clear credentials failed",
				slog.String("target", name),
				slog.String("error", err.Error()),
			)
		}
	})
}

func (k *Keeper) eachStorage(fn func(name string, s Storage)) {
	if k.primary != nil {
		fn("primary", k.primary)
	}
	if k.secondary != nil {
		fn("secondary", k.secondary)
	}
}

// Subject returns the subject claim of the held access token, if any.
// The token is server-signed; the client parses without verification since
// it holds no key material and the backend is the authority.
func (k *Keeper) Subject() string {
	claims := k.claims()
	if claims == nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// ExpiresAt returns the expiry of the held access token, if present.
func (k *Keeper) ExpiresAt() (time.Time, bool) {
	claims := k.claims()
	if claims == nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func (k *Keeper) claims() *jwt.RegisteredClaims {
	token := k.AccessToken()
	if token == "" {
		return nil
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

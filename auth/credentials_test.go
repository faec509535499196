package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexlabs/cyberdash/store/memory"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// failingStorage rejects every operation.
type failingStorage struct{}

func (failingStorage) ReadPair(context.Context) (Pair, error) {
	return Pair{}, errors.New("storage disabled")
}
func (failingStorage) WritePair(context.Context, Pair) error { return errors.New("storage disabled") }
func (failingStorage) Clear(context.Context) error           { return errors.New("storage disabled") }

func TestKeeper_SetWritesBothTargets(t *testing.T) {
	ctx := context.Background()
	primary := NewFileStorage(filepath.Join(t.TempDir(), "creds.json"))
	kv := memory.New()
	secondary := NewStoreStorage(kv)

	k := NewKeeper(primary, secondary, newTestLogger())
	k.Set(ctx, Pair{AccessToken: "at-1", RefreshToken: "rt-1"})

	p, err := primary.ReadPair(ctx)
	require.NoError(t, err)
	assert.Equal(t, Pair{AccessToken: "at-1", RefreshToken: "rt-1"}, p)

	p, err = secondary.ReadPair(ctx)
	require.NoError(t, err)
	assert.Equal(t, Pair{AccessToken: "at-1", RefreshToken: "rt-1"}, p)
}

func TestKeeper_SetSurvivesPartialStorageFailure(t *testing.T) {
	ctx := context.Background()
	secondary := NewStoreStorage(memory.New())

	k := NewKeeper(failingStorage{}, secondary, newTestLogger())
	k.Set(ctx, Pair{AccessToken: "at-1", RefreshToken: "rt-1"})

	// In-memory pair is authoritative regardless of storage outcome.
	assert.Equal(t, "at-1", k.AccessToken())

	p, err := secondary.ReadPair(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", p.RefreshToken)
}

func TestKeeper_LoadPrefersPrimary(t *testing.T) {
	ctx := context.Background()
	primary := NewFileStorage(filepath.Join(t.TempDir(), "creds.json"))
	secondary := NewStoreStorage(memory.New())

	require.NoError(t, primary.WritePair(ctx, Pair{AccessToken: "primary-at", RefreshToken: "rt"}))
	require.NoError(t, secondary.WritePair(ctx, Pair{AccessToken: "secondary-at", RefreshToken: "rt"}))

	k := NewKeeper(primary, secondary, newTestLogger())
	k.Load(ctx)

	assert.Equal(t, "primary-at", k.AccessToken())
}

func TestKeeper_LoadFallsBackToSecondary(t *testing.T) {
	ctx := context.Background()
	secondary := NewStoreStorage(memory.New())
	require.NoError(t, secondary.WritePair(ctx, Pair{AccessToken: "secondary-at", RefreshToken: "rt"}))

	k := NewKeeper(failingStorage{}, secondary, newTestLogger())
	k.Load(ctx)

	assert.Equal(t, "secondary-at", k.AccessToken())
}

func TestKeeper_ClearDropsEverything(t *testing.T) {
	ctx := context.Background()
	primary := NewFileStorage(filepath.Join(t.TempDir(), "creds.json"))
	kv := memory.New()

	k := NewKeeper(primary, NewStoreStorage(kv), newTestLogger())
	k.Set(ctx, Pair{AccessToken: "at", RefreshToken: "rt"})
	k.Clear(ctx)

	assert.True(t, k.Pair().IsZero())

	_, err := primary.ReadPair(ctx)
	assert.Error(t, err)

	_, err = kv.Get(ctx, accessTokenKey)
	assert.Error(t, err)
}

func TestKeeper_SubjectAndExpiry(t *testing.T) {
	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	token := unsignedToken(t, "learner-7", exp)

	k := NewKeeper(nil, nil, newTestLogger())
	k.Set(context.Background(), Pair{AccessToken: token, RefreshToken: "rt"})

	assert.Equal(t, "learner-7", k.Subject())

	got, ok := k.ExpiresAt()
	require.True(t, ok)
	assert.True(t, got.Equal(exp))
}

func TestKeeper_SubjectWithGarbageToken(t *testing.T) {
	k := NewKeeper(nil, nil, newTestLogger())
	k.Set(context.Background(), Pair{AccessToken: "not-a-jwt", RefreshToken: "rt"})

	assert.Equal(t, "", k.Subject())
	_, ok := k.ExpiresAt()
	assert.False(t, ok)
}

// unsignedToken builds a structurally valid JWT without a real signature;
// the keeper parses claims without verifying.
func unsignedToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()

	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	require.NoError(t, err)

	claims, err := json.Marshal(jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	require.NoError(t, err)

	enc := base64.RawURLEncoding
	return fmt.Sprintf("%s.%s.sig", enc.EncodeToString(header), enc.EncodeToString(claims))
}

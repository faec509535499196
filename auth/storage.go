package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/hexlabs/cyberdash/pkg/errors"
	"github.com/hexlabs/cyberdash/store"
)

// FileStorage persists the credential pair as a mode-0600 JSON file, the
// cookie-jar equivalent for non-browser shells.
type FileStorage struct {
	path string
}

// NewFileStorage creates a file storage target at path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// ReadPair reads the credential pair from disk.
func (f *FileStorage) ReadPair(_ context.Context) (Pair, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Pair{}, apperrors.NotFound("credential file", f.path)
		}
		return Pair{}, fmt.Errorf("read credential file: %w", err)
	}

	var p Pair
	if err := json.Unmarshal(data, &p); err != nil {
		return Pair{}, fmt.Errorf("parse credential file: %w", err)
	}
	return p, nil
}

// WritePair writes the pair via a temp file rename so a crash mid-write never
// leaves a torn pair on disk.
func (f *FileStorage) WritePair(_ context.Context, p Pair) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}

// Clear removes the credential file.
func (f *FileStorage) Clear(_ context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}

// Store entry keys for the key/value storage target. The pair is duplicated
// as two values to mirror the layout the dashboard shells share.
const (
	accessTokenKey  = "auth.access_token"
	refreshTokenKey = "auth.refresh_token"
)

// StoreStorage persists the credential pair in the local key/value store.
type StoreStorage struct {
	kv store.Store
}

// NewStoreStorage creates a key/value storage target over kv.
func NewStoreStorage(kv store.Store) *StoreStorage {
	return &StoreStorage{kv: kv}
}

// ReadPair reads both token values from the store. A pair missing its access
// token is treated as absent.
func (s *StoreStorage) ReadPair(ctx context.Context) (Pair, error) {
	access, err := s.kv.Get(ctx, accessTokenKey)
	if err != nil {
		return Pair{}, err
	}

	var p Pair
	p.AccessToken = string(access)
	if refresh, err := s.kv.Get(ctx, refreshTokenKey); err == nil {
		p.RefreshToken = string(refresh)
	}
	return p, nil
}

// WritePair writes both token values to the store.
func (s *StoreStorage) WritePair(ctx context.Context, p Pair) error {
	if err := s.kv.Set(ctx, accessTokenKey, []byte(p.AccessToken)); err != nil {
		return err
	}
	return s.kv.Set(ctx, refreshTokenKey, []byte(p.RefreshToken))
}

// Clear removes both token values from the store.
func (s *StoreStorage) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, accessTokenKey); err != nil {
		return err
	}
	return s.kv.Delete(ctx, refreshTokenKey)
}

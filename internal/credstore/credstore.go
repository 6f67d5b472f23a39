// Package credstore keeps session credentials as keyed blobs so a paired
// session survives restarts on hosts without a persistent disk. Where the
// blobs live (SQL table, S3 bucket, Redis, memory) is decided here and
// nowhere else.
package credstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Store is durable key/blob storage. Read of a missing key returns (nil, nil).
type Store interface {
	Write(ctx context.Context, key string, blob []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// PersistenceError reports a failed write or removal.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("credential %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Guarded applies the failure policy on top of a backend: write and remove
// failures are logged and returned as *PersistenceError, read failures are
// logged and reported as an absent key.
type Guarded struct {
	backend Store
	logger  *zap.Logger
}

// Guard wraps backend with the failure policy.
func Guard(backend Store, logger *zap.Logger) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guarded{backend: backend, logger: logger}
}

func (g *Guarded) Write(ctx context.Context, key string, blob []byte) error {
	if err := g.backend.Write(ctx, key, blob); err != nil {
		g.logger.Error("credential write failed", zap.String("key", key), zap.Int("bytes", len(blob)), zap.Error(err))
		return &PersistenceError{Op: "write", Key: key, Err: err}
	}
	g.logger.Debug("credential written", zap.String("key", key), zap.Int("bytes", len(blob)))
	return nil
}

func (g *Guarded) Read(ctx context.Context, key string) ([]byte, error) {
	blob, err := g.backend.Read(ctx, key)
	if err != nil {
		g.logger.Warn("credential read failed, treating as absent", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return blob, nil
}

func (g *Guarded) Remove(ctx context.Context, key string) error {
	if err := g.backend.Remove(ctx, key); err != nil {
		g.logger.Error("credential remove failed", zap.String("key", key), zap.Error(err))
		return &PersistenceError{Op: "remove", Key: key, Err: err}
	}
	return nil
}

// Load reads keys from s and returns the ones present. A nil map means no
// prior pairing exists.
func Load(ctx context.Context, s Store, keys []string) (map[string][]byte, error) {
	var out map[string][]byte
	for _, key := range keys {
		blob, err := s.Read(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read credential %q: %w", key, err)
		}
		if blob == nil {
			continue
		}
		if out == nil {
			out = make(map[string][]byte, len(keys))
		}
		out[key] = blob
	}
	return out, nil
}

// RemoveAll removes every key, attempting all of them before returning the
// first failure.
func RemoveAll(ctx context.Context, s Store, keys []string) error {
	var first error
	for _, key := range keys {
		if err := s.Remove(ctx, key); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// objectKey joins a namespace prefix and key with a slash.
func objectKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

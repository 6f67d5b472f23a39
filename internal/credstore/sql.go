package credstore

import (
	"context"

	"github.com/matheus3301/wppcrm/internal/store"
)

// SQL stores blobs in the credentials table of the application database,
// namespaced by session name.
type SQL struct {
	db     *store.DB
	prefix string
}

// NewSQL returns a store backed by db. prefix namespaces keys.
func NewSQL(db *store.DB, prefix string) *SQL {
	return &SQL{db: db, prefix: prefix}
}

func (s *SQL) Write(ctx context.Context, key string, blob []byte) error {
	return s.db.PutCredential(ctx, objectKey(s.prefix, key), blob)
}

func (s *SQL) Read(ctx context.Context, key string) ([]byte, error) {
	return s.db.GetCredential(ctx, objectKey(s.prefix, key))
}

func (s *SQL) Remove(ctx context.Context, key string) error {
	return s.db.DeleteCredential(ctx, objectKey(s.prefix, key))
}

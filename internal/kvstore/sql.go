package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/livinlefevreloca/remindersync/internal/db"
)

// SQL is a Store backed by the kv_entries table
type SQL struct {
	db  *db.DB
	now func() time.Time
}

func NewSQL(database *db.DB) *SQL {
	return &SQL{db: database, now: time.Now}
}

func (s *SQL) Lookup(ctx context.Context, key string) (string, bool, error) {
	value, err := s.db.GetKV(ctx, key)
	if db.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQL) Apply(ctx context.Context, edits ...Edit) error {
	if err := s.db.ApplyKV(ctx, s.now().UnixMilli(), writes(edits)); err != nil {
		return fmt.Errorf("failed to apply %d edits: %w", len(edits), err)
	}
	return nil
}

func (s *SQL) ApplyIf(ctx context.Context, key, want string, edits ...Edit) (bool, error) {
	applied, err := s.db.ApplyKVIf(ctx, s.now().UnixMilli(), db.KVWrite{Key: key, Value: want}, writes(edits))
	if err != nil {
		return false, fmt.Errorf("failed to apply %d edits when %s matches: %w", len(edits), key, err)
	}
	return applied, nil
}

func writes(edits []Edit) []db.KVWrite {
	out := make([]db.KVWrite, 0, len(edits))
	for _, e := range edits {
		out = append(out, db.KVWrite{Key: e.Key, Value: e.Value})
	}
	return out
}

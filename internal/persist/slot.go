package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"dochub/internal/domain"
)

// Slot is a durable key-value cell scoped to one workspace.
type Slot interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// VersionedSlot is a Slot whose writes can be made conditional on the revision that
// was read. Revision 0 means the key was absent.
type VersionedSlot interface {
	Slot
	GetRevision(ctx context.Context, key string) ([]byte, int64, bool, error)
	// PutIfRevision writes value only if the stored revision still equals rev and
	// returns the new revision. A lost race yields domain.ErrConflict.
	PutIfRevision(ctx context.Context, key string, value []byte, rev int64) (int64, error)
}

// SQLiteSlot stores values in the kv_slots table. Every write bumps the row revision.
type SQLiteSlot struct {
	DB  *sql.DB
	Now func() time.Time
}

func (s SQLiteSlot) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM kv_slots WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

func (s SQLiteSlot) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO kv_slots(key,value,updated_at,revision) VALUES (?,?,?,1)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at, revision=kv_slots.revision+1`,
		key, string(value), s.stamp())
	return err
}

func (s SQLiteSlot) GetRevision(ctx context.Context, key string) ([]byte, int64, bool, error) {
	var value string
	var rev int64
	err := s.DB.QueryRowContext(ctx, `SELECT value, revision FROM kv_slots WHERE key=?`, key).Scan(&value, &rev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	return []byte(value), rev, true, nil
}

// PutIfRevision is a single upsert whose update arm only applies while the stored
// revision is still rev, so the check and the write cannot interleave with another
// process.
func (s SQLiteSlot) PutIfRevision(ctx context.Context, key string, value []byte, rev int64) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `INSERT INTO kv_slots(key,value,updated_at,revision) VALUES (?,?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at, revision=excluded.revision
WHERE kv_slots.revision=?`,
		key, string(value), s.stamp(), rev+1, rev)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("slot %s at revision %d: %w", key, rev, domain.ErrConflict)
	}
	return rev + 1, nil
}

func (s SQLiteSlot) stamp() string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return now().UTC().Format(time.RFC3339)
}

// FileSlot stores each key as <Dir>/<key>.json. Writes go through a temp file and an
// atomic rename so a reader never sees a partial value.
type FileSlot struct {
	Dir string
}

func (s FileSlot) path(key string) (string, error) {
	if strings.TrimSpace(key) == "" || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("invalid slot key %q", key)
	}
	return filepath.Join(s.Dir, key+".json"), nil
}

func (s FileSlot) Get(_ context.Context, key string) ([]byte, bool, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (s FileSlot) Put(_ context.Context, key string, value []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("ensure slot dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.Dir, "."+key+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// MemorySlot keeps values in process memory. PutErr, when set, fails every Put.
type MemorySlot struct {
	mu     sync.Mutex
	values map[string][]byte
	PutErr error
	puts   int
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{values: map[string][]byte{}}
}

func (s *MemorySlot) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemorySlot) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return s.PutErr
	}
	if s.values == nil {
		s.values = map[string][]byte{}
	}
	s.values[key] = append([]byte(nil), value...)
	s.puts++
	return nil
}

// FailPuts makes every following Put return err; nil restores normal writes.
func (s *MemorySlot) FailPuts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PutErr = err
}

// Puts returns the number of successful writes.
func (s *MemorySlot) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

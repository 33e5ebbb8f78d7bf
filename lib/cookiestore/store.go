package cookiestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/keylock"

	_ "embed"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

// StorageError wraps failures of the underlying database so callers can
// tell them apart from portal-side failures.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return "cookie storage: " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Record is the persisted session state of one account. There is at most
// one record per account at any time.
type Record struct {
	AccountId string
	Blob      []byte
	JarName   string
	Valid     bool
	CreatedAt time.Time
	UpdatedAt time.Time
	// zero when the portal never reported a session expiry
	ExpiresAt time.Time
}

type Store struct {
	db    *sql.DB
	locks *keylock.Locker
}

func NewStore(database *sql.DB) *Store {
	return &Store{
		db:    database,
		locks: keylock.New(),
	}
}

// Load returns the account's cookie record, reporting absence through the
// second return value rather than an error.
func (s *Store) Load(ctx context.Context, accountId string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cookie_blob, jar_name, is_valid, created_at, updated_at, expires_at
		FROM cookie_record WHERE account_id = ?`,
		accountId,
	)

	var rec Record
	var valid int64
	var createdAt, updatedAt int64
	var expiresAt sql.NullInt64
	err := row.Scan(&rec.Blob, &rec.JarName, &valid, &createdAt, &updatedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, &StorageError{Err: err}
	}

	rec.AccountId = accountId
	rec.Valid = valid != 0
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	if expiresAt.Valid {
		rec.ExpiresAt = time.Unix(expiresAt.Int64, 0)
	}
	return rec, true, nil
}

// Save upserts the single cookie record of an account and marks it valid.
// Writes for the same account are serialized.
func (s *Store) Save(ctx context.Context, accountId string, blob []byte, jarName string, expiresAt time.Time) error {
	lock := s.locks.Get(accountId)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().Unix()
	var expires sql.NullInt64
	if !expiresAt.IsZero() {
		expires = sql.NullInt64{Int64: expiresAt.Unix(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cookie_record
			(account_id, cookie_blob, jar_name, is_valid, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			cookie_blob = excluded.cookie_blob,
			jar_name = excluded.jar_name,
			is_valid = 1,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		accountId, blob, jarName, now, now, expires,
	)
	if err != nil {
		return &StorageError{Err: err}
	}
	return nil
}

// Invalidate flips the validity flag without discarding the blob, so a
// later login can still reuse the jar name.
func (s *Store) Invalidate(ctx context.Context, accountId string) error {
	lock := s.locks.Get(accountId)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE cookie_record SET is_valid = 0, updated_at = ?
		WHERE account_id = ?`,
		time.Now().Unix(), accountId,
	)
	if err != nil {
		return &StorageError{Err: err}
	}
	return nil
}

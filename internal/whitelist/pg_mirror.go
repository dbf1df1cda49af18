package whitelist

import (
	"context"
	"database/sql"
	"encoding/hex"
	"log"
	"time"
)

// PGMirror write-throughs registered whitelist entries to Postgres so
// operators can query registered pools with SQL. It is best-effort and
// never fails a Register call: Mirror logs and drops errors instead of
// propagating them, since it is a reporting convenience, not the
// registry's source of truth. Register does wait for the insert, which is
// bounded by a 5-second timeout.
type PGMirror struct {
	db *sql.DB
}

// NewPGMirror wraps db and ensures the mirror table exists.
func NewPGMirror(db *sql.DB) (*PGMirror, error) {
	m := &PGMirror{db: db}
	const q = `
CREATE TABLE IF NOT EXISTS prompt_pool_whitelist (
  hash text PRIMARY KEY,
  description text NOT NULL,
  registered_at timestamptz NOT NULL
);
`
	if _, err := db.Exec(q); err != nil {
		return nil, err
	}
	return m, nil
}

// Mirror upserts one entry. Failures are logged, not returned: admission
// decisions never depend on Postgres being reachable.
func (m *PGMirror) Mirror(hash [32]byte, description string, registeredAt uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const q = `
INSERT INTO prompt_pool_whitelist (hash, description, registered_at)
VALUES ($1, $2, to_timestamp($3))
ON CONFLICT (hash) DO NOTHING
`
	if _, err := m.db.ExecContext(ctx, q, hex.EncodeToString(hash[:]), description, registeredAt); err != nil {
		log.Printf("[whitelist.pg_mirror] upsert %s: %v", hex.EncodeToString(hash[:]), err)
	}
}

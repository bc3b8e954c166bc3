package store

import (
	"context"
	"fmt"
	"log"

	"github.com/aoki/jgrants-sync/internal/models"
)

// syncLockKey identifies the advisory lock serializing sync runs. One
// fixed key: only a single run may be in flight per database.
const syncLockKey int64 = 0x6a677266_73796e63 // "jgrfsync"

// AcquireSyncLock takes the session advisory lock guarding sync runs.
// It returns ErrRunInProgress without blocking when another run holds
// the lock. The returned release func must be called exactly once.
func (s *Store) AcquireSyncLock(ctx context.Context) (release func(), err error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire lock conn: %v", models.ErrStore, err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, syncLockKey).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("%w: try advisory lock: %v", models.ErrStore, err)
	}
	if !locked {
		conn.Release()
		return nil, models.ErrRunInProgress
	}

	release = func() {
		// Unlock on a background context so cancellation of the run
		// cannot leave the lock held for the life of the session.
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, syncLockKey); err != nil {
			log.Printf("[Store] advisory unlock failed: %v", err)
		}
		conn.Release()
	}
	return release, nil
}

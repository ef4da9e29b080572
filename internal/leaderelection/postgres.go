package leaderelection

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// unlockTimeout bounds the explicit unlock issued when leadership ends.
const unlockTimeout = 2 * time.Second

// PostgresLocker takes a session-scoped advisory lock on a dedicated connection.
// All instances sharing the database must use the same key.
type PostgresLocker struct {
	db  *sql.DB
	key int64
}

func NewPostgresLocker(db *sql.DB, key int64) *PostgresLocker {
	return &PostgresLocker{db: db, key: key}
}

func (l *PostgresLocker) TryLock(ctx context.Context) (Session, bool, error) {
	// Advisory lock is session-scoped: must use a dedicated connection.
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("dedicated connection: %w", err)
	}

	// Non-blocking lock attempt.
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("advisory lock query: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}
	return &pgSession{conn: conn, key: l.key}, true, nil
}

type pgSession struct {
	conn *sql.Conn
	key  int64
}

func (s *pgSession) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Close unlocks explicitly so a pooled connection cannot carry the lock.
func (s *pgSession) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()

	_, unlockErr := s.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", s.key)
	closeErr := s.conn.Close()
	if unlockErr != nil {
		return fmt.Errorf("advisory unlock: %w", unlockErr)
	}
	return closeErr
}

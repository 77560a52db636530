package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	// Advisory lock keeps gateway and worker from migrating concurrently.
	const lockID = 480213377

	var acquired bool
	err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !acquired {
		time.Sleep(2 * time.Second)
		return nil
	}
	defer func() {
		_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS soap_session_state (
			session_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT now(),
			PRIMARY KEY (session_id, key)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create session state table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, session string) (Values, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM soap_session_state WHERE session_id=$1`, session)
	if err != nil {
		return nil, fmt.Errorf("postgres load %s: %w", session, err)
	}
	v, err := scanValues(rows)
	if err != nil {
		return nil, err
	}
	if err := CheckVersion(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *PostgresStore) Update(ctx context.Context, session string, fn UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Serializes writers of the same session, including its first write.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, session); err != nil {
		return fmt.Errorf("lock session %s: %w", session, err)
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT key, value FROM soap_session_state WHERE session_id=$1 FOR UPDATE`, session)
	if err != nil {
		return err
	}
	current, err := scanValues(rows)
	if err != nil {
		return err
	}
	if err := CheckVersion(current); err != nil {
		return err
	}

	m, err := fn(current)
	if err != nil {
		return err
	}
	m = stamp(m)
	if m.Empty() {
		return nil
	}

	if len(m.Delete) > 0 {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM soap_session_state WHERE session_id=$1 AND key = ANY($2)`,
			session, pq.Array(m.Delete))
		if err != nil {
			return err
		}
	}
	for k, v := range m.Set {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO soap_session_state(session_id, key, value, updated_at)
			VALUES($1,$2,$3,now())
			ON CONFLICT (session_id, key) DO UPDATE SET value=excluded.value, updated_at=now()`,
			session, k, v)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanValues(rows *sql.Rows) (Values, error) {
	defer rows.Close()
	v := Values{}
	for rows.Next() {
		var k, val string
		if err := rows.Scan(&k, &val); err != nil {
			return nil, err
		}
		v[k] = val
	}
	return v, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/waketurn/internal/history"
)

var _ history.Store = (*Store)(nil)

// Store persists turn records in a turns table. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Record implements history.Store. Re-recording a turn ID replaces it.
func (s *Store) Record(ctx context.Context, r history.Record) error {
	const q = `
		INSERT INTO turns
		    (turn_id, started_at, duration_ns, user_text, reply_text, actions, outcome, error, stages)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (turn_id) DO UPDATE SET
		    started_at  = EXCLUDED.started_at,
		    duration_ns = EXCLUDED.duration_ns,
		    user_text   = EXCLUDED.user_text,
		    reply_text  = EXCLUDED.reply_text,
		    actions     = EXCLUDED.actions,
		    outcome     = EXCLUDED.outcome,
		    error       = EXCLUDED.error,
		    stages      = EXCLUDED.stages`

	actions, stages, err := encodeJSON(r)
	if err != nil {
		return fmt.Errorf("history store: encode: %w", err)
	}
	_, err = s.pool.Exec(ctx, q,
		r.TurnID,
		r.StartedAt,
		r.Duration.Nanoseconds(),
		r.UserText,
		r.ReplyText,
		actions,
		string(r.Outcome),
		r.Error,
		stages,
	)
	if err != nil {
		return fmt.Errorf("history store: record: %w", err)
	}
	return nil
}

// Recent implements history.Store.
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	q := selectColumns + "\nORDER  BY started_at DESC"
	args := []any{}
	if limit > 0 {
		q += "\nLIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history store: recent: %w", err)
	}
	return collectRecords(rows)
}

// Search implements history.Store with PostgreSQL full-text search over the
// user and reply text. The query goes through plainto_tsquery, so no
// operator syntax is needed.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]history.Record, error) {
	q := selectColumns + `
WHERE  to_tsvector('english', user_text || ' ' || reply_text) @@ plainto_tsquery('english', $1)
ORDER  BY started_at DESC`
	args := []any{query}
	if limit > 0 {
		q += "\nLIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history store: search: %w", err)
	}
	return collectRecords(rows)
}

const selectColumns = `SELECT turn_id, started_at, duration_ns, user_text, reply_text, actions, outcome, error, stages
FROM   turns`

func encodeJSON(r history.Record) (actions, stages []byte, err error) {
	if r.Actions == nil {
		r.Actions = []history.Action{}
	}
	if actions, err = json.Marshal(r.Actions); err != nil {
		return nil, nil, err
	}
	ns := make(map[string]int64, len(r.Stages))
	for k, v := range r.Stages {
		ns[k] = v.Nanoseconds()
	}
	if stages, err = json.Marshal(ns); err != nil {
		return nil, nil, err
	}
	return actions, stages, nil
}

func collectRecords(rows pgx.Rows) ([]history.Record, error) {
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Record, error) {
		var (
			r          history.Record
			durationNS int64
			outcome    string
			actions    []byte
			stages     []byte
		)
		if err := row.Scan(&r.TurnID, &r.StartedAt, &durationNS, &r.UserText, &r.ReplyText, &actions, &outcome, &r.Error, &stages); err != nil {
			return history.Record{}, err
		}
		r.Duration = time.Duration(durationNS)
		r.Outcome = history.Outcome(outcome)
		if err := json.Unmarshal(actions, &r.Actions); err != nil {
			return history.Record{}, fmt.Errorf("decode actions: %w", err)
		}
		var ns map[string]int64
		if err := json.Unmarshal(stages, &ns); err != nil {
			return history.Record{}, fmt.Errorf("decode stages: %w", err)
		}
		if len(ns) > 0 {
			r.Stages = make(map[string]time.Duration, len(ns))
			for k, v := range ns {
				r.Stages[k] = time.Duration(v)
			}
		}
		if len(r.Actions) == 0 {
			r.Actions = nil
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan rows: %w", err)
	}
	if records == nil {
		records = []history.Record{}
	}
	return records, nil
}

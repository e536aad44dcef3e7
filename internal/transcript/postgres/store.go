package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/asmcenter/voicecoach/internal/transcript"
)

var _ transcript.Sink = (*Store)(nil)

// Store writes transcript items to the transcript_items table. All methods
// are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, pings it and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Name implements [transcript.Sink].
func (s *Store) Name() string { return "postgres" }

// Write implements [transcript.Sink]. All items of one call are sent in a
// single batch and inserted in order.
func (s *Store) Write(ctx context.Context, sessionID string, items []transcript.Item) error {
	if len(items) == 0 {
		return nil
	}
	const q = `
		INSERT INTO transcript_items (session_id, role, text, timestamp)
		VALUES ($1, $2, $3, $4)`

	b := &pgx.Batch{}
	for _, it := range items {
		ts := it.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		b.Queue(q, sessionID, string(it.Role), it.Text, ts)
	}
	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("postgres store: write items: %w", err)
	}
	return nil
}

// List returns every item recorded for sessionID in commit order.
func (s *Store) List(ctx context.Context, sessionID string) ([]transcript.Item, error) {
	const q = `
		SELECT role, text, timestamp
		FROM   transcript_items
		WHERE  session_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	return collectItems(rows)
}

// Search runs a full-text query over all recorded items, newest sessions
// first. limit <= 0 means no limit.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]transcript.Item, error) {
	q := `
		SELECT role, text, timestamp
		FROM   transcript_items
		WHERE  to_tsvector('english', text) @@ plainto_tsquery('english', $1)
		ORDER  BY timestamp DESC, id DESC`
	args := []any{query}
	if limit > 0 {
		q += "\nLIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}
	return collectItems(rows)
}

// Ping reports whether the database is reachable. It backs the readiness
// check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [transcript.Sink].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func collectItems(rows pgx.Rows) ([]transcript.Item, error) {
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Item, error) {
		var (
			it   transcript.Item
			role string
		)
		if err := row.Scan(&role, &it.Text, &it.Timestamp); err != nil {
			return transcript.Item{}, err
		}
		it.Role = transcript.Role(role)
		return it, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if items == nil {
		items = []transcript.Item{}
	}
	return items, nil
}

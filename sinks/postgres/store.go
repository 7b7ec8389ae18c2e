// Package postgres persists pool events in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/defistate/defistate-clamm/protocols/clamm/pool"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS pool_events (
	pool_address TEXT        NOT NULL,
	seq          BIGINT      NOT NULL,
	kind         TEXT        NOT NULL,
	event_time   TIMESTAMPTZ NOT NULL,
	payload      JSONB       NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (pool_address, seq)
)`

const insertEvent = `
INSERT INTO pool_events (pool_address, seq, kind, event_time, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (pool_address, seq) DO NOTHING`

// Config controls how a Store writes.
type Config struct {
	DSN string
	// Attempts bounds the tries per batch; zero retries until Timeout.
	Attempts uint
	Delay    time.Duration
	// Timeout bounds one Publish call including retries.
	Timeout time.Duration
	Logger  pool.Logger
}

func (c *Config) validate() error {
	if c.DSN == "" {
		return errors.New("config: pg dsn is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Attempts == 0 && c.Timeout <= 0 {
		return errors.New("config: unbounded attempts need a Timeout")
	}
	return nil
}

// Store writes pool events in batches. Rows are keyed by pool and sequence
// number, so a retried batch never duplicates events.
type Store struct {
	pool     *pgxpool.Pool
	logger   pool.Logger
	attempts uint
	delay    time.Duration
	timeout  time.Duration
}

func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Store{
		pool:     p,
		logger:   cfg.Logger,
		attempts: cfg.Attempts,
		delay:    cfg.Delay,
		timeout:  cfg.Timeout,
	}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the events table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

type row struct {
	pool    string
	seq     int64
	kind    string
	time    time.Time
	payload []byte
}

func rows(events []pool.Envelope) ([]row, error) {
	out := make([]row, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(e.Event)
		if err != nil {
			return nil, fmt.Errorf("marshal %s event %d: %w", e.Kind, e.Seq, err)
		}
		out = append(out, row{
			pool:    e.Pool.Hex(),
			seq:     int64(e.Seq),
			kind:    string(e.Kind),
			time:    e.Time,
			payload: payload,
		})
	}
	return out, nil
}

// PutEvents inserts events in one batch, retrying failed batches.
func (s *Store) PutEvents(ctx context.Context, events []pool.Envelope) error {
	if len(events) == 0 {
		return nil
	}
	rs, err := rows(events)
	if err != nil {
		return err
	}

	return retry.Do(
		func() error { return s.sendBatch(ctx, rs) },
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("retrying event batch", "attempt", n+1, "events", len(rs), "error", err)
		}),
	)
}

func (s *Store) sendBatch(ctx context.Context, rs []row) error {
	batch := &pgx.Batch{}
	for _, r := range rs {
		batch.Queue(insertEvent, r.pool, r.seq, r.kind, r.time, r.payload)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range rs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Publish implements pool.EventSink.
func (s *Store) Publish(events []pool.Envelope) error {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.PutEvents(ctx, events)
}

// Count returns the number of stored events of a pool.
func (s *Store) Count(ctx context.Context, poolAddress string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM pool_events WHERE pool_address = $1`, poolAddress).Scan(&n)
	return n, err
}

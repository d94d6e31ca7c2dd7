// Package postgres writes measurement records with the COPY protocol over a
// single connection, one transaction per batch.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/vtt-scp/ccom-logger/internal/logging"
	"github.com/vtt-scp/ccom-logger/internal/record"
	"github.com/vtt-scp/ccom-logger/sink"
)

const SinkName = "postgres"

// conn is the subset of *pgx.Conn the store uses.
type conn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Close(ctx context.Context) error
	IsClosed() bool
}

type Store struct {
	cfg   Config
	table pgx.Identifier
	log   *slog.Logger

	connect func(ctx context.Context, connString string) (conn, error)
	conn    conn
	tx      pgx.Tx // open between a successful Copy and the next Commit
}

func New() *Store {
	return &Store{
		connect: func(ctx context.Context, s string) (conn, error) { return pgx.Connect(ctx, s) },
		log:     logging.Component("postgres"),
	}
}

func (s *Store) Configure(ctx context.Context, raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("postgres-sink: expected Config, got %T", raw)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	s.cfg = c
	s.table = pgx.Identifier(strings.Split(c.Table, "."))
	return s.dial(ctx)
}

func (s *Store) dial(ctx context.Context) error {
	if d := s.cfg.ConnectTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	cn, err := s.connect(ctx, s.cfg.ConnString())
	if err != nil {
		return fmt.Errorf("postgres: connect: %w", err)
	}
	s.conn = cn
	s.log.Info("connected to database", "host", s.cfg.Host, "database", s.cfg.Name, "table", s.cfg.Table)
	return nil
}

// Copy streams recs into the table inside the current transaction, opening
// one if needed. pgx closes the connection after a failed commit or a broken
// COPY, so a closed connection is redialled before the transaction begins.
// On any error the transaction is rolled back.
func (s *Store) Copy(ctx context.Context, recs []record.Record) (int64, error) {
	if s.conn == nil {
		return 0, fmt.Errorf("postgres: Copy before Configure")
	}
	if len(recs) == 0 {
		return 0, nil
	}
	if s.tx == nil {
		if s.conn.IsClosed() {
			s.log.Warn("database connection lost; reconnecting")
			if err := s.dial(ctx); err != nil {
				return 0, err
			}
		}
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return 0, fmt.Errorf("postgres: begin: %w", err)
		}
		s.tx = tx
	}

	n, err := s.tx.CopyFrom(ctx, s.table, record.Columns,
		pgx.CopyFromSlice(len(recs), func(i int) ([]any, error) {
			return recs[i].Row(), nil
		}),
	)
	if err != nil {
		s.rollback(ctx)
		return 0, fmt.Errorf("copying %d records: %w", len(recs), err)
	}
	if n != int64(len(recs)) {
		s.rollback(ctx)
		return n, fmt.Errorf("only %d out of %d rows were copied", n, len(recs))
	}
	return n, nil
}

// Commit commits the open transaction. With nothing staged it is a no-op.
func (s *Store) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *Store) rollback(ctx context.Context) {
	if s.tx == nil {
		return
	}
	if err := s.tx.Rollback(ctx); err != nil {
		s.log.Warn("rollback failed", "err", err)
	}
	s.tx = nil
}

// Close rolls back uncommitted rows and closes the connection.
func (s *Store) Close(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	s.rollback(ctx)
	err := s.conn.Close(ctx)
	s.conn = nil
	if err != nil {
		return fmt.Errorf("postgres: close: %w", err)
	}
	s.log.Info("database connection closed")
	return nil
}

func init() {
	sink.Register(SinkName, func() sink.Adapter { return New() })
}

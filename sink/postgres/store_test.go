package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vtt-scp/ccom-logger/internal/record"
)

type fakeTx struct {
	pgx.Tx
	copyErr    error
	commitErr  error
	short      bool
	table      pgx.Identifier
	columns    []string
	rows       [][]any
	committed  bool
	rolledBack bool
}

func (tx *fakeTx) CopyFrom(_ context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	if tx.copyErr != nil {
		return 0, tx.copyErr
	}
	tx.table, tx.columns = table, cols
	for src.Next() {
		v, err := src.Values()
		if err != nil {
			return 0, err
		}
		tx.rows = append(tx.rows, v)
	}
	n := int64(len(tx.rows))
	if tx.short {
		n--
	}
	return n, src.Err()
}

func (tx *fakeTx) Commit(context.Context) error {
	if tx.commitErr != nil {
		return tx.commitErr
	}
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	tx.rolledBack = true
	return nil
}

type fakeConn struct {
	txs    []*fakeTx
	next   func() *fakeTx
	closed bool
}

func (c *fakeConn) Begin(context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	if c.next != nil {
		tx = c.next()
	}
	c.txs = append(c.txs, tx)
	return tx, nil
}

func (c *fakeConn) Close(context.Context) error {
	c.closed = true
	return nil
}

func (c *fakeConn) IsClosed() bool { return c.closed }

func newTestStore(t *testing.T, fc *fakeConn) *Store {
	t.Helper()
	s := New()
	var gotConnString string
	s.connect = func(_ context.Context, cs string) (conn, error) {
		gotConnString = cs
		return fc, nil
	}
	cfg := defaults()
	cfg.Host, cfg.Name, cfg.User, cfg.Password = "db", "ccom", "logger", "secret"
	if err := s.Configure(context.Background(), cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if gotConnString != "postgres://logger:secret@db:5600/ccom" {
		t.Fatalf("unexpected conn string %q", gotConnString)
	}
	return s
}

func testRecords(n int) []record.Record {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	loc := uuid.New()
	out := make([]record.Record, n)
	for i := range out {
		out[i] = record.New(ts.Add(time.Duration(i)*time.Second), uuid.New(), loc, []byte(`{"v":1}`))
	}
	return out
}

func TestStore_CopyThenCommit(t *testing.T) {
	fc := &fakeConn{}
	s := newTestStore(t, fc)
	recs := testRecords(3)

	n, err := s.Copy(context.Background(), recs)
	if err != nil || n != 3 {
		t.Fatalf("Copy: n=%d err=%v", n, err)
	}
	if err := s.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(fc.txs) != 1 || !fc.txs[0].committed {
		t.Fatalf("expected one committed tx, got %+v", fc.txs)
	}
	tx := fc.txs[0]
	if len(tx.table) != 1 || tx.table[0] != DefaultTable {
		t.Fatalf("unexpected table %v", tx.table)
	}
	if len(tx.columns) != 5 || tx.columns[1] != "UUID" {
		t.Fatalf("unexpected columns %v", tx.columns)
	}
	if tx.rows[2][1] != recs[2].MeasurementID() || tx.rows[0][0] != tx.rows[0][2] {
		t.Fatalf("unexpected row %v", tx.rows[2])
	}

	// nothing staged
	if err := s.Commit(context.Background()); err != nil {
		t.Fatalf("empty Commit: %v", err)
	}
}

func TestStore_CopyFailureRollsBack(t *testing.T) {
	fc := &fakeConn{next: func() *fakeTx { return &fakeTx{copyErr: errors.New("conn reset")} }}
	s := newTestStore(t, fc)

	if _, err := s.Copy(context.Background(), testRecords(2)); err == nil {
		t.Fatal("expected copy error")
	}
	if !fc.txs[0].rolledBack || fc.txs[0].committed {
		t.Fatalf("expected rollback, got %+v", fc.txs[0])
	}

	fc.next = nil
	if _, err := s.Copy(context.Background(), testRecords(2)); err != nil {
		t.Fatalf("retry Copy: %v", err)
	}
	if len(fc.txs) != 2 {
		t.Fatalf("expected a fresh transaction for the retry, got %d", len(fc.txs))
	}
}

func TestStore_ShortCopyRollsBack(t *testing.T) {
	fc := &fakeConn{next: func() *fakeTx { return &fakeTx{short: true} }}
	s := newTestStore(t, fc)
	if _, err := s.Copy(context.Background(), testRecords(4)); err == nil {
		t.Fatal("expected row count error")
	}
	if !fc.txs[0].rolledBack {
		t.Fatal("expected rollback")
	}
}

func TestStore_ReconnectsAfterFailedCommit(t *testing.T) {
	dead := &fakeConn{}
	dead.next = func() *fakeTx {
		return &fakeTx{commitErr: errors.New("unexpected EOF")}
	}
	fresh := &fakeConn{}
	conns := []*fakeConn{dead, fresh}

	s := New()
	s.connect = func(context.Context, string) (conn, error) {
		c := conns[0]
		conns = conns[1:]
		return c, nil
	}
	cfg := defaults()
	cfg.Host = "db"
	if err := s.Configure(context.Background(), cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	recs := testRecords(2)
	if _, err := s.Copy(context.Background(), recs); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if err := s.Commit(context.Background()); err == nil {
		t.Fatal("expected commit error")
	}
	dead.closed = true

	if _, err := s.Copy(context.Background(), recs); err != nil {
		t.Fatalf("retry Copy: %v", err)
	}
	if err := s.Commit(context.Background()); err != nil {
		t.Fatalf("retry Commit: %v", err)
	}
	if len(conns) != 0 {
		t.Fatal("expected a second connection")
	}
	if len(dead.txs) != 1 || len(fresh.txs) != 1 || !fresh.txs[0].committed {
		t.Fatalf("expected the retry on the new connection, dead=%d fresh=%+v", len(dead.txs), fresh.txs)
	}
}

func TestStore_ReconnectFailureIsReturned(t *testing.T) {
	fc := &fakeConn{}
	s := newTestStore(t, fc)
	fc.closed = true
	s.connect = func(context.Context, string) (conn, error) { return nil, errors.New("connection refused") }
	if _, err := s.Copy(context.Background(), testRecords(1)); err == nil {
		t.Fatal("expected connect error")
	}
	if len(fc.txs) != 0 {
		t.Fatal("expected no transaction on the closed connection")
	}
}

func TestStore_CloseRollsBackUncommitted(t *testing.T) {
	fc := &fakeConn{}
	s := newTestStore(t, fc)
	if _, err := s.Copy(context.Background(), testRecords(1)); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fc.txs[0].rolledBack || !fc.closed {
		t.Fatalf("expected rollback and close, got tx=%+v closed=%v", fc.txs[0], fc.closed)
	}
	if _, err := s.Copy(context.Background(), testRecords(1)); err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestStore_ConfigureErrors(t *testing.T) {
	s := New()
	if err := s.Configure(context.Background(), "nope"); err == nil {
		t.Fatal("expected type error")
	}
	if err := s.Configure(context.Background(), defaults()); err == nil {
		t.Fatal("expected missing host error")
	}
	s.connect = func(context.Context, string) (conn, error) { return nil, errors.New("refused") }
	cfg := defaults()
	cfg.Host = "db"
	if err := s.Configure(context.Background(), cfg); err == nil {
		t.Fatal("expected connect error")
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("DATABASE_HOST", "timescale")
	t.Setenv("DATABASE_NAME", "ccom")
	t.Setenv("DATABASE_USER", "writer")
	t.Setenv("DATABASE_PASSWORD", "pw")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Host != "timescale" || cfg.Port != 5600 || cfg.Table != DefaultTable || cfg.User != "writer" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestConfig_URLWins(t *testing.T) {
	c := defaults()
	c.URL = "postgres://u@elsewhere/x"
	c.Host = "ignored"
	if c.ConnString() != c.URL {
		t.Fatalf("expected url to win, got %s", c.ConnString())
	}
}

// Runs against a real database when CCOM_TEST_DATABASE_URL is set. The target
// table must already exist.
func TestStore_Integration(t *testing.T) {
	dsn := os.Getenv("CCOM_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CCOM_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s := New()
	cfg := defaults()
	cfg.URL = dsn
	if err := s.Configure(ctx, cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	defer s.Close(ctx)

	n, err := s.Copy(ctx, testRecords(5))
	if err != nil || n != 5 {
		t.Fatalf("Copy: n=%d err=%v", n, err)
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

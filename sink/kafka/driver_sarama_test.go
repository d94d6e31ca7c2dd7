package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"

	"github.com/vtt-scp/ccom-logger/internal/record"
)

func newMockedDriver(t *testing.T) (*driver, *mocks.SyncProducer) {
	t.Helper()
	mp := mocks.NewSyncProducer(t, sarama.NewConfig())
	d := newDriver()
	d.newProducer = func([]string, *sarama.Config) (sarama.SyncProducer, error) { return mp, nil }
	if err := d.Configure(context.Background(), Config{Brokers: []string{"k:9092"}, Topic: "ccom.records", Acks: -1, Version: "2.8.0"}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return d, mp
}

func TestDriver_CommitSendsStagedRecords(t *testing.T) {
	d, mp := newMockedDriver(t)
	id := uuid.New()
	rec := record.New(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), id, uuid.New(), []byte(`{"t":21.5}`))

	mp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(b []byte) error {
		var v value
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		if v.MeasurementID != id.String() || string(v.Data) != `{"t":21.5}` {
			return fmt.Errorf("unexpected value %s", b)
		}
		return nil
	})
	mp.ExpectSendMessageAndSucceed()

	n, err := d.Copy(context.Background(), []record.Record{rec, rec})
	if err != nil || n != 2 {
		t.Fatalf("Copy: n=%d err=%v", n, err)
	}
	if err := d.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDriver_CommitFailureClearsStaged(t *testing.T) {
	d, mp := newMockedDriver(t)
	rec := record.New(time.Now(), uuid.New(), uuid.New(), []byte(`1`))

	mp.ExpectSendMessageAndFail(sarama.ErrNotEnoughReplicas)
	if _, err := d.Copy(context.Background(), []record.Record{rec}); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if err := d.Commit(context.Background()); err == nil {
		t.Fatal("expected commit error")
	}
	if len(d.pending) != 0 {
		t.Fatalf("expected staged messages cleared, got %d", len(d.pending))
	}
	// nothing staged, nothing sent
	if err := d.Commit(context.Background()); err != nil {
		t.Fatalf("empty Commit: %v", err)
	}
	_ = d.Close(context.Background())
}

func TestDriver_ConfigureErrors(t *testing.T) {
	d := newDriver()
	if err := d.Configure(context.Background(), "x"); err == nil {
		t.Fatal("expected type error")
	}
	if err := d.Configure(context.Background(), Config{Topic: "t"}); err == nil {
		t.Fatal("expected missing brokers error")
	}
	d.newProducer = func([]string, *sarama.Config) (sarama.SyncProducer, error) {
		return nil, errors.New("no brokers reachable")
	}
	if err := d.Configure(context.Background(), Config{Brokers: []string{"k:1"}, Topic: "t", Version: "2.8.0"}); err == nil {
		t.Fatal("expected producer error")
	}
	if _, err := newDriver().Copy(context.Background(), nil); err == nil {
		t.Fatal("expected Copy before Configure error")
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("CCOM_KAFKA_SINK__BROKERS", "k1:9092")
	t.Setenv("CCOM_KAFKA_SINK__TOPIC", "ccom.records")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Brokers) != 1 || cfg.Brokers[0] != "k1:9092" || cfg.Acks != -1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

// Package kafka republishes committed measurement records to a Kafka topic,
// one message per record keyed by measurement UUID.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vtt-scp/ccom-logger/internal/record"
	"github.com/vtt-scp/ccom-logger/sink"
)

const SinkName = "kafka"

type value struct {
	Time          time.Time       `json:"time"`
	MeasurementID string          `json:"uuid"`
	LocationID    string          `json:"measurement_location_id"`
	Data          json.RawMessage `json:"data"`
}

type driver struct {
	cfg     Config
	p       sarama.SyncProducer
	pending []*sarama.ProducerMessage

	newProducer func([]string, *sarama.Config) (sarama.SyncProducer, error)
}

func newDriver() *driver { return &driver{newProducer: sarama.NewSyncProducer} }

func (d *driver) Configure(_ context.Context, c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: expected Config, got %T", c)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.cfg = cfg

	ver, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = "ccom-logger"
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Successes = true
	d.p, err = d.newProducer(cfg.Brokers, sc)
	return err
}

// Copy encodes recs and stages them until Commit.
func (d *driver) Copy(_ context.Context, recs []record.Record) (int64, error) {
	if d.p == nil {
		return 0, errors.New("kafka-sink: Copy before Configure")
	}
	for _, r := range recs {
		b, err := json.Marshal(value{
			Time:          r.Timestamp(),
			MeasurementID: r.MeasurementID().String(),
			LocationID:    r.LocationID().String(),
			Data:          r.Payload(),
		})
		if err != nil {
			d.pending = nil
			return 0, err
		}
		d.pending = append(d.pending, &sarama.ProducerMessage{
			Topic:     d.cfg.Topic,
			Key:       sarama.StringEncoder(r.MeasurementID().String()),
			Value:     sarama.ByteEncoder(b),
			Timestamp: r.Timestamp(),
		})
	}
	return int64(len(recs)), nil
}

// Commit sends the staged messages in one request. The staged set is
// cleared either way, so a retry starts from a fresh Copy.
func (d *driver) Commit(context.Context) error {
	if len(d.pending) == 0 {
		return nil
	}
	msgs := d.pending
	d.pending = nil
	if err := d.p.SendMessages(msgs); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) {
			return fmt.Errorf("kafka-sink: %d of %d messages failed: %w", len(perrs), len(msgs), perrs[0].Err)
		}
		return err
	}
	return nil
}

func (d *driver) Close(context.Context) error {
	d.pending = nil
	if d.p == nil {
		return nil
	}
	p := d.p
	d.p = nil
	return p.Close()
}

func init() { sink.Register(SinkName, func() sink.Adapter { return newDriver() }) }

package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/vtt-scp/ccom-logger/internal/logging"
	"github.com/vtt-scp/ccom-logger/source"
)

const DriverName = "sarama"

// SaramaDriver consumes the configured topics as one consumer group. An
// offset is marked only after its message was handed to the ingestion
// handler, so messages rejected during shutdown are redelivered on the next
// start.
type SaramaDriver struct {
	cfg   Config
	cl    sarama.Client
	group sarama.ConsumerGroup
	log   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running chan struct{} // closed when Run returns

	closeOnce sync.Once
	closeErr  error
}

func (d *SaramaDriver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("kafka: expected Config, got %T", raw)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	d.cfg = c
	d.log = logging.Component("kafka")

	ver, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = "ccom-logger"
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = true
	sc.Consumer.Offsets.AutoCommit.Interval = c.CommitInterval
	if c.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if c.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = c.SASLUser, c.SASLPass
	}
	switch c.StartFrom {
	case "oldest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	if d.cl, err = sarama.NewClient(c.Brokers, sc); err != nil {
		return err
	}
	d.group, err = sarama.NewConsumerGroupFromClient(c.GroupID, d.cl)
	return err
}

func (d *SaramaDriver) Run(ctx context.Context, emit source.EmitFunc) error {
	if d.group == nil {
		return errors.New("kafka: Run before Configure")
	}
	ctx, cancel := context.WithCancel(ctx)
	running := make(chan struct{})
	d.mu.Lock()
	d.cancel, d.running = cancel, running
	d.mu.Unlock()
	defer close(running)
	defer cancel()

	go d.logErrors(ctx)

	handler := &groupHandler{emit: emit, log: d.log}
	for {
		if err := d.group.Consume(ctx, d.cfg.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (d *SaramaDriver) logErrors(ctx context.Context) {
	for {
		select {
		case err, ok := <-d.group.Errors():
			if !ok {
				return
			}
			d.log.Warn("consumer group error", "err", err)
		case <-ctx.Done():
			return
		}
	}
}

// Close stops consumption, waits for the claim loops to exit, then closes
// the group (committing marked offsets) and the client.
func (d *SaramaDriver) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		cancel, running := d.cancel, d.running
		d.mu.Unlock()
		if cancel != nil {
			cancel()
			<-running
		}
		if d.group != nil {
			if err := d.group.Close(); err != nil {
				d.closeErr = err
			}
		}
		if d.cl != nil && !d.cl.Closed() {
			if err := d.cl.Close(); err != nil && d.closeErr == nil {
				d.closeErr = err
			}
		}
	})
	return d.closeErr
}

type groupHandler struct {
	emit source.EmitFunc
	log  *slog.Logger
}

func (*groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (*groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			m := source.Message{Topic: msg.Topic, Payload: msg.Value, Received: msg.Timestamp}
			if err := h.emit(m); err != nil {
				h.log.Warn("message not ingested; offset left unmarked",
					"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
				return nil
			}
			sess.MarkMessage(msg, "")
		}
	}
}

func init() {
	source.Register(DriverName, func() source.Adapter { return &SaramaDriver{} })
}

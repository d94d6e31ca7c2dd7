// Package mqtt is the paho-based broker driver. It subscribes once per
// connection (so a reconnect resubscribes) and delivers messages in order on
// paho's router goroutine.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/vtt-scp/ccom-logger/internal/logging"
	"github.com/vtt-scp/ccom-logger/source"
)

const DriverName = "paho"

type Driver struct {
	cfg    Config
	client paho.Client
	log    *slog.Logger

	newClient func(*paho.ClientOptions) paho.Client

	mu     sync.RWMutex // held for reading while a message is being emitted
	emit   source.EmitFunc
	closed bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func New() *Driver {
	return &Driver{
		newClient: paho.NewClient,
		log:       logging.Component("mqtt"),
		done:      make(chan struct{}),
	}
}

func (d *Driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("mqtt: expected Config, got %T", raw)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	d.cfg = c

	opts := paho.NewClientOptions().
		AddBroker(c.BrokerURL()).
		SetClientID(c.ClientID).
		SetCleanSession(c.CleanSession).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetKeepAlive(c.KeepAlive).
		SetConnectTimeout(c.ConnectTimeout).
		SetOnConnectHandler(d.onConnect).
		SetConnectionLostHandler(d.onConnectionLost)
	if c.Username != "" {
		opts.SetUsername(c.Username)
		opts.SetPassword(c.Password)
	}
	d.client = d.newClient(opts)
	return nil
}

// Run connects and blocks until ctx is done or Close is called.
func (d *Driver) Run(ctx context.Context, emit source.EmitFunc) error {
	if d.client == nil {
		return errors.New("mqtt: Run before Configure")
	}
	d.mu.Lock()
	d.emit = emit
	d.mu.Unlock()

	tok := d.client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return nil
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt: connect %s: %w", d.cfg.BrokerURL(), err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return nil
	}
}

func (d *Driver) onConnect(c paho.Client) {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return
	}

	d.log.Info("connected to broker", "broker", d.cfg.BrokerURL(), "client_id", d.cfg.ClientID)
	tok := c.Subscribe(d.cfg.Topic, byte(d.cfg.QoS), d.onMessage)
	if !tok.WaitTimeout(d.cfg.ConnectTimeout) {
		d.log.Error("subscribe timed out", "topic", d.cfg.Topic)
		return
	}
	if err := tok.Error(); err != nil {
		d.log.Error("subscribe failed", "topic", d.cfg.Topic, "err", err)
		return
	}
	d.log.Info("subscribed", "topic", d.cfg.Topic, "qos", d.cfg.QoS)
}

func (d *Driver) onConnectionLost(_ paho.Client, err error) {
	d.log.Warn("connection lost; reconnecting", "err", err)
}

func (d *Driver) onMessage(_ paho.Client, m paho.Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || d.emit == nil {
		return
	}
	msg := source.Message{Topic: m.Topic(), Payload: m.Payload(), Received: time.Now()}
	if err := d.emit(msg); err != nil {
		d.log.Warn("message not ingested", "topic", msg.Topic, "err", err)
	}
}

// Close unsubscribes, waits for an in-flight delivery to finish, and
// disconnects.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		if d.client != nil && d.client.IsConnectionOpen() {
			tok := d.client.Unsubscribe(d.cfg.Topic)
			if !tok.WaitTimeout(d.cfg.ConnectTimeout) {
				d.closeErr = fmt.Errorf("mqtt: unsubscribe %q timed out", d.cfg.Topic)
			} else if err := tok.Error(); err != nil {
				d.closeErr = fmt.Errorf("mqtt: unsubscribe %q: %w", d.cfg.Topic, err)
			}
		}

		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		if d.client != nil {
			d.client.Disconnect(uint(d.cfg.Quiesce / time.Millisecond))
			d.log.Info("disconnected from broker", "broker", d.cfg.BrokerURL())
		}
		close(d.done)
	})
	return d.closeErr
}

func init() {
	source.Register(DriverName, func() source.Adapter { return New() })
}

package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/vtt-scp/ccom-logger/source"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type fakeMessage struct {
	paho.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

// fakeClient embeds paho.Client so only the methods the driver uses need
// implementing.
type fakeClient struct {
	paho.Client
	opts *paho.ClientOptions

	mu           sync.Mutex
	connectErr   error
	subscribed   map[string]byte
	handler      paho.MessageHandler
	unsubscribed []string
	disconnected bool
}

func (c *fakeClient) Connect() paho.Token {
	if c.connectErr == nil && c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
	return doneToken{err: c.connectErr}
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed == nil {
		c.subscribed = map[string]byte{}
	}
	c.subscribed[topic] = qos
	c.handler = cb
	return doneToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) IsConnectionOpen() bool { return true }

func (c *fakeClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h(c, fakeMessage{topic: topic, payload: payload})
}

func newTestDriver(t *testing.T, fc *fakeClient) *Driver {
	t.Helper()
	d := New()
	d.newClient = func(o *paho.ClientOptions) paho.Client {
		fc.opts = o
		return fc
	}
	cfg := defaults()
	cfg.BrokerHost = "broker.local"
	cfg.ClientID = "ccom-test"
	if err := d.Configure(cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return d
}

func TestDriver_SubscribesWildcardAtQoS2AndEmits(t *testing.T) {
	fc := &fakeClient{}
	d := newTestDriver(t, fc)

	var mu sync.Mutex
	var got []source.Message
	runErr := make(chan error, 1)
	go func() {
		runErr <- d.Run(context.Background(), func(m source.Message) error {
			mu.Lock()
			got = append(got, m)
			mu.Unlock()
			return nil
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		fc.mu.Lock()
		qos, ok := fc.subscribed["#"]
		fc.mu.Unlock()
		if ok {
			if qos != 2 {
				t.Fatalf("expected qos 2, got %d", qos)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("driver never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if fc.opts.ClientID != "ccom-test" || fc.opts.Servers[0].String() != "tcp://broker.local:1883" {
		t.Fatalf("unexpected client options: %s %v", fc.opts.ClientID, fc.opts.Servers)
	}

	fc.deliver("plant/line1", []byte(`{"a":1}`))
	fc.deliver("plant/line2", []byte(`{"b":2}`))

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	fc.deliver("plant/late", []byte(`{}`))

	if err := <-runErr; err != nil {
		t.Fatalf("Run: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0].Topic != "plant/line1" || got[1].Topic != "plant/line2" {
		t.Fatalf("unexpected messages: %+v", got)
	}
	if len(fc.unsubscribed) != 1 || fc.unsubscribed[0] != "#" || !fc.disconnected {
		t.Fatalf("expected unsubscribe then disconnect, got %v disconnected=%v", fc.unsubscribed, fc.disconnected)
	}
}

func TestDriver_ConnectError(t *testing.T) {
	fc := &fakeClient{connectErr: errors.New("refused")}
	d := newTestDriver(t, fc)
	if err := d.Run(context.Background(), func(source.Message) error { return nil }); err == nil {
		t.Fatal("expected connect error")
	}
}

func TestDriver_ConfigureRejectsWrongType(t *testing.T) {
	if err := New().Configure("nope"); err == nil {
		t.Fatal("expected type error")
	}
}

func TestConfig_ValidateAndURL(t *testing.T) {
	c := defaults()
	if err := c.Validate(); err == nil {
		t.Fatal("expected missing broker_host error")
	}
	c.BrokerHost = "ssl://broker:8883"
	if c.BrokerURL() != "ssl://broker:8883" {
		t.Fatalf("unexpected url %s", c.BrokerURL())
	}
	c.QoS = 3
	if err := c.Validate(); err == nil {
		t.Fatal("expected qos error")
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("MQTT_BROKER_HOST", "mosquitto")
	t.Setenv("MQTT_BROKER_PORT", "1884")
	t.Setenv("MQTT_CLIENT_ID", "bridge-1")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BrokerHost != "mosquitto" || cfg.BrokerPort != 1884 || cfg.ClientID != "bridge-1" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Topic != "#" || cfg.QoS != 2 {
		t.Fatalf("expected wildcard topic at qos 2, got %q/%d", cfg.Topic, cfg.QoS)
	}
}

package mqttctrl

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/tanksim/internal/testutil"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeToken struct {
	err  error
	done chan struct{}
}

func (t fakeToken) Done() <-chan struct{} {
	if t.done == nil {
		t.done = make(chan struct{})
		close(t.done)
	}
	return t.done
}

func (t fakeToken) Wait() bool                       { return true }
func (t fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t fakeToken) Error() error                     { return t.err }

type publishCall struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

type fakeClient struct {
	mu        sync.Mutex
	publishes []publishCall
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() mqtt.Token    { return fakeToken{} }
func (c *fakeClient) Disconnect(_ uint)      {}
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = append([]byte(nil), v...)
	case string:
		b = []byte(v)
	default:
		tmp, _ := json.Marshal(v)
		b = tmp
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishes = append(c.publishes, publishCall{
		topic: topic, qos: qos, retain: retained, payload: b,
	})
	return fakeToken{}
}
func (c *fakeClient) Subscribe(_ string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}
func (c *fakeClient) SubscribeMultiple(_ map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}
func (c *fakeClient) Unsubscribe(_ ...string) mqtt.Token       { return fakeToken{} }
func (c *fakeClient) AddRoute(_ string, _ mqtt.MessageHandler) {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader  { return mqtt.ClientOptionsReader{} }

func (c *fakeClient) published(topic string) []publishCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []publishCall
	for _, p := range c.publishes {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// ---- tests ----

func TestNewDefaults(t *testing.T) {
	svc := testutil.NewFakeSimulationService()
	c, err := New(svc, Config{Instance: "plant1"})
	if err != nil {
		t.Fatal(err)
	}

	if c.cfg.BrokerURL != "tcp://localhost:1883" {
		t.Fatalf("expected default BrokerURL, got %q", c.cfg.BrokerURL)
	}
	if c.cfg.BaseTopic != "tanksim/plant1" {
		t.Fatalf("expected default BaseTopic, got %q", c.cfg.BaseTopic)
	}
	if c.cfg.ClientID != "tanksim-plant1" {
		t.Fatalf("expected default ClientID, got %q", c.cfg.ClientID)
	}
	if c.cfg.PublishInterval != 1*time.Second {
		t.Fatalf("expected default PublishInterval, got %v", c.cfg.PublishInterval)
	}
	if cap(c.runs) != 4 {
		t.Fatalf("expected default queue of 4, got %d", cap(c.runs))
	}

	c, err = New(svc, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if c.cfg.BaseTopic != "tanksim/default" {
		t.Fatalf("expected default instance topic, got %q", c.cfg.BaseTopic)
	}
}

func TestNewValidation(t *testing.T) {
	svc := testutil.NewFakeSimulationService()
	if _, err := New(svc, Config{QoS: 2}); err == nil {
		t.Fatal("expected error when QoS > 1")
	}
}

func TestTopicJoin(t *testing.T) {
	svc := testutil.NewFakeSimulationService()
	c, err := New(svc, Config{BaseTopic: "tanksim/plant1/"})
	if err != nil {
		t.Fatal(err)
	}
	if got := c.topic("result"); got != "tanksim/plant1/result" {
		t.Fatalf("expected topic without double slashes, got %q", got)
	}
}

func TestDecodeStrict(t *testing.T) {
	type req struct {
		DHW bool `json:"dhw"`
	}
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"dhw": true}`, false},
		{"empty object", `{}`, false},
		{"unknown field rejected", `{"dhw":true,"extra":1}`, true},
		{"invalid json", `{"dhw":`, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeStrict[req]([]byte(tc.payload))
			if (err != nil) != tc.wantErr {
				t.Fatalf("wantErr=%v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestOnMessage_QueuesRun(t *testing.T) {
	svc := testutil.NewFakeSimulationService()
	c, _ := New(svc, Config{Instance: "plant1"})

	c.onMessage(nil, fakeMessage{
		topic:   "tanksim/plant1/run",
		payload: []byte(`{"dhw":true,"seed":3,"overrides":[{"category":"hot_water_tank","name":"mass_of_water","value":150}]}`),
	})

	select {
	case req := <-c.runs:
		if !req.DHW || req.Seed == nil || *req.Seed != 3 || len(req.Overrides) != 1 {
			t.Fatalf("unexpected request %+v", req)
		}
	default:
		t.Fatal("expected a queued run request")
	}
}

func TestOnMessage_Ignored(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		body  string
	}{
		{"wrong prefix", "otherprefix/run", `{}`},
		{"wrong suffix", "tanksim/plant1/sweep", `{}`},
		{"unknown field", "tanksim/plant1/run", `{"turbo":true}`},
		{"invalid json", "tanksim/plant1/run", `{`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := testutil.NewFakeSimulationService()
			c, _ := New(svc, Config{Instance: "plant1"})
			c.onMessage(nil, fakeMessage{topic: tc.topic, payload: []byte(tc.body)})
			if len(c.runs) != 0 {
				t.Fatal("expected nothing queued")
			}
		})
	}
}

func TestOnMessage_DropsWhenFull(t *testing.T) {
	svc := testutil.NewFakeSimulationService()
	c, _ := New(svc, Config{Instance: "plant1", QueueSize: 1})

	for range 3 {
		c.onMessage(nil, fakeMessage{topic: "tanksim/plant1/run", payload: []byte(`{}`)})
	}
	if len(c.runs) != 1 {
		t.Fatalf("expected 1 queued request, got %d", len(c.runs))
	}
}

func TestPublishLatest_OnlyOnChange(t *testing.T) {
	svc := testutil.NewFakeSimulationService()
	c, _ := New(svc, Config{Instance: "plant1", QoS: 1, RetainResult: true})
	fc := &fakeClient{}
	c.client = fc

	if _, ok := c.publishLatest(""); ok {
		t.Fatal("expected nothing published before the first run")
	}

	svc.SetLatest(testutil.FakeResult("abc", 55))
	id, ok := c.publishLatest("")
	if !ok || id != "abc" {
		t.Fatalf("expected abc published, got %q %v", id, ok)
	}
	if _, ok := c.publishLatest("abc"); ok {
		t.Fatal("expected unchanged result not republished")
	}

	pubs := fc.published("tanksim/plant1/result")
	if len(pubs) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pubs))
	}
	p := pubs[0]
	if p.qos != 1 || p.retain != true {
		t.Fatalf("expected qos=1 retain=true, got qos=%d retain=%v", p.qos, p.retain)
	}
	var got map[string]any
	if err := json.Unmarshal(p.payload, &got); err != nil {
		t.Fatalf("invalid published json: %v payload=%s", err, string(p.payload))
	}
	if got["id"] != "abc" {
		t.Fatalf("expected id=abc, got %v", got["id"])
	}
	if v := got["final_tank_temperature_C"].(float64); v < 54.999 || v > 55.001 {
		t.Fatalf("expected final temperature 55, got %v", v)
	}
}

func TestLoop_RunsQueuedRequestsAndPublishes(t *testing.T) {
	svc := testutil.NewFakeSimulationService()
	c, _ := New(svc, Config{Instance: "plant1", PublishInterval: time.Hour})
	fc := &fakeClient{}
	c.client = fc

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- c.loop(ctx) }()

	c.onMessage(nil, fakeMessage{topic: "tanksim/plant1/run", payload: []byte(`{"dhw":true}`)})

	require.Eventually(t, func() bool {
		return len(fc.published("tanksim/plant1/result")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if svc.Calls() != 1 || !svc.RunCalls[0].DHW {
		t.Fatalf("expected one DHW run, got %+v", svc.RunCalls)
	}
}

func TestLoop_PublishesRunErrors(t *testing.T) {
	svc := testutil.NewFakeSimulationService()
	svc.RunErr = errors.New("boom")
	c, _ := New(svc, Config{Instance: "plant1", PublishInterval: time.Hour})
	fc := &fakeClient{}
	c.client = fc

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = c.loop(ctx) }()

	c.onMessage(nil, fakeMessage{topic: "tanksim/plant1/run", payload: []byte(`{}`)})

	require.Eventually(t, func() bool {
		return len(fc.published("tanksim/plant1/error")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	if n := len(fc.published("tanksim/plant1/result")); n != 0 {
		t.Fatalf("expected no result published, got %d", n)
	}
}

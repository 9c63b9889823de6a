package mqttctrl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Agrid-Dev/tanksim/internal/logger"
	"github.com/Agrid-Dev/tanksim/internal/ports"
)

type Config struct {
	// Identity
	Instance string

	// MQTT connection
	BrokerURL string
	ClientID  string

	// Topics
	BaseTopic string

	// Behavior
	QoS             byte
	RetainResult    bool
	PublishInterval time.Duration
	// QueueSize bounds run requests waiting behind the one in progress.
	QueueSize int

	Username string
	Password string
}

type Controller struct {
	svc ports.SimulationService
	cfg Config

	client mqtt.Client
	runs   chan ports.RunRequest
}

func New(svc ports.SimulationService, cfg Config) (*Controller, error) {
	// ---- defaults ----

	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}
	if cfg.Instance == "" {
		cfg.Instance = "default"
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "tanksim/" + cfg.Instance
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "tanksim-" + cfg.Instance
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 1 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	return &Controller{
		svc:  svc,
		cfg:  cfg,
		runs: make(chan ports.RunRequest, cfg.QueueSize),
	}, nil
}

func (c *Controller) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	// Subscribe when connected/reconnected.
	opts.OnConnect = func(cl mqtt.Client) {
		token := cl.Subscribe(c.topic("run"), c.cfg.QoS, c.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			logger.L().Errorw("mqtt subscribe failed", "topic", c.topic("run"), "error", err)
		}
	}

	c.client = mqtt.NewClient(opts)
	tok := c.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	logger.L().Infow("mqtt connected", "broker", c.cfg.BrokerURL, "base_topic", c.cfg.BaseTopic)

	return c.loop(ctx)
}

// loop executes queued run requests and publishes the latest result summary
// whenever it changes.
func (c *Controller) loop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PublishInterval)
	defer ticker.Stop()

	last := ""
	publish := func() {
		if id, ok := c.publishLatest(last); ok {
			last = id
		}
	}
	publish()

	for {
		select {
		case <-ctx.Done():
			c.client.Disconnect(250)
			return ctx.Err()

		case req := <-c.runs:
			if _, err := c.svc.Run(ctx, req); err != nil {
				c.publishError(err)
				continue
			}
			publish()

		case <-ticker.C:
			publish()
		}
	}
}

// publishLatest publishes the latest summary unless its ID equals last.
func (c *Controller) publishLatest(last string) (string, bool) {
	res := c.svc.Latest()
	if res == nil || res.ID == last {
		return "", false
	}
	b, err := json.Marshal(res.Summary())
	if err != nil {
		logger.L().Errorw("encode result summary", "id", res.ID, "error", err)
		return "", false
	}
	c.client.Publish(c.topic("result"), c.cfg.QoS, c.cfg.RetainResult, b)
	return res.ID, true
}

func (c *Controller) publishError(err error) {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	c.client.Publish(c.topic("error"), c.cfg.QoS, false, b)
}

// onMessage queues a run request published on <base>/run. Malformed payloads
// and requests arriving while the queue is full are dropped.
func (c *Controller) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if msg.Topic() != c.topic("run") {
		return
	}
	req, err := decodeStrict[ports.RunRequest](msg.Payload())
	if err != nil {
		logger.L().Warnw("mqtt run request rejected", "error", err)
		return
	}
	select {
	case c.runs <- req:
	default:
		logger.L().Warnw("mqtt run queue full, request dropped")
	}
}

func (c *Controller) topic(suffix string) string {
	return strings.TrimRight(c.cfg.BaseTopic, "/") + "/" + suffix
}

func decodeStrict[T any](b []byte) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

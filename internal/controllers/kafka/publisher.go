package kafkactrl

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Agrid-Dev/tanksim/internal/logger"
	"github.com/Agrid-Dev/tanksim/internal/ports"
)

type Config struct {
	Brokers []string
	Topic   string
	// PollInterval is how often the latest result is checked for a change.
	PollInterval time.Duration
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends every new result summary to a topic, keyed by run ID.
type Publisher struct {
	svc ports.SimulationService
	cfg Config

	writer messageWriter
}

func New(svc ports.SimulationService, cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "tanksim.results"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1 * time.Second
	}
	return &Publisher{
		svc: svc,
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}, nil
}

// Run blocks until ctx is canceled. A failed write is logged and retried on
// the next tick.
func (p *Publisher) Run(ctx context.Context) error {
	defer func() {
		if err := p.writer.Close(); err != nil {
			logger.L().Warnw("kafka writer close", "error", err)
		}
	}()
	logger.L().Infow("kafka publisher started", "brokers", p.cfg.Brokers, "topic", p.cfg.Topic)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	last := ""
	for {
		if id, err := p.publishLatest(ctx, last); err != nil {
			logger.L().Warnw("kafka publish failed", "topic", p.cfg.Topic, "error", err)
		} else {
			last = id
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// publishLatest writes the latest summary unless its ID equals last and
// returns the ID now published.
func (p *Publisher) publishLatest(ctx context.Context, last string) (string, error) {
	res := p.svc.Latest()
	if res == nil || res.ID == last {
		return last, nil
	}
	b, err := json.Marshal(res.Summary())
	if err != nil {
		return last, err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(res.ID),
		Value: b,
		Time:  res.CreatedAt,
	})
	if err != nil {
		return last, err
	}
	return res.ID, nil
}

package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tphakala/pinalbum/internal/errors"
	"github.com/tphakala/pinalbum/internal/events"
	"github.com/tphakala/pinalbum/internal/logger"
)

// Message is the JSON payload of every published event.
type Message struct {
	Kind       events.Kind  `json:"kind"`
	LocationID string       `json:"locationId"`
	Timestamp  time.Time    `json:"timestamp"`
	Event      events.Event `json:"event"`
}

// Topic returns <base>/<locationID>/<kind>.
func Topic(base, locationID string, kind events.Kind) string {
	return strings.TrimRight(base, "/") + "/" + locationID + "/" + string(kind)
}

// Publisher is an events.Consumer that forwards batch events to a broker.
// Per-photo events are not published.
type Publisher struct {
	client  Client
	topic   string
	timeout time.Duration
	logger  logger.Logger
}

// NewPublisher creates a publisher sending to cfg.Topic through client.
func NewPublisher(client Client, cfg Config, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Publisher{
		client:  client,
		topic:   cfg.Topic,
		timeout: cfg.PublishTimeout,
		logger:  log,
	}
}

// Name implements events.Consumer.
func (p *Publisher) Name() string { return "mqtt" }

// ProcessEvent implements events.Consumer.
func (p *Publisher) ProcessEvent(event events.Event) error {
	if event.Kind() == events.KindPhotoResolved {
		return nil
	}

	payload, err := json.Marshal(Message{
		Kind:       event.Kind(),
		LocationID: event.Location(),
		Timestamp:  event.Timestamp(),
		Event:      event,
	})
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("kind", string(event.Kind())).
			Build()
	}

	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	// paho only reconnects sessions that connected once
	if !p.client.IsConnected() {
		if err := p.client.Connect(ctx); err != nil {
			p.logger.Debug("MQTT reconnect failed", logger.Error(err))
		}
	}

	topic := Topic(p.topic, event.Location(), event.Kind())
	if err := p.client.Publish(ctx, topic, payload); err != nil {
		p.logger.Warn("failed to publish batch event",
			logger.String("topic", topic),
			logger.Error(err))
		return err
	}
	p.logger.Debug("published batch event", logger.String("topic", topic))
	return nil
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/config"
)

const (
	connectTimeout        = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	disconnectQuiesce     = 250 // milliseconds
	maxQoS                = 2
)

var (
	ErrConnectionFailed = errors.New("events: mqtt connection failed")
	ErrPublishFailed    = errors.New("events: mqtt publish failed")
	ErrNotConnected     = errors.New("events: mqtt not connected")
)

// publishClient is the part of pahomqtt.Client the publisher needs.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Publisher sends auth events as JSON to <prefix>/<event type>.
type Publisher struct {
	client  publishClient
	prefix  string
	qos     byte
	timeout time.Duration
	log     *zap.Logger
}

// NewPublisher wraps an already connected client.
func NewPublisher(client publishClient, prefix string, qos byte, log *zap.Logger) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("events: client is required")
	}
	if qos > maxQoS {
		return nil, fmt.Errorf("events: invalid qos %d", qos)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		client:  client,
		prefix:  strings.TrimRight(prefix, "/"),
		qos:     qos,
		timeout: defaultPublishTimeout,
		log:     log,
	}, nil
}

// Connect dials the broker described by cfg.
func Connect(cfg config.MQTTConfig, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(60 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		log.Info("mqtt connected", zap.String("broker", cfg.Broker))
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return NewPublisher(client, cfg.TopicPrefix, cfg.QoS, log)
}

// Topic returns the topic an event type is published on.
func (p *Publisher) Topic(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "/" + eventType
}

// Publish implements auth.EventPublisher. It fails fast while the broker is
// unreachable and waits for the ack at most the publish timeout.
func (p *Publisher) Publish(ctx context.Context, ev auth.Event) error {
	if ev.Type == "" {
		return fmt.Errorf("%w: event type is required", ErrPublishFailed)
	}
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	token := p.client.Publish(p.Topic(ev.Type), p.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPublishFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	p.log.Debug("event published", zap.String("type", ev.Type), zap.Int64("user_id", ev.UserID))
	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(disconnectQuiesce)
}

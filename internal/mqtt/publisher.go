// Package mqtt publishes decoded messages and receiver status to an MQTT
// broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jeongseonghan/tonemodem/internal/config"
	"github.com/jeongseonghan/tonemodem/internal/metrics"
	"github.com/jeongseonghan/tonemodem/internal/protocol"
)

const publishTimeout = 5 * time.Second

// publisher is the part of paho.Client used here.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// MessagePayload is the JSON body published for every decoded message.
type MessagePayload struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"`
	Text      string  `json:"text"`
	Data      []byte  `json:"data"`
	Valid     bool    `json:"valid"`
	Pass      string  `json:"pass"`
	Erasures  int     `json:"erasures"`
	Corrected int     `json:"corrected"`
	SyncScore float64 `json:"sync_score"`
	Offset    int64   `json:"offset"`
}

// StatusPayload is the JSON body of the periodic status update.
type StatusPayload struct {
	Timestamp int64              `json:"timestamp"`
	State     string             `json:"state"`
	SyncScore float64            `json:"sync_score"`
	History   int                `json:"history"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Publisher manages the broker connection.
type Publisher struct {
	client  paho.Client
	pub     publisher
	cfg     config.MQTTConfig
	metrics *metrics.Collector
	log     logrus.FieldLogger
}

// NewPublisher connects to the configured broker. metrics may be nil.
func NewPublisher(cfg config.MQTTConfig, m *metrics.Collector, log logrus.FieldLogger) (*Publisher, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "mqtt")

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID("tonemodem_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(paho.Client) {
		log.Info("Connected to broker")
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.WithError(err).Warn("Connection lost")
	})
	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		log.Info("Attempting to reconnect")
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		log.WithField("broker", cfg.Broker).Warn("Broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	log.WithField("broker", cfg.Broker).Info("MQTT publisher ready")
	return newPublisher(client, client, cfg, m, log), nil
}

func newPublisher(client paho.Client, pub publisher, cfg config.MQTTConfig, m *metrics.Collector, log logrus.FieldLogger) *Publisher {
	return &Publisher{
		client:  client,
		pub:     pub,
		cfg:     cfg,
		metrics: m,
		log:     log,
	}
}

// Topic joins the configured prefix and name.
func (p *Publisher) Topic(name string) string {
	prefix := strings.TrimSuffix(p.cfg.TopicPrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Attach publishes every message rx finalizes, keeping any OnMessage
// callback already set.
func (p *Publisher) Attach(rx *protocol.Receiver) {
	prev := rx.OnMessage
	rx.OnMessage = func(msg protocol.Message) {
		if prev != nil {
			prev(msg)
		}
		if err := p.PublishMessage(msg); err != nil {
			p.log.WithError(err).Error("Failed to publish message")
		}
	}
}

// PublishMessage publishes msg to <prefix>/messages.
func (p *Publisher) PublishMessage(msg protocol.Message) error {
	return p.publish(p.Topic("messages"), NewMessagePayload(msg))
}

// PublishStatus publishes the receiver state to <prefix>/status.
func (p *Publisher) PublishStatus(rx *protocol.Receiver) error {
	status := StatusPayload{
		Timestamp: time.Now().Unix(),
		State:     rx.State().String(),
		SyncScore: rx.SyncScore(),
		History:   len(rx.History()),
	}
	if p.metrics != nil {
		snap, err := p.metrics.Snapshot()
		if err != nil {
			return fmt.Errorf("gather metrics: %w", err)
		}
		status.Metrics = snap
	}
	return p.publish(p.Topic("status"), status)
}

// StartStatus publishes the status at the configured interval until ctx is
// cancelled. A zero interval disables it.
func (p *Publisher) StartStatus(ctx context.Context, rx *protocol.Receiver) {
	if p.cfg.PublishInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Duration(p.cfg.PublishInterval) * time.Second)
		defer ticker.Stop()
		p.log.WithField("interval", p.cfg.PublishInterval).Info("Status publisher started")

		for {
			if err := p.PublishStatus(rx); err != nil {
				p.log.WithError(err).Error("Failed to publish status")
			}
			select {
			case <-ctx.Done():
				p.log.Info("Status publisher stopped")
				return
			case <-ticker.C:
			}
		}
	}()
}

// Disconnect gracefully disconnects from the broker.
func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		p.log.Info("Disconnected from broker")
	}
}

func (p *Publisher) publish(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", topic, err)
	}
	token := p.pub.Publish(topic, p.cfg.QoS, p.cfg.Retain, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// NewMessagePayload flattens msg for publishing.
func NewMessagePayload(msg protocol.Message) MessagePayload {
	return MessagePayload{
		ID:        msg.ID.String(),
		Timestamp: msg.ReceivedAt.Unix(),
		Text:      msg.Text(),
		Data:      msg.Data,
		Valid:     msg.Valid,
		Pass:      msg.Pass.String(),
		Erasures:  len(msg.Erasures),
		Corrected: len(msg.Corrected),
		SyncScore: msg.SyncScore,
		Offset:    msg.Offset,
	}
}

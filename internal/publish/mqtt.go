// internal/publish/mqtt.go
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/config"
	"github.com/tamzrod/bms-telemetry/internal/decoder"
	"github.com/tamzrod/bms-telemetry/internal/observability"
	"github.com/tamzrod/bms-telemetry/internal/queue"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ErrNotConnected is returned while the broker connection is down.
var ErrNotConnected = errors.New("publish: mqtt not connected")

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnectionOpen() bool
	Disconnect(quiesce uint)
}

// Publisher publishes decoded events to MQTT.
type Publisher struct {
	cli       client
	cfg       config.MQTTConfig
	session   string
	sessionID string
	metrics   *observability.Metrics
	log       zerolog.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// Connect dials the broker with auto-reconnect enabled.
func Connect(c config.MQTTConfig, session, sessionID string, m *observability.Metrics, log zerolog.Logger) (*Publisher, error) {
	clientID := c.ClientID
	if clientID == "" {
		clientID = "bmsmon-" + sessionID
	}

	broker := c.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	if c.Username != "" {
		opts.SetUsername(c.Username)
		opts.SetPassword(c.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("broker", c.Broker).Str("client_id", clientID).Msg("mqtt connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", c.Broker).Msg("mqtt connection lost, reconnecting")
	}

	cli := mqtt.NewClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// connect retry keeps going in the background
		log.Warn().Str("broker", c.Broker).Msg("mqtt connect still pending")
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("publish: mqtt connect: %w", err)
	}

	return newPublisher(cli, c, session, sessionID, m, log), nil
}

func newPublisher(cli client, c config.MQTTConfig, session, sessionID string, m *observability.Metrics, log zerolog.Logger) *Publisher {
	if m == nil {
		m = observability.Discard()
	}
	return &Publisher{
		cli:       cli,
		cfg:       c,
		session:   session,
		sessionID: sessionID,
		metrics:   m,
		log:       log,
	}
}

// Publish sends one record.
func (p *Publisher) Publish(rec decoder.Record) error {
	if !p.cli.IsConnectionOpen() {
		return ErrNotConnected
	}

	kind := rec.Event.Kind()
	payload, err := Marshal(p.cfg.Format, Envelope{
		Session:   p.session,
		SessionID: p.sessionID,
		Kind:      kind.String(),
		At:        rec.At.UTC(),
		Event:     rec.Event,
	})
	if err != nil {
		return err
	}

	token := p.cli.Publish(Topic(p.cfg.TopicPrefix, p.session, kind), p.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("publish: timeout")
	}
	return token.Error()
}

// Run publishes every record on sub until ctx ends or sub closes.
// Failures are counted and never stop the loop.
func (p *Publisher) Run(ctx context.Context, sub *decoder.Subscription) error {
	for {
		rec, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}

		if err := p.Publish(rec); err != nil {
			p.metrics.Published.WithLabelValues("error").Inc()
			// only the first failure of a streak is worth a warning
			if p.failed.Add(1) == 1 {
				p.log.Warn().Err(err).Msg("mqtt publish failed")
			}
			continue
		}
		p.metrics.Published.WithLabelValues("ok").Inc()
		p.published.Add(1)
		p.failed.Store(0)
	}
}

// Published reports the number of records delivered.
func (p *Publisher) Published() uint64 { return p.published.Load() }

// Close disconnects with a short quiesce.
func (p *Publisher) Close() {
	p.cli.Disconnect(250)
}

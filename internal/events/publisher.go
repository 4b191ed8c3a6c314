// Package events reports terminal discovery outcomes to external
// handlers. A session that reaches complete or failsafe is routed to a
// different conversation path by whatever system owns the chat; the
// MQTT publisher here is how that system finds out.
//
// Publishing is best-effort: connection losses and publish failures are
// logged and never surface to the engine. When MQTT is not configured,
// [NoopSink] keeps the wiring uniform.
package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/foyerhq/foyer/internal/config"
	"github.com/foyerhq/foyer/internal/discovery"
)

// Sink receives terminal discovery outcomes. Implementations must not
// block the turn: publish-and-log, never return the failure upstream.
type Sink interface {
	Outcome(ctx context.Context, st discovery.State)
}

// NoopSink discards outcomes. Used when no broker is configured.
type NoopSink struct{}

// Outcome implements Sink by doing nothing.
func (NoopSink) Outcome(context.Context, discovery.State) {}

// OutcomePayload is the JSON document published per terminal session.
type OutcomePayload struct {
	ConversationID       string `json:"conversation_id"`
	Stage                string `json:"stage"`
	Name                 string `json:"name,omitempty"`
	Intent               string `json:"intent,omitempty"`
	HonestStrikes        int    `json:"honest_strikes"`
	NonEngagementStrikes int    `json:"non_engagement_strikes"`
	Turns                int    `json:"turns"`
	EndedAt              string `json:"ended_at"`
}

// Publisher manages the MQTT connection and publishes one message per
// terminal outcome, plus a retained availability topic with an
// "offline" will message so consumers can tell a quiet foyer from a
// dead one.
type Publisher struct {
	cfg    config.EventsConfig
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// NewPublisher creates a Publisher but does not connect. Call
// [Publisher.Start] to begin the connection.
func NewPublisher(cfg config.EventsConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		logger: logger.With("component", "events"),
	}
}

// Start connects to the MQTT broker and blocks until ctx is cancelled.
// On every (re-)connect it publishes the availability birth message.
// autopaho keeps retrying failed connections in the background, so a
// broker outage at startup is a warning, not an error.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "foyer-" + p.cfg.DeviceName,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	<-ctx.Done()
	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection. The provided context
// controls how long to wait for the publish and disconnect to complete.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// Outcome implements Sink. It publishes the terminal session state to
// the stage's outcome topic. Failures are logged and swallowed; the
// turn that produced the outcome has already succeeded.
func (p *Publisher) Outcome(ctx context.Context, st discovery.State) {
	if p.cm == nil {
		return
	}

	payload, err := json.Marshal(outcomePayload(st))
	if err != nil {
		p.logger.Error("mqtt marshal outcome payload",
			"conversation", st.ConversationID, "error", err)
		return
	}

	topic := p.outcomeTopic(st.Stage)
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		p.logger.Warn("mqtt outcome publish failed",
			"conversation", st.ConversationID, "topic", topic, "error", err)
		return
	}
	p.logger.Debug("mqtt outcome published",
		"conversation", st.ConversationID, "topic", topic)
}

func outcomePayload(st discovery.State) OutcomePayload {
	return OutcomePayload{
		ConversationID:       st.ConversationID,
		Stage:                string(st.Stage),
		Name:                 st.Name,
		Intent:               st.Intent,
		HonestStrikes:        st.HonestStrikes,
		NonEngagementStrikes: st.NonEngagementStrikes,
		Turns:                st.Turns,
		EndedAt:              st.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return p.cfg.TopicPrefix + "/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

// outcomeTopic maps a terminal stage to its topic: complete sessions
// publish to .../discovery/completed, failsafe to .../discovery/failsafe.
func (p *Publisher) outcomeTopic(stage discovery.Stage) string {
	suffix := "failsafe"
	if stage == discovery.StageComplete {
		suffix = "completed"
	}
	return p.baseTopic() + "/discovery/" + suffix
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
		return
	}
	p.logger.Info("mqtt availability published", "status", status)
}

// Package integration forwards gateway status reports to external systems.
package integration

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/gateway"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/natslink"
)

// StatusSource provides gateway snapshots
type StatusSource interface {
	Status() gateway.Status
}

// Sink receives encoded status reports
type Sink interface {
	Name() string
	Send(ctx context.Context, report []byte) error
}

// Forwarder periodically pushes the gateway status to every sink
type Forwarder struct {
	source   StatusSource
	sinks    []Sink
	interval time.Duration
}

// NewForwarder creates a forwarder
func NewForwarder(source StatusSource, interval time.Duration, sinks ...Sink) *Forwarder {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Forwarder{source: source, sinks: sinks, interval: interval}
}

// Run forwards until ctx is cancelled
func (f *Forwarder) Run(ctx context.Context) {
	if len(f.sinks) == 0 {
		return
	}

	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	log.Info().
		Strs("sinks", names).
		Dur("interval", f.interval).
		Msg("Status forwarder started")

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Forward(ctx)
		}
	}
}

// Forward sends one report to every sink and returns how many accepted it
func (f *Forwarder) Forward(ctx context.Context) int {
	report, err := json.Marshal(f.source.Status())
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal status report")
		return 0
	}

	delivered := 0
	for _, s := range f.sinks {
		if err := s.Send(ctx, report); err != nil {
			log.Warn().
				Err(err).
				Str("sink", s.Name()).
				Msg("Failed to forward status")
			continue
		}
		delivered++
	}
	return delivered
}

// HTTPConfig configures the webhook sink
type HTTPConfig struct {
	Endpoint string
	Headers  map[string]string
	Timeout  time.Duration
}

// HTTPSink POSTs reports to a webhook
type HTTPSink struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPSink creates a webhook sink
func NewHTTPSink(cfg HTTPConfig) *HTTPSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPSink{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (s *HTTPSink) Name() string { return "http" }

// Send posts the report; a status of 400 or above is an error
func (s *HTTPSink) Send(ctx context.Context, report []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, bytes.NewReader(report))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", s.config.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("post to %s: status %d", s.config.Endpoint, resp.StatusCode)
	}

	log.Debug().
		Str("endpoint", s.config.Endpoint).
		Int("status", resp.StatusCode).
		Msg("Status forwarded to HTTP")
	return nil
}

// MQTTConfig configures the MQTT sink
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	// Topic may contain {gateway}
	Topic string
	QoS   byte
	TLS   bool
}

// MQTTSink publishes reports to an MQTT broker
type MQTTSink struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// ExpandTopic substitutes {gateway} in pattern
func ExpandTopic(pattern, gatewayName string) string {
	if pattern == "" {
		pattern = "meshxt/{gateway}/status"
	}
	return strings.ReplaceAll(pattern, "{gateway}", gatewayName)
}

// NewMQTTSink connects to the broker. The client reconnects on its own
// after the first connection succeeds.
func NewMQTTSink(cfg MQTTConfig, gatewayName string) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "meshxt-satgw-" + gatewayName
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", cfg.BrokerURL).Msg("MQTT client connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().
			Err(err).
			Str("broker", cfg.BrokerURL).
			Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to %s: timeout", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.BrokerURL, err)
	}

	return &MQTTSink{client: client, topic: ExpandTopic(cfg.Topic, gatewayName), qos: cfg.QoS}, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Send publishes the report as a retained message
func (s *MQTTSink) Send(ctx context.Context, report []byte) error {
	token := s.client.Publish(s.topic, s.qos, true, report)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s: timeout", s.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", s.topic, err)
	}

	log.Debug().Str("topic", s.topic).Msg("Status forwarded to MQTT")
	return nil
}

// Close disconnects from the broker
func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}

// NATSSink publishes reports on the gateway status subject
type NATSSink struct {
	nc      natslink.Conn
	subject string
}

// NewNATSSink creates a NATS sink
func NewNATSSink(nc natslink.Conn, subjects natslink.Subjects) *NATSSink {
	return &NATSSink{nc: nc, subject: subjects.Status()}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Send(ctx context.Context, report []byte) error {
	if err := s.nc.Publish(s.subject, report); err != nil {
		return fmt.Errorf("publish to %s: %w", s.subject, err)
	}
	return nil
}

// Package telemetry exports pipeline metrics and publishes combat
// telemetry over MQTT.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/aionmeter/aionmeter/internal/combat"
	"github.com/aionmeter/aionmeter/internal/config"
	"github.com/aionmeter/aionmeter/internal/events"
	"github.com/aionmeter/aionmeter/internal/util"
)

// MQTT topics
const (
	TopicCombatStats    = "aionmeter/combat/stats"
	TopicCombatReset    = "aionmeter/combat/reset"
	TopicCaptureStatus  = "aionmeter/status/capture"
	TopicStatusShutdown = "aionmeter/status/shutdown"
)

// AppVersion is reported in every message.
const AppVersion = "1.0.0"

// StatsSource supplies the live combat snapshot.
type StatsSource interface {
	Summary() combat.Summary
}

// MQTTHandler publishes combat statistics and lifecycle events.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      config.MQTTConfig
	eventBus *events.EventBus
	stats    StatsSource
	client   mqtt.Client
	logger   zerolog.Logger

	lastWindow string
	lastDamage int64

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a handler with a paho client built from cfg.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus, stats StatsSource) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	opts := mqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("aionmeter-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	logger := util.ComponentLogger("mqtt")
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	return newHandler(cfg, eventBus, stats, mqtt.NewClient(opts), sysInfo), nil
}

func newHandler(cfg config.MQTTConfig, eventBus *events.EventBus, stats StatsSource, client mqtt.Client, sysInfo util.SystemInfo) *MQTTHandler {
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		stats:    stats,
		client:   client,
		logger:   util.ComponentLogger("mqtt"),
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"platform":    sysInfo.Platform,
			"cpu_model":   sysInfo.CPUModel,
			"cpu_cores":   sysInfo.CPUCores,
			"memory_mb":   sysInfo.TotalMemory,
			"app_version": AppVersion,
		},
	}
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	// mTLS: load client certificate
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// Start connects to the broker, subscribes to bus events and publishes
// stats every publish interval until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	defer h.unsubscribeEvents()

	interval := time.Duration(h.cfg.PublishInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.PublishShutdown("context cancelled")
			h.client.Disconnect(5000)
			h.logger.Info().Msg("MQTT disconnected")
			return nil
		case <-ticker.C:
			h.PublishStats()
		}
	}
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventCombatReset, "mqtt.combatReset", h.onCombatReset)
	h.eventBus.Subscribe(events.EventCaptureStarted, "mqtt.captureStarted", h.onCapture)
	h.eventBus.Subscribe(events.EventCaptureStopped, "mqtt.captureStopped", h.onCapture)
	h.eventBus.Subscribe(events.EventPortDetected, "mqtt.portDetected", h.onCapture)
}

func (h *MQTTHandler) unsubscribeEvents() {
	h.eventBus.Unsubscribe(events.EventCombatReset, "mqtt.combatReset")
	h.eventBus.Unsubscribe(events.EventCaptureStarted, "mqtt.captureStarted")
	h.eventBus.Unsubscribe(events.EventCaptureStopped, "mqtt.captureStopped")
	h.eventBus.Unsubscribe(events.EventPortDetected, "mqtt.portDetected")
}

// PublishStats sends the current summary. Unchanged windows are skipped.
func (h *MQTTHandler) PublishStats() {
	if h.stats == nil {
		return
	}
	summary := h.stats.Summary()

	h.mu.Lock()
	unchanged := summary.WindowID == h.lastWindow && summary.TotalDamage == h.lastDamage
	h.lastWindow = summary.WindowID
	h.lastDamage = summary.TotalDamage
	h.mu.Unlock()

	if unchanged || summary.TotalDamage == 0 {
		return
	}
	h.publish(TopicCombatStats, summary)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	msg := h.buildMessage(payload)

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onCombatReset(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CombatResetPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	h.publish(TopicCombatReset, payload)
	return nil
}

func (h *MQTTHandler) onCapture(ctx context.Context, event events.Event) error {
	h.publish(TopicCaptureStatus, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

// PublishShutdown sends a shutdown message to the broker.
func (h *MQTTHandler) PublishShutdown(reason string) {
	h.publish(TopicStatusShutdown, events.ShutdownPayload{Reason: reason})
}

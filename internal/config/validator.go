package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateCapture(&cfg.Capture, result)
	validateProtocol(&cfg.Protocol, result)
	validateCombat(&cfg.Combat, result)
	validateGameData(&cfg.GameData, result)
	validateAPI(&cfg.API, result)
	validateMQTT(&cfg.MQTT, result)
	validateDiagnostics(&cfg.Diagnostics, result)
	validateLogging(&cfg.Logging, result)

	return result
}

func validateCapture(c *CaptureConfig, result *ValidationResult) {
	switch c.Source {
	case SourcePcap:
		if c.PcapFile != "" {
			if _, err := os.Stat(c.PcapFile); err != nil {
				result.AddError("capture.pcap_file", fmt.Sprintf("pcap file not readable: %v", err))
			}
		}
	case SourceReplay:
		if strings.TrimSpace(c.ReplayFile) == "" {
			result.AddError("capture.replay_file", "replay file is required for the replay source")
		}
		if c.Speed <= 0 {
			result.AddWarning("capture.speed", "non-positive speed, playback will use 1x")
		}
	default:
		result.AddError("capture.source", fmt.Sprintf("unknown capture source %q (use pcap or replay)", c.Source))
	}

	if c.GamePort != 0 {
		validatePort(c.GamePort, "capture.game_port", result)
	}
	if c.GamePort == 0 && !c.AutoDetectPort && c.Source == SourcePcap {
		result.AddWarning("capture.auto_detect_port", "no game port and detection disabled, all tcp traffic will be decoded")
	}
	if c.DetectionThreshold < 1 {
		result.AddError("capture.detection_threshold", "detection threshold must be at least 1")
	}
	if c.QueueSize < 1000 {
		result.AddWarning("capture.queue_size", "queue smaller than 1000 packets is likely to drop under load")
	}
	if c.Snaplen < 1500 {
		result.AddWarning("capture.snaplen", "snaplen below 1500 truncates payloads")
	}
}

func validateProtocol(p *ProtocolConfig, result *ValidationResult) {
	if p.MinDamage < 0 {
		result.AddError("protocol.min_damage", "minimum damage cannot be negative")
	}
	if p.Diagnostics {
		result.AddWarning("protocol.diagnostics", "field diagnostics add allocation per decoded frame")
	}
}

func validateCombat(c *CombatConfig, result *ValidationResult) {
	if c.HardIdleSec < 1 {
		result.AddError("combat.hard_idle_sec", "hard idle threshold must be at least 1 second")
	}
	if c.SoftIdleSec < 1 {
		result.AddError("combat.soft_idle_sec", "soft idle threshold must be at least 1 second")
	}
	if c.SoftIdleSec > c.HardIdleSec {
		result.AddWarning("combat.soft_idle_sec", "soft idle threshold exceeds hard threshold and has no effect")
	}
	if c.SanityLimit < 1 {
		result.AddError("combat.sanity_limit", "sanity limit must be positive")
	}
	if c.LogLimit < 1 {
		result.AddWarning("combat.log_limit", "log limit below 1, combat log requests return every hit")
	}
}

func validateGameData(g *GameDataConfig, result *ValidationResult) {
	if strings.TrimSpace(g.Directory) == "" {
		result.AddError("gamedata.directory", "reference data directory is required")
		return
	}
	for _, name := range []string{"skills.json", "classes.json"} {
		if _, err := os.Stat(filepath.Join(g.Directory, name)); err != nil {
			result.AddError("gamedata.directory", fmt.Sprintf("%s not found in %s", name, g.Directory))
		}
	}
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps", "rate limit is disabled (0 RPS)")
	}
	if a.WebsocketIntervalMs < 100 {
		result.AddWarning("api.websocket_interval_ms", "websocket interval below 100ms, clamped to 100ms")
	}
	if a.Host != "" && a.Host != "127.0.0.1" && a.Host != "localhost" {
		result.AddWarning("api.host", "API bound to a non-loopback address")
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if m.UseTLS && (m.CertFile == "") != (m.KeyFile == "") {
		result.AddError("mqtt.cert_file", "client certificate and key must be set together")
	}
	if m.PublishInterval < 1 {
		result.AddError("mqtt.publish_interval_sec", "publish interval must be at least 1 second")
	}
}

func validateDiagnostics(d *DiagnosticsConfig, result *ValidationResult) {
	if !d.Enabled {
		return
	}
	if strings.TrimSpace(d.DBPath) == "" {
		result.AddError("diagnostics.db_path", "database path is required when diagnostics are enabled")
	}
	if d.RetentionRows < 100 {
		result.AddWarning("diagnostics.retention_rows", "retention below 100 rows keeps little history")
	}
}

func validateLogging(l *LoggingConfig, result *ValidationResult) {
	switch strings.ToLower(l.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled", "":
	default:
		result.AddError("logging.level", fmt.Sprintf("unknown log level %q", l.Level))
	}
	if l.Directory == "" && !l.Console {
		result.AddWarning("logging.console", "file and console output disabled, logs will go to stderr")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

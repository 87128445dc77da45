// Package config handles configuration loading, validation, and persistence
// for the meter.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5080
	DefaultMQTTPort   = 8883
	DefaultQueueSize  = 100000
)

// Capture source kinds.
const (
	SourcePcap   = "pcap"
	SourceReplay = "replay"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Capture     CaptureConfig     `json:"capture"`
	Protocol    ProtocolConfig    `json:"protocol"`
	Combat      CombatConfig      `json:"combat"`
	GameData    GameDataConfig    `json:"gamedata"`
	API         APIConfig         `json:"api"`
	MQTT        MQTTConfig        `json:"mqtt"`
	Diagnostics DiagnosticsConfig `json:"diagnostics"`
	Logging     LoggingConfig     `json:"logging"`
}

// CaptureConfig selects and tunes the packet source.
type CaptureConfig struct {
	Source             string  `json:"source"`
	Device             string  `json:"device"`
	PcapFile           string  `json:"pcap_file"`
	Snaplen            int     `json:"snaplen"`
	Promiscuous        bool    `json:"promiscuous"`
	BPF                string  `json:"bpf"`
	GamePort           int     `json:"game_port"`
	AutoDetectPort     bool    `json:"auto_detect_port"`
	DetectionThreshold int     `json:"detection_threshold"`
	ReplayFile         string  `json:"replay_file"`
	Realtime           bool    `json:"realtime"`
	Speed              float64 `json:"speed"`
	QueueSize          int     `json:"queue_size"`
	RecordFile         string  `json:"record_file"`
}

// ProtocolConfig toggles decoder heuristics.
type ProtocolConfig struct {
	DecodeNicknames       bool `json:"decode_nicknames"`
	SmallAmountCorrection bool `json:"small_amount_correction"`
	Diagnostics           bool `json:"diagnostics"`
	MinDamage             int  `json:"min_damage"`
}

// CombatConfig tunes combat window detection.
type CombatConfig struct {
	HardIdleSec        int   `json:"hard_idle_sec"`
	SoftIdleSec        int   `json:"soft_idle_sec"`
	SanityLimit        int64 `json:"sanity_limit"`
	AdaptiveValidation bool  `json:"adaptive_validation"`
	LogLimit           int   `json:"log_limit"`
}

// GameDataConfig locates the reference tables.
type GameDataConfig struct {
	Directory string `json:"directory"`
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	Enabled             bool     `json:"enabled"`
	Host                string   `json:"host"`
	Port                int      `json:"port"`
	AllowedOrigins      []string `json:"allowed_origins"`
	RateLimitRPS        int      `json:"rate_limit_rps"`
	WebsocketIntervalMs int      `json:"websocket_interval_ms"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled         bool   `json:"enabled"`
	BrokerURL       string `json:"broker_url"`
	Port            int    `json:"port"`
	UseTLS          bool   `json:"use_tls"`
	CertFile        string `json:"cert_file"`
	KeyFile         string `json:"key_file"`
	CAFile          string `json:"ca_file"`
	ClientID        string `json:"client_id"`
	PublishInterval int    `json:"publish_interval_sec"`
}

// DiagnosticsConfig controls the decode failure journal.
type DiagnosticsConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"db_path"`
	RetentionRows int    `json:"retention_rows"`
	PruneInterval int    `json:"prune_interval_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Capture: CaptureConfig{
			Source:             SourcePcap,
			Snaplen:            65535,
			Promiscuous:        true,
			BPF:                "tcp",
			AutoDetectPort:     true,
			DetectionThreshold: 5,
			Speed:              1,
			QueueSize:          DefaultQueueSize,
		},
		Protocol: ProtocolConfig{
			DecodeNicknames:       true,
			SmallAmountCorrection: true,
			MinDamage:             10,
		},
		Combat: CombatConfig{
			HardIdleSec: 40,
			SoftIdleSec: 20,
			SanityLimit: 500000,
			LogLimit:    200,
		},
		GameData: GameDataConfig{
			Directory: "data",
		},
		API: APIConfig{
			Enabled:             true,
			Host:                "127.0.0.1",
			Port:                DefaultAPIPort,
			AllowedOrigins:      []string{"http://localhost:5173"},
			RateLimitRPS:        50,
			WebsocketIntervalMs: 1000,
		},
		MQTT: MQTTConfig{
			Enabled:         false,
			Port:            DefaultMQTTPort,
			UseTLS:          true,
			ClientID:        "aionmeter",
			PublishInterval: 5,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:       false,
			DBPath:        "data/diagnostics.db",
			RetentionRows: 10000,
			PruneInterval: 300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// Load reads configuration from a JSON file. A missing file is created
// with defaults.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetCapture returns a copy of the capture configuration.
func (c *Config) GetCapture() CaptureConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Capture
}

// SetCapture replaces the capture configuration.
func (c *Config) SetCapture(capture CaptureConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Capture = capture
}

// GetProtocol returns a copy of the protocol configuration.
func (c *Config) GetProtocol() ProtocolConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Protocol
}

// GetCombat returns a copy of the combat configuration.
func (c *Config) GetCombat() CombatConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Combat
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	api := c.API
	api.AllowedOrigins = append([]string(nil), c.API.AllowedOrigins...)
	return api
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetDiagnostics returns a copy of the diagnostics configuration.
func (c *Config) GetDiagnostics() DiagnosticsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Diagnostics
}

// Snapshot returns a copy of every section, safe to marshal.
func (c *Config) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mqtt := c.MQTT
	if mqtt.KeyFile != "" {
		mqtt.KeyFile = "***"
	}
	return map[string]interface{}{
		"capture":     c.Capture,
		"protocol":    c.Protocol,
		"combat":      c.Combat,
		"gamedata":    c.GameData,
		"api":         c.API,
		"mqtt":        mqtt,
		"diagnostics": c.Diagnostics,
		"logging":     c.Logging,
	}
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath changes where Save writes.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// GetGameData returns a copy of the reference data configuration.
func (c *Config) GetGameData() GameDataConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.GameData
}

// GetLogging returns a copy of the logging configuration.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

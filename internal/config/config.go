// Package config provides configuration for the chat server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/xiaot623/gochat/internal/domain"
)

// Config holds the chat server configuration.
type Config struct {
	// Server settings
	HTTPPort int // Public HTTP + WebSocket port
	RPCPort  int // Internal JSON-RPC port, 0 disables it

	// Inference settings
	OllamaURL          string
	DefaultModel       string
	DefaultTemperature float64
	DefaultMaxTokens   int
	Mode               string // MOCK selects the mock inference client

	// Database
	DatabaseURL string

	// Session settings
	RecentTurns          int
	ContextTurns         int
	ContextMaxChars      int
	MaxMessageChars      int
	SessionIdleTimeout   time.Duration
	SessionSweepInterval time.Duration

	// Generation settings
	HeartbeatInterval time.Duration
	GenerationTimeout time.Duration

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	MessageRate    float64 // inbound frames per second per channel
	MessageBurst   int

	// Presets maps generation style names to sampling parameters.
	Presets map[string]domain.GenerationStyle

	// ConfigFile is the TOML file the config was layered over, if any.
	ConfigFile string

	// Logging
	LogLevel string
}

// fileConfig mirrors the subset of settings that may be set in the TOML file.
type fileConfig struct {
	HTTPPort     *int     `toml:"http_port"`
	RPCPort      *int     `toml:"rpc_port"`
	OllamaURL    *string  `toml:"ollama_url"`
	DefaultModel *string  `toml:"default_model"`
	DatabaseURL  *string  `toml:"database_url"`
	Temperature  *float64 `toml:"default_temperature"`
	MaxTokens    *int     `toml:"default_max_tokens"`
	RecentTurns  *int     `toml:"recent_turns"`
	ContextTurns *int     `toml:"context_turns"`

	Presets map[string]presetConfig `toml:"presets"`
}

type presetConfig struct {
	TopP          float64 `toml:"top_p"`
	TopK          int     `toml:"top_k"`
	RepeatPenalty float64 `toml:"repeat_penalty"`
	Description   string  `toml:"description"`
}

// Load loads configuration from an optional TOML file (CONFIG_FILE) and then from
// environment variables, which take precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
		cfg.ConfigFile = path
	}

	cfg.HTTPPort = getEnvInt("HTTP_PORT", cfg.HTTPPort)
	cfg.RPCPort = getEnvInt("RPC_PORT", cfg.RPCPort)
	cfg.OllamaURL = getEnv("OLLAMA_URL", cfg.OllamaURL)
	cfg.DefaultModel = getEnv("OLLAMA_MODEL", cfg.DefaultModel)
	cfg.DefaultTemperature = getEnvFloat("DEFAULT_TEMPERATURE", cfg.DefaultTemperature)
	cfg.DefaultMaxTokens = getEnvInt("DEFAULT_MAX_TOKENS", cfg.DefaultMaxTokens)
	cfg.Mode = getEnv("CHAT_MODE", cfg.Mode)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RecentTurns = getEnvInt("RECENT_TURNS", cfg.RecentTurns)
	cfg.ContextTurns = getEnvInt("CONTEXT_TURNS", cfg.ContextTurns)
	cfg.ContextMaxChars = getEnvInt("CONTEXT_MAX_CHARS", cfg.ContextMaxChars)
	cfg.MaxMessageChars = getEnvInt("MAX_MESSAGE_CHARS", cfg.MaxMessageChars)
	cfg.SessionIdleTimeout = getEnvMillis("SESSION_IDLE_TIMEOUT_MS", cfg.SessionIdleTimeout)
	cfg.SessionSweepInterval = getEnvMillis("SESSION_SWEEP_INTERVAL_MS", cfg.SessionSweepInterval)
	cfg.HeartbeatInterval = getEnvMillis("HEARTBEAT_INTERVAL_MS", cfg.HeartbeatInterval)
	cfg.GenerationTimeout = getEnvMillis("GENERATION_TIMEOUT_MS", cfg.GenerationTimeout)
	cfg.PingInterval = getEnvMillis("WS_PING_INTERVAL_MS", cfg.PingInterval)
	cfg.WriteTimeout = getEnvMillis("WS_WRITE_TIMEOUT_MS", cfg.WriteTimeout)
	cfg.ReadTimeout = getEnvMillis("WS_READ_TIMEOUT_MS", cfg.ReadTimeout)
	cfg.MaxMessageSize = int64(getEnvInt("WS_MAX_MESSAGE_SIZE", int(cfg.MaxMessageSize)))
	cfg.MessageRate = getEnvFloat("WS_MESSAGE_RATE", cfg.MessageRate)
	cfg.MessageBurst = getEnvInt("WS_MESSAGE_BURST", cfg.MessageBurst)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:             8000,
		RPCPort:              8001,
		OllamaURL:            "http://localhost:11434",
		DefaultModel:         "gpt-oss:20b",
		DefaultTemperature:   0.7,
		DefaultMaxTokens:     2048,
		DatabaseURL:          "file:chat.db?cache=shared&mode=rwc",
		RecentTurns:          10,
		ContextTurns:         3,
		ContextMaxChars:      12000,
		MaxMessageChars:      8000,
		SessionIdleTimeout:   10 * time.Minute,
		SessionSweepInterval: time.Minute,
		HeartbeatInterval:    5 * time.Second,
		GenerationTimeout:    300 * time.Second,
		PingInterval:         30 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReadTimeout:          60 * time.Second,
		MaxMessageSize:       65536,
		MessageRate:          5,
		MessageBurst:         20,
		Presets:              domain.DefaultGenerationStyles(),
		LogLevel:             "info",
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.RecentTurns <= 0 {
		return fmt.Errorf("recent turns must be positive, got %d", c.RecentTurns)
	}
	if c.ContextTurns < 0 {
		return fmt.Errorf("context turns must not be negative, got %d", c.ContextTurns)
	}
	if c.MaxMessageChars <= 0 {
		return fmt.Errorf("max message chars must be positive, got %d", c.MaxMessageChars)
	}
	if c.HeartbeatInterval <= 0 || c.GenerationTimeout <= 0 {
		return fmt.Errorf("heartbeat interval and generation timeout must be positive")
	}
	if c.SessionIdleTimeout <= 0 || c.SessionSweepInterval <= 0 {
		return fmt.Errorf("session idle timeout and sweep interval must be positive")
	}
	if c.PingInterval <= 0 || c.WriteTimeout <= 0 || c.ReadTimeout <= 0 {
		return fmt.Errorf("websocket ping interval, write and read timeouts must be positive")
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("websocket max message size must be positive, got %d", c.MaxMessageSize)
	}
	if _, ok := c.Presets[domain.DefaultStyleName]; !ok {
		return fmt.Errorf("preset %q must be defined", domain.DefaultStyleName)
	}
	return nil
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	setInt(&c.HTTPPort, fc.HTTPPort)
	setInt(&c.RPCPort, fc.RPCPort)
	setInt(&c.DefaultMaxTokens, fc.MaxTokens)
	setInt(&c.RecentTurns, fc.RecentTurns)
	setInt(&c.ContextTurns, fc.ContextTurns)
	if fc.OllamaURL != nil {
		c.OllamaURL = *fc.OllamaURL
	}
	if fc.DefaultModel != nil {
		c.DefaultModel = *fc.DefaultModel
	}
	if fc.DatabaseURL != nil {
		c.DatabaseURL = *fc.DatabaseURL
	}
	if fc.Temperature != nil {
		c.DefaultTemperature = *fc.Temperature
	}

	c.Presets = mergePresets(c.Presets, fc.Presets)
	return nil
}

// LoadPresets reads only the presets table of a TOML file, merged over the built-in styles.
func LoadPresets(path string) (map[string]domain.GenerationStyle, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("failed to decode presets from %s: %w", path, err)
	}
	return mergePresets(domain.DefaultGenerationStyles(), fc.Presets), nil
}

func mergePresets(base map[string]domain.GenerationStyle, extra map[string]presetConfig) map[string]domain.GenerationStyle {
	out := make(map[string]domain.GenerationStyle, len(base)+len(extra))
	for name, style := range base {
		out[name] = style
	}
	for name, p := range extra {
		name = strings.ToLower(name)
		out[name] = domain.GenerationStyle{
			Name:          name,
			Description:   p.Description,
			TopP:          p.TopP,
			TopK:          p.TopK,
			RepeatPenalty: p.RepeatPenalty,
		}
	}
	return out
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultVal time.Duration) time.Duration {
	return time.Duration(getEnvInt(key, int(defaultVal/time.Millisecond))) * time.Millisecond
}

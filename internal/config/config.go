package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Session SessionConfig `json:"session" yaml:"session"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

type ServerConfig struct {
	Host            string `json:"host" yaml:"host"`
	WebsocketPort   int    `json:"websocket_port" yaml:"websocket_port"`
	HTTPPort        int    `json:"http_port" yaml:"http_port"`
	WebsocketPath   string `json:"websocket_path" yaml:"websocket_path"`
	StaticDir       string `json:"static_dir" yaml:"static_dir"`
	TextFrames      bool   `json:"text_frames" yaml:"text_frames"`
	MaxMessageBytes int64  `json:"max_message_bytes" yaml:"max_message_bytes"`
}

type SessionConfig struct {
	RequestTimeoutSeconds int `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	InboundBuffer         int `json:"inbound_buffer" yaml:"inbound_buffer"`
	UnclaimedLimit        int `json:"unclaimed_limit" yaml:"unclaimed_limit"`
	ProcessedTTLSeconds   int `json:"processed_ttl_seconds" yaml:"processed_ttl_seconds"`
}

type StoreConfig struct {
	RedisAddr string `json:"redis_addr" yaml:"redis_addr"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

type LogConfig struct {
	Level     string `json:"level" yaml:"level"`
	File      string `json:"file" yaml:"file"`
	MaxSizeMB int    `json:"max_size_mb" yaml:"max_size_mb"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:          envOrDefault("CUMO_HOST", "127.0.0.1"),
			WebsocketPort: envIntOrDefault("CUMO_WEBSOCKET_PORT", 8081),
			HTTPPort:      envIntOrDefault("CUMO_HTTP_PORT", 8082),
			WebsocketPath: "/",
			TextFrames:    true,
		},
		Session: SessionConfig{
			InboundBuffer:       256,
			UnclaimedLimit:      1024,
			ProcessedTTLSeconds: 600,
		},
		Store: StoreConfig{
			RedisAddr: os.Getenv("REDIS_ADDR"),
			KeyPrefix: "cumo:",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a config file on top of Default. Files ending in .yaml or .yml
// are parsed as YAML, anything else as JSON with comments and trailing commas.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config failed: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config failed: %w", err)
		}
	default:
		standard, err := hujson.Standardize(content)
		if err != nil {
			return Config{}, fmt.Errorf("parse config failed: %w", err)
		}
		if err := json.Unmarshal(standard, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config failed: %w", err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.WebsocketPort <= 0 {
		c.Server.WebsocketPort = 8081
	}
	if c.Server.HTTPPort <= 0 {
		c.Server.HTTPPort = 8082
	}
	if c.Server.WebsocketPath == "" {
		c.Server.WebsocketPath = "/"
	}
	if c.Session.InboundBuffer <= 0 {
		c.Session.InboundBuffer = 256
	}
	if c.Session.UnclaimedLimit <= 0 {
		c.Session.UnclaimedLimit = 1024
	}
	if c.Session.ProcessedTTLSeconds <= 0 {
		c.Session.ProcessedTTLSeconds = 600
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (s ServerConfig) WebsocketAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.WebsocketPort)
}

func (s ServerConfig) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

// WebsocketURL is the address browsers are told to connect to.
func (s ServerConfig) WebsocketURL() string {
	return "ws://" + s.WebsocketAddr() + s.WebsocketPath
}

func (s SessionConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

func (s SessionConfig) ProcessedTTL() time.Duration {
	return time.Duration(s.ProcessedTTLSeconds) * time.Second
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envIntOrDefault(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

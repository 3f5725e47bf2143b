package config

import (
	"fmt"
	"path"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Session SessionConfig `mapstructure:"session"`
}

// ServerConfig holds the transport configuration
type ServerConfig struct {
	HTTPAddr     string `mapstructure:"http_addr"`
	MCPTransport string `mapstructure:"mcp_transport"`
	MCPHTTPPort  int    `mapstructure:"mcp_http_port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// SandboxConfig holds isolation backend configuration
type SandboxConfig struct {
	Backend        string `mapstructure:"backend"`
	DockerHost     string `mapstructure:"docker_host"`
	Image          string `mapstructure:"image"`
	Entrypoint     string `mapstructure:"entrypoint"`
	MemoryMB       int64  `mapstructure:"memory_mb"`
	CPUQuota       int64  `mapstructure:"cpu_quota"`
	CPUPeriod      int64  `mapstructure:"cpu_period"`
	PidsLimit      int64  `mapstructure:"pids_limit"`
	NetworkEnabled bool   `mapstructure:"network_enabled"`
	PoolSize       int    `mapstructure:"pool_size"`
	StopTimeoutSec int    `mapstructure:"stop_timeout_sec"`
}

// SessionConfig holds session lifecycle configuration
type SessionConfig struct {
	TTLSec          int   `mapstructure:"ttl_sec"`
	ReapIntervalSec int   `mapstructure:"reap_interval_sec"`
	MaxUploadBytes  int64 `mapstructure:"max_upload_bytes"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.http_addr", ":5000")
	viper.SetDefault("server.mcp_transport", "none")
	viper.SetDefault("server.mcp_http_port", 8080)

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("sandbox.backend", "docker")
	viper.SetDefault("sandbox.docker_host", "")
	viper.SetDefault("sandbox.image", "python:3.11-slim")
	viper.SetDefault("sandbox.entrypoint", "/code/main.py")
	viper.SetDefault("sandbox.memory_mb", 128)
	viper.SetDefault("sandbox.cpu_quota", 50000)
	viper.SetDefault("sandbox.cpu_period", 100000)
	viper.SetDefault("sandbox.pids_limit", 64)
	viper.SetDefault("sandbox.network_enabled", false)
	viper.SetDefault("sandbox.pool_size", 1)
	viper.SetDefault("sandbox.stop_timeout_sec", 10)

	viper.SetDefault("session.ttl_sec", 300)
	viper.SetDefault("session.reap_interval_sec", 5)
	viper.SetDefault("session.max_upload_bytes", 1048576)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr must not be empty")
	}

	switch c.Server.MCPTransport {
	case "none", "stdio", "http":
	default:
		return fmt.Errorf("invalid server.mcp_transport: %s, must be 'none', 'stdio' or 'http'", c.Server.MCPTransport)
	}

	if c.Sandbox.Backend != "docker" {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image must not be empty")
	}

	if !path.IsAbs(c.Sandbox.Entrypoint) {
		return fmt.Errorf("sandbox.entrypoint must be an absolute path, got: %s", c.Sandbox.Entrypoint)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.CPUQuota <= 0 || c.Sandbox.CPUPeriod <= 0 {
		return fmt.Errorf("sandbox.cpu_quota and sandbox.cpu_period must be positive, got: %d/%d",
			c.Sandbox.CPUQuota, c.Sandbox.CPUPeriod)
	}

	if c.Sandbox.PoolSize < 0 {
		return fmt.Errorf("sandbox.pool_size must not be negative, got: %d", c.Sandbox.PoolSize)
	}

	if c.Session.TTLSec <= 0 {
		return fmt.Errorf("session.ttl_sec must be positive, got: %d", c.Session.TTLSec)
	}

	if c.Session.ReapIntervalSec <= 0 {
		return fmt.Errorf("session.reap_interval_sec must be positive, got: %d", c.Session.ReapIntervalSec)
	}

	if c.Session.MaxUploadBytes <= 0 {
		return fmt.Errorf("session.max_upload_bytes must be positive, got: %d", c.Session.MaxUploadBytes)
	}

	return nil
}

// CodeDir returns the directory inside the container where the artifact is staged
func (c *Config) CodeDir() string {
	return path.Dir(c.Sandbox.Entrypoint)
}

// GetSessionTTL returns the session age threshold as a duration
func (c *Config) GetSessionTTL() time.Duration {
	return time.Duration(c.Session.TTLSec) * time.Second
}

// GetReapInterval returns the reaper tick interval as a duration
func (c *Config) GetReapInterval() time.Duration {
	return time.Duration(c.Session.ReapIntervalSec) * time.Second
}

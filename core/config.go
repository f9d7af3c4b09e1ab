package core

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the orchestration core's process-wide settings.
//
// It follows the same three-layer priority the teacher framework uses:
// defaults, then environment variables, then functional options (applied
// last, so they win). A convenience constructor (NewConfig) loads an
// optional YAML file and environment variables before applying options;
// callers that want full control can build a Config struct directly.
type Config struct {
	MaxConcurrency    int           `yaml:"max_concurrency" env:"FLOWMIND_MAX_CONCURRENCY"`
	MaxSteps          int           `yaml:"max_steps" env:"FLOWMIND_MAX_STEPS"`
	OutputTruncation  int           `yaml:"output_truncation" env:"FLOWMIND_OUTPUT_TRUNCATION"`
	TaskTimeout       time.Duration `yaml:"task_timeout" env:"FLOWMIND_TASK_TIMEOUT"`
	GatewayCallTimeout time.Duration `yaml:"gateway_call_timeout" env:"FLOWMIND_GATEWAY_CALL_TIMEOUT"`
	GatewayChatTimeout time.Duration `yaml:"gateway_chat_timeout" env:"FLOWMIND_GATEWAY_CHAT_TIMEOUT"`
	GatewayConnectTimeout time.Duration `yaml:"gateway_connect_timeout" env:"FLOWMIND_GATEWAY_CONNECT_TIMEOUT"`
	DashboardAddr     string        `yaml:"dashboard_addr" env:"FLOWMIND_DASHBOARD_ADDR"`
	MaxRuns           int           `yaml:"max_runs" env:"FLOWMIND_MAX_RUNS"`
	DeviceIdentityPath string       `yaml:"device_identity_path" env:"FLOWMIND_DEVICE_IDENTITY_PATH"`
	Gateways          []GatewayEntry `yaml:"gateways"`
	RedisURL          string        `yaml:"redis_url" env:"FLOWMIND_REDIS_URL"`

	logger Logger `yaml:"-"`
}

// GatewayEntry is one configured gateway endpoint (spec §4.5).
type GatewayEntry struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Option mutates a Config under construction.
type Option func(*Config)

func WithMaxConcurrency(n int) Option { return func(c *Config) { c.MaxConcurrency = n } }
func WithMaxSteps(n int) Option       { return func(c *Config) { c.MaxSteps = n } }
func WithOutputTruncation(n int) Option {
	return func(c *Config) { c.OutputTruncation = n }
}
func WithDashboardAddr(addr string) Option { return func(c *Config) { c.DashboardAddr = addr } }
func WithMaxRuns(n int) Option              { return func(c *Config) { c.MaxRuns = n } }
func WithDeviceIdentityPath(p string) Option {
	return func(c *Config) { c.DeviceIdentityPath = p }
}
func WithLogger(l Logger) Option { return func(c *Config) { c.logger = l } }

func defaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		MaxConcurrency:        8,
		MaxSteps:              10,
		OutputTruncation:      3000,
		TaskTimeout:           60 * time.Second,
		GatewayCallTimeout:    30 * time.Second,
		GatewayChatTimeout:    120 * time.Second,
		GatewayConnectTimeout: 30 * time.Second,
		DashboardAddr:         ":8080",
		MaxRuns:               50,
		DeviceIdentityPath:    home + "/.config/flowmind/device.json",
		logger:                NoOpLogger{},
	}
}

// applyEnv reads only FLOWMIND_MAX_CONCURRENCY, FLOWMIND_MAX_STEPS,
// FLOWMIND_DASHBOARD_ADDR, FLOWMIND_DEVICE_IDENTITY_PATH and
// FLOWMIND_REDIS_URL; the env tags on the other Config fields are not
// consulted.
func (c *Config) applyEnv() {
	if v := os.Getenv("FLOWMIND_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConcurrency = n
		}
	}
	if v := os.Getenv("FLOWMIND_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxSteps = n
		}
	}
	if v := os.Getenv("FLOWMIND_DASHBOARD_ADDR"); v != "" {
		c.DashboardAddr = v
	}
	if v := os.Getenv("FLOWMIND_DEVICE_IDENTITY_PATH"); v != "" {
		c.DeviceIdentityPath = v
	}
	if v := os.Getenv("FLOWMIND_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
}

// NewConfig builds a Config from defaults, an optional YAML file at
// configPath (skipped silently if empty or missing — this is a
// convenience, not a requirement), environment variables, and finally the
// supplied options, each layer overriding the previous one.
func NewConfig(configPath string, opts ...Option) (*Config, error) {
	cfg := defaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, NewConfigError("core.NewConfig", fmt.Sprintf("parsing %s: %v", configPath, err))
			}
		} else if !os.IsNotExist(err) {
			return nil, NewConfigError("core.NewConfig", fmt.Sprintf("reading %s: %v", configPath, err))
		}
	}

	cfg.applyEnv()

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.logger == nil {
		cfg.logger = NoOpLogger{}
	}

	return cfg, nil
}

// Logger returns the configured logger, never nil.
func (c *Config) Logger() Logger {
	if c.logger == nil {
		return NoOpLogger{}
	}
	return c.logger
}

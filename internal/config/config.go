// Package config loads the gateway configuration from a YAML file, with a
// .env file and process environment variables layered on top.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Mud     MudConfig     `yaml:"mud"`
	Router  RouterConfig  `yaml:"router"`
	Gateway GatewayConfig `yaml:"gateway"`
	State   StateConfig   `yaml:"state"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
}

// MudConfig describes the MUD this gateway represents on the I3 network.
// These fields populate the startup-req-3 packet.
type MudConfig struct {
	Name       string         `yaml:"name"`
	Port       int            `yaml:"port"`
	AdminEmail string         `yaml:"admin_email"`
	Mudlib     string         `yaml:"mudlib"`
	BaseMudlib string         `yaml:"base_mudlib"`
	Driver     string         `yaml:"driver"`
	MudType    string         `yaml:"mud_type"`
	OpenStatus string         `yaml:"open_status"`
	Services   map[string]int `yaml:"services"`
}

type RouterEndpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (e RouterEndpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

type RouterConfig struct {
	Primary  RouterEndpoint   `yaml:"primary"`
	Fallback []RouterEndpoint `yaml:"fallback"`
	Password int              `yaml:"password"`
	// Pool enables the upstream connection pool; a single managed
	// connection is used when disabled.
	Pool PoolConfig `yaml:"pool"`
}

type PoolConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MinSize     int           `yaml:"min_size"`
	MaxSize     int           `yaml:"max_size"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MaxIdle     time.Duration `yaml:"max_idle"`
}

type GatewayConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	TCPPort         int           `yaml:"tcp_port"`
	MaxPacketSize   int           `yaml:"max_packet_size"`
	Timeout         time.Duration `yaml:"timeout"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	QueueSize       int           `yaml:"queue_size"`
}

type StateConfig struct {
	Dir   string      `yaml:"dir"`
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig maps downstream client names to bcrypt token hashes.
type AuthConfig struct {
	TokenHashes map[string]string `yaml:"token_hashes"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load reads the YAML file at path and applies defaults and environment
// overrides. A missing file is an error; a missing .env is not.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mud.Driver == "" {
		c.Mud.Driver = "i3-gateway"
	}
	if c.Mud.MudType == "" {
		c.Mud.MudType = "Other"
	}
	if c.Mud.OpenStatus == "" {
		c.Mud.OpenStatus = "open"
	}
	if c.Mud.Services == nil {
		c.Mud.Services = map[string]int{
			"tell": 1, "emoteto": 1, "channel": 1,
			"who": 1, "finger": 1, "locate": 1,
		}
	}
	if c.Router.Primary.Port == 0 {
		c.Router.Primary.Port = 8080
	}
	if c.Gateway.Host == "" {
		c.Gateway.Host = "0.0.0.0"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 4001
	}
	if c.Gateway.TCPPort == 0 {
		c.Gateway.TCPPort = 4000
	}
	if c.Gateway.MaxPacketSize == 0 {
		c.Gateway.MaxPacketSize = 1 << 20
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 30 * time.Second
	}
	if c.Gateway.RetryAttempts == 0 {
		c.Gateway.RetryAttempts = 5
	}
	if c.Gateway.RetryDelay == 0 {
		c.Gateway.RetryDelay = time.Second
	}
	if c.Gateway.RateLimitPerMin == 0 {
		c.Gateway.RateLimitPerMin = 120
	}
	if c.Gateway.QueueSize == 0 {
		c.Gateway.QueueSize = 1000
	}
	if c.State.Dir == "" {
		c.State.Dir = "./data"
	}
	if c.Router.Pool.MinSize == 0 {
		c.Router.Pool.MinSize = 1
	}
	if c.Router.Pool.MaxSize == 0 {
		c.Router.Pool.MaxSize = 4
	}
	if c.Router.Pool.MaxLifetime == 0 {
		c.Router.Pool.MaxLifetime = time.Hour
	}
	if c.Router.Pool.MaxIdle == 0 {
		c.Router.Pool.MaxIdle = 5 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.Mud.Name == "" {
		return fmt.Errorf("config: mud.name is required")
	}
	if c.Router.Primary.Host == "" {
		return fmt.Errorf("config: router.primary.host is required")
	}
	for i, fb := range c.Router.Fallback {
		if fb.Host == "" || fb.Port == 0 {
			return fmt.Errorf("config: router.fallback[%d] needs host and port", i)
		}
	}
	if c.Router.Pool.Enabled && c.Router.Pool.MinSize > c.Router.Pool.MaxSize {
		return fmt.Errorf("config: router.pool.min_size exceeds max_size")
	}
	return nil
}

// Routers returns the primary plus fallbacks in priority order.
func (c *Config) Routers() []RouterEndpoint {
	out := make([]RouterEndpoint, 0, 1+len(c.Router.Fallback))
	out = append(out, c.Router.Primary)
	out = append(out, c.Router.Fallback...)
	return out
}

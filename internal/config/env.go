package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotenv reads a .env file into the process environment before Load is
// called. A missing file is fine; malformed content is logged and ignored.
func LoadDotenv(path string) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[CONFIG] skipping %s: %v", path, err)
		}
	}
}

// applyEnv overlays environment variables on the loaded file. Only the
// knobs that differ between deployments of the same config file are
// exposed this way.
func (c *Config) applyEnv() {
	if v := os.Getenv("I3_MUD_NAME"); v != "" {
		c.Mud.Name = v
	}
	if v := os.Getenv("I3_ROUTER_HOST"); v != "" {
		c.Router.Primary.Host = v
	}
	if v, ok := envInt("I3_ROUTER_PORT"); ok {
		c.Router.Primary.Port = v
	}
	if v, ok := envInt("I3_ROUTER_PASSWORD"); ok {
		c.Router.Password = v
	}
	if v, ok := envInt("I3_GATEWAY_PORT"); ok {
		c.Gateway.Port = v
	}
	if v, ok := envInt("I3_GATEWAY_TCP_PORT"); ok {
		c.Gateway.TCPPort = v
	}
	if v := os.Getenv("I3_STATE_DIR"); v != "" {
		c.State.Dir = v
	}
	if v := os.Getenv("I3_REDIS_ADDR"); v != "" {
		c.State.Redis.Addr = v
	}
	if v := os.Getenv("I3_REDIS_PASSWORD"); v != "" {
		c.State.Redis.Password = v
	}
	if v := os.Getenv("I3_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[CONFIG] ignoring %s=%q: %v", key, v, err)
		return 0, false
	}
	return n, true
}

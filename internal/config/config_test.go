package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
mud:
  name: TestMUD
  port: 4000
  admin_email: admin@testmud.example
router:
  primary:
    host: 204.209.44.3
    port: 8080
  fallback:
    - host: 195.242.99.94
      port: 8080
  password: 0
gateway:
  port: 4001
  rate_limit_per_min: 60
state:
  dir: /var/lib/i3
logging:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "TestMUD", cfg.Mud.Name)
	assert.Equal(t, "204.209.44.3:8080", cfg.Router.Primary.Addr())
	assert.Len(t, cfg.Router.Fallback, 1)
	assert.Equal(t, 60, cfg.Gateway.RateLimitPerMin)
	assert.Equal(t, "/var/lib/i3", cfg.State.Dir)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "mud:\n  name: M\nrouter:\n  primary:\n    host: r\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Router.Primary.Port)
	assert.Equal(t, 30*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 5, cfg.Gateway.RetryAttempts)
	assert.Equal(t, 1<<20, cfg.Gateway.MaxPacketSize)
	assert.Equal(t, 1, cfg.Mud.Services["tell"])
	assert.Equal(t, "open", cfg.Mud.OpenStatus)
}

func TestLoadValidation(t *testing.T) {
	_, err := Load(writeConfig(t, "router:\n  primary:\n    host: r\n"))
	assert.ErrorContains(t, err, "mud.name")

	_, err = Load(writeConfig(t, "mud:\n  name: M\n"))
	assert.ErrorContains(t, err, "router.primary.host")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("I3_ROUTER_HOST", "other.example")
	t.Setenv("I3_ROUTER_PORT", "9090")
	t.Setenv("I3_ROUTER_PASSWORD", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "other.example:9090", cfg.Router.Primary.Addr())
	assert.Equal(t, 0, cfg.Router.Password)
}

func TestRoutersOrder(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	routers := cfg.Routers()
	require.Len(t, routers, 2)
	assert.Equal(t, "204.209.44.3", routers[0].Host)
	assert.Equal(t, "195.242.99.94", routers[1].Host)
}

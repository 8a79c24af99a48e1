package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/gateway"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/relay"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/lorawan"
)

const yamlConfig = `
server:
  name: ridge-gw
log:
  level: debug
mesh:
  driver: serial
  serial_port: /dev/ttyUSB0
lorawan:
  driver: nats
  region: EU868
  data_rate: 0
  dev_eui: "0004a30b001c0530"
  join_eui: "70b3d57ed0000000"
  join_attempts: 3
  join_retry_delay: 30s
pass:
  interval: 100m
  duration: 8m
queue:
  capacity: 16
  ttl:
    emergency: 48h
    low: 30m
codec:
  compression: false
database:
  driver: sqlite
integration:
  mqtt:
    enabled: true
    broker_url: tcp://broker:1883
    qos: 1
`

const tomlConfig = `
[server]
name = "toml-gw"

[lorawan]
region = "US915"
data_rate = 1
duty_cycle_limit = "10s"

[pass]
wake_early = "2m"

[database]
driver = "postgres"
dsn = "postgres://satgw@localhost/satgw?sslmode=disable"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "satgw.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "ridge-gw", cfg.Server.Name)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "serial", cfg.Mesh.Driver)
	assert.Equal(t, 115200, cfg.Mesh.BaudRate)
	assert.Equal(t, 0, cfg.LoRaWAN.DataRate)
	assert.Equal(t, 3, cfg.LoRaWAN.JoinAttempts)
	assert.Equal(t, 30*time.Second, cfg.LoRaWAN.JoinRetryDelay)
	assert.True(t, cfg.Integration.MQTT.Enabled)
	assert.Equal(t, byte(1), cfg.Integration.MQTT.QoS)
	assert.Equal(t, "meshxt/{gateway}/status", cfg.Integration.MQTT.Topic)
	assert.Equal(t, 100*time.Minute, cfg.Pass.Interval)
	assert.Equal(t, 8*time.Minute, cfg.Pass.Duration)
	assert.Equal(t, time.Minute, cfg.Pass.WakeEarly)
	assert.Equal(t, 16, cfg.Queue.Capacity)
	assert.False(t, cfg.Codec.Compression)
	assert.Equal(t, "satgw.db", cfg.Database.DSN)

	dr, err := cfg.DataRate()
	require.NoError(t, err)
	assert.Equal(t, lorawan.DataRate{SpreadFactor: 12, Bandwidth: 125, BitRate: 250}, dr)

	ttl, err := cfg.TTLTable()
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, ttl[relay.PriorityEmergency])
	assert.Equal(t, 12*time.Hour, ttl[relay.PriorityHigh])
	assert.Equal(t, 30*time.Minute, ttl[relay.PriorityLow])
}

func TestLoad_TOML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "satgw.toml", tomlConfig))
	require.NoError(t, err)

	assert.Equal(t, "toml-gw", cfg.Server.Name)
	assert.Equal(t, "US915", cfg.LoRaWAN.Region)
	assert.Equal(t, 10*time.Second, cfg.LoRaWAN.DutyCycleLimit)
	assert.Equal(t, 2*time.Minute, cfg.Pass.WakeEarly)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.Codec.Compression)

	dr, err := cfg.DataRate()
	require.NoError(t, err)
	assert.Equal(t, 9, dr.SpreadFactor)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SATGW_LOG_LEVEL", "warn")
	t.Setenv("SATGW_NATS_URL", "nats://ground:4222")
	t.Setenv("SATGW_DATABASE_DSN", "/var/lib/satgw/queue.db")
	t.Setenv("SATGW_JWT_SECRET", "env-secret")
	t.Setenv("SATGW_SERIAL_PORT", "/dev/ttyACM1")

	cfg, err := Load(writeConfig(t, "satgw.yml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "nats://ground:4222", cfg.NATS.URL)
	assert.Equal(t, "/var/lib/satgw/queue.db", cfg.Database.DSN)
	assert.Equal(t, "env-secret", cfg.JWT.Secret)
	assert.Equal(t, "/dev/ttyACM1", cfg.Mesh.SerialPort)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "stub", cfg.Mesh.Driver)
	assert.Equal(t, "stub", cfg.LoRaWAN.Driver)
	assert.Equal(t, 64, cfg.Queue.Capacity)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 36*time.Second, cfg.LoRaWAN.DutyCycleLimit)
	assert.Equal(t, 115, cfg.MaxPayloadSize())
	assert.True(t, cfg.Codec.Compression)
	assert.Equal(t, 5*time.Minute, cfg.Integration.Interval)

	ttl, err := cfg.TTLTable()
	require.NoError(t, err)
	assert.Equal(t, gateway.DefaultTTLs(), ttl)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"unknown mesh driver", func(c *Config) { c.Mesh.Driver = "spi" }},
		{"serial without port", func(c *Config) { c.Mesh.Driver = "serial" }},
		{"nats uplink without eui", func(c *Config) { c.LoRaWAN.Driver = "nats" }},
		{"unknown region", func(c *Config) { c.LoRaWAN.Region = "XX123" }},
		{"data rate out of range", func(c *Config) { c.LoRaWAN.DataRate = 12 }},
		{"pass longer than interval", func(c *Config) { c.Pass.Duration = 2 * time.Hour }},
		{"unknown ttl priority", func(c *Config) { c.Queue.TTL = map[string]time.Duration{"urgent": time.Hour} }},
		{"zero ttl", func(c *Config) { c.Queue.TTL = map[string]time.Duration{"high": 0} }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"unknown database", func(c *Config) { c.Database.Driver = "mysql" }},
		{"api without admin hash", func(c *Config) { c.API.Enabled = true }},
		{"webhook without endpoint", func(c *Config) { c.Integration.HTTP.Enabled = true }},
		{"mqtt without broker", func(c *Config) { c.Integration.MQTT.Enabled = true }},
		{"mqtt qos", func(c *Config) { c.Integration.MQTT.QoS = 3 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

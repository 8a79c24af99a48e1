package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/gateway"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/relay"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/lorawan"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid config")

// Config represents the gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Log      LogConfig      `yaml:"log" toml:"log"`
	Mesh     MeshConfig     `yaml:"mesh" toml:"mesh"`
	LoRaWAN  LoRaWANConfig  `yaml:"lorawan" toml:"lorawan"`
	Pass     PassConfig     `yaml:"pass" toml:"pass"`
	Queue    QueueConfig    `yaml:"queue" toml:"queue"`
	Codec    CodecConfig    `yaml:"codec" toml:"codec"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	NATS     NATSConfig     `yaml:"nats" toml:"nats"`
	API      APIConfig      `yaml:"api" toml:"api"`
	JWT      JWTConfig      `yaml:"jwt" toml:"jwt"`
	Admin    AdminConfig    `yaml:"admin" toml:"admin"`

	Integration IntegrationConfig `yaml:"integration" toml:"integration"`
}

// ServerConfig identifies the gateway
type ServerConfig struct {
	Name    string `yaml:"name" toml:"name"`
	Version string `yaml:"version" toml:"version"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MeshConfig selects the mesh radio driver
type MeshConfig struct {
	// Driver is stub, serial or nats
	Driver     string `yaml:"driver" toml:"driver"`
	SerialPort string `yaml:"serial_port" toml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate" toml:"baud_rate"`
}

// LoRaWANConfig configures the satellite uplink
type LoRaWANConfig struct {
	// Driver is stub or nats
	Driver          string        `yaml:"driver" toml:"driver"`
	Region          string        `yaml:"region" toml:"region"`
	DataRate        int           `yaml:"data_rate" toml:"data_rate"`
	FPort           uint8         `yaml:"fport" toml:"fport"`
	DevEUI          string        `yaml:"dev_eui" toml:"dev_eui"`
	JoinEUI         string        `yaml:"join_eui" toml:"join_eui"`
	DutyCycleLimit  time.Duration `yaml:"duty_cycle_limit" toml:"duty_cycle_limit"`
	DutyCycleWindow time.Duration `yaml:"duty_cycle_window" toml:"duty_cycle_window"`
	JoinAttempts    int           `yaml:"join_attempts" toml:"join_attempts"`
	JoinRetryDelay  time.Duration `yaml:"join_retry_delay" toml:"join_retry_delay"`
	JoinTimeout     time.Duration `yaml:"join_timeout" toml:"join_timeout"`
}

// PassConfig configures pass prediction
type PassConfig struct {
	Interval  time.Duration `yaml:"interval" toml:"interval"`
	Duration  time.Duration `yaml:"duration" toml:"duration"`
	WakeEarly time.Duration `yaml:"wake_early" toml:"wake_early"`
}

// QueueConfig configures the store-and-forward queue and loop timing
type QueueConfig struct {
	Capacity            int                      `yaml:"capacity" toml:"capacity"`
	MaxRetries          int                      `yaml:"max_retries" toml:"max_retries"`
	TTL                 map[string]time.Duration `yaml:"ttl" toml:"ttl"`
	TickInterval        time.Duration            `yaml:"tick_interval" toml:"tick_interval"`
	MaintenanceInterval time.Duration            `yaml:"maintenance_interval" toml:"maintenance_interval"`
	StatusInterval      time.Duration            `yaml:"status_interval" toml:"status_interval"`
}

// CodecConfig configures payload encoding
type CodecConfig struct {
	Compression bool `yaml:"compression" toml:"compression"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	// Driver is sqlite or postgres; empty disables persistence
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url" toml:"url"`
	Username          string        `yaml:"username" toml:"username"`
	Password          string        `yaml:"password" toml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects" toml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval" toml:"reconnect_interval"`
	PublishStatus     bool          `yaml:"publish_status" toml:"publish_status"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Host    string `yaml:"host" toml:"host"`
	Port    int    `yaml:"port" toml:"port"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret         string        `yaml:"secret" toml:"secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl" toml:"access_token_ttl"`
}

// AdminConfig holds the single API user
type AdminConfig struct {
	Username     string `yaml:"username" toml:"username"`
	PasswordHash string `yaml:"password_hash" toml:"password_hash"`
}

// IntegrationConfig configures status forwarding
type IntegrationConfig struct {
	Interval time.Duration         `yaml:"interval" toml:"interval"`
	HTTP     HTTPIntegrationConfig `yaml:"http" toml:"http"`
	MQTT     MQTTIntegrationConfig `yaml:"mqtt" toml:"mqtt"`
}

// HTTPIntegrationConfig configures the status webhook
type HTTPIntegrationConfig struct {
	Enabled  bool              `yaml:"enabled" toml:"enabled"`
	Endpoint string            `yaml:"endpoint" toml:"endpoint"`
	Headers  map[string]string `yaml:"headers" toml:"headers"`
	Timeout  time.Duration     `yaml:"timeout" toml:"timeout"`
}

// MQTTIntegrationConfig configures status publishing to an MQTT broker
type MQTTIntegrationConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	BrokerURL string `yaml:"broker_url" toml:"broker_url"`
	ClientID  string `yaml:"client_id" toml:"client_id"`
	Username  string `yaml:"username" toml:"username"`
	Password  string `yaml:"password" toml:"password"`
	Topic     string `yaml:"topic" toml:"topic"`
	QoS       byte   `yaml:"qos" toml:"qos"`
	TLS       bool   `yaml:"tls" toml:"tls"`
}

// Load loads configuration from file. The format follows the extension:
// .toml is TOML, anything else YAML.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := newConfig()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := newConfig()
	cfg.setDefaults()
	return &cfg
}

// newConfig holds the defaults whose zero value is also a valid setting
func newConfig() Config {
	return Config{
		LoRaWAN: LoRaWANConfig{DataRate: 3},
		Codec:   CodecConfig{Compression: true},
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("SATGW_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}

	if natsURL := os.Getenv("SATGW_NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if dsn := os.Getenv("SATGW_DATABASE_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}

	if secret := os.Getenv("SATGW_JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}

	if port := os.Getenv("SATGW_SERIAL_PORT"); port != "" {
		c.Mesh.SerialPort = port
	}
}

func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "satgw"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.Mesh.Driver == "" {
		c.Mesh.Driver = "stub"
	}
	if c.Mesh.BaudRate == 0 {
		c.Mesh.BaudRate = 115200
	}

	if c.LoRaWAN.Driver == "" {
		c.LoRaWAN.Driver = "stub"
	}
	if c.LoRaWAN.Region == "" {
		c.LoRaWAN.Region = "EU868"
	}
	if c.LoRaWAN.FPort == 0 {
		c.LoRaWAN.FPort = 42
	}
	if c.LoRaWAN.DutyCycleLimit == 0 {
		c.LoRaWAN.DutyCycleLimit = lorawan.DefaultDutyCycleLimit
	}
	if c.LoRaWAN.DutyCycleWindow == 0 {
		c.LoRaWAN.DutyCycleWindow = lorawan.DefaultDutyCycleWindow
	}
	if c.LoRaWAN.JoinAttempts == 0 {
		c.LoRaWAN.JoinAttempts = 5
	}
	if c.LoRaWAN.JoinRetryDelay == 0 {
		c.LoRaWAN.JoinRetryDelay = 10 * time.Second
	}
	if c.LoRaWAN.JoinTimeout == 0 {
		c.LoRaWAN.JoinTimeout = 5 * time.Second
	}

	if c.Pass.Interval == 0 {
		c.Pass.Interval = 90 * time.Minute
	}
	if c.Pass.Duration == 0 {
		c.Pass.Duration = 10 * time.Minute
	}
	if c.Pass.WakeEarly == 0 {
		c.Pass.WakeEarly = time.Minute
	}

	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = 64
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Queue.TickInterval == 0 {
		c.Queue.TickInterval = 50 * time.Millisecond
	}
	if c.Queue.MaintenanceInterval == 0 {
		c.Queue.MaintenanceInterval = time.Minute
	}
	if c.Queue.StatusInterval == 0 {
		c.Queue.StatusInterval = 5 * time.Minute
	}

	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = "satgw.db"
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}

	if c.API.Host == "" {
		c.API.Host = "127.0.0.1"
	}
	if c.API.Port == 0 {
		c.API.Port = 8090
	}
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = time.Hour
	}
	if c.Admin.Username == "" {
		c.Admin.Username = "admin"
	}

	if c.Integration.Interval == 0 {
		c.Integration.Interval = c.Queue.StatusInterval
	}
	if c.Integration.MQTT.Topic == "" {
		c.Integration.MQTT.Topic = "meshxt/{gateway}/status"
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level %q", ErrInvalidConfig, c.Log.Level)
	}

	switch c.Mesh.Driver {
	case "stub", "nats":
	case "serial":
		if c.Mesh.SerialPort == "" {
			return fmt.Errorf("%w: mesh.serial_port is required for the serial driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown mesh.driver %q", ErrInvalidConfig, c.Mesh.Driver)
	}

	switch c.LoRaWAN.Driver {
	case "stub":
	case "nats":
		if _, err := lorawan.ParseEUI64(c.LoRaWAN.DevEUI); err != nil {
			return fmt.Errorf("%w: lorawan.dev_eui: %v", ErrInvalidConfig, err)
		}
		if _, err := lorawan.ParseEUI64(c.LoRaWAN.JoinEUI); err != nil {
			return fmt.Errorf("%w: lorawan.join_eui: %v", ErrInvalidConfig, err)
		}
	default:
		return fmt.Errorf("%w: unknown lorawan.driver %q", ErrInvalidConfig, c.LoRaWAN.Driver)
	}

	if _, err := c.DataRate(); err != nil {
		return err
	}

	if c.Pass.Duration >= c.Pass.Interval {
		return fmt.Errorf("%w: pass.duration must be shorter than pass.interval", ErrInvalidConfig)
	}
	if c.Pass.WakeEarly < 0 || c.Pass.WakeEarly >= c.Pass.Interval {
		return fmt.Errorf("%w: pass.wake_early out of range", ErrInvalidConfig)
	}

	if c.Queue.Capacity < 1 {
		return fmt.Errorf("%w: queue.capacity must be positive", ErrInvalidConfig)
	}
	if _, err := c.TTLTable(); err != nil {
		return err
	}

	switch c.Database.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn is required for postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown database.driver %q", ErrInvalidConfig, c.Database.Driver)
	}

	if c.Integration.HTTP.Enabled && c.Integration.HTTP.Endpoint == "" {
		return fmt.Errorf("%w: integration.http.endpoint is required", ErrInvalidConfig)
	}
	if c.Integration.MQTT.Enabled && c.Integration.MQTT.BrokerURL == "" {
		return fmt.Errorf("%w: integration.mqtt.broker_url is required", ErrInvalidConfig)
	}
	if c.Integration.MQTT.QoS > 2 {
		return fmt.Errorf("%w: integration.mqtt.qos must be 0, 1 or 2", ErrInvalidConfig)
	}

	if c.API.Enabled && c.Admin.PasswordHash == "" {
		return fmt.Errorf("%w: admin.password_hash is required when the API is enabled", ErrInvalidConfig)
	}
	return nil
}

// DataRate resolves lorawan.region and lorawan.data_rate
func (c *Config) DataRate() (lorawan.DataRate, error) {
	region, err := lorawan.GetRegionConfiguration(c.LoRaWAN.Region)
	if err != nil {
		return lorawan.DataRate{}, fmt.Errorf("%w: lorawan.region: %v", ErrInvalidConfig, err)
	}
	dr, err := region.GetDataRate(c.LoRaWAN.DataRate)
	if err != nil {
		return lorawan.DataRate{}, fmt.Errorf("%w: lorawan.data_rate: %v", ErrInvalidConfig, err)
	}
	return dr, nil
}

// MaxPayloadSize returns the region limit for the configured data rate
func (c *Config) MaxPayloadSize() int {
	region, err := lorawan.GetRegionConfiguration(c.LoRaWAN.Region)
	if err != nil {
		return 0
	}
	return region.GetMaxPayloadSize(c.LoRaWAN.DataRate)
}

// TTLTable merges queue.ttl over the default table. Keys are priority names.
func (c *Config) TTLTable() (gateway.TTLTable, error) {
	table := gateway.DefaultTTLs()
	for name, ttl := range c.Queue.TTL {
		p, err := relay.ParsePriority(strings.ToLower(name))
		if err != nil {
			return nil, fmt.Errorf("%w: queue.ttl: %v", ErrInvalidConfig, err)
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("%w: queue.ttl.%s must be positive", ErrInvalidConfig, name)
		}
		table[p] = ttl
	}
	return table, nil
}

// PrintConfigSummary prints the effective configuration
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== MeshXT Satellite Gateway Configuration ===\n")
	fmt.Printf("Gateway: %s v%s\n", c.Server.Name, c.Server.Version)
	fmt.Printf("Mesh Driver: %s", c.Mesh.Driver)
	if c.Mesh.Driver == "serial" {
		fmt.Printf(" (%s @ %d baud)", c.Mesh.SerialPort, c.Mesh.BaudRate)
	}
	fmt.Printf("\n")

	fmt.Printf("Uplink Driver: %s\n", c.LoRaWAN.Driver)
	if dr, err := c.DataRate(); err == nil {
		fmt.Printf("  Region: %s DR%d (SF%d/%dkHz), max payload %d bytes\n",
			c.LoRaWAN.Region, c.LoRaWAN.DataRate, dr.SpreadFactor, dr.Bandwidth, c.MaxPayloadSize())
	}
	fmt.Printf("  Duty Cycle: %s per %s\n", c.LoRaWAN.DutyCycleLimit, c.LoRaWAN.DutyCycleWindow)
	fmt.Printf("  Join: %d attempts, %s apart\n", c.LoRaWAN.JoinAttempts, c.LoRaWAN.JoinRetryDelay)

	fmt.Printf("Pass Window: %s every %s (wake %s early)\n", c.Pass.Duration, c.Pass.Interval, c.Pass.WakeEarly)
	fmt.Printf("Queue: capacity %d, %d retries\n", c.Queue.Capacity, c.Queue.MaxRetries)
	if table, err := c.TTLTable(); err == nil {
		for p := relay.PriorityEmergency; p <= relay.PriorityLow; p++ {
			fmt.Printf("  TTL %-9s %s\n", p.String()+":", table[p])
		}
	}
	fmt.Printf("Compression: %v\n", c.Codec.Compression)

	if c.Database.Driver != "" {
		fmt.Printf("Database: %s\n", c.Database.Driver)
	} else {
		fmt.Printf("Database: disabled\n")
	}
	if c.Mesh.Driver == "nats" || c.LoRaWAN.Driver == "nats" || c.NATS.PublishStatus {
		fmt.Printf("NATS: %s\n", c.NATS.URL)
	}
	if c.Integration.HTTP.Enabled {
		fmt.Printf("Status Webhook: %s every %s\n", c.Integration.HTTP.Endpoint, c.Integration.Interval)
	}
	if c.Integration.MQTT.Enabled {
		fmt.Printf("Status MQTT: %s topic %s\n", c.Integration.MQTT.BrokerURL, c.Integration.MQTT.Topic)
	}
	if c.API.Enabled {
		fmt.Printf("API: http://%s:%d/api/v1\n", c.API.Host, c.API.Port)
	}

	fmt.Printf("==============================================\n")
}

// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Definitions DefinitionsConfig `mapstructure:"definitions"`
	Interfaces  []InterfaceConfig `mapstructure:"interfaces"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Security    SecurityConfig    `mapstructure:"security"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig represents the admin HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// DefinitionsConfig lists the packet definition files to load
type DefinitionsConfig struct {
	Files []string `mapstructure:"files"`
}

// InterfaceConfig represents one configured interface
type InterfaceConfig struct {
	Name              string                 `mapstructure:"name"`
	Type              string                 `mapstructure:"type"`
	Targets           []string               `mapstructure:"targets"`
	ConnectOnStartup  *bool                  `mapstructure:"connect_on_startup"`
	AutoReconnect     *bool                  `mapstructure:"auto_reconnect"`
	ReconnectDelay    time.Duration          `mapstructure:"reconnect_delay"`
	DisableDisconnect bool                   `mapstructure:"disable_disconnect"`
	ReadAllowed       *bool                  `mapstructure:"read_allowed"`
	WriteAllowed      *bool                  `mapstructure:"write_allowed"`
	WriteRawAllowed   *bool                  `mapstructure:"write_raw_allowed"`
	Options           map[string][]string    `mapstructure:"options"`
	Stream            map[string]interface{} `mapstructure:"stream"`
	Protocols         []ProtocolConfig       `mapstructure:"protocols"`
}

// ProtocolConfig represents one protocol stage of an interface
type ProtocolConfig struct {
	Type      string                 `mapstructure:"type"`
	Args      map[string]interface{} `mapstructure:"args"`
	Direction string                 `mapstructure:"direction"`
}

// NATSConfig represents the packet router connection
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
}

// RedisConfig represents the interface status store connection
type RedisConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	PoolSize       int           `mapstructure:"pool_size"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
	StatusTTL      time.Duration `mapstructure:"status_ttl"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	CORSMaxAge     time.Duration `mapstructure:"cors_max_age"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path := os.Getenv("GROUNDLINK_CONFIG_PATH"); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	return load(v)
}

// LoadFile loads configuration from an explicit file
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// Environment variable support
	v.SetEnvPrefix("GROUNDLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8090")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "groundlink")
	v.SetDefault("nats.subject_prefix", "groundlink")
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.max_reconnects", -1)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.key_prefix", "groundlink")
	v.SetDefault("redis.status_ttl", "30s")
	v.SetDefault("redis.status_interval", "5s")

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.cors_max_age", "12h")

	// App defaults
	v.SetDefault("app.name", "groundlink")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	// Basic validation
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if config.Server.TLS.Enabled && (config.Server.TLS.CertFile == "" || config.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.cert_file and server.tls.key_file are required when TLS is enabled")
	}

	// Validate environment
	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	names := make(map[string]bool, len(config.Interfaces))
	for i := range config.Interfaces {
		intf := &config.Interfaces[i]
		if err := intf.validate(); err != nil {
			return fmt.Errorf("interfaces[%d]: %w", i, err)
		}
		if names[intf.Name] {
			return fmt.Errorf("interfaces[%d]: duplicate interface name %s", i, intf.Name)
		}
		names[intf.Name] = true
	}

	return nil
}

func (ic *InterfaceConfig) validate() error {
	ic.Name = strings.ToUpper(strings.TrimSpace(ic.Name))
	if ic.Name == "" {
		return fmt.Errorf("name is required")
	}

	validTypes := []string{"tcp_client", "tcp_server", "udp", "serial", "usb", "loopback"}
	ic.Type = strings.ToLower(ic.Type)
	if !contains(validTypes, ic.Type) {
		return fmt.Errorf("type must be one of: %v", validTypes)
	}
	if ic.ReconnectDelay < 0 {
		return fmt.Errorf("reconnect_delay must not be negative")
	}

	for i, target := range ic.Targets {
		ic.Targets[i] = strings.ToUpper(target)
	}

	validDirections := []string{"", "READ", "WRITE", "READ_WRITE"}
	for i := range ic.Protocols {
		ic.Protocols[i].Direction = strings.ToUpper(ic.Protocols[i].Direction)
		if ic.Protocols[i].Type == "" {
			return fmt.Errorf("protocols[%d].type is required", i)
		}
		if !contains(validDirections, ic.Protocols[i].Direction) {
			return fmt.Errorf("protocols[%d].direction must be READ, WRITE, or READ_WRITE", i)
		}
	}
	return nil
}

// IsConnectOnStartup reports connect_on_startup, true when unset
func (ic *InterfaceConfig) IsConnectOnStartup() bool { return boolOr(ic.ConnectOnStartup, true) }

// IsAutoReconnect reports auto_reconnect, true when unset
func (ic *InterfaceConfig) IsAutoReconnect() bool { return boolOr(ic.AutoReconnect, true) }

// IsReadAllowed reports read_allowed, true when unset
func (ic *InterfaceConfig) IsReadAllowed() bool { return boolOr(ic.ReadAllowed, true) }

// IsWriteAllowed reports write_allowed, true when unset
func (ic *InterfaceConfig) IsWriteAllowed() bool { return boolOr(ic.WriteAllowed, true) }

// IsWriteRawAllowed reports write_raw_allowed, true when unset
func (ic *InterfaceConfig) IsWriteRawAllowed() bool { return boolOr(ic.WriteRawAllowed, true) }

// ReconnectDelayOrDefault returns reconnect_delay, 5s when unset
func (ic *InterfaceConfig) ReconnectDelayOrDefault() time.Duration {
	if ic.ReconnectDelay == 0 {
		return 5 * time.Second
	}
	return ic.ReconnectDelay
}

func boolOr(value *bool, def bool) bool {
	if value == nil {
		return def
	}
	return *value
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}

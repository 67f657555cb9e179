package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration loaded from YAML with GATEHOUSE_* overrides.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	CORS      CORSConfig      `yaml:"cors"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AuthConfig holds token and lockout settings.
type AuthConfig struct {
	Secret           string        `yaml:"secret"`
	Issuer           string        `yaml:"issuer"`
	AccessTTL        time.Duration `yaml:"access_ttl"`
	RefreshTTL       time.Duration `yaml:"refresh_ttl"`
	MaxLoginAttempts int           `yaml:"max_login_attempts"`
	LockoutDuration  time.Duration `yaml:"lockout_duration"`
	HashCost         int           `yaml:"hash_cost"`
}

// RateLimitConfig throttles POST /auth/login per client IP.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MQTTConfig configures the security event publisher.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

const minSecretLength = 32

// Load reads path (optional), applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer:           "gatehouse",
			AccessTTL:        15 * time.Minute,
			RefreshTTL:       7 * 24 * time.Hour,
			MaxLoginAttempts: 5,
			LockoutDuration:  15 * time.Minute,
			HashCost:         12,
		},
		RateLimit: RateLimitConfig{Enabled: true, RPS: 5, Burst: 10},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "gatehouse",
			TopicPrefix: "gatehouse/events",
			QoS:         1,
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"GATEHOUSE_HTTP_ADDR":     &cfg.Server.HTTPAddr,
		"GATEHOUSE_GRPC_ADDR":     &cfg.Server.GRPCAddr,
		"GATEHOUSE_PG_DSN":        &cfg.Database.DSN,
		"GATEHOUSE_JWT_SECRET":    &cfg.Auth.Secret,
		"GATEHOUSE_JWT_ISSUER":    &cfg.Auth.Issuer,
		"GATEHOUSE_LOG_LEVEL":     &cfg.Logging.Level,
		"GATEHOUSE_LOG_FORMAT":    &cfg.Logging.Format,
		"GATEHOUSE_MQTT_BROKER":   &cfg.MQTT.Broker,
		"GATEHOUSE_MQTT_USERNAME": &cfg.MQTT.Username,
		"GATEHOUSE_MQTT_PASSWORD": &cfg.MQTT.Password,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"GATEHOUSE_ACCESS_TTL":       &cfg.Auth.AccessTTL,
		"GATEHOUSE_REFRESH_TTL":      &cfg.Auth.RefreshTTL,
		"GATEHOUSE_LOCKOUT_DURATION": &cfg.Auth.LockoutDuration,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"GATEHOUSE_MAX_LOGIN_ATTEMPTS": &cfg.Auth.MaxLoginAttempts,
		"GATEHOUSE_HASH_COST":          &cfg.Auth.HashCost,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("GATEHOUSE_MQTT_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GATEHOUSE_MQTT_ENABLED: %w", err)
		}
		cfg.MQTT.Enabled = b
	}
	if v := os.Getenv("GATEHOUSE_CORS_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, o)
			}
		}
	}
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.HTTPAddr == "" {
		errs = append(errs, errors.New("server.http_addr is required"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if len(c.Auth.Secret) < minSecretLength {
		errs = append(errs, fmt.Errorf("auth.secret must be at least %d characters", minSecretLength))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("auth token ttls must be positive"))
	}
	if c.Auth.AccessTTL >= c.Auth.RefreshTTL {
		errs = append(errs, errors.New("auth.access_ttl must be shorter than auth.refresh_ttl"))
	}
	if c.Auth.MaxLoginAttempts < 1 {
		errs = append(errs, errors.New("auth.max_login_attempts must be at least 1"))
	}
	if c.Auth.LockoutDuration <= 0 {
		errs = append(errs, errors.New("auth.lockout_duration must be positive"))
	}
	if c.Auth.HashCost < 4 || c.Auth.HashCost > 31 {
		errs = append(errs, errors.New("auth.hash_cost must be between 4 and 31"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1) {
		errs = append(errs, errors.New("rate_limit.rps and rate_limit.burst must be positive"))
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, errors.New("mqtt.qos must be 0, 1 or 2"))
		}
	}
	return errors.Join(errs...)
}

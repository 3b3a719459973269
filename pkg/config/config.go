package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds every setting a service may read. Services ignore the
// sections they do not use.
type Config struct {
	Service     string           `mapstructure:"service"`
	Environment string           `mapstructure:"environment"`
	Port        string           `mapstructure:"port"`
	LogLevel    string           `mapstructure:"log_level"`
	JWTSecret   string           `mapstructure:"jwt_secret"`
	AnonEncKey  string           `mapstructure:"anon_enc_key"`
	Postgres    PostgresConfig   `mapstructure:"postgres"`
	Mongo       MongoConfig      `mapstructure:"mongo"`
	RabbitMQ    RabbitMQConfig   `mapstructure:"rabbitmq"`
	MinIO       MinIOConfig      `mapstructure:"minio"`
	Lifecycle   LifecycleConfig  `mapstructure:"lifecycle"`
	Dispatcher  DispatcherConfig `mapstructure:"dispatcher"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DB              string        `mapstructure:"db"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN renders the keyword/value connection string understood by pgx.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		p.Host, p.User, p.Password, p.DB, p.Port, p.SSLMode)
}

type MongoConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DB       string `mapstructure:"db"`
}

func (m MongoConfig) URI() string {
	u := url.URL{Scheme: "mongodb", Host: fmt.Sprintf("%s:%d", m.Host, m.Port)}
	if m.User != "" {
		u.User = url.UserPassword(m.User, m.Password)
	}
	return u.String()
}

type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"pass"`
}

// AMQPURL prefers an explicit RABBITMQ_URL over the host parts.
func (r RabbitMQConfig) AMQPURL() string {
	if r.URL != "" {
		return r.URL
	}
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(r.User, r.Password),
		Host:   fmt.Sprintf("%s:%d", r.Host, r.Port),
		Path:   "/",
	}
	return u.String()
}

type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	PublicURL string `mapstructure:"public_url"`
}

// LifecycleConfig tunes the report lifecycle engine.
type LifecycleConfig struct {
	BatchLimit      int `mapstructure:"batch_limit"`
	ErrorListLimit  int `mapstructure:"error_list_limit"`
	ConflictRetries int `mapstructure:"conflict_retries"`
}

type DispatcherConfig struct {
	SLASweep     string `mapstructure:"sla_sweep"`
	SweepEnabled bool   `mapstructure:"sweep_enabled"`
}

// Load reads configuration for the named service from defaults, an optional
// config.yaml and the environment. Nested keys map to env names by
// replacing dots with underscores (postgres.host -> POSTGRES_HOST).
func Load(service string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/civic-issue-tracker")

	setDefaults(v, service)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Per-service port wins over the generic PORT.
	portEnv := strings.ToUpper(strings.ReplaceAll(strings.TrimSuffix(service, "-service"), "-", "_")) + "_PORT"
	if err := v.BindEnv("port", portEnv, "PORT"); err != nil {
		return nil, fmt.Errorf("bind port env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Service = service

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", service, err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("environment", "development")
	v.SetDefault("port", defaultPort(service))
	v.SetDefault("log_level", "info")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("anon_enc_key", "")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.db", "civic_reports")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 25)
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("mongo.enabled", false)
	v.SetDefault("mongo.host", "localhost")
	v.SetDefault("mongo.port", 27017)
	v.SetDefault("mongo.user", "")
	v.SetDefault("mongo.password", "")
	v.SetDefault("mongo.db", "audit_db")

	v.SetDefault("rabbitmq.enabled", false)
	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.pass", "guest")

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", "appeal-evidence")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.public_url", "")

	v.SetDefault("lifecycle.batch_limit", 100)
	v.SetDefault("lifecycle.error_list_limit", 20)
	v.SetDefault("lifecycle.conflict_retries", 1)

	v.SetDefault("dispatcher.sla_sweep", "*/5 * * * *")
	v.SetDefault("dispatcher.sweep_enabled", true)
}

func defaultPort(service string) string {
	switch service {
	case "auth-service":
		return "8081"
	case "report-service":
		return "8082"
	case "dispatcher-service":
		return "8083"
	case "notification-service":
		return "8084"
	default:
		return "8080"
	}
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.Lifecycle.BatchLimit <= 0 {
		return fmt.Errorf("lifecycle.batch_limit must be positive, got %d", c.Lifecycle.BatchLimit)
	}
	if c.Lifecycle.ErrorListLimit <= 0 {
		return fmt.Errorf("lifecycle.error_list_limit must be positive, got %d", c.Lifecycle.ErrorListLimit)
	}
	if c.Lifecycle.ConflictRetries < 0 {
		return fmt.Errorf("lifecycle.conflict_retries must not be negative, got %d", c.Lifecycle.ConflictRetries)
	}
	if c.Dispatcher.SweepEnabled {
		if _, err := cron.ParseStandard(c.Dispatcher.SLASweep); err != nil {
			return fmt.Errorf("dispatcher.sla_sweep: %w", err)
		}
	}
	if c.MinIO.Enabled && (c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "") {
		return errors.New("minio credentials are required when minio is enabled")
	}
	return nil
}

// IsProduction reports whether the environment asks for hardened defaults.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

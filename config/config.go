package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName            string `mapstructure:"app_name"`
	LogLevel           string `mapstructure:"log_level"`
	PrettyLogs         bool   `mapstructure:"pretty_logs"`
	StartupMaxAttempts int    `mapstructure:"startup_max_attempts"`

	// Database driver, postgres or sqlite3
	DatabaseDriver   string `mapstructure:"db_driver"`
	DatabaseHost     string `mapstructure:"db_host"`
	DatabasePort     string `mapstructure:"db_port"`
	DatabaseUserName string `mapstructure:"db_user_name"`
	DatabasePassword string `mapstructure:"db_password"`
	// Database name, or file path for sqlite3
	DatabaseName            string        `mapstructure:"db_name"`
	DatabaseSSLMode         string        `mapstructure:"db_ssl_mode"`
	DatabaseMaxOpenConns    int           `mapstructure:"db_max_open_conns"`
	DatabaseMaxIdleConns    int           `mapstructure:"db_max_idle_conns"`
	DatabaseConnMaxLifetime time.Duration `mapstructure:"db_conn_max_lifetime"`
	// Isolation level used by mutation transactions: default, read_committed, repeatable_read, serializable
	DatabaseTxIsolation           string `mapstructure:"db_tx_isolation"`
	DatabaseMigrationFolderPath   string `mapstructure:"db_migration_folder_path"`
	DatabaseMigrationVersion      int    `mapstructure:"db_migration_version"`
	DatabaseMigrationForce        int    `mapstructure:"db_migration_force"`
	DatabaseMigrationAutoRollback bool   `mapstructure:"db_migration_auto_rollback"`

	RedisEnabled  bool   `mapstructure:"redis_enabled"`
	RedisHost     string `mapstructure:"redis_host"`
	RedisPort     string `mapstructure:"redis_port"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	// Redis key holding the metadata version stamp shared by all engine processes
	MetadataVersionKey string `mapstructure:"metadata_version_key"`

	KafkaEnabled      bool     `mapstructure:"kafka_enabled"`
	KafkaBrokers      []string `mapstructure:"kafka_brokers"`
	KafkaOutputTopic  string   `mapstructure:"kafka_output_topic"`
	KafkaBatchSize    int      `mapstructure:"kafka_batch_size"`
	KafkaBatchTimeout int      `mapstructure:"kafka_batch_timeout_ms"`
	KafkaRequiredAcks int      `mapstructure:"kafka_required_acks"`
	KafkaCompression  string   `mapstructure:"kafka_compression"`

	TracingEnabled bool `mapstructure:"tracing_enabled"`
	// OTLP collector endpoint, host:port
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	// OTLP protocol, grpc or http
	OTLPProtocol string `mapstructure:"otlp_protocol"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`

	DatetimeFormat   string `mapstructure:"datetime_format"`
	DefaultPageLimit int    `mapstructure:"default_page_limit"`
	MaxPageLimit     int    `mapstructure:"max_page_limit"`
}

// SetDefaults registers every key so AutomaticEnv can resolve it during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "eav-engine")
	v.SetDefault("log_level", "info")
	v.SetDefault("pretty_logs", false)
	v.SetDefault("startup_max_attempts", 5)

	v.SetDefault("db_driver", "postgres")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user_name", "")
	v.SetDefault("db_password", "")
	v.SetDefault("db_name", "eav")
	v.SetDefault("db_ssl_mode", "disable")
	v.SetDefault("db_max_open_conns", 25)
	v.SetDefault("db_max_idle_conns", 10)
	v.SetDefault("db_conn_max_lifetime", "10s")
	v.SetDefault("db_tx_isolation", "default")
	v.SetDefault("db_migration_folder_path", "db/pg")
	v.SetDefault("db_migration_version", 0)
	v.SetDefault("db_migration_force", 0)
	v.SetDefault("db_migration_auto_rollback", true)

	v.SetDefault("redis_enabled", false)
	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", "6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("metadata_version_key", "eav:metadata:version")

	v.SetDefault("kafka_enabled", false)
	v.SetDefault("kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("kafka_output_topic", "eav-changes")
	v.SetDefault("kafka_batch_size", 100)
	v.SetDefault("kafka_batch_timeout_ms", 100)
	v.SetDefault("kafka_required_acks", 1)
	v.SetDefault("kafka_compression", "snappy")

	v.SetDefault("tracing_enabled", false)
	v.SetDefault("otlp_endpoint", "localhost:4317")
	v.SetDefault("otlp_protocol", "grpc")
	v.SetDefault("otlp_insecure", true)

	v.SetDefault("datetime_format", time.RFC3339)
	v.SetDefault("default_page_limit", 20)
	v.SetDefault("max_page_limit", 500)
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()

	return LoadWithViper(v)
}

func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	switch cfg.DatabaseDriver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", cfg.DatabaseDriver)
	}
	if cfg.DefaultPageLimit <= 0 {
		return fmt.Errorf("DEFAULT_PAGE_LIMIT must be positive")
	}
	if cfg.MaxPageLimit < cfg.DefaultPageLimit {
		return fmt.Errorf("MAX_PAGE_LIMIT must be at least DEFAULT_PAGE_LIMIT")
	}
	if cfg.TracingEnabled && cfg.OTLPProtocol != "grpc" && cfg.OTLPProtocol != "http" {
		return fmt.Errorf("unsupported OTLP_PROTOCOL %q", cfg.OTLPProtocol)
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	return nil
}

// DataSourceName builds the driver specific connection string.
func (c *Config) DataSourceName() string {
	if c.DatabaseDriver == "sqlite3" {
		return c.DatabaseName
	}
	parts := []string{
		"host=" + c.DatabaseHost,
		"port=" + c.DatabasePort,
		"dbname=" + c.DatabaseName,
		"sslmode=" + c.DatabaseSSLMode,
	}
	if c.DatabaseUserName != "" {
		parts = append(parts, "user="+c.DatabaseUserName)
	}
	if c.DatabasePassword != "" {
		parts = append(parts, "password="+c.DatabasePassword)
	}
	return strings.Join(parts, " ")
}

func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

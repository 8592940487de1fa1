// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Guard backends understood by GUARD_BACKEND.
const (
	GuardBackendLocal    = "local"
	GuardBackendRedis    = "redis"
	GuardBackendPostgres = "postgres"
)

// Database drivers understood by DB_DRIVER.
const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	DBDriver     string `mapstructure:"DB_DRIVER"`
	DBHost       string `mapstructure:"DB_HOST"`
	DBPort       string `mapstructure:"DB_PORT"`
	DBUser       string `mapstructure:"DB_USER"`
	DBPassword   string `mapstructure:"DB_PASSWORD"`
	DBName       string `mapstructure:"DB_NAME"`
	DBSSLMode    string `mapstructure:"DB_SSLMODE"`
	DBSQLitePath string `mapstructure:"DB_SQLITE_PATH"`
	DBSchemaMode string `mapstructure:"DB_SCHEMA_MODE"`

	RedisURL string `mapstructure:"REDIS_URL"`

	GuardBackend        string        `mapstructure:"GUARD_BACKEND"`
	GuardAcquireTimeout time.Duration `mapstructure:"GUARD_ACQUIRE_TIMEOUT"`
	GuardLockTTL        time.Duration `mapstructure:"GUARD_LOCK_TTL"`

	RegistryService   string        `mapstructure:"REGISTRY_SERVICE"`
	DefaultCopyGroup  string        `mapstructure:"DEFAULT_COPY_GROUP"`
	TrustProxyHeaders bool          `mapstructure:"TRUST_PROXY_HEADERS"`
	IdentityCacheTTL  time.Duration `mapstructure:"IDENTITY_CACHE_TTL"`

	// Serving TLS directly requires all three; otherwise a proxy terminates TLS.
	TLSCertFile     string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile      string `mapstructure:"TLS_KEY_FILE"`
	TLSClientCAFile string `mapstructure:"TLS_CLIENT_CA_FILE"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	viper.SetDefault("PORT", "8375")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("ALLOWED_ORIGINS", "*")
	viper.SetDefault("DB_DRIVER", DBDriverPostgres)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "registry")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "dynamoregister")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_SQLITE_PATH", "registry.db")
	viper.SetDefault("DB_SCHEMA_MODE", "hybrid")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("GUARD_BACKEND", GuardBackendLocal)
	viper.SetDefault("GUARD_ACQUIRE_TIMEOUT", 30*time.Second)
	viper.SetDefault("GUARD_LOCK_TTL", time.Minute)
	viper.SetDefault("REGISTRY_SERVICE", "dynamo")
	viper.SetDefault("DEFAULT_COPY_GROUP", "AnalysisOps")
	viper.SetDefault("TRUST_PROXY_HEADERS", false)
	viper.SetDefault("IDENTITY_CACHE_TTL", time.Minute)
	viper.SetDefault("TLS_CERT_FILE", "")
	viper.SetDefault("TLS_KEY_FILE", "")
	viper.SetDefault("TLS_CLIENT_CA_FILE", "")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) normalize() {
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.GuardBackend = strings.ToLower(strings.TrimSpace(c.GuardBackend))
	c.DBSchemaMode = strings.ToLower(strings.TrimSpace(c.DBSchemaMode))
}

// ServesTLS reports whether the server terminates mutual TLS itself.
func (c *Config) ServesTLS() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != "" && c.TLSClientCAFile != ""
}

// IsProduction reports whether the config describes a production deployment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.RegistryService == "" {
		return errors.New("REGISTRY_SERVICE is required")
	}
	if c.DefaultCopyGroup == "" {
		return errors.New("DEFAULT_COPY_GROUP is required")
	}

	switch c.DBDriver {
	case DBDriverPostgres, DBDriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}

	switch c.GuardBackend {
	case GuardBackendLocal, GuardBackendRedis:
	case GuardBackendPostgres:
		if c.DBDriver != DBDriverPostgres {
			return errors.New("GUARD_BACKEND=postgres requires DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported GUARD_BACKEND %q", c.GuardBackend)
	}

	if c.GuardAcquireTimeout <= 0 {
		return errors.New("GUARD_ACQUIRE_TIMEOUT must be positive")
	}
	if c.GuardBackend == GuardBackendRedis && c.GuardLockTTL <= 0 {
		return errors.New("GUARD_LOCK_TTL must be positive for the redis guard")
	}

	tlsSet := 0
	for _, f := range []string{c.TLSCertFile, c.TLSKeyFile, c.TLSClientCAFile} {
		if f != "" {
			tlsSet++
		}
	}
	if tlsSet != 0 && tlsSet != 3 {
		return errors.New("TLS_CERT_FILE, TLS_KEY_FILE and TLS_CLIENT_CA_FILE must be set together")
	}

	if c.IsProduction() {
		if !c.ServesTLS() && !c.TrustProxyHeaders {
			log.Println("WARNING: neither mutual TLS nor TRUST_PROXY_HEADERS is configured; every caller will be unknown.")
		}
		if c.DBDriver == DBDriverPostgres && (c.DBPassword == "password" || c.DBPassword == "") {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBDriver == DBDriverPostgres && (c.DBSSLMode == "disable" || c.DBSSLMode == "") {
			return errors.New("DB_SSLMODE must not be disabled in production")
		}
		if c.GuardBackend == GuardBackendLocal {
			log.Println("WARNING: GUARD_BACKEND=local only serializes submissions within one process. Use redis or postgres when running more than one replica.")
		}
		if c.TrustProxyHeaders {
			log.Println("WARNING: TRUST_PROXY_HEADERS is enabled in production. Make sure only the TLS-terminating proxy can reach this service.")
		}
	}

	return nil
}

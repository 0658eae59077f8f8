package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "CASHIER"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Cache      CacheConfig      `mapstructure:"cache"`
}

type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	Host            string `mapstructure:"host"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	// RequestsPerMinute caps API calls per subject; 0 disables the limiter.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // postgres, mysql or sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	Topic         string   `mapstructure:"topic"`
}

type AuthConfig struct {
	JWT JWTConfig `mapstructure:"jwt"`
}

type JWTConfig struct {
	SecretKey string        `mapstructure:"secret_key"`
	Issuer    string        `mapstructure:"issuer"`
	Algorithm string        `mapstructure:"algorithm"` // HS256 only
	Expiry    time.Duration `mapstructure:"expiry"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	JaegerURL    string  `mapstructure:"jaeger_url"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	AddCaller  bool   `mapstructure:"add_caller"`
	Stacktrace bool   `mapstructure:"stacktrace"`
}

// GatewayConfig holds the process-wide payment gateway credentials and
// transport settings. Subjects may override the credentials field by field.
type GatewayConfig struct {
	Environment    string               `mapstructure:"environment"`
	MerchantID     string               `mapstructure:"merchant_id"`
	PublicKey      string               `mapstructure:"public_key"`
	PrivateKey     string               `mapstructure:"private_key"`
	WebhookSecret  string               `mapstructure:"webhook_secret"`
	CardUpFront    bool                 `mapstructure:"card_up_front"`
	BaseURL        string               `mapstructure:"base_url"`
	Timeout        time.Duration        `mapstructure:"timeout"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type ReconcilerConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Schedule  string `mapstructure:"schedule"`
	BatchSize int    `mapstructure:"batch_size"`
	// SyncActive also refreshes active subjects from the gateway on each sweep.
	SyncActive bool `mapstructure:"sync_active"`
}

type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	PreviewTTL time.Duration `mapstructure:"preview_ttl"`
	Prefix     string        `mapstructure:"prefix"`
}

func Load(serviceName string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(serviceName)
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/cashier")

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	if err := v.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist, we'll use defaults and env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideFromEnv(v, &config)

	if config.Telemetry.ServiceName == "" {
		config.Telemetry.ServiceName = serviceName
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.shutdown_timeout", 30)
	v.SetDefault("server.requests_per_minute", 120)

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "cashier")
	v.SetDefault("database.password", "cashier")
	v.SetDefault("database.name", "cashier")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "cashier-group")
	v.SetDefault("kafka.topic", "billing-events")

	// Auth defaults
	v.SetDefault("auth.jwt.secret_key", "development-secret-key-change-in-production")
	v.SetDefault("auth.jwt.issuer", "cashier")
	v.SetDefault("auth.jwt.algorithm", "HS256")
	v.SetDefault("auth.jwt.expiry", "1h")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.jaeger_url", "http://localhost:14268/api/traces")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.add_caller", true)
	v.SetDefault("logger.stacktrace", false)

	// Gateway defaults
	v.SetDefault("gateway.environment", "sandbox")
	v.SetDefault("gateway.timeout", 30*time.Second)
	v.SetDefault("gateway.card_up_front", true)
	v.SetDefault("gateway.rate_limit.requests_per_second", 25.0)
	v.SetDefault("gateway.rate_limit.burst", 25)
	v.SetDefault("gateway.circuit_breaker.enabled", true)
	v.SetDefault("gateway.circuit_breaker.max_requests", 3)
	v.SetDefault("gateway.circuit_breaker.interval", 30*time.Second)
	v.SetDefault("gateway.circuit_breaker.timeout", 30*time.Second)
	v.SetDefault("gateway.circuit_breaker.failure_ratio", 0.5)
	v.SetDefault("gateway.circuit_breaker.min_requests", 5)

	// Reconciler defaults
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.schedule", "@every 15m")
	v.SetDefault("reconciler.batch_size", 100)
	v.SetDefault("reconciler.sync_active", false)

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.preview_ttl", 10*time.Minute)
	v.SetDefault("cache.prefix", "cashier")
}

func overrideFromEnv(v *viper.Viper, cfg *Config) {
	// Secrets have no defaults, so Unmarshal never sees their env vars.
	if key := v.GetString("GATEWAY_PRIVATE_KEY"); key != "" {
		cfg.Gateway.PrivateKey = key
	}
	if key := v.GetString("GATEWAY_PUBLIC_KEY"); key != "" {
		cfg.Gateway.PublicKey = key
	}
	if secret := v.GetString("GATEWAY_WEBHOOK_SECRET"); secret != "" {
		cfg.Gateway.WebhookSecret = secret
	}
	if merchant := v.GetString("GATEWAY_MERCHANT_ID"); merchant != "" {
		cfg.Gateway.MerchantID = merchant
	}

	if host := v.GetString("DATABASE_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if pass := v.GetString("DATABASE_PASSWORD"); pass != "" {
		cfg.Database.Password = pass
	}

	if redisHost := v.GetString("REDIS_HOST"); redisHost != "" {
		cfg.Redis.Host = redisHost
	}

	if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}

	if servicePort := v.GetInt("SERVER_PORT"); servicePort != 0 {
		cfg.Server.Port = servicePort
	}
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

package config

import (
	billing "github.com/linkflow-go/cashier/internal/domain/billing"
	"github.com/linkflow-go/cashier/pkg/database"
	"github.com/linkflow-go/cashier/pkg/events"
	"github.com/linkflow-go/cashier/pkg/logger"
	"github.com/linkflow-go/cashier/pkg/resilience"
)

// ToLoggerConfig converts LoggerConfig to logger.Config
func (c LoggerConfig) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		AddCaller:  c.AddCaller,
		Stacktrace: c.Stacktrace,
	}
}

// ToDatabaseConfig converts DatabaseConfig to database.Config
func (c DatabaseConfig) ToDatabaseConfig() database.Config {
	return database.Config{
		Driver:       c.Driver,
		Host:         c.Host,
		Port:         c.Port,
		User:         c.User,
		Password:     c.Password,
		Name:         c.Name,
		SSLMode:      c.SSLMode,
		MaxOpenConns: c.MaxOpenConns,
		MaxIdleConns: c.MaxIdleConns,
	}
}

// ToKafkaConfig converts KafkaConfig to events.KafkaConfig
func (c KafkaConfig) ToKafkaConfig() events.KafkaConfig {
	return events.KafkaConfig{
		Brokers: c.Brokers,
		Topic:   c.Topic,
	}
}

// ToResilienceConfig converts CircuitBreakerConfig to resilience.CircuitBreakerConfig
func (c CircuitBreakerConfig) ToResilienceConfig(name string) resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig(name)
	if c.MaxRequests > 0 {
		cfg.MaxRequests = c.MaxRequests
	}
	if c.Interval > 0 {
		cfg.Interval = c.Interval
	}
	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
	if c.FailureRatio > 0 {
		cfg.FailureRatio = c.FailureRatio
	}
	if c.MinRequests > 0 {
		cfg.MinRequests = c.MinRequests
	}
	return cfg
}

// ToCredentials converts GatewayConfig to the process-wide gateway credentials
func (c GatewayConfig) ToCredentials() (billing.Credentials, error) {
	env, err := billing.ParseEnvironment(c.Environment)
	if err != nil {
		return billing.Credentials{}, err
	}
	return billing.Credentials{
		Environment: env,
		MerchantID:  c.MerchantID,
		PublicKey:   c.PublicKey,
		PrivateKey:  c.PrivateKey,
	}, nil
}

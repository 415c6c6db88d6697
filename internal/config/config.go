package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL string
	LogLevel    string
	ServiceName string
	// MetricsAddr is the listen address of the /metrics and /healthz server.
	// Empty disables it.
	MetricsAddr string

	SweepInterval    time.Duration
	SweepBatchSize   int
	SweepConcurrency int

	TemporalAddress       string
	TemporalTaskQueue     string
	TemporalSweepCron     string
	TemporalTLSCert       string
	TemporalTLSKey        string
	TemporalTLSCACert     string
	TemporalTLSServerName string

	MigrationsDir string
	// DependencyCatalog is the path of a YAML file of specification
	// dependencies seeded at startup. Empty skips seeding.
	DependencyCatalog string
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		ServiceName:           getEnv("SERVICE_NAME", ""),
		MetricsAddr:           getEnv("METRICS_ADDR", ":9090"),
		TemporalAddress:       getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue:     getEnv("TEMPORAL_TASK_QUEUE", "fulfillment-tasks"),
		TemporalSweepCron:     getEnv("TEMPORAL_SWEEP_CRON", "* * * * *"),
		TemporalTLSCert:       getEnv("TEMPORAL_TLS_CERT", ""),
		TemporalTLSKey:        getEnv("TEMPORAL_TLS_KEY", ""),
		TemporalTLSCACert:     getEnv("TEMPORAL_TLS_CA_CERT", ""),
		TemporalTLSServerName: getEnv("TEMPORAL_TLS_SERVER_NAME", ""),
		MigrationsDir:         getEnv("MIGRATIONS_DIR", ""),
		DependencyCatalog:     getEnv("DEPENDENCY_CATALOG", ""),
	}

	var err error
	if cfg.SweepInterval, err = time.ParseDuration(getEnv("SWEEP_INTERVAL", "30s")); err != nil {
		return nil, fmt.Errorf("parse SWEEP_INTERVAL: %w", err)
	}
	if cfg.SweepBatchSize, err = strconv.Atoi(getEnv("SWEEP_BATCH_SIZE", "100")); err != nil {
		return nil, fmt.Errorf("parse SWEEP_BATCH_SIZE: %w", err)
	}
	if cfg.SweepConcurrency, err = strconv.Atoi(getEnv("SWEEP_CONCURRENCY", "4")); err != nil {
		return nil, fmt.Errorf("parse SWEEP_CONCURRENCY: %w", err)
	}

	return cfg, nil
}

// Validate checks the settings the given component needs: "orchestrator" or
// "worker".
func (c *Config) Validate(component string) error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.SweepBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_BATCH_SIZE must be positive, got %d", c.SweepBatchSize))
	}
	if c.SweepConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_CONCURRENCY must be positive, got %d", c.SweepConcurrency))
	}

	switch component {
	case "orchestrator":
		if c.SweepInterval <= 0 {
			errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval))
		}
	case "worker":
		if c.TemporalAddress == "" {
			errs = append(errs, errors.New("TEMPORAL_ADDRESS is required"))
		}
		if c.TemporalSweepCron == "" {
			errs = append(errs, errors.New("TEMPORAL_SWEEP_CRON is required"))
		}
		if (c.TemporalTLSCert == "") != (c.TemporalTLSKey == "") {
			errs = append(errs, errors.New("TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must be set together"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown component %q", component))
	}

	return errors.Join(errs...)
}

// TemporalTLS builds the client TLS config for Temporal, or returns nil, nil
// when no client certificate is configured.
func (c *Config) TemporalTLS() (*tls.Config, error) {
	if c.TemporalTLSCert == "" && c.TemporalTLSKey == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.TemporalTLSCert, c.TemporalTLSKey)
	if err != nil {
		return nil, fmt.Errorf("load temporal client cert: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		ServerName:   c.TemporalTLSServerName,
	}

	if c.TemporalTLSCACert != "" {
		caPEM, err := os.ReadFile(c.TemporalTLSCACert)
		if err != nil {
			return nil, fmt.Errorf("read temporal CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, errors.New("parse temporal CA cert: no certificates found")
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

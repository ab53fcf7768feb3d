// Package config loads service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendBolt     = "bbolt"
)

// Config is the full server configuration.
type Config struct {
	Server      Server
	Biometrics  Biometrics
	Keys        Keys
	Recognition Recognition
	Storage     Storage
	Postgres    PostgresConfig
	Redis       RedisConfig
	Bolt        BoltConfig
	Audit       AuditConfig
	Log         LogConfig
}

// Server captures the operations listener.
type Server struct {
	OpsAddr         string        `env:"VERIFACE_OPS_ADDR"         envDefault:":9090"`
	ShutdownTimeout time.Duration `env:"VERIFACE_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	Environment     string        `env:"VERIFACE_ENV"              envDefault:"development"`
}

// Biometrics holds the decision and lifecycle constants of the orchestrator.
type Biometrics struct {
	ChallengeTTL            time.Duration `env:"BIOMETRIC_CHALLENGE_TTL"             envDefault:"90s"`
	ChallengeAuditRetention time.Duration `env:"BIOMETRIC_CHALLENGE_AUDIT_RETENTION" envDefault:"10m"`
	SweepInterval           time.Duration `env:"BIOMETRIC_SWEEP_INTERVAL"            envDefault:"30s"`
	MaxConsumeAttempts      int           `env:"BIOMETRIC_MAX_CONSUME_ATTEMPTS"      envDefault:"3"`
	EnrollLivenessActions   int           `env:"BIOMETRIC_ENROLL_LIVENESS_ACTIONS"   envDefault:"2"`
	VerifyLivenessActions   int           `env:"BIOMETRIC_VERIFY_LIVENESS_ACTIONS"   envDefault:"2"`
	Threshold               float64       `env:"BIOMETRIC_THRESHOLD"                 envDefault:"0.80"`
	SuspiciousMargin        float64       `env:"BIOMETRIC_SUSPICIOUS_MARGIN"         envDefault:"0.25"`
	MaxTemplateEmbeddings   int           `env:"BIOMETRIC_MAX_TEMPLATE_EMBEDDINGS"   envDefault:"5"`
	MinFrames               int           `env:"BIOMETRIC_MIN_FRAMES"                envDefault:"4"`
	MaxFrames               int           `env:"BIOMETRIC_MAX_FRAMES"                envDefault:"8"`
	ProofTokenTTL           time.Duration `env:"BIOMETRIC_PROOF_TOKEN_TTL"           envDefault:"2m"`
	AllowModelMigration     bool          `env:"BIOMETRIC_ALLOW_MODEL_MIGRATION"     envDefault:"false"`
	TemplateEncryptionKey   string        `env:"BIOMETRIC_TEMPLATE_KEY"`
}

// Keys controls the payload keyring.
type Keys struct {
	Category         string        `env:"BIOMETRIC_KEY_CATEGORY"          envDefault:"biometrics"`
	RotationInterval time.Duration `env:"BIOMETRIC_KEY_ROTATION_INTERVAL" envDefault:"24h"`
	GracePeriod      time.Duration `env:"BIOMETRIC_KEY_GRACE_PERIOD"      envDefault:"10m"`
}

// Recognition points at the external embedding and liveness service.
type Recognition struct {
	BaseURL          string        `env:"RECOGNITION_BASE_URL"          envDefault:"http://localhost:8000"`
	Timeout          time.Duration `env:"RECOGNITION_TIMEOUT"           envDefault:"10s"`
	ServiceSecret    string        `env:"RECOGNITION_SERVICE_SECRET"`
	ServiceIssuer    string        `env:"RECOGNITION_SERVICE_ISSUER"    envDefault:"veriface"`
	ServiceAudience  string        `env:"RECOGNITION_SERVICE_AUDIENCE"  envDefault:"recognition"`
	FailureThreshold int           `env:"RECOGNITION_FAILURE_THRESHOLD" envDefault:"5"`
	SuccessThreshold int           `env:"RECOGNITION_SUCCESS_THRESHOLD" envDefault:"2"`
	Cooldown         time.Duration `env:"RECOGNITION_BREAKER_COOLDOWN"  envDefault:"30s"`
	ModelName        string        `env:"RECOGNITION_MODEL_NAME"        envDefault:"buffalo_l"`
	ModelVersion     string        `env:"RECOGNITION_MODEL_VERSION"     envDefault:"1"`
	UseFake          bool          `env:"RECOGNITION_FAKE"              envDefault:"false"`
}

// Storage selects backends per collection. Challenge and template backends
// default to StoreBackend when unset.
type Storage struct {
	StoreBackend     string `env:"STORE_BACKEND"     envDefault:"memory"`
	ChallengeBackend string `env:"CHALLENGE_STORE"`
	TemplateBackend  string `env:"TEMPLATE_STORE"`
	RunMigrations    bool   `env:"RUN_MIGRATIONS"    envDefault:"true"`
}

// PostgresConfig configures the shared connection pool.
type PostgresConfig struct {
	DSN             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS"    envDefault:"20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// RedisConfig configures the Redis client used by the challenge ledger.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE"      envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT"   envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT"   envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT"  envDefault:"3s"`
}

// BoltConfig configures the embedded template store.
type BoltConfig struct {
	Path string `env:"BOLT_PATH" envDefault:"data/templates.db"`
}

// AuditConfig configures the recognition event stream. With the postgres
// store backend events go through the audit_outbox table and a relay forwards
// them to Kafka.
type AuditConfig struct {
	KafkaBrokers    []string      `env:"AUDIT_KAFKA_BROKERS"     envSeparator:","`
	Topic           string        `env:"AUDIT_KAFKA_TOPIC"       envDefault:"biometrics.recognition-events"`
	Partitions      int32         `env:"AUDIT_KAFKA_PARTITIONS"  envDefault:"3"`
	BufferSize      int           `env:"AUDIT_BUFFER_SIZE"       envDefault:"1024"`
	RelayInterval   time.Duration `env:"AUDIT_RELAY_INTERVAL"    envDefault:"2s"`
	OutboxRetention time.Duration `env:"AUDIT_OUTBOX_RETENTION"  envDefault:"24h"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL"  envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Storage.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Storage) applyDefaults() {
	if s.ChallengeBackend == "" {
		s.ChallengeBackend = s.StoreBackend
	}
	if s.TemplateBackend == "" {
		s.TemplateBackend = s.StoreBackend
	}
}

// Validate rejects configurations the orchestrator cannot run safely with.
func (c *Config) Validate() error {
	var errs []error
	b := c.Biometrics
	if b.ChallengeTTL < 30*time.Second || b.ChallengeTTL > 5*time.Minute {
		errs = append(errs, errors.New("BIOMETRIC_CHALLENGE_TTL must be between 30s and 5m"))
	}
	if b.Threshold <= 0 || b.Threshold > 1 {
		errs = append(errs, errors.New("BIOMETRIC_THRESHOLD must be in (0, 1]"))
	}
	if b.SuspiciousMargin < 0 {
		errs = append(errs, errors.New("BIOMETRIC_SUSPICIOUS_MARGIN must not be negative"))
	}
	if b.MaxConsumeAttempts < 1 {
		errs = append(errs, errors.New("BIOMETRIC_MAX_CONSUME_ATTEMPTS must be at least 1"))
	}
	if b.MaxTemplateEmbeddings < 1 {
		errs = append(errs, errors.New("BIOMETRIC_MAX_TEMPLATE_EMBEDDINGS must be at least 1"))
	}
	if b.MinFrames < 1 || b.MaxFrames < b.MinFrames {
		errs = append(errs, errors.New("BIOMETRIC_MIN_FRAMES and BIOMETRIC_MAX_FRAMES must form a valid range"))
	}
	if b.ProofTokenTTL <= 0 || b.ProofTokenTTL > 10*time.Minute {
		errs = append(errs, errors.New("BIOMETRIC_PROOF_TOKEN_TTL must be between 0 and 10m"))
	}
	if b.EnrollLivenessActions < 1 || b.VerifyLivenessActions < 1 {
		errs = append(errs, errors.New("liveness action counts must be at least 1"))
	}
	if c.Keys.GracePeriod < b.ChallengeTTL {
		errs = append(errs, errors.New("BIOMETRIC_KEY_GRACE_PERIOD must be at least BIOMETRIC_CHALLENGE_TTL"))
	}

	s := c.Storage
	for _, backend := range []struct{ name, value string }{
		{"STORE_BACKEND", s.StoreBackend},
		{"CHALLENGE_STORE", s.ChallengeBackend},
		{"TEMPLATE_STORE", s.TemplateBackend},
	} {
		switch backend.value {
		case BackendMemory, BackendPostgres, BackendRedis, BackendBolt:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown backend %q", backend.name, backend.value))
		}
	}
	if s.StoreBackend == BackendRedis || s.StoreBackend == BackendBolt {
		errs = append(errs, errors.New("STORE_BACKEND must be memory or postgres"))
	}
	if s.ChallengeBackend == BackendBolt {
		errs = append(errs, errors.New("CHALLENGE_STORE does not support bbolt"))
	}
	if s.TemplateBackend == BackendRedis {
		errs = append(errs, errors.New("TEMPLATE_STORE does not support redis"))
	}
	if usesBackend(s, BackendPostgres) && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
	}
	if s.ChallengeBackend == BackendRedis && c.Redis.URL == "" {
		errs = append(errs, errors.New("REDIS_URL is required for the redis challenge store"))
	}
	if c.Server.Environment == "production" {
		if b.TemplateEncryptionKey == "" {
			errs = append(errs, errors.New("BIOMETRIC_TEMPLATE_KEY is required in production"))
		}
		if c.Recognition.ServiceSecret == "" {
			errs = append(errs, errors.New("RECOGNITION_SERVICE_SECRET is required in production"))
		}
	}
	return errors.Join(errs...)
}

func usesBackend(s Storage, backend string) bool {
	return s.StoreBackend == backend || s.ChallengeBackend == backend || s.TemplateBackend == backend
}

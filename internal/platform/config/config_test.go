package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Biometrics.ChallengeTTL)
	assert.Equal(t, 0.80, cfg.Biometrics.Threshold)
	assert.Equal(t, 5, cfg.Biometrics.MaxTemplateEmbeddings)
	assert.Equal(t, 3, cfg.Biometrics.MaxConsumeAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Biometrics.ProofTokenTTL)
	assert.Equal(t, BackendMemory, cfg.Storage.ChallengeBackend)
	assert.Equal(t, BackendMemory, cfg.Storage.TemplateBackend)
	assert.Equal(t, "biometrics", cfg.Keys.Category)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://veriface@localhost/veriface")
	t.Setenv("CHALLENGE_STORE", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("BIOMETRIC_THRESHOLD", "0.72")
	t.Setenv("AUDIT_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Storage.ChallengeBackend)
	assert.Equal(t, BackendPostgres, cfg.Storage.TemplateBackend)
	assert.Equal(t, 0.72, cfg.Biometrics.Threshold)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Audit.KafkaBrokers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"threshold above one", map[string]string{"BIOMETRIC_THRESHOLD": "1.5"}, "BIOMETRIC_THRESHOLD"},
		{"challenge ttl too long", map[string]string{"BIOMETRIC_CHALLENGE_TTL": "10m"}, "BIOMETRIC_CHALLENGE_TTL"},
		{"postgres without dsn", map[string]string{"STORE_BACKEND": "postgres"}, "DATABASE_URL"},
		{"redis templates", map[string]string{"TEMPLATE_STORE": "redis"}, "TEMPLATE_STORE"},
		{"production without template key", map[string]string{"VERIFACE_ENV": "production"}, "BIOMETRIC_TEMPLATE_KEY"},
		{"inverted frame range", map[string]string{"BIOMETRIC_MIN_FRAMES": "9"}, "BIOMETRIC_MAX_FRAMES"},
		{"key grace shorter than challenge ttl", map[string]string{"BIOMETRIC_KEY_GRACE_PERIOD": "60s"}, "BIOMETRIC_KEY_GRACE_PERIOD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("RATE_LIMIT_REQUESTS", "")
	t.Setenv("ARCHIVAL_SCHEDULE", "")

	cfg := fromEnv()
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 10, cfg.RateLimit.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, "0 0 * * 0", cfg.Archival.Schedule)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("ARCHIVAL_ENABLED", "false")
	t.Setenv("SERVER_READ_TIMEOUT", "not-a-duration")

	cfg := fromEnv()
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.False(t, cfg.Archival.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "0.0.0.0:9090", cfg.GetServerAddress())
}

func TestValidateProductionRequiresSecrets(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("FINGERPRINT_KEY", "")
	t.Setenv("KMS_ENABLED", "")

	err := fromEnv().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "FINGERPRINT_KEY")
	assert.Contains(t, err.Error(), "KMS_ENABLED")
}

func TestValidateEncryptionKeys(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("KMS_ENABLED", "true")
	t.Setenv("KMS_KEY_ID", "")
	err := fromEnv().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KMS_KEY_ID")

	t.Setenv("KMS_ENABLED", "false")
	t.Setenv("FIELD_ENCRYPTION_KEY", "c2hvcnQta2V5LXZhbHVl")
	err = fromEnv().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FIELD_ENCRYPTION_KEY")
	assert.NotContains(t, err.Error(), "c2hvcnQta2V5LXZhbHVl")

	t.Setenv("FIELD_ENCRYPTION_KEY", "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	cfg := fromEnv()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Encryption.FieldEncryptionEnabled())
	key, err := cfg.Encryption.LocalKeyBytes()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestValidateNeverEchoesSecretValues(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("FINGERPRINT_KEY", "fp-key-value")
	t.Setenv("RATE_LIMIT_REQUESTS", "0")

	err := fromEnv().Validate()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "fp-key-value")
}

func TestUnverifiedTokensNeverAllowedInProduction(t *testing.T) {
	t.Setenv("AUTH_ALLOW_UNVERIFIED_TOKENS", "true")

	t.Setenv("ENVIRONMENT", "test")
	assert.True(t, fromEnv().UnverifiedTokensAllowed())

	t.Setenv("ENVIRONMENT", "production")
	assert.False(t, fromEnv().UnverifiedTokensAllowed())
}

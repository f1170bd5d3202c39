package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/matching"
)

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "abvtrends", cfg.AppName)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "db/pg", cfg.DatabaseMigrationFolderPath)
	assert.Equal(t, 0.85, cfg.MatchThreshold)
	assert.Equal(t, 0.60, cfg.ReviewThreshold)
	assert.Equal(t, 14*24*time.Hour, cfg.ReviewTTL)
	assert.Equal(t, time.Hour, cfg.Tier1SLA)
	assert.Equal(t, 4*time.Hour, cfg.Tier2SLA)
	assert.True(t, cfg.SchedulerEnabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("TIER2_SLA", "6h")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Port)
	assert.Equal(t, 6*time.Hour, cfg.Pipeline().Tier2SLA)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Producer().Brokers)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("APP_NAME=abvtrends-test\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("APP_NAME") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "abvtrends-test", cfg.AppName)
}

func TestMatching(t *testing.T) {
	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	mc, err := cfg.Matching()
	require.NoError(t, err)
	assert.Equal(t, matching.ExpiryMarkExpired, mc.ExpiryAction)

	cfg.ReviewExpiryAction = "new_product"
	mc, err = cfg.Matching()
	require.NoError(t, err)
	assert.Equal(t, matching.ExpiryNewProduct, mc.ExpiryAction)

	cfg.ReviewExpiryAction = "delete"
	_, err = cfg.Matching()
	assert.Error(t, err)

	cfg.ReviewExpiryAction = "expire"
	cfg.ReviewThreshold = 0.9
	_, err = cfg.Matching()
	assert.Error(t, err)
}

func TestScoring_Policy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	policy := `
weights:
  media: 0.30
  social: 0.20
  retailer: 0.20
  price: 0.10
  search: 0.10
  seasonal: 0.10
media_half_life: 48h
`
	require.NoError(t, os.WriteFile(path, []byte(policy), 0o600))

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)
	cfg.ScoringPolicyFile = path

	sc, err := cfg.Scoring()
	require.NoError(t, err)
	assert.Equal(t, 0.30, sc.Weights.Media)
	assert.Equal(t, 48*time.Hour, sc.MediaHalfLife)
	assert.Equal(t, 72*time.Hour, sc.SocialHalfLife)
	assert.Equal(t, 8, sc.Parallelism)
}

func TestScoring_PolicyRejectsBadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("weights:\n  media: 0.9\n  social: 0.9\n"), 0o600))

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)
	cfg.ScoringPolicyFile = path

	_, err = cfg.Scoring()
	assert.Error(t, err)
}

func TestScoring_NoPolicy(t *testing.T) {
	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	sc, err := cfg.Scoring()
	require.NoError(t, err)
	assert.NoError(t, sc.Weights.Validate())
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/credit-ledger/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "credits.db", cfg.Database.Path)
	assert.Equal(t, int64(100), cfg.Credits.NewUserBonus)
	assert.Equal(t, int64(10), cfg.Incentive.CheckInBase)
	assert.Len(t, cfg.Incentive.Milestones, 3)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9090
database:
  path: ":memory:"
credits:
  new_user_bonus: 250
  expiring_horizon: 72h
  video_credit_price: "0.002"
incentive:
  check_in_base: 5
  cycle_days: 7
  milestones:
    - {day: 7, bonus: 20}
  share_reward: 3
  validity_months: 2
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, 72*time.Hour, cfg.Credits.ExpiringHorizon)
	assert.Equal(t, int64(25), cfg.Incentive.CheckInReward(7))
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "untouched keys keep defaults")

	engine, err := cfg.Credits.Engine()
	require.NoError(t, err)
	assert.Equal(t, int64(250), engine.NewUserBonus)
	assert.Equal(t, "0.002", engine.VideoCreditPrice.String())
	assert.Equal(t, "0.0005", engine.ImageCreditPrice.String())
}

func TestLoad_EnvironmentWins(t *testing.T) {
	path := writeFile(t, "server:\n  port: 9090\n")
	t.Setenv("LEDGER_PORT", "7070")
	t.Setenv("LEDGER_DB_PATH", "/tmp/ledger.db")
	t.Setenv("LEDGER_LOG_LEVEL", "debug")
	t.Setenv("LEDGER_NODE_ID", "42")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "/tmp/ledger.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, int64(42), cfg.IDs.Node)
	assert.Equal(t, ":7070", cfg.Addr())
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("bad yaml", func(t *testing.T) {
		_, err := config.Load(writeFile(t, "server: ["))
		assert.Error(t, err)
	})
	t.Run("node out of range", func(t *testing.T) {
		_, err := config.Load(writeFile(t, "ids:\n  node: 4096\n"))
		assert.Error(t, err)
	})
	t.Run("bad price", func(t *testing.T) {
		_, err := config.Load(writeFile(t, "credits:\n  image_credit_price: cheap\n"))
		assert.Error(t, err)
	})
	t.Run("zero new user bonus", func(t *testing.T) {
		_, err := config.Load(writeFile(t, "credits:\n  new_user_bonus: 0\n"))
		assert.ErrorContains(t, err, "new_user_bonus")
	})
	t.Run("negative bonus from env", func(t *testing.T) {
		t.Setenv("LEDGER_NEW_USER_BONUS", "-5")
		_, err := config.Load("")
		assert.ErrorContains(t, err, "new_user_bonus")
	})
	t.Run("zero check-in base", func(t *testing.T) {
		_, err := config.Load(writeFile(t, "incentive:\n  check_in_base: 0\n"))
		assert.ErrorContains(t, err, "check_in_base")
	})
	t.Run("negative share reward", func(t *testing.T) {
		_, err := config.Load(writeFile(t, "incentive:\n  share_reward: -1\n"))
		assert.ErrorContains(t, err, "share_reward")
	})
	t.Run("bad env port", func(t *testing.T) {
		t.Setenv("LEDGER_PORT", "eighty")
		_, err := config.Load("")
		assert.Error(t, err)
	})
}

// File: internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a default config with the required secrets filled in.
func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Portal.Email = "user@example.com"
	cfg.Portal.Password = "hunter2"
	cfg.Solver.APIKey = "key-123"
	cfg.Telegram.BotToken = "bot-token"
	cfg.Telegram.ChatIDs = []string{"42"}
	return cfg
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "blswatch", cfg.Logger.ServiceName)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 180*time.Second, cfg.Monitor.CheckIntervalMin)
	assert.Equal(t, 300*time.Second, cfg.Monitor.CheckIntervalMax)
	assert.Equal(t, 3, cfg.Monitor.MaxConsecutiveErrors)
	assert.Equal(t, 3, cfg.Solver.MaxAttempts)
	assert.Equal(t, 50, cfg.Evidence.MaxFiles)
	assert.Equal(t, "Normal", cfg.Form.AppointmentCategory)
	assert.Contains(t, cfg.Portal.LoginURL, "/account/login")
}

func TestConfigValidation(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing secrets are reported together", func(t *testing.T) {
		cfg := NewDefaultConfig()
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "portal.email")
		assert.Contains(t, err.Error(), "solver.api_key")
		assert.Contains(t, err.Error(), "telegram.bot_token")
	})

	t.Run("interval bounds", func(t *testing.T) {
		cfg := validConfig()
		cfg.Monitor.CheckIntervalMax = cfg.Monitor.CheckIntervalMin - time.Second
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "check_interval")
	})

	t.Run("non-positive thresholds", func(t *testing.T) {
		cfg := validConfig()
		cfg.Monitor.MaxConsecutiveErrors = 0
		assert.Error(t, cfg.Validate())

		cfg = validConfig()
		cfg.Evidence.MaxFiles = 0
		assert.Error(t, cfg.Validate())

		cfg = validConfig()
		cfg.Solver.MaxAttempts = -1
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := `
portal:
  email: file-user@example.com
  password: file-pass
telegram:
  chat_ids: ["7", "8"]
monitor:
  check_interval_min: 10s
  check_interval_max: 20s
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))

	// Secrets arrive via environment, overriding nothing in the file.
	t.Setenv("BLSWATCH_SOLVER_API_KEY", "env-key")
	t.Setenv("BLSWATCH_TELEGRAM_BOT_TOKEN", "env-bot")

	cfg, err := Load(viper.New(), cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "file-user@example.com", cfg.Portal.Email)
	assert.Equal(t, "env-key", cfg.Solver.APIKey)
	assert.Equal(t, "env-bot", cfg.Telegram.BotToken)
	assert.Equal(t, []string{"7", "8"}, cfg.Telegram.ChatIDs)
	assert.Equal(t, 10*time.Second, cfg.Monitor.CheckIntervalMin)
	assert.Equal(t, 20*time.Second, cfg.Monitor.CheckIntervalMax)
	// Defaults still fill the gaps.
	assert.Equal(t, 5*time.Second, cfg.Solver.PollInterval)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := `
portal:
  email: file-user@example.com
  password: file-pass
solver:
  api_key: file-key
telegram:
  bot_token: file-bot
  chat_ids: ["1"]
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))
	t.Setenv("BLSWATCH_PORTAL_PASSWORD", "env-pass")

	cfg, err := Load(viper.New(), cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "env-pass", cfg.Portal.Password)
	assert.Equal(t, "file-key", cfg.Solver.APIKey)
}

func TestLoadRejectsInvalid(t *testing.T) {
	// No file, no env: required secrets are absent.
	_, err := Load(viper.New(), "")
	assert.Error(t, err)
}

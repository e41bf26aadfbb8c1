// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config is the validated, strongly-typed application configuration.
// It is resolved once at startup; nothing mutates it afterwards.
type Config struct {
	Portal   PortalConfig   `mapstructure:"portal" yaml:"portal"`
	Form     FormConfig     `mapstructure:"form" yaml:"form"`
	Solver   SolverConfig   `mapstructure:"solver" yaml:"solver"`
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	Monitor  MonitorConfig  `mapstructure:"monitor" yaml:"monitor"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Evidence EvidenceConfig `mapstructure:"evidence" yaml:"evidence"`
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
}

// PortalConfig holds the target portal endpoints and account credentials.
type PortalConfig struct {
	BaseURL         string `mapstructure:"base_url" yaml:"base_url"`
	LoginURL        string `mapstructure:"login_url" yaml:"login_url"`
	HomeURL         string `mapstructure:"home_url" yaml:"home_url"`
	VerificationURL string `mapstructure:"verification_url" yaml:"verification_url"`
	Email           string `mapstructure:"email" yaml:"email"`
	Password        string `mapstructure:"password" yaml:"password"`
}

// FormConfig carries the values selected on the appointment form.
type FormConfig struct {
	AppointmentCategory string `mapstructure:"appointment_category" yaml:"appointment_category"`
	AppointmentFor      string `mapstructure:"appointment_for" yaml:"appointment_for"`
	NumberOfMembers     string `mapstructure:"number_of_members" yaml:"number_of_members"`
	Location            string `mapstructure:"location" yaml:"location"`
	VisaType            string `mapstructure:"visa_type" yaml:"visa_type"`
	VisaSubType         string `mapstructure:"visa_sub_type" yaml:"visa_sub_type"`
}

// SolverConfig configures the remote captcha solving service.
type SolverConfig struct {
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryDelay   time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// TelegramConfig configures the notification sink.
type TelegramConfig struct {
	BotToken string   `mapstructure:"bot_token" yaml:"bot_token"`
	ChatIDs  []string `mapstructure:"chat_ids" yaml:"chat_ids"`
}

// MonitorConfig tunes the check loop cadence and failure policy.
type MonitorConfig struct {
	CheckIntervalMin     time.Duration `mapstructure:"check_interval_min" yaml:"check_interval_min"`
	CheckIntervalMax     time.Duration `mapstructure:"check_interval_max" yaml:"check_interval_max"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors" yaml:"max_consecutive_errors"`
	ErrorCooldown        time.Duration `mapstructure:"error_cooldown" yaml:"error_cooldown"`
	PostAlertPause       time.Duration `mapstructure:"post_alert_pause" yaml:"post_alert_pause"`
	SessionTTL           time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	BalanceCheckEvery    int           `mapstructure:"balance_check_every" yaml:"balance_check_every"`
	LowBalanceThreshold  float64       `mapstructure:"low_balance_threshold" yaml:"low_balance_threshold"`
}

// BrowserConfig configures the Chrome session the monitor drives.
type BrowserConfig struct {
	Headless       bool   `mapstructure:"headless" yaml:"headless"`
	UserAgent      string `mapstructure:"user_agent" yaml:"user_agent"`
	ViewportWidth  int    `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height" yaml:"viewport_height"`
	Locale         string `mapstructure:"locale" yaml:"locale"`
	Timezone       string `mapstructure:"timezone" yaml:"timezone"`
	Proxy          string `mapstructure:"proxy" yaml:"proxy"`
}

// EvidenceConfig bounds the on-disk screenshot store.
type EvidenceConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`
	MaxFiles int    `mapstructure:"max_files" yaml:"max_files"`
}

// LoggerConfig mirrors the observability package's expectations.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// Portal
	v.SetDefault("portal.base_url", "https://russia.blsportugal.com")
	v.SetDefault("portal.login_url", "https://russia.blsportugal.com/Global/account/login")
	v.SetDefault("portal.home_url", "https://russia.blsportugal.com/Global/home/index")
	v.SetDefault("portal.verification_url", "https://russia.blsportugal.com/Global/bls/VisaTypeVerification")

	// Form selections
	v.SetDefault("form.appointment_category", "Normal")
	v.SetDefault("form.appointment_for", "Family")
	v.SetDefault("form.number_of_members", "2 Members")
	v.SetDefault("form.location", "Moscow")
	v.SetDefault("form.visa_type", "National Visa")
	v.SetDefault("form.visa_sub_type", "")

	// Solving service
	v.SetDefault("solver.timeout", 120*time.Second)
	v.SetDefault("solver.poll_interval", 5*time.Second)
	v.SetDefault("solver.max_attempts", 3)
	v.SetDefault("solver.retry_delay", 5*time.Second)

	// Monitor loop
	v.SetDefault("monitor.check_interval_min", 180*time.Second)
	v.SetDefault("monitor.check_interval_max", 300*time.Second)
	v.SetDefault("monitor.max_consecutive_errors", 3)
	v.SetDefault("monitor.error_cooldown", 5*time.Minute)
	v.SetDefault("monitor.post_alert_pause", time.Minute)
	v.SetDefault("monitor.session_ttl", 30*time.Minute)
	v.SetDefault("monitor.balance_check_every", 20)
	v.SetDefault("monitor.low_balance_threshold", 0.5)

	// Browser
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36")
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.locale", "ru-RU")
	v.SetDefault("browser.timezone", "Europe/Moscow")

	// Evidence store
	v.SetDefault("evidence.dir", "screenshots")
	v.SetDefault("evidence.max_files", 50)

	// Logger
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "blswatch")
	v.SetDefault("logger.log_file", "logs/monitor.log")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
}

// bindSecretEnvs wires environment variables for values that must never
// live in a checked-in config file.
func bindSecretEnvs(v *viper.Viper) {
	// Errors from BindEnv only occur with zero arguments; safe to ignore.
	_ = v.BindEnv("portal.email", "BLSWATCH_PORTAL_EMAIL")
	_ = v.BindEnv("portal.password", "BLSWATCH_PORTAL_PASSWORD")
	_ = v.BindEnv("solver.api_key", "BLSWATCH_SOLVER_API_KEY")
	_ = v.BindEnv("telegram.bot_token", "BLSWATCH_TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("browser.proxy", "BLSWATCH_PROXY")
}

// Load reads configuration from the given file (or the default search
// paths when path is empty), applies env overrides, and validates.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home + "/.blswatch")
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("BLSWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindSecretEnvs(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars carry the day.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants the rest of the application assumes.
// A validation failure here is the only error fatal to the process.
func (c *Config) Validate() error {
	var missing []string
	if c.Portal.Email == "" {
		missing = append(missing, "portal.email (BLSWATCH_PORTAL_EMAIL)")
	}
	if c.Portal.Password == "" {
		missing = append(missing, "portal.password (BLSWATCH_PORTAL_PASSWORD)")
	}
	if c.Solver.APIKey == "" {
		missing = append(missing, "solver.api_key (BLSWATCH_SOLVER_API_KEY)")
	}
	if c.Telegram.BotToken == "" {
		missing = append(missing, "telegram.bot_token (BLSWATCH_TELEGRAM_BOT_TOKEN)")
	}
	if len(c.Telegram.ChatIDs) == 0 {
		missing = append(missing, "telegram.chat_ids")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	for _, u := range []string{c.Portal.LoginURL, c.Portal.HomeURL, c.Portal.VerificationURL} {
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("invalid portal URL %q: %w", u, err)
		}
	}
	if c.Monitor.CheckIntervalMin <= 0 || c.Monitor.CheckIntervalMax < c.Monitor.CheckIntervalMin {
		return fmt.Errorf("monitor.check_interval bounds invalid: min=%s max=%s",
			c.Monitor.CheckIntervalMin, c.Monitor.CheckIntervalMax)
	}
	if c.Monitor.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("monitor.max_consecutive_errors must be a positive integer")
	}
	if c.Solver.MaxAttempts <= 0 {
		return fmt.Errorf("solver.max_attempts must be a positive integer")
	}
	if c.Evidence.MaxFiles <= 0 {
		return fmt.Errorf("evidence.max_files must be a positive integer")
	}
	if c.Browser.Proxy != "" {
		if _, err := url.Parse(c.Browser.Proxy); err != nil {
			return fmt.Errorf("invalid browser.proxy: %w", err)
		}
	}
	return nil
}

// NewDefaultConfig returns a Config populated with defaults only.
// Intended for tests; production code goes through Load.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Unmarshal of pure defaults cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Akshay-Anand-Code/chart-analyzer/internal/domain"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for chartbot.
type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Web        WebConfig        `yaml:"web"`
	Log        LogConfig        `yaml:"log"`
}

type TelegramConfig struct {
	Token       string        `yaml:"token"`
	PollTimeout time.Duration `yaml:"pollTimeout"` // long-poll timeout passed to getUpdates
	RetryDelay  time.Duration `yaml:"retryDelay"`  // wait after a failed poll
	APIEndpoint string        `yaml:"apiEndpoint,omitempty"`
}

type OpenAIConfig struct {
	APIKey  string        `yaml:"apiKey"`
	APIBase string        `yaml:"apiBase"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"` // HTTP client timeout for one analysis call
}

type FetchConfig struct {
	MaxAttempts    int           `yaml:"maxAttempts"`
	BaseDelay      time.Duration `yaml:"baseDelay"`
	AttemptTimeout time.Duration `yaml:"attemptTimeout"`
	MaxBytes       int64         `yaml:"maxBytes"`
	UserAgent      string        `yaml:"userAgent"`
}

type SupervisorConfig struct {
	ProbeInterval time.Duration `yaml:"probeInterval"`
	FlushDelay    time.Duration `yaml:"flushDelay"`
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`
}

type WebConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Addr           string `yaml:"addr"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// envOverrides holds values read from the process environment. Zero values
// mean "not set" and leave the file/default value in place.
type envOverrides struct {
	TelegramToken       string        `env:"TELEGRAM_BOT_TOKEN"`
	LegacyTelegramToken string        `env:"VITE_TELEGRAM_BOT_TOKEN"`
	OpenAIKey           string        `env:"OPENAI_API_KEY"`
	LegacyOpenAIKey     string        `env:"VITE_OPENAI_API_KEY"`
	OpenAIBase          string        `env:"OPENAI_API_BASE"`
	OpenAIModel         string        `env:"OPENAI_MODEL"`
	FetchMaxAttempts    int           `env:"CHARTBOT_FETCH_MAX_ATTEMPTS"`
	FetchBaseDelay      time.Duration `env:"CHARTBOT_FETCH_BASE_DELAY"`
	WebAddr             string        `env:"CHARTBOT_WEB_ADDR"`
	LogLevel            string        `env:"CHARTBOT_LOG_LEVEL"`
	LogFormat           string        `env:"CHARTBOT_LOG_FORMAT"`
}

// Load reads defaults, then the optional YAML file at path, then the
// process environment.
func Load(path string) (*Config, error) {
	return LoadWith(path, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit environment lookuper.
func LoadWith(path string, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}
		data = []byte(ExpandEnvVars(string(data), lookuper))
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	var env envOverrides
	if err := envconfig.ProcessWith(context.Background(), &env, lookuper); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	env.apply(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (e envOverrides) apply(cfg *Config) {
	setString(&cfg.Telegram.Token, firstNonEmpty(e.TelegramToken, e.LegacyTelegramToken))
	setString(&cfg.OpenAI.APIKey, firstNonEmpty(e.OpenAIKey, e.LegacyOpenAIKey))
	setString(&cfg.OpenAI.APIBase, e.OpenAIBase)
	setString(&cfg.OpenAI.Model, e.OpenAIModel)
	setString(&cfg.Log.Level, e.LogLevel)
	setString(&cfg.Log.Format, e.LogFormat)
	if e.FetchMaxAttempts != 0 {
		cfg.Fetch.MaxAttempts = e.FetchMaxAttempts
	}
	if e.FetchBaseDelay != 0 {
		cfg.Fetch.BaseDelay = e.FetchBaseDelay
	}
	if e.WebAddr != "" {
		cfg.Web.Enabled = true
		cfg.Web.Addr = e.WebAddr
	}
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the value from lookuper.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string, lookuper envconfig.Lookuper) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := lookuper.Lookup(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as YAML, creating the parent directory.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that non-secret values are in range. Secrets are checked
// separately by RequireCredentials because not every command needs both.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Fetch.MaxAttempts < 1 || cfg.Fetch.MaxAttempts > 10 {
		errs = append(errs, "fetch.maxAttempts must be between 1 and 10")
	}
	if cfg.Fetch.BaseDelay < 0 {
		errs = append(errs, "fetch.baseDelay must be >= 0")
	}
	if cfg.Fetch.AttemptTimeout <= 0 {
		errs = append(errs, "fetch.attemptTimeout must be > 0")
	}
	if cfg.Fetch.MaxBytes <= 0 {
		errs = append(errs, "fetch.maxBytes must be > 0")
	}
	if cfg.Telegram.PollTimeout < time.Second {
		errs = append(errs, "telegram.pollTimeout must be >= 1s")
	}
	if cfg.Telegram.RetryDelay <= 0 {
		errs = append(errs, "telegram.retryDelay must be > 0")
	}
	if cfg.OpenAI.APIBase == "" {
		errs = append(errs, "openai.apiBase is required")
	}
	if cfg.OpenAI.Timeout < 0 {
		errs = append(errs, "openai.timeout must be >= 0")
	}
	if cfg.Supervisor.ProbeInterval <= 0 {
		errs = append(errs, "supervisor.probeInterval must be > 0")
	}
	if cfg.Supervisor.FlushDelay < 0 || cfg.Supervisor.ShutdownGrace < 0 {
		errs = append(errs, "supervisor delays must be >= 0")
	}
	if cfg.Web.Enabled && cfg.Web.Addr == "" {
		errs = append(errs, "web.addr is required when web is enabled")
	}
	if cfg.Web.MaxUploadBytes <= 0 {
		errs = append(errs, "web.maxUploadBytes must be > 0")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, "log.format must be one of: text, json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireCredentials fails with domain.ErrMissingCredential when a needed
// secret is absent.
func RequireCredentials(cfg *Config, telegram, openai bool) error {
	var missing []string
	if telegram && strings.TrimSpace(cfg.Telegram.Token) == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if openai && strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s is not defined", domain.ErrMissingCredential, strings.Join(missing, ", "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// RetryPolicy returns the download retry policy described by the fetch section.
func (c *Config) RetryPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{MaxAttempts: c.Fetch.MaxAttempts, BaseDelay: c.Fetch.BaseDelay}
}

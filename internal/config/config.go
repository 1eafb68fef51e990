// Package config loads agent settings from defaults, an optional YAML file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envProvider   = "LLM_PROVIDER"
	envModel      = "LLM_MODEL"
	envBaseURL    = "LLM_BASE_URL"
	envRPS        = "LLM_RPS"
	envHeadless   = "AGENT_HEADLESS"
	envDriver     = "BROWSER_DRIVER"
	envMaxRetries = "AGENT_MAX_RETRIES"
	envLogLevel   = "LOG_LEVEL"
)

type Config struct {
	LLM     LLM     `yaml:"llm"`
	Browser Browser `yaml:"browser"`
	Agent   Agent   `yaml:"agent"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
}

type LLM struct {
	Provider          string        `yaml:"provider" validate:"oneof=anthropic openai ollama"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url" validate:"omitempty,url"`
	Temperature       float32       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens         int           `yaml:"max_tokens" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries        int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
}

type Browser struct {
	Driver        string        `yaml:"driver" validate:"oneof=playwright chromedp"`
	Headless      bool          `yaml:"headless"`
	StorageState  string        `yaml:"storage_state"`
	NavTimeout    time.Duration `yaml:"nav_timeout" validate:"gt=0"`
	ActionTimeout time.Duration `yaml:"action_timeout" validate:"gt=0"`
	ViewportW     int           `yaml:"viewport_width" validate:"gte=320"`
	ViewportH     int           `yaml:"viewport_height" validate:"gte=240"`
}

type Agent struct {
	MaxRetries               int           `yaml:"max_retries" validate:"gte=1,lte=10"`
	GenerationRetries        int           `yaml:"generation_retries" validate:"gte=1,lte=10"`
	GenerationBackoff        time.Duration `yaml:"generation_backoff" validate:"gte=0"`
	RecentSteps              int           `yaml:"recent_steps" validate:"gte=1"`
	LazySubPlans             bool          `yaml:"lazy_sub_plans"`
	PreserveSession          bool          `yaml:"preserve_session"`
	AdaptOnFailure           bool          `yaml:"adapt_on_failure"`
	MaxConcurrentGenerations int           `yaml:"max_concurrent_generations" validate:"gte=1"`
	DigestLimit              int           `yaml:"digest_limit" validate:"gte=0"`
}

type Log struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
	File   string `yaml:"file"`
}

type Metrics struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		LLM: LLM{
			Provider:          "anthropic",
			Temperature:       0.1,
			MaxTokens:         2048,
			Timeout:           60 * time.Second,
			MaxRetries:        3,
			RequestsPerSecond: 2,
			Burst:             2,
		},
		Browser: Browser{
			Driver:        "playwright",
			Headless:      false,
			NavTimeout:    30 * time.Second,
			ActionTimeout: 10 * time.Second,
			ViewportW:     1280,
			ViewportH:     800,
		},
		Agent: Agent{
			MaxRetries:               3,
			GenerationRetries:        3,
			GenerationBackoff:        500 * time.Millisecond,
			RecentSteps:              5,
			AdaptOnFailure:           true,
			MaxConcurrentGenerations: 4,
			DigestLimit:              6000,
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads .env, applies the YAML file at path (if any), then environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.Trim(strings.TrimSpace(v), "\"'")
		}
	}
	str(envProvider, &cfg.LLM.Provider)
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	str(envModel, &cfg.LLM.Model)
	str(envBaseURL, &cfg.LLM.BaseURL)
	str(envDriver, &cfg.Browser.Driver)
	cfg.Browser.Driver = strings.ToLower(cfg.Browser.Driver)
	str(envLogLevel, &cfg.Log.Level)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	if v, ok := lookup(envRPS); ok && v != "" {
		rps, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%s: %w", envRPS, err)
		}
		cfg.LLM.RequestsPerSecond = rps
	}
	if v, ok := lookup(envHeadless); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", envHeadless, err)
		}
		cfg.Browser.Headless = b
	}
	if v, ok := lookup(envMaxRetries); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", envMaxRetries, err)
		}
		cfg.Agent.MaxRetries = n
	}
	return nil
}

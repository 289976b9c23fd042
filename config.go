package main

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config is the server configuration, read from the environment after an
// optional .env file has been loaded.
type Config struct {
	DBURL string `env:"DB_URL" env-required:"true"`
	Port  string `env:"PORT" env-default:"3000"`

	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
	LogFile  string `env:"LOG_FILE"`
	LogJSON  bool   `env:"LOG_JSON" env-default:"false"`

	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" env-default:"https://api.openai.com"`
	OpenAIModel   string `env:"OPENAI_MODEL" env-default:"gpt-4o-mini"`

	// DashboardDebounce is how long the coordinator batches change
	// notifications before recomputing dashboards.
	DashboardDebounce time.Duration `env:"DASHBOARD_DEBOUNCE" env-default:"250ms"`
	// AIRequestsPerMinute bounds AI calls per user.
	AIRequestsPerMinute int `env:"AI_REQUESTS_PER_MINUTE" env-default:"6"`
}

// loadConfig loads .env if present, then reads Config from the environment.
// A missing .env file is fine in production where env vars are injected.
func loadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DashboardDebounce <= 0 {
		return fmt.Errorf("DASHBOARD_DEBOUNCE must be positive, got %s", c.DashboardDebounce)
	}
	if c.AIRequestsPerMinute <= 0 {
		return fmt.Errorf("AI_REQUESTS_PER_MINUTE must be positive, got %d", c.AIRequestsPerMinute)
	}
	return nil
}

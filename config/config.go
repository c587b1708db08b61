package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Minio    MinioConfig    `yaml:"minio"`
	Parse    ParseConfig    `yaml:"parse"`
	LLM      LLMConfig      `yaml:"llm"`
	Match    MatchConfig    `yaml:"match"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Auth     AuthConfig     `yaml:"auth"`
	Store    StoreConfig    `yaml:"store"`
	Users    []User         `yaml:"users"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

// ParseConfig configures the external document-extraction service
// that converts an uploaded document into markdown text.
type ParseConfig struct {
	APIURL       string        `yaml:"api_url"`
	APIToken     string        `yaml:"api_token"`
	ModelVersion string        `yaml:"model_version"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}

// LLMConfig configures the language-model service that converts
// extracted markdown into a structured document.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

type MatchConfig struct {
	// PriceEpsilon is the tolerance below which two currency amounts
	// are considered equal. Defaults to the smallest currency unit.
	PriceEpsilon string `yaml:"price_epsilon"`
	Currency     string `yaml:"currency"`
}

type WorkflowConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	Timeout        time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type StoreConfig struct {
	MaxRuns int `yaml:"max_runs"` // Maximum match runs to keep in memory, 0 = unlimited
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

var GlobalConfig *Config

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand ${VAR} references so API keys can stay in the environment.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Minio.ExpireDays == 0 {
		cfg.Minio.ExpireDays = 7
	}
	if cfg.Parse.ModelVersion == "" {
		cfg.Parse.ModelVersion = "vlm"
	}
	if cfg.Parse.PollInterval == 0 {
		cfg.Parse.PollInterval = 5 * time.Second
	}
	if cfg.Parse.PollTimeout == 0 {
		cfg.Parse.PollTimeout = 5 * time.Minute
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gemini-2.5-flash"
	}
	if cfg.Match.PriceEpsilon == "" {
		cfg.Match.PriceEpsilon = "0.01"
	}
	if _, err := decimal.NewFromString(cfg.Match.PriceEpsilon); err != nil {
		return nil, fmt.Errorf("invalid match.price_epsilon %q: %w", cfg.Match.PriceEpsilon, err)
	}
	if cfg.Match.Currency == "" {
		cfg.Match.Currency = "USD"
	}
	if cfg.Workflow.MaxAttempts == 0 {
		cfg.Workflow.MaxAttempts = 3
	}
	if cfg.Workflow.InitialBackoff == 0 {
		cfg.Workflow.InitialBackoff = 2 * time.Second
	}
	if cfg.Workflow.Timeout == 0 {
		cfg.Workflow.Timeout = 10 * time.Minute
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

// PriceEpsilonDecimal returns the configured epsilon as a decimal.
// Load has already verified the string parses.
func (c *MatchConfig) PriceEpsilonDecimal() decimal.Decimal {
	d, _ := decimal.NewFromString(c.PriceEpsilon)
	return d
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}

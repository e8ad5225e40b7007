package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend names accepted in backend.name
const (
	BackendGemini = "gemini"
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

// Config holds the application configuration
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Image   ImageConfig   `yaml:"image"`
	Solver  SolverConfig  `yaml:"solver"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// BackendConfig selects the vision model provider
type BackendConfig struct {
	Name  string `yaml:"name"`
	Model string `yaml:"model,omitempty"`
	URL   string `yaml:"url,omitempty"`
	// APIKey is normally taken from GEMINI_API_KEY or OPENAI_API_KEY.
	APIKey string `yaml:"api_key,omitempty"`
}

// ImageConfig holds configuration for the image sent to the model
type ImageConfig struct {
	SendFormat string `yaml:"send_format"`
	MaxDim     int    `yaml:"max_dim"`
	Quality    int    `yaml:"quality"`
	CropToInk  bool   `yaml:"crop_to_ink"`
	InkPadding int    `yaml:"ink_padding"`
	MinSize    int    `yaml:"min_size"`
}

// SolverConfig holds configuration for prompting and post-processing
type SolverConfig struct {
	VerifyArithmetic bool   `yaml:"verify_arithmetic"`
	PromptFile       string `yaml:"prompt_file,omitempty"`
	// Timeout bounds one analysis from the CLI; the server uses server.request_timeout.
	Timeout string `yaml:"timeout"`
}

// ServerConfig holds configuration for the HTTP API
type ServerConfig struct {
	Port               string   `yaml:"port"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
	RequestTimeout     string   `yaml:"request_timeout"`
	MaxBodyBytes       int64    `yaml:"max_body_bytes"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Name: BackendGemini,
		},
		Image: ImageConfig{
			SendFormat: "png",
			MaxDim:     1024,
			Quality:    90,
			CropToInk:  true,
			InkPadding: 24,
			MinSize:    8,
		},
		Solver: SolverConfig{
			VerifyArithmetic: false,
			Timeout:          "60s",
		},
		Server: ServerConfig{
			Port:               "8900",
			AllowedOrigins:     []string{"*"},
			RateLimitPerMinute: 60,
			RequestTimeout:     "60s",
			MaxBodyBytes:       10 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the effective configuration: defaults, then the file at path (if any), then
// environment variables. A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML (or JSON) file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file. The API key is never written.
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := *c
	out.Backend.APIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides fields from environment variables
func (c *Config) ApplyEnv() {
	c.Backend.Name = strings.ToLower(getEnv("CALC_BACKEND", c.Backend.Name))
	c.Backend.Model = getEnv("CALC_MODEL", c.Backend.Model)
	c.Backend.URL = getEnv("CALC_BACKEND_URL", c.Backend.URL)
	c.ApplyAPIKeyEnv()

	c.Image.SendFormat = getEnv("CALC_SEND_FORMAT", c.Image.SendFormat)
	c.Image.MaxDim = getIntEnv("CALC_MAX_DIM", c.Image.MaxDim)

	c.Solver.VerifyArithmetic = getBoolEnv("CALC_VERIFY_ARITHMETIC", c.Solver.VerifyArithmetic)
	c.Solver.PromptFile = getEnv("CALC_PROMPT_FILE", c.Solver.PromptFile)

	c.Server.Port = getEnv("PORT", c.Server.Port)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = splitList(origins)
	}
	c.Server.RateLimitPerMinute = getIntEnv("RATE_LIMIT_PER_MINUTE", c.Server.RateLimitPerMinute)
	c.Server.RequestTimeout = getEnv("REQUEST_TIMEOUT", c.Server.RequestTimeout)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// ApplyAPIKeyEnv takes the API key from CALC_API_KEY, or else from the variable of the
// selected backend when no key is configured
func (c *Config) ApplyAPIKeyEnv() {
	c.Backend.APIKey = getEnv("CALC_API_KEY", c.Backend.APIKey)
	if c.Backend.APIKey != "" {
		return
	}
	switch c.Backend.Name {
	case BackendGemini:
		c.Backend.APIKey = getEnv("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY"))
	case BackendOpenAI:
		c.Backend.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// SelectBackend switches to the named backend. The configured key is kept when the backend
// does not change; otherwise it is looked up again for the new backend.
func (c *Config) SelectBackend(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == c.Backend.Name {
		return
	}
	c.Backend.Name = name
	c.Backend.APIKey = ""
	c.ApplyAPIKeyEnv()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Backend.Name {
	case BackendGemini, BackendOllama, BackendOpenAI:
	default:
		return fmt.Errorf("backend.name must be one of gemini, ollama, openai (got %q)", c.Backend.Name)
	}

	switch strings.ToLower(c.Image.SendFormat) {
	case "png", "jpg", "jpeg":
	default:
		return fmt.Errorf("image.send_format must be png or jpg")
	}

	if c.Image.Quality < 1 || c.Image.Quality > 100 {
		return fmt.Errorf("image.quality must be between 1 and 100")
	}

	if c.Image.MaxDim < 0 {
		return fmt.Errorf("image.max_dim cannot be negative")
	}

	if c.Image.InkPadding < 0 {
		return fmt.Errorf("image.ink_padding cannot be negative")
	}

	if c.Image.MinSize < 1 {
		return fmt.Errorf("image.min_size must be positive")
	}

	if _, err := parseDuration(c.Solver.Timeout); err != nil {
		return fmt.Errorf("solver.timeout: %w", err)
	}

	if c.Server.Port == "" {
		return fmt.Errorf("server.port cannot be empty")
	}

	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("server.rate_limit_per_minute cannot be negative")
	}

	if _, err := parseDuration(c.Server.RequestTimeout); err != nil {
		return fmt.Errorf("server.request_timeout: %w", err)
	}

	if c.Server.MaxBodyBytes < 1 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	switch c.Log.Format {
	case "text", "json", "cli":
	default:
		return fmt.Errorf("log.format must be text, json or cli")
	}

	return nil
}

// SolveTimeout returns solver.timeout as a duration; zero means no limit
func (c *Config) SolveTimeout() time.Duration {
	d, _ := parseDuration(c.Solver.Timeout)
	return d
}

// RequestTimeout returns server.request_timeout as a duration; zero means no limit
func (c *Config) RequestTimeout() time.Duration {
	d, _ := parseDuration(c.Server.RequestTimeout)
	return d
}

// LoadPrompt returns the prompt template from solver.prompt_file, or "" when unset
func (c *Config) LoadPrompt() (string, error) {
	if c.Solver.PromptFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Solver.PromptFile)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file: %w", err)
	}
	return string(data), nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "canvas-calc", "config.yaml")
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration cannot be negative")
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getBoolEnv gets a boolean environment variable or returns a default value
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

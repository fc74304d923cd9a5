// Package config holds server configuration loaded from the environment,
// optionally overlaid with a YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider identifies an annotator backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogleAI  Provider = "googleai"
	ProviderOllama    Provider = "ollama"
	ProviderBedrock   Provider = "bedrock"
)

// ParseProvider validates a backend selector coming from config or an API
// request.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogleAI, ProviderOllama, ProviderBedrock:
		return p, nil
	}
	return "", fmt.Errorf("unsupported annotator provider: %q", s)
}

// Config holds all configuration values.
type Config struct {
	// HTTP server
	Port    string
	DataDir string

	// Annotator defaults; a start request may override provider and model.
	Provider Provider
	Model    string

	// Provider credentials and endpoints
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string
	OllamaHost      string
	BedrockModelID  string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	provider, err := ParseProvider(getEnv("CASECODER_PROVIDER", string(ProviderOpenAI)))
	if err != nil {
		provider = ProviderOpenAI
	}

	return Config{
		Port:    getEnv("CASECODER_PORT", "8711"),
		DataDir: getEnv("CASECODER_DATA_DIR", "data"),

		Provider: provider,
		Model:    getEnv("CASECODER_MODEL", ""),

		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		BedrockModelID:  getEnv("CASECODER_BEDROCK_MODEL", ""),

		LogFile:  getEnv("CASECODER_LOG_FILE", "casecoder.log"),
		LogLevel: parseLogLevel(getEnv("CASECODER_LOG_LEVEL", "INFO")),
	}
}

// fileConfig mirrors the YAML config file shape. Zero values leave the
// corresponding env-derived setting untouched.
type fileConfig struct {
	Port     string `yaml:"port"`
	DataDir  string `yaml:"data_dir"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Ollama   string `yaml:"ollama_host"`
	Bedrock  string `yaml:"bedrock_model"`
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// ApplyFile overlays settings from a YAML file onto c. Credentials stay
// env-only so they never end up in a checked-in config file.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Port != "" {
		c.Port = fc.Port
	}
	if fc.DataDir != "" {
		c.DataDir = fc.DataDir
	}
	if fc.Provider != "" {
		p, err := ParseProvider(fc.Provider)
		if err != nil {
			return err
		}
		c.Provider = p
	}
	if fc.Model != "" {
		c.Model = fc.Model
	}
	if fc.Ollama != "" {
		c.OllamaHost = fc.Ollama
	}
	if fc.Bedrock != "" {
		c.BedrockModelID = fc.Bedrock
	}
	if fc.LogFile != "" {
		c.LogFile = fc.LogFile
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

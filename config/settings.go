// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider lookup through the llm provider table

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/richinex/shellagent/credentials"
	"github.com/richinex/shellagent/llm"
)

// Settings holds all application configuration.
type Settings struct {
	LLM     LLMConfig
	Agent   AgentConfig
	Sandbox SandboxConfig
	Log     LogConfig
	Storage StorageConfig

	// CredentialsFile is where /api stores keys.
	CredentialsFile string
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   uint32
	Temperature float64
	APIKeyEnv   string
}

// AgentConfig holds turn loop configuration.
type AgentConfig struct {
	MaxIterations int
}

// SandboxConfig holds command execution configuration.
type SandboxConfig struct {
	Timeout time.Duration
	// Shell is a shell name such as "bash" or "pwsh"; empty selects automatically.
	Shell string
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string
	Format string
	Output []string
}

// StorageConfig holds transcript storage configuration.
type StorageConfig struct {
	// Path of the SQLite transcript database. Empty disables transcripts.
	Path string
}

// Defaults applied when the environment leaves a value unset.
const (
	DefaultMaxTokens      = 4096
	DefaultTemperature    = 0.7
	DefaultMaxIterations  = 15
	DefaultSandboxTimeout = 60 * time.Second
	DefaultStoragePath    = ".shellagent/transcripts.db"
)

// DefaultProvider is used when neither a flag nor LLM_PROVIDER names one.
var DefaultProvider = llm.DefaultProvider.String()

// New creates settings for the specified provider, loading values from environment variables.
// An empty provider reads LLM_PROVIDER and falls back to DefaultProvider.
// Returns an error if the provider is unknown or environment variables contain invalid values.
func New(provider string) (Settings, error) {
	if provider == "" {
		provider = getEnvString("LLM_PROVIDER", DefaultProvider)
	}
	providerType, err := llm.ParseProviderType(provider)
	if err != nil {
		return Settings{}, err
	}

	maxTokens, err := getEnvUint32("LLM_MAX_TOKENS", DefaultMaxTokens)
	if err != nil {
		return Settings{}, err
	}

	temperature, err := getEnvFloat64("LLM_TEMPERATURE", DefaultTemperature)
	if err != nil {
		return Settings{}, err
	}

	maxIterations, err := getEnvInt("AGENT_MAX_ITERATIONS", DefaultMaxIterations)
	if err != nil {
		return Settings{}, err
	}
	if maxIterations < 1 {
		return Settings{}, fmt.Errorf("invalid value for AGENT_MAX_ITERATIONS: %d: must be at least 1", maxIterations)
	}

	timeoutSecs, err := getEnvInt("SANDBOX_TIMEOUT_SECS", int(DefaultSandboxTimeout/time.Second))
	if err != nil {
		return Settings{}, err
	}
	if timeoutSecs < 1 {
		return Settings{}, fmt.Errorf("invalid value for SANDBOX_TIMEOUT_SECS: %d: must be at least 1", timeoutSecs)
	}

	credentialsFile := os.Getenv("SHELLAGENT_CREDENTIALS")
	if credentialsFile == "" {
		// Without a user config dir the file is simply not used.
		credentialsFile, _ = credentials.DefaultPath()
	}

	return Settings{
		LLM: LLMConfig{
			Provider:    providerType.String(),
			Model:       getEnvString(providerType.ModelEnvVar(), providerType.DefaultModel()),
			MaxTokens:   maxTokens,
			Temperature: temperature,
			APIKeyEnv:   providerType.EnvVar(),
		},
		Agent: AgentConfig{
			MaxIterations: maxIterations,
		},
		Sandbox: SandboxConfig{
			Timeout: time.Duration(timeoutSecs) * time.Second,
			Shell:   os.Getenv("SANDBOX_SHELL"),
		},
		Log: LogConfig{
			Level:  getEnvString("LOG_LEVEL", "warn"),
			Format: getEnvString("LOG_FORMAT", "text"),
			Output: splitList(os.Getenv("LOG_OUTPUT")),
		},
		Storage: StorageConfig{
			Path: getEnvString("SHELLAGENT_DB", DefaultStoragePath),
		},
		CredentialsFile: credentialsFile,
	}, nil
}

// SupportedProviders returns the sorted list of supported provider names.
func SupportedProviders() []string {
	return llm.ProviderNames()
}

// Environment variable helpers with proper error handling

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

// splitList splits a comma-separated value, dropping empty entries.
func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

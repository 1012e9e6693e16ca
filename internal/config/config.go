package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`

	// Admission controller.
	RatePerMinute int     `yaml:"rate_per_minute"`
	BurstCapacity float64 `yaml:"burst_capacity"`

	// Circuit breaker.
	FailureThreshold       int `yaml:"failure_threshold"`
	SuccessThreshold       int `yaml:"success_threshold"`
	RecoveryTimeoutSeconds int `yaml:"recovery_timeout_seconds"`

	// Classification gateway.
	ClassifyTimeoutSeconds int     `yaml:"classify_timeout_seconds"`
	MaxRetries             int     `yaml:"max_retries"`
	BackoffBaseMillis      int     `yaml:"backoff_base_millis"`
	ConfidenceThreshold    float64 `yaml:"confidence_threshold"`
	MaxMessageLength       int     `yaml:"max_message_length"`

	// Breaker-open handling: serve the fallback outcome (default) or reject
	// the request with a circuit-open error.
	FailFastWhenOpen bool `yaml:"fail_fast_when_open"`

	DBPath string `yaml:"db_path"`

	SlackBotToken          string `yaml:"slack_bot_token"`
	EscalationChannelID    string `yaml:"escalation_channel_id"`
	StatsSummarySchedule   string `yaml:"stats_summary_schedule"`
	ExternalTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverrideInt(&cfg.RatePerMinute, "RATE_PER_MINUTE")
	envOverrideFloat(&cfg.BurstCapacity, "BURST_CAPACITY")
	envOverrideInt(&cfg.FailureThreshold, "FAILURE_THRESHOLD")
	envOverrideInt(&cfg.SuccessThreshold, "SUCCESS_THRESHOLD")
	envOverrideInt(&cfg.RecoveryTimeoutSeconds, "RECOVERY_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.ClassifyTimeoutSeconds, "CLASSIFY_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.MaxRetries, "MAX_RETRIES")
	envOverrideInt(&cfg.BackoffBaseMillis, "BACKOFF_BASE_MILLIS")
	envOverrideFloat(&cfg.ConfidenceThreshold, "CONFIDENCE_THRESHOLD")
	envOverrideInt(&cfg.MaxMessageLength, "MAX_MESSAGE_LENGTH")
	envOverrideBool(&cfg.FailFastWhenOpen, "FAIL_FAST_WHEN_OPEN")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.EscalationChannelID, "ESCALATION_CHANNEL_ID")
	envOverride(&cfg.StatsSummarySchedule, "STATS_SUMMARY_SCHEDULE")
	envOverrideInt(&cfg.ExternalTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")

	// Defaults
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.RatePerMinute == 0 {
		cfg.RatePerMinute = 60
	}
	if cfg.BurstCapacity == 0 {
		// Burst allows 2x the sustained per-second rate, never less than 2.
		cfg.BurstCapacity = float64(cfg.RatePerMinute) * 2 / 60
		if cfg.BurstCapacity < 2 {
			cfg.BurstCapacity = 2
		}
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 3
	}
	if cfg.RecoveryTimeoutSeconds == 0 {
		cfg.RecoveryTimeoutSeconds = 30
	}
	if cfg.ClassifyTimeoutSeconds == 0 {
		cfg.ClassifyTimeoutSeconds = 10
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BackoffBaseMillis == 0 {
		cfg.BackoffBaseMillis = 250
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.5
	}
	if cfg.MaxMessageLength == 0 {
		cfg.MaxMessageLength = 5000
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./triagebot.db"
	}

	// Validate required fields
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatalf("openai_api_key is required when llm_provider=openai")
		}
	default:
		log.Fatalf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	if cfg.RatePerMinute < 1 {
		log.Fatalf("invalid rate_per_minute '%d': must be >= 1", cfg.RatePerMinute)
	}
	if cfg.BurstCapacity < 1 {
		log.Fatalf("invalid burst_capacity '%f': must be >= 1", cfg.BurstCapacity)
	}
	if cfg.FailureThreshold < 1 {
		log.Fatalf("invalid failure_threshold '%d': must be >= 1", cfg.FailureThreshold)
	}
	if cfg.SuccessThreshold < 1 {
		log.Fatalf("invalid success_threshold '%d': must be >= 1", cfg.SuccessThreshold)
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		log.Fatalf("invalid confidence_threshold '%f': must be between 0 and 1", cfg.ConfidenceThreshold)
	}
	if cfg.MaxRetries < 0 {
		log.Fatalf("invalid max_retries '%d': must be >= 0", cfg.MaxRetries)
	}
	if cfg.MaxMessageLength < 1 {
		log.Fatalf("invalid max_message_length '%d': must be >= 1", cfg.MaxMessageLength)
	}
	if cfg.EscalationChannelID != "" && cfg.SlackBotToken == "" {
		log.Fatalf("slack_bot_token is required when escalation_channel_id is set")
	}

	return cfg
}

// RefillRatePerSecond derives the bucket refill rate from the sustained rate.
func (c Config) RefillRatePerSecond() float64 {
	return float64(c.RatePerMinute) / 60.0
}

func (c Config) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutSeconds) * time.Second
}

func (c Config) ClassifyTimeout() time.Duration {
	return time.Duration(c.ClassifyTimeoutSeconds) * time.Second
}

func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMillis) * time.Millisecond
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port           int
	DatabaseURL    string
	NatsURL        string
	NatsToken      string
	LogLevel       string
	OpenAIAPIKey   string
	OpenAIModel    string
	ProviderURL    string
	ProviderAPIKey string
	SlackBotToken  string
	SlackChannel   string
	APIToken       string
}

func Load() Config {
	return Config{
		Port:           envInt("HEARSAY_PORT", 8760),
		DatabaseURL:    envStr("DATABASE_URL", ""),
		NatsURL:        envStr("NATS_URL", ""),
		NatsToken:      envStr("NATS_TOKEN", ""),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		OpenAIAPIKey:   envStr("OPENAI_API_KEY", ""),
		OpenAIModel:    envStr("HEARSAY_MODEL", "gpt-4o-mini"),
		ProviderURL:    envStr("PROVIDER_URL", ""),
		ProviderAPIKey: envStr("PROVIDER_API_KEY", ""),
		SlackBotToken:  envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:   envStr("SLACK_DIGEST_CHANNEL", ""),
		APIToken:       envStr("HEARSAY_API_TOKEN", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

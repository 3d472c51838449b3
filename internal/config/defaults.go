package config

import "time"

func Defaults() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeout: 10 * time.Second,
			RetryDelay:  5 * time.Second,
		},
		OpenAI: OpenAIConfig{
			APIBase: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 120 * time.Second,
		},
		Fetch: FetchConfig{
			MaxAttempts:    3,
			BaseDelay:      time.Second,
			AttemptTimeout: 15 * time.Second,
			MaxBytes:       20 << 20,
			UserAgent:      "ANALYZE-AI-Bot/1.0",
		},
		Supervisor: SupervisorConfig{
			ProbeInterval: 30 * time.Second,
			FlushDelay:    time.Second,
			ShutdownGrace: 10 * time.Second,
		},
		Web: WebConfig{
			Enabled:        false,
			Addr:           "127.0.0.1:8080",
			MaxUploadBytes: 5 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

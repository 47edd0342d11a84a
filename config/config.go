package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Raffleflow RaffleflowConfig `yaml:"raffleflow"`
	Torn       TornConfig       `yaml:"torn"`
	Raffle     RaffleConfig     `yaml:"raffle"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Storage    StorageConfig    `yaml:"storage"`
	Notify     NotifyConfig     `yaml:"notify"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type RaffleflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type TornConfig struct {
	APIURL         string        `yaml:"api_url"`
	APIKey         string        `yaml:"api_key"`
	HostID         string        `yaml:"host_id"`
	LogCategory    int           `yaml:"log_category"`
	TriggerMessage string        `yaml:"trigger_message"`
	LogLimit       int           `yaml:"log_limit"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RatePerMinute  int           `yaml:"rate_per_minute"`
}

type RaffleConfig struct {
	TicketPrice         int64         `yaml:"ticket_price"`
	ResetConfirmTimeout time.Duration `yaml:"reset_confirm_timeout"`
}

type PricingConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type StorageConfig struct {
	DataDir string   `yaml:"data_dir"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type NotifyConfig struct {
	DiscordWebhookURL string `yaml:"discord_webhook_url"`
}

type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatchEnabled bool   `yaml:"cloudwatch_enabled"`
	Namespace         string `yaml:"namespace"`
}

// LoadConfig reads the YAML configuration file at path, applies defaults,
// overrides secrets from the environment and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Secrets are never committed to the config file; the environment wins.
	if v := os.Getenv("TORN_API_KEY"); v != "" {
		config.Torn.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		config.Notify.DiscordWebhookURL = strings.TrimSpace(v)
	}
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func defaultConfig() Config {
	return Config{
		Raffleflow: RaffleflowConfig{Name: "raffleflow", Version: "dev"},
		Torn: TornConfig{
			APIURL:         "https://api.torn.com",
			LogCategory:    4103,
			TriggerMessage: "LLF",
			LogLimit:       50,
			PollInterval:   60 * time.Second,
			RequestTimeout: 10 * time.Second,
			RatePerMinute:  60,
		},
		Raffle: RaffleConfig{
			TicketPrice:         400000,
			ResetConfirmTimeout: 30 * time.Second,
		},
		Pricing: PricingConfig{RefreshInterval: 6 * time.Hour},
		Storage: StorageConfig{DataDir: "data"},
		Dashboard: DashboardConfig{
			Address: ":8080",
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Metrics: MetricsConfig{Namespace: "Raffleflow"},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Torn.APIKey == "" {
		return fmt.Errorf("torn api key is required (set TORN_API_KEY)")
	}
	if cfg.Torn.HostID == "" {
		return fmt.Errorf("torn.host_id is required")
	}
	if cfg.Torn.TriggerMessage == "" {
		return fmt.Errorf("torn.trigger_message must not be empty")
	}
	if cfg.Torn.LogCategory <= 0 {
		return fmt.Errorf("torn.log_category must be positive")
	}
	if cfg.Torn.LogLimit <= 0 {
		return fmt.Errorf("torn.log_limit must be positive")
	}
	if cfg.Torn.PollInterval <= 0 {
		return fmt.Errorf("torn.poll_interval must be positive")
	}
	if cfg.Raffle.TicketPrice <= 0 {
		return fmt.Errorf("raffle.ticket_price must be positive")
	}
	if cfg.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	if cfg.Storage.S3.Enabled && cfg.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required when s3 is enabled")
	}
	return nil
}

// MaskedAPIKey hides all but the edges of the configured API key for logging.
func (c *TornConfig) MaskedAPIKey() string {
	k := c.APIKey
	if len(k) <= 8 {
		if k == "" {
			return "(not set)"
		}
		return "****"
	}
	return k[:4] + "****" + k[len(k)-4:]
}

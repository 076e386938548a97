package config

import (
	"log"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv      = "LETTERCAST_CONFIG"
	dbPathEnv          = "LETTERCAST_DB_PATH"
	gmailCredsEnv      = "GMAIL_CREDENTIALS_PATH"
	gmailTokenEnv      = "GMAIL_TOKEN_PATH"
	bridgeURLEnv       = "AUTOMATION_BRIDGE_URL"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChannelEnv = "TELEGRAM_CHANNEL_ID"
	logLevelEnv        = "LETTERCAST_LOG_LEVEL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Mail       MailConfig       `yaml:"mail"`
	WebSources []WebSource      `yaml:"webSources"`
	Automation AutomationConfig `yaml:"automation"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Retry      RetryConfig      `yaml:"retry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StorageConfig describes the durable job store and local audio cache.
type StorageConfig struct {
	DBPath            string `yaml:"dbPath"`
	TempAudioDir      string `yaml:"tempAudioDir"`
	MaxAgeHours       int    `yaml:"maxAgeHours"`
	RunLockStaleHours int    `yaml:"runLockStaleHours"`
}

// MaxAge converts MaxAgeHours to a duration; zero disables staleness checks.
func (s StorageConfig) MaxAge() time.Duration {
	return time.Duration(s.MaxAgeHours) * time.Hour
}

// RunLockStale converts RunLockStaleHours to a duration.
func (s StorageConfig) RunLockStale() time.Duration {
	return time.Duration(s.RunLockStaleHours) * time.Hour
}

// MailConfig wires the Gmail collector. Leaving CredentialsPath empty
// disables mail collection entirely.
type MailConfig struct {
	CredentialsPath string   `yaml:"credentialsPath"`
	TokenPath       string   `yaml:"tokenPath"`
	AllowedSenders  []string `yaml:"allowedSenders"`
	MaxResults      int64    `yaml:"maxResults"`
}

// WebSource describes a single site to poll for new content.
type WebSource struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Type     string `yaml:"type"` // rss or html
	Selector string `yaml:"selector"`
}

// AutomationConfig defines how to reach the audio-generation bridge.
type AutomationConfig struct {
	BridgeURL      string `yaml:"bridgeUrl"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// Timeout converts TimeoutSeconds to a duration.
func (a AutomationConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// TelegramConfig wires all data required to deliver audio.
type TelegramConfig struct {
	BotToken  string `yaml:"botToken"`
	ChannelID string `yaml:"channelId"`
}

// RetryConfig optionally overrides per-failure retry limits and backoff base
// delays. Zero values keep the built-in rule.
type RetryConfig struct {
	MailQuota         RetryRule `yaml:"mailQuota"`
	SiteUnreachable   RetryRule `yaml:"siteUnreachable"`
	AutomationTimeout RetryRule `yaml:"automationTimeout"`
	GenerationTimeout RetryRule `yaml:"generationTimeout"`
	TransientSend     RetryRule `yaml:"transientSend"`
}

// RetryRule overrides one policy row; the backoff shape is not configurable.
type RetryRule struct {
	MaxRetries  int `yaml:"maxRetries"`
	BaseSeconds int `yaml:"baseSeconds"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads YAML configuration (if present) and applies environment
// overrides. An empty path falls back to the LETTERCAST_CONFIG variable.
func Load(path string) Config {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal([]byte(resolveEnvRefs(string(raw))), &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// resolveEnvRefs substitutes ${VAR} references in the raw YAML so secrets
// can stay out of the config file.
func resolveEnvRefs(raw string) string {
	return envRefPattern.ReplaceAllStringFunc(raw, func(m string) string {
		name := envRefPattern.FindStringSubmatch(m)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return m
	})
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(dbPathEnv); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv(gmailCredsEnv); v != "" {
		c.Mail.CredentialsPath = v
	}
	if v := os.Getenv(gmailTokenEnv); v != "" {
		c.Mail.TokenPath = v
	}
	if v := os.Getenv(bridgeURLEnv); v != "" {
		c.Automation.BridgeURL = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChannelEnv); v != "" {
		c.Telegram.ChannelID = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Storage.DBPath != "" {
		base.Storage.DBPath = override.Storage.DBPath
	}
	if override.Storage.TempAudioDir != "" {
		base.Storage.TempAudioDir = override.Storage.TempAudioDir
	}
	if override.Storage.MaxAgeHours != 0 {
		base.Storage.MaxAgeHours = override.Storage.MaxAgeHours
	}
	if override.Storage.RunLockStaleHours != 0 {
		base.Storage.RunLockStaleHours = override.Storage.RunLockStaleHours
	}

	if override.Mail.CredentialsPath != "" {
		base.Mail.CredentialsPath = override.Mail.CredentialsPath
	}
	if override.Mail.TokenPath != "" {
		base.Mail.TokenPath = override.Mail.TokenPath
	}
	if len(override.Mail.AllowedSenders) > 0 {
		base.Mail.AllowedSenders = override.Mail.AllowedSenders
	}
	if override.Mail.MaxResults != 0 {
		base.Mail.MaxResults = override.Mail.MaxResults
	}

	if len(override.WebSources) > 0 {
		base.WebSources = override.WebSources
	}

	if override.Automation.BridgeURL != "" {
		base.Automation.BridgeURL = override.Automation.BridgeURL
	}
	if override.Automation.TimeoutSeconds != 0 {
		base.Automation.TimeoutSeconds = override.Automation.TimeoutSeconds
	}

	if override.Telegram.BotToken != "" {
		base.Telegram.BotToken = override.Telegram.BotToken
	}
	if override.Telegram.ChannelID != "" {
		base.Telegram.ChannelID = override.Telegram.ChannelID
	}

	base.Retry = override.Retry

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			DBPath:            "data/lettercast.db",
			TempAudioDir:      "data/audio",
			MaxAgeHours:       24,
			RunLockStaleHours: 2,
		},
		Mail: MailConfig{
			MaxResults: 10,
		},
		Automation: AutomationConfig{
			BridgeURL:      "http://localhost:8090",
			TimeoutSeconds: 600,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

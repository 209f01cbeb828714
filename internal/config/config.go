package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Sink names accepted by notifications.sinks and transcription.sink.
const (
	SinkLog     = "log"
	SinkWebhook = "webhook"
	SinkSES     = "ses"
	SinkRedis   = "redis"
)

// Config models stillpoint.yml.
type Config struct {
	Server struct {
		Addr                   string `yaml:"addr"`
		BasePath               string `yaml:"base_path"`
		JWTSecretEnv           string `yaml:"jwt_secret_env"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
		DevLogin               bool   `yaml:"dev_login"`
	} `yaml:"server"`
	Log struct {
		Level       string `yaml:"level"`
		Environment string `yaml:"environment"`
	} `yaml:"log"`
	Notifications struct {
		Sinks             []string          `yaml:"sinks"`
		WebhookURLs       []string          `yaml:"webhook_urls"`
		FromEmail         string            `yaml:"from_email"`
		ReviewerEmails    []string          `yaml:"reviewer_emails"`
		ContributorEmails map[string]string `yaml:"contributor_emails"`
		RedisChannel      string            `yaml:"redis_channel"`
		SESRegion         string            `yaml:"ses_region"`
	} `yaml:"notifications"`
	Transcription struct {
		Sink     string `yaml:"sink"`
		QueueKey string `yaml:"queue_key"`
	} `yaml:"transcription"`
	Media struct {
		Bucket        string `yaml:"bucket"`
		Region        string `yaml:"region"`
		Endpoint      string `yaml:"endpoint"`
		PathStyle     bool   `yaml:"path_style"`
		PresignExpiry string `yaml:"presign_expiry"`
		AccessKeyEnv  string `yaml:"access_key_env"`
		SecretKeyEnv  string `yaml:"secret_key_env"`
	} `yaml:"media"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Relay struct {
		Interval string `yaml:"interval"`
		Batch    int    `yaml:"batch"`
	} `yaml:"relay"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && c.Server.BasePath[0] != '/' {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Log.Level != "" {
		if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("config.log.level: %w", err)
		}
	}
	needsRedis := false
	for _, sink := range c.Notifications.Sinks {
		switch sink {
		case SinkLog:
		case SinkWebhook:
			if len(c.Notifications.WebhookURLs) == 0 {
				return fmt.Errorf("notification sink webhook requires notifications.webhook_urls")
			}
		case SinkSES:
			if c.Notifications.FromEmail == "" {
				return fmt.Errorf("notification sink ses requires notifications.from_email")
			}
		case SinkRedis:
			needsRedis = true
			if c.Notifications.RedisChannel == "" {
				return fmt.Errorf("notification sink redis requires notifications.redis_channel")
			}
		default:
			return fmt.Errorf("unknown notification sink %q", sink)
		}
	}
	switch c.Transcription.Sink {
	case "", SinkLog:
	case SinkRedis:
		needsRedis = true
		if c.Transcription.QueueKey == "" {
			return fmt.Errorf("transcription sink redis requires transcription.queue_key")
		}
	default:
		return fmt.Errorf("unknown transcription sink %q", c.Transcription.Sink)
	}
	if needsRedis && c.Redis.URL == "" {
		return fmt.Errorf("config.redis.url is required by a redis sink")
	}
	if c.Media.PresignExpiry != "" {
		if _, err := time.ParseDuration(c.Media.PresignExpiry); err != nil {
			return fmt.Errorf("config.media.presign_expiry: %w", err)
		}
	}
	if c.Relay.Interval != "" {
		if _, err := time.ParseDuration(c.Relay.Interval); err != nil {
			return fmt.Errorf("config.relay.interval: %w", err)
		}
	}
	if c.Relay.Batch < 0 {
		return fmt.Errorf("config.relay.batch must not be negative")
	}
	return nil
}

// PresignExpiry defaults to 15 minutes.
func (c *Config) PresignExpiry() time.Duration {
	if d, err := time.ParseDuration(c.Media.PresignExpiry); err == nil && d > 0 {
		return d
	}
	return 15 * time.Minute
}

// RelayInterval defaults to 2 seconds.
func (c *Config) RelayInterval() time.Duration {
	if d, err := time.ParseDuration(c.Relay.Interval); err == nil && d > 0 {
		return d
	}
	return 2 * time.Second
}

func (c *Config) RelayBatch() int {
	if c.Relay.Batch > 0 {
		return c.Relay.Batch
	}
	return 100
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stillpoint.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sp init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret_env: STILLPOINT_JWT_SECRET
  allow_legacy_actor_header: false
  dev_login: false

log:
  level: info
  environment: development

notifications:
  sinks: [log]
  redis_channel: stillpoint.notifications

transcription:
  sink: log
  queue_key: stillpoint:transcriptions

media:
  region: us-east-1
  presign_expiry: 15m
  access_key_env: STILLPOINT_S3_ACCESS_KEY
  secret_key_env: STILLPOINT_S3_SECRET_KEY

relay:
  interval: 2s
  batch: 100
`

// Package app wires the workspace database, configuration and external
// collaborators into the runtime shared by the CLI commands and the server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"stillpoint/internal/config"
	"stillpoint/internal/db"
	"stillpoint/internal/engine"
	"stillpoint/internal/logging"
	"stillpoint/internal/media"
	"stillpoint/internal/migrate"
	"stillpoint/internal/notify"
	"stillpoint/internal/relay"
	"stillpoint/internal/transcribe"
)

// Runtime is an opened workspace.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Log       zerolog.Logger

	redis *redis.Client
}

// Open loads the workspace config (or the file at cfgPath), initializes
// logging and opens the migrated database.
func Open(workspace, cfgPath string) (*Runtime, error) {
	cfg, err := loadConfig(workspace, cfgPath)
	if err != nil {
		return nil, err
	}
	log := logging.Init(logging.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Log.Environment,
		Service:     "stillpoint",
	})
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	e.Log = log.With().Str("component", "engine").Logger()
	return &Runtime{Workspace: workspace, Config: cfg, DB: conn, Engine: e, Log: log}, nil
}

func loadConfig(workspace, cfgPath string) (*config.Config, error) {
	if cfgPath != "" {
		return config.FromFile(cfgPath)
	}
	return config.LoadOptional(workspace)
}

func (r *Runtime) Close() error {
	var errs []error
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}
	errs = append(errs, r.DB.Close())
	return errors.Join(errs...)
}

// Redis connects on first use and verifies the server answers.
func (r *Runtime) Redis(ctx context.Context) (*redis.Client, error) {
	if r.redis != nil {
		return r.redis, nil
	}
	if r.Config.Redis.URL == "" {
		return nil, errors.New("config.redis.url is not set")
	}
	opt, err := redis.ParseURL(r.Config.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	r.redis = client
	return client, nil
}

// Dispatcher builds the notification fan-out for the configured sinks.
func (r *Runtime) Dispatcher(ctx context.Context) (notify.Dispatcher, error) {
	n := r.Config.Notifications
	var out notify.Multi
	for _, sink := range n.Sinks {
		switch sink {
		case config.SinkLog:
			out = append(out, notify.Log{Logger: logging.WithComponent("notify")})
		case config.SinkWebhook:
			out = append(out, notify.Webhook{URLs: n.WebhookURLs, Client: &http.Client{Timeout: 5 * time.Second}})
		case config.SinkSES:
			opts := []func(*awsconfig.LoadOptions) error{}
			if n.SESRegion != "" {
				opts = append(opts, awsconfig.WithRegion(n.SESRegion))
			}
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
			if err != nil {
				return nil, fmt.Errorf("load aws config: %w", err)
			}
			out = append(out, notify.Email{
				Client:            ses.NewFromConfig(awsCfg),
				From:              n.FromEmail,
				ReviewerEmails:    n.ReviewerEmails,
				ContributorEmails: n.ContributorEmails,
			})
		case config.SinkRedis:
			client, err := r.Redis(ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, notify.Redis{Client: client, Channel: n.RedisChannel})
		default:
			return nil, fmt.Errorf("unknown notification sink %q", sink)
		}
	}
	return out, nil
}

// Transcriber returns the configured transcription sink.
func (r *Runtime) Transcriber(ctx context.Context) (transcribe.Requester, error) {
	switch r.Config.Transcription.Sink {
	case config.SinkRedis:
		client, err := r.Redis(ctx)
		if err != nil {
			return nil, err
		}
		return transcribe.RedisQueue{Client: client, Key: r.Config.Transcription.QueueKey}, nil
	default:
		return transcribe.LogRequester{Log: logging.WithComponent("transcribe")}, nil
	}
}

// Relay assembles the outbox relay with both consumers.
func (r *Runtime) Relay(ctx context.Context) (relay.Relay, error) {
	d, err := r.Dispatcher(ctx)
	if err != nil {
		return relay.Relay{}, err
	}
	q, err := r.Transcriber(ctx)
	if err != nil {
		return relay.Relay{}, err
	}
	return relay.Relay{
		Repo:      r.Engine.Repo,
		Consumers: []relay.Consumer{relay.Notifications(d), relay.Transcriptions(q)},
		Interval:  r.Config.RelayInterval(),
		Batch:     r.Config.RelayBatch(),
		Owner:     relayOwner(),
		Log:       logging.WithComponent("relay"),
	}, nil
}

// relayOwner names this process in the relay lease.
func relayOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Media returns the upload presigner, or nil when no bucket is configured.
func (r *Runtime) Media() *media.Presigner {
	m := r.Config.Media
	if m.Bucket == "" {
		return nil
	}
	return media.New(media.Config{
		Endpoint:        m.Endpoint,
		Region:          m.Region,
		AccessKeyID:     envOrEmpty(m.AccessKeyEnv),
		SecretAccessKey: envOrEmpty(m.SecretKeyEnv),
		Bucket:          m.Bucket,
		PathStyle:       m.PathStyle,
		Expiry:          r.Config.PresignExpiry(),
	})
}

// JWTSecret reads the signing secret from the configured environment variable.
func (r *Runtime) JWTSecret() string {
	return envOrEmpty(r.Config.Server.JWTSecretEnv)
}

func envOrEmpty(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level       string
	Environment string // "development" or "production"
	Service     string
	Output      io.Writer
}

var (
	mu     sync.RWMutex
	global = zerolog.Nop()
	inited bool
)

// Init builds the process logger. Production writes JSON; anything else gets
// the console writer.
func Init(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Service == "" {
		cfg.Service = "stillpoint"
	}
	if cfg.Environment != "production" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("service", cfg.Service).
		Logger()

	mu.Lock()
	global = logger
	inited = true
	mu.Unlock()
	return logger
}

// Get returns the process logger, initializing a development logger on first use.
func Get() zerolog.Logger {
	mu.RLock()
	l, ok := global, inited
	mu.RUnlock()
	if !ok {
		return Init(Config{Environment: "development"})
	}
	return l
}

// WithComponent returns a child logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return Get().With().Str("component", component).Logger()
}

// Package relay delivers outbox events written by the engine to the
// notification and transcription collaborators. Each consumer keeps a
// persisted cursor so a restart resumes where delivery stopped. A lease in
// the database lets only one relay deliver at a time, so `sp serve` and
// `sp relay run` against the same workspace do not send events twice.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stillpoint/internal/domain"
	"stillpoint/internal/metrics"
	"stillpoint/internal/repo"
)

const (
	defaultInterval = 2 * time.Second
	defaultBatch    = 100
	leaseName       = "outbox"
)

// Consumer handles one family of outbox events.
type Consumer struct {
	Name  string
	Types []string
	// Durable consumers stop at a failed event and retry it on the next
	// pass. Other consumers log the failure and move on.
	Durable bool
	Handle  func(ctx context.Context, evt domain.Event) error
}

func (c Consumer) match(evtType string) bool {
	if len(c.Types) == 0 {
		return true
	}
	for _, t := range c.Types {
		if strings.TrimSpace(t) == evtType {
			return true
		}
	}
	return false
}

type Relay struct {
	Repo      repo.Repo
	Consumers []Consumer
	Interval  time.Duration
	Batch     int
	// Owner identifies this relay in the delivery lease. Empty means a
	// fresh id per Run, or per pass for a bare Drain.
	Owner string
	// LeaseTTL bounds how long a crashed owner blocks the others.
	// Defaults to five intervals.
	LeaseTTL time.Duration
	Log      zerolog.Logger
}

func (r Relay) interval() time.Duration {
	if r.Interval <= 0 {
		return defaultInterval
	}
	return r.Interval
}

func (r Relay) leaseTTL() time.Duration {
	if r.LeaseTTL > 0 {
		return r.LeaseTTL
	}
	return 5 * r.interval()
}

// Run drains the outbox on every tick until ctx is cancelled.
func (r Relay) Run(ctx context.Context) error {
	if r.Owner == "" {
		r.Owner = uuid.NewString()
	}
	defer func() {
		if err := r.Repo.ReleaseRelayLease(context.Background(), leaseName, r.Owner); err != nil {
			r.Log.Warn().Err(err).Msg("release relay lease")
		}
	}()
	interval := r.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			r.Log.Error().Err(err).Msg("relay pass failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Drain runs one pass over every consumer and returns how many events were
// delivered. It delivers nothing while another relay holds the lease.
func (r Relay) Drain(ctx context.Context) (int, error) {
	owner := r.Owner
	if owner == "" {
		owner = uuid.NewString()
		defer r.Repo.ReleaseRelayLease(context.Background(), leaseName, owner)
	}
	held, err := r.Repo.AcquireRelayLease(ctx, leaseName, owner, time.Now(), r.leaseTTL())
	if err != nil {
		return 0, fmt.Errorf("acquire lease: %w", err)
	}
	if !held {
		r.Log.Debug().Str("owner", owner).Msg("relay lease held elsewhere, skipping pass")
		return 0, nil
	}
	total := 0
	var errs []error
	for _, c := range r.Consumers {
		n, err := r.drain(ctx, c)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
		}
	}
	return total, errors.Join(errs...)
}

func (r Relay) drain(ctx context.Context, c Consumer) (int, error) {
	batch := r.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	start, err := r.Repo.RelayCursor(ctx, c.Name)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	evs, err := r.Repo.EventsAfter(ctx, start, batch)
	if err != nil {
		return 0, fmt.Errorf("fetch events: %w", err)
	}
	cursor := start
	delivered := 0
	var failure error
	for _, evt := range evs {
		if c.match(evt.Type) {
			if err := c.Handle(ctx, evt); err != nil {
				metrics.ObserveDelivery(c.Name, "failed")
				r.Log.Warn().Err(err).
					Str("consumer", c.Name).
					Int64("event_id", evt.ID).
					Str("type", evt.Type).
					Bool("retry", c.Durable).
					Msg("delivery failed")
				if c.Durable {
					failure = err
					break
				}
			} else {
				metrics.ObserveDelivery(c.Name, "delivered")
				delivered++
			}
		}
		cursor = evt.ID
	}
	if cursor != start {
		if err := r.Repo.SetRelayCursor(ctx, c.Name, cursor); err != nil {
			return delivered, fmt.Errorf("save cursor: %w", err)
		}
	}
	return delivered, failure
}

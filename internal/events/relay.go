package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicledger/approvald/internal/logging"
	"github.com/civicledger/approvald/internal/models"
)

// Outbox is the durable event queue the relay drains.
type Outbox interface {
	ListUndelivered(ctx context.Context, limit int) ([]*models.Event, error)
	MarkDelivered(ctx context.Context, ids []string, at time.Time) (int64, error)
}

// RelayConfig tunes the relay loop.
type RelayConfig struct {
	// Interval between drain passes.
	Interval time.Duration

	// BatchSize caps events read per pass.
	BatchSize int
}

// DefaultRelayConfig returns the default relay configuration.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Interval:  time.Second,
		BatchSize: 100,
	}
}

// Relay moves committed events from the outbox to a sink. Events are
// delivered in commit order; a failed delivery halts the pass so that the
// event is retried before anything after it.
type Relay struct {
	outbox Outbox
	sink   Sink
	cfg    RelayConfig
	now    func() time.Time
	logger zerolog.Logger
}

// NewRelay creates a relay.
func NewRelay(outbox Outbox, sink Sink, cfg RelayConfig) *Relay {
	defaults := DefaultRelayConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	return &Relay{
		outbox: outbox,
		sink:   sink,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logging.Component("relay"),
	}
}

// Run drains the outbox every interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.cfg.Interval).Int("batch_size", r.cfg.BatchSize).Msg("event relay started")
	for {
		for {
			n, err := r.Drain(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Warn().Err(err).Msg("event relay pass failed")
				break
			}
			if n < r.cfg.BatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("event relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain runs one pass and returns how many events were delivered.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	pending, err := r.outbox.ListUndelivered(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	delivered := make([]string, 0, len(pending))
	var publishErr error
	for _, event := range pending {
		if err := r.sink.Publish(ctx, event); err != nil {
			publishErr = err
			r.logger.Warn().Err(err).
				Str("event_id", event.ID).
				Str("type", string(event.Type)).
				Msg("event delivery failed")
			break
		}
		delivered = append(delivered, event.ID)
	}

	if len(delivered) > 0 {
		if _, err := r.outbox.MarkDelivered(ctx, delivered, r.now()); err != nil {
			return 0, err
		}
		r.logger.Debug().Int("count", len(delivered)).Msg("events delivered")
	}
	return len(delivered), publishErr
}

// Package daemon runs approvald: the HTTP API, the outbox relay and
// delivered-event retention over one opened store.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicledger/approvald/internal/api"
	"github.com/civicledger/approvald/internal/config"
	"github.com/civicledger/approvald/internal/engine"
	"github.com/civicledger/approvald/internal/events"
	"github.com/civicledger/approvald/internal/identity"
	"github.com/civicledger/approvald/internal/storage"
)

const (
	// retentionInterval is how often delivered events are pruned.
	retentionInterval = time.Hour
	retentionBatch    = 1000
)

// Options overrides parts of the configuration.
type Options struct {
	// Addr overrides cfg.Server.Addr.
	Addr string

	// Secret overrides the configured JWT secret.
	Secret []byte

	// Store skips opening the configured backend.
	Store *storage.Backend
}

// Daemon is the approvald process.
type Daemon struct {
	cfg    *config.Config
	logger zerolog.Logger

	backend   *storage.Backend
	engine    *engine.Engine
	publisher *events.InMemoryPublisher
	redis     *events.RedisSink
	sink      events.Sink
	relay     *events.Relay
	server    *api.Server

	addr     string
	listener net.Listener
	mu       sync.Mutex
}

// New opens the store and wires the API. Close releases what New opened.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Daemon, error) {
	secret := opts.Secret
	if len(secret) == 0 {
		var err error
		if secret, err = cfg.JWTSecret(); err != nil {
			return nil, fmt.Errorf("failed to resolve jwt secret: %w", err)
		}
	}

	backend := opts.Store
	if backend == nil {
		var err error
		if backend, err = storage.Open(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		backend:   backend,
		engine:    engine.New(backend.Store, engine.WithLogger(logger)),
		publisher: events.NewInMemoryPublisher(),
		addr:      cfg.Server.Addr,
	}
	if opts.Addr != "" {
		d.addr = opts.Addr
	}

	// The SSE publisher always receives events; Redis joins when enabled.
	fanout := events.Fanout{d.publisher}
	if cfg.Events.Redis.Enabled {
		d.redis = events.NewRedisSink(events.RedisConfig{
			Addr:          cfg.Events.Redis.Addr,
			Password:      cfg.Events.Redis.Password,
			DB:            cfg.Events.Redis.DB,
			ChannelPrefix: cfg.Events.Redis.ChannelPrefix,
		})
		fanout = append(fanout, d.redis)
	}
	d.sink = fanout

	apiOpts := api.Options{
		Engine:    d.engine,
		Verifier:  identity.NewVerifier(secret, cfg.Server.JWTIssuer),
		Publisher: d.publisher,
		Logger:    &logger,
	}
	if backend.HasOutbox() {
		d.relay = events.NewRelay(backend.Outbox, d.sink, events.RelayConfig{
			Interval:  cfg.Events.RelayInterval,
			BatchSize: cfg.Events.BatchSize,
		})
		apiOpts.EventLog = backend.Outbox
	} else {
		apiOpts.Sink = d.sink
	}
	d.server = api.New(apiOpts)

	return d, nil
}

// Engine returns the daemon's engine.
func (d *Daemon) Engine() *engine.Engine {
	return d.engine
}

// Publisher returns the in-process event publisher.
func (d *Daemon) Publisher() events.Publisher {
	return d.publisher
}

// Backend returns the opened store.
func (d *Daemon) Backend() *storage.Backend {
	return d.backend
}

// Handler returns the HTTP handler.
func (d *Daemon) Handler() http.Handler {
	return d.server.Handler()
}

// Addr returns the bound address once Run is listening, else the configured one.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener != nil {
		return d.listener.Addr().String()
	}
	return d.addr
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	if d.redis != nil {
		if err := d.redis.Ping(ctx); err != nil {
			d.logger.Warn().Err(err).Str("addr", d.cfg.Events.Redis.Addr).Msg("redis unreachable")
		}
	}

	listener, err := net.Listen("tcp", d.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.addr, err)
	}
	d.mu.Lock()
	d.listener = listener
	d.mu.Unlock()

	srv := &http.Server{
		Handler:      d.server.Handler(),
		ReadTimeout:  d.cfg.Server.ReadTimeout,
		WriteTimeout: d.cfg.Server.WriteTimeout,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if d.relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.relay.Run(runCtx)
		}()
		if d.cfg.Events.Retention > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.runRetention(runCtx)
			}()
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		d.logger.Info().Str("addr", listener.Addr().String()).Str("backend", d.backend.Kind).Msg("approvald listening")
		serveErr <- srv.Serve(listener)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown: %w", err)
	}

	cancel()
	wg.Wait()
	d.logger.Info().Msg("approvald stopped")
	return runErr
}

func (d *Daemon) runRetention(ctx context.Context) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		d.pruneDelivered(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pruneDelivered deletes delivered events older than the retention window.
func (d *Daemon) pruneDelivered(ctx context.Context) int64 {
	before := time.Now().UTC().Add(-d.cfg.Events.Retention)
	var total int64
	for {
		n, err := d.backend.Outbox.DeleteDeliveredBefore(ctx, before, retentionBatch)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Warn().Err(err).Msg("event retention pass failed")
			}
			return total
		}
		total += n
		if n < retentionBatch {
			break
		}
	}
	if total > 0 {
		d.logger.Info().Int64("deleted", total).Msg("pruned delivered events")
	}
	return total
}

// Close releases the store and Redis client.
func (d *Daemon) Close() error {
	d.publisher.Close()
	var errs []error
	if d.redis != nil {
		errs = append(errs, d.redis.Close())
	}
	errs = append(errs, d.backend.Close())
	return errors.Join(errs...)
}

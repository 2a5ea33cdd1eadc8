package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicledger/approvald/internal/engine"
	"github.com/civicledger/approvald/internal/events"
	"github.com/civicledger/approvald/internal/identity"
	"github.com/civicledger/approvald/internal/logging"
	"github.com/civicledger/approvald/internal/models"
	"github.com/civicledger/approvald/internal/storage"
)

// session is one command's view of the ledger.
type session struct {
	engine  *engine.Engine
	backend *storage.Backend
	sink    events.Sink
	redis   *events.RedisSink
	logger  zerolog.Logger
}

func openSession(ctx context.Context) (*session, error) {
	cfg := GetConfig()
	logger := logging.Component("cli")

	backend, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &session{
		engine:  engine.New(backend.Store, engine.WithLogger(logger)),
		backend: backend,
		logger:  logger,
	}

	// With an outbox the daemon's relay delivers; otherwise publish inline.
	if !backend.HasOutbox() && cfg.Events.Redis.Enabled {
		s.redis = events.NewRedisSink(events.RedisConfig{
			Addr:          cfg.Events.Redis.Addr,
			Password:      cfg.Events.Redis.Password,
			DB:            cfg.Events.Redis.DB,
			ChannelPrefix: cfg.Events.Redis.ChannelPrefix,
		})
		s.sink = s.redis
	}
	return s, nil
}

func (s *session) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if err := s.backend.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close store")
	}
}

func (s *session) publish(ctx context.Context, res *models.TransitionResult) {
	if s.sink == nil || res == nil {
		return
	}
	if err := events.PublishAll(ctx, s.sink, res.Events); err != nil {
		s.logger.Warn().Err(err).Str("id", res.ID).Msg("failed to publish events")
	}
}

// withSession opens a session for the duration of fn.
func withSession(fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

// resolveActor builds the caller from --as/--role, falling back to the
// saved context.
func resolveActor() (models.Actor, error) {
	id := strings.TrimSpace(actorFlag)
	role := strings.TrimSpace(roleFlag)
	if id == "" || role == "" {
		saved, err := contextStore().Load()
		if err != nil {
			return models.Actor{}, err
		}
		if id == "" {
			id = saved.ActorID
		}
		if role == "" {
			role = saved.Role
		}
	}
	if id == "" {
		return models.Actor{}, fmt.Errorf("no actor: pass --as and --role or run 'approvals context set'")
	}
	return identity.Resolve(identity.NewStatic(id, models.Role(role)))
}

// printResult reports a mutation.
func printResult(ctx context.Context, out io.Writer, s *session, action string, res *models.TransitionResult) error {
	s.publish(ctx, res)
	if IsStructuredOutput() {
		return WriteOutput(out, res)
	}
	if IsQuiet() {
		return nil
	}
	line := fmt.Sprintf("%s: %s", res.ID, colorState(out, res.ResultingState))
	if res.AllApproved != nil && *res.AllApproved {
		line += " (all approvers approved)"
	}
	if res.Message != "" {
		line += " (" + res.Message + ")"
	}
	if res.TxRef != "" {
		line += "  tx " + shortID(res.TxRef)
	}
	if _, err := fmt.Fprintln(out, line); err != nil {
		return err
	}
	PrintNextSteps(out, HintContext{Action: action, ID: res.ID, State: res.ResultingState})
	return nil
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

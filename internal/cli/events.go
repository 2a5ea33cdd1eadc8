package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/civicledger/approvald/internal/db"
	"github.com/civicledger/approvald/internal/events"
	"github.com/civicledger/approvald/internal/models"
)

var (
	eventsListType       string
	eventsListEntityType string
	eventsListEntity     string
	eventsListSince      string
	eventsListCursor     string
	eventsListLimit      int
)

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsPendingCmd)
	eventsCmd.AddCommand(eventsRelayCmd)

	eventsListCmd.Flags().StringVar(&eventsListType, "type", "", "filter by event type (e.g. WorkflowCreated)")
	eventsListCmd.Flags().StringVar(&eventsListEntityType, "entity-type", "", "filter by entity type (workflow, document)")
	eventsListCmd.Flags().StringVar(&eventsListEntity, "entity", "", "filter by entity id")
	eventsListCmd.Flags().StringVar(&eventsListSince, "since", "", "events at or after this time (duration like 1h, or RFC3339)")
	eventsListCmd.Flags().StringVar(&eventsListCursor, "cursor", "", "resume after this cursor")
	eventsListCmd.Flags().IntVar(&eventsListLimit, "limit", 100, "max results")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the event outbox",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := db.EventQuery{Cursor: eventsListCursor, Limit: eventsListLimit}
		if eventsListType != "" {
			t := models.EventType(eventsListType)
			q.Type = &t
		}
		if eventsListEntityType != "" {
			et := models.EntityType(strings.ToLower(eventsListEntityType))
			q.EntityType = &et
		}
		if eventsListEntity != "" {
			q.EntityID = &eventsListEntity
		}
		if eventsListSince != "" {
			since, err := parseSince(eventsListSince, time.Now())
			if err != nil {
				return err
			}
			q.Since = &since
		}

		return withOutbox(func(ctx context.Context, s *session) error {
			page, err := s.backend.Outbox.Query(ctx, q)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if IsJSONLOutput() {
				return WriteOutput(out, page.Events)
			}
			if IsStructuredOutput() {
				return WriteOutput(out, page)
			}
			if len(page.Events) == 0 {
				fmt.Fprintln(out, "No events found.")
				return nil
			}

			rows := make([][]string, 0, len(page.Events))
			for _, e := range page.Events {
				rows = append(rows, []string{
					formatTime(e.Timestamp),
					string(e.Type),
					string(e.EntityType),
					e.EntityID,
					shortID(e.TxRef),
				})
			}
			if err := writeTable(out, []string{"TIME", "TYPE", "ENTITY", "ID", "TX"}, rows); err != nil {
				return err
			}
			printNextCursor(out, page.NextCursor)
			return nil
		})
	},
}

var eventsPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Count events not yet delivered",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOutbox(func(ctx context.Context, s *session) error {
			count, err := s.backend.Outbox.CountUndelivered(ctx)
			if err != nil {
				return err
			}
			if IsStructuredOutput() {
				return WriteOutput(cmd.OutOrStdout(), map[string]int64{"undelivered": count})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d undelivered\n", count)
			return nil
		})
	},
}

var eventsRelayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Deliver pending outbox events to Redis once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if !cfg.Events.Redis.Enabled {
			return fmt.Errorf("events.redis.enabled is false; nothing to relay to")
		}
		return withOutbox(func(ctx context.Context, s *session) error {
			sink := events.NewRedisSink(events.RedisConfig{
				Addr:          cfg.Events.Redis.Addr,
				Password:      cfg.Events.Redis.Password,
				DB:            cfg.Events.Redis.DB,
				ChannelPrefix: cfg.Events.Redis.ChannelPrefix,
			})
			defer sink.Close()

			relay := events.NewRelay(s.backend.Outbox, sink, events.RelayConfig{
				Interval:  cfg.Events.RelayInterval,
				BatchSize: cfg.Events.BatchSize,
			})
			total := 0
			for {
				n, err := relay.Drain(ctx)
				total += n
				if err != nil {
					return err
				}
				if n < cfg.Events.BatchSize {
					break
				}
			}
			if IsStructuredOutput() {
				return WriteOutput(cmd.OutOrStdout(), map[string]int{"delivered": total})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d delivered\n", total)
			return nil
		})
	},
}

func withOutbox(fn func(ctx context.Context, s *session) error) error {
	return withSession(func(ctx context.Context, s *session) error {
		if !s.backend.HasOutbox() {
			return fmt.Errorf("the %s backend keeps no event outbox", s.backend.Kind)
		}
		return fn(ctx, s)
	})
}

// parseSince accepts a duration back from now or an absolute date.
func parseSince(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("--since duration must be positive")
		}
		return now.Add(-d).UTC(), nil
	}
	return models.ParseDate(value)
}

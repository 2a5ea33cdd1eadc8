package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/civicledger/approvald/internal/models"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func formatDetails(details map[string]string) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+details[k])
	}
	return strings.Join(parts, " ")
}

func printNextCursor(out io.Writer, cursor string) {
	if cursor == "" || IsQuiet() {
		return
	}
	fmt.Fprintf(out, "\nMore results: --cursor %s\n", cursor)
}

func writeHistory(cmd *cobra.Command, entries []models.HistoryEntry) error {
	out := cmd.OutOrStdout()
	if IsStructuredOutput() {
		return WriteOutput(out, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No history.")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		transition := e.ToState
		if e.FromState != "" && e.FromState != e.ToState {
			transition = e.FromState + " -> " + e.ToState
		}
		rows = append(rows, []string{
			formatTime(e.Timestamp),
			string(e.Action),
			e.Actor,
			string(e.ActorRole),
			transition,
			formatDetails(e.Details),
		})
	}
	return writeTable(out, []string{"TIME", "ACTION", "ACTOR", "ROLE", "STATE", "DETAILS"}, rows)
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// IsJSONOutput reports whether --json is set.
func IsJSONOutput() bool {
	return jsonOutput
}

// IsJSONLOutput reports whether --jsonl is set.
func IsJSONLOutput() bool {
	return jsonlOutput
}

// IsYAMLOutput reports whether --yaml is set.
func IsYAMLOutput() bool {
	return yamlOutput
}

// IsStructuredOutput reports whether any machine-readable format is selected.
func IsStructuredOutput() bool {
	return jsonOutput || jsonlOutput || yamlOutput
}

// WriteOutput writes v in the selected structured format. JSON lines writes
// one line per element when v is a slice.
func WriteOutput(out io.Writer, v any) error {
	switch {
	case jsonlOutput:
		return writeJSONLines(out, v)
	case yamlOutput:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(toYAMLValue(v)); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

func writeJSONLines(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice {
		return enc.Encode(v)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := enc.Encode(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

// toYAMLValue round-trips through JSON so YAML keys follow the json tags.
func toYAMLValue(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return v
	}
	return generic
}

var (
	styleGood    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleWaiting = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleBad     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func useColor(out io.Writer) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// colorState styles a workflow, approver or document state for tables.
func colorState(out io.Writer, state string) string {
	if !useColor(out) {
		return state
	}
	switch state {
	case "APPROVED", "ACTIVE":
		return styleGood.Render(state)
	case "PENDING", "PENDING_APPROVAL", "DRAFT":
		return styleWaiting.Render(state)
	case "REJECTED", "REVOKED", "EXPIRED":
		return styleBad.Render(state)
	default:
		return styleMuted.Render(state)
	}
}

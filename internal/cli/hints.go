package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/civicledger/approvald/internal/fsm"
	"github.com/civicledger/approvald/internal/models"
)

// HintContext describes the command that just succeeded.
type HintContext struct {
	// Action is the command, e.g. "workflow_create" or "document_submit".
	Action string

	// ID is the workflow or document involved.
	ID string

	// State is the resulting state.
	State string
}

// PrintNextSteps prints follow-up commands. Structured and quiet output
// suppress it.
func PrintNextSteps(out io.Writer, ctx HintContext) {
	if IsStructuredOutput() || IsQuiet() {
		return
	}

	hints := generateHints(ctx)
	if len(hints) == 0 {
		return
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	for _, hint := range hints {
		fmt.Fprintf(out, "  %s\n", hint)
	}
}

// reasonRequired marks commands that fail without --reason.
var reasonRequired = map[string]bool{
	"workflow reject": true,
	"workflow cancel": true,
	"document reject": true,
	"document revoke": true,
}

var actionHelp = map[fsm.Action]string{
	fsm.ActionApprove: "Record an approval",
	fsm.ActionReject:  "Reject",
	fsm.ActionCancel:  "Withdraw the request",
	fsm.ActionSubmit:  "Send for approval",
	fsm.ActionRevoke:  "Revoke permanently",
}

// generateHints suggests the lifecycle actions legal from the resulting state.
func generateHints(ctx HintContext) []string {
	entity, _, _ := strings.Cut(ctx.Action, "_")

	var actions []fsm.Action
	switch entity {
	case "workflow":
		actions = fsm.Workflow.Actions(models.WorkflowState(ctx.State))
	case "document":
		actions = fsm.Document.Actions(models.DocumentState(ctx.State))
	default:
		return nil
	}

	hints := make([]string, 0, len(actions)+1)
	for _, action := range actions {
		command := fmt.Sprintf("approvals %s %s %s", entity, action, ctx.ID)
		if reasonRequired[entity+" "+string(action)] {
			command += " --reason <text>"
		}
		hints = append(hints, fmt.Sprintf("%-48s # %s", command, actionHelp[action]))
	}
	if entity == "document" && ctx.State == string(models.DocumentStateActive) {
		hints = append(hints, fmt.Sprintf("%-48s # %s", "approvals document verify "+ctx.ID+" --hash <hash>", "Check integrity"))
	}
	return hints
}

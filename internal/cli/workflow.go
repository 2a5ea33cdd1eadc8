package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/civicledger/approvald/internal/engine"
	"github.com/civicledger/approvald/internal/models"
)

var (
	workflowCreateID        string
	workflowCreateKind      string
	workflowCreateTarget    string
	workflowCreateRequester string
	workflowCreateApprovers []string
	workflowCreateDetails   string
	workflowCreatePriority  string
	workflowCreateDeadline  string

	workflowDecisionApprover string
	workflowDecisionComment  string
	workflowDecisionReason   string

	workflowListState    string
	workflowListKind     string
	workflowListTarget   string
	workflowListApprover string
	workflowListCursor   string
	workflowListLimit    int
)

func init() {
	rootCmd.AddCommand(workflowCmd)
	workflowCmd.AddCommand(workflowCreateCmd)
	workflowCmd.AddCommand(workflowApproveCmd)
	workflowCmd.AddCommand(workflowRejectCmd)
	workflowCmd.AddCommand(workflowCancelCmd)
	workflowCmd.AddCommand(workflowGetCmd)
	workflowCmd.AddCommand(workflowHistoryCmd)
	workflowCmd.AddCommand(workflowListCmd)

	workflowCreateCmd.Flags().StringVar(&workflowCreateID, "id", "", "workflow id")
	workflowCreateCmd.Flags().StringVar(&workflowCreateKind, "kind", "", "workflow kind (DOCUMENT, USER_ROLE, SYSTEM_CONFIG, IMPORTANT_DOCUMENT)")
	workflowCreateCmd.Flags().StringVar(&workflowCreateTarget, "target", "", "id of the entity under approval")
	workflowCreateCmd.Flags().StringVar(&workflowCreateRequester, "requester", "", "requester id (default: caller)")
	workflowCreateCmd.Flags().StringSliceVar(&workflowCreateApprovers, "approver", nil, "approver id (repeatable or comma-separated)")
	workflowCreateCmd.Flags().StringVar(&workflowCreateDetails, "details", "", "free-form JSON details")
	workflowCreateCmd.Flags().StringVar(&workflowCreatePriority, "priority", "", "priority (LOW, NORMAL, HIGH, URGENT)")
	workflowCreateCmd.Flags().StringVar(&workflowCreateDeadline, "deadline", "", "deadline (RFC3339 or YYYY-MM-DD)")

	for _, cmd := range []*cobra.Command{workflowApproveCmd, workflowRejectCmd} {
		cmd.Flags().StringVar(&workflowDecisionApprover, "approver", "", "approver id (default: caller)")
	}
	workflowApproveCmd.Flags().StringVar(&workflowDecisionComment, "comment", "", "approval comment")
	workflowRejectCmd.Flags().StringVar(&workflowDecisionReason, "reason", "", "rejection reason")
	workflowCancelCmd.Flags().StringVar(&workflowDecisionReason, "reason", "", "cancellation reason")

	workflowListCmd.Flags().StringVar(&workflowListState, "state", "", "filter by state")
	workflowListCmd.Flags().StringVar(&workflowListKind, "kind", "", "filter by kind")
	workflowListCmd.Flags().StringVar(&workflowListTarget, "target", "", "filter by target id")
	workflowListCmd.Flags().StringVar(&workflowListApprover, "approver", "", "pending workflows awaiting this approver")
	workflowListCmd.Flags().StringVar(&workflowListCursor, "cursor", "", "resume after this cursor")
	workflowListCmd.Flags().IntVar(&workflowListLimit, "limit", 50, "max results")
}

var workflowCmd = &cobra.Command{
	Use:     "workflow",
	Aliases: []string{"wf"},
	Short:   "Manage approval workflows",
}

var workflowCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a workflow",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, err := resolveActor()
		if err != nil {
			return err
		}

		in := engine.CreateWorkflowInput{
			ID:          workflowCreateID,
			Kind:        models.WorkflowKind(strings.ToUpper(strings.TrimSpace(workflowCreateKind))),
			TargetID:    workflowCreateTarget,
			RequesterID: workflowCreateRequester,
			ApproverIDs: workflowCreateApprovers,
			Priority:    models.Priority(strings.ToUpper(strings.TrimSpace(workflowCreatePriority))),
		}
		if details := strings.TrimSpace(workflowCreateDetails); details != "" {
			if !json.Valid([]byte(details)) {
				return fmt.Errorf("--details must be valid JSON")
			}
			in.Details = json.RawMessage(details)
		}
		if strings.TrimSpace(workflowCreateDeadline) != "" {
			deadline, err := models.ParseDate(workflowCreateDeadline)
			if err != nil {
				return err
			}
			in.Deadline = &deadline
		}

		return withSession(func(ctx context.Context, s *session) error {
			res, err := s.engine.CreateWorkflow(ctx, actor, in)
			if err != nil {
				return err
			}
			return printResult(ctx, cmd.OutOrStdout(), s, "workflow_create", res)
		})
	},
}

var workflowApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Record an approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflowDecision(cmd, "workflow_approve", func(ctx context.Context, e *engine.Engine, actor models.Actor) (*models.TransitionResult, error) {
			return e.ApproveWorkflow(ctx, actor, args[0], workflowDecisionApprover, workflowDecisionComment)
		})
	},
}

var workflowRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflowDecision(cmd, "workflow_reject", func(ctx context.Context, e *engine.Engine, actor models.Actor) (*models.TransitionResult, error) {
			return e.RejectWorkflow(ctx, actor, args[0], workflowDecisionApprover, workflowDecisionReason)
		})
	},
}

var workflowCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflowDecision(cmd, "workflow_cancel", func(ctx context.Context, e *engine.Engine, actor models.Actor) (*models.TransitionResult, error) {
			return e.CancelWorkflow(ctx, actor, args[0], workflowDecisionReason)
		})
	},
}

func runWorkflowDecision(cmd *cobra.Command, action string, op func(context.Context, *engine.Engine, models.Actor) (*models.TransitionResult, error)) error {
	actor, err := resolveActor()
	if err != nil {
		return err
	}
	return withSession(func(ctx context.Context, s *session) error {
		res, err := op(ctx, s.engine, actor)
		if err != nil {
			return err
		}
		return printResult(ctx, cmd.OutOrStdout(), s, action, res)
	})
}

var workflowGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			wf, err := s.engine.GetWorkflow(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if IsStructuredOutput() {
				return WriteOutput(out, wf)
			}

			fmt.Fprintf(out, "ID:        %s\n", wf.ID)
			fmt.Fprintf(out, "Kind:      %s\n", wf.Kind)
			fmt.Fprintf(out, "Target:    %s\n", wf.TargetID)
			fmt.Fprintf(out, "Requester: %s\n", wf.RequesterID)
			fmt.Fprintf(out, "State:     %s\n", colorState(out, string(wf.State)))
			fmt.Fprintf(out, "Priority:  %s\n", wf.Priority)
			if wf.Deadline != nil {
				fmt.Fprintf(out, "Deadline:  %s\n", formatTime(*wf.Deadline))
			}
			if wf.RejectionReason != "" {
				fmt.Fprintf(out, "Rejected:  %s (%s)\n", wf.RejectedBy, wf.RejectionReason)
			}
			if wf.CanceledBy != "" {
				fmt.Fprintf(out, "Canceled:  %s (%s)\n", wf.CanceledBy, wf.CancelReason)
			}
			fmt.Fprintln(out)

			rows := make([][]string, 0, len(wf.Approvers))
			for _, a := range wf.Approvers {
				decided := "-"
				if a.DecidedAt != nil {
					decided = formatTime(*a.DecidedAt)
				}
				rows = append(rows, []string{a.ID, colorState(out, string(a.Status)), decided, a.Comment})
			}
			return writeTable(out, []string{"APPROVER", "STATUS", "DECIDED", "COMMENT"}, rows)
		})
	},
}

var workflowHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show a workflow's history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			entries, err := s.engine.WorkflowHistory(ctx, args[0])
			if err != nil {
				return err
			}
			return writeHistory(cmd, entries)
		})
	},
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if countTrue(workflowListState != "", workflowListKind != "", workflowListTarget != "", workflowListApprover != "") > 1 {
			return fmt.Errorf("use at most one of --state, --kind, --target, --approver")
		}
		page := engine.Page{Cursor: workflowListCursor, Limit: workflowListLimit}

		return withSession(func(ctx context.Context, s *session) error {
			var (
				result *engine.WorkflowPage
				err    error
			)
			switch {
			case workflowListState != "":
				result, err = s.engine.ListWorkflowsByState(ctx, models.WorkflowState(strings.ToUpper(workflowListState)), page)
			case workflowListKind != "":
				result, err = s.engine.ListWorkflowsByKind(ctx, models.WorkflowKind(strings.ToUpper(workflowListKind)), page)
			case workflowListTarget != "":
				result, err = s.engine.ListWorkflowsByTarget(ctx, workflowListTarget, page)
			case workflowListApprover != "":
				result, err = s.engine.ListPendingForApprover(ctx, workflowListApprover, page)
			default:
				result, err = s.engine.ListWorkflows(ctx, page)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if IsJSONLOutput() {
				return WriteOutput(out, result.Items)
			}
			if IsStructuredOutput() {
				return WriteOutput(out, result)
			}
			if len(result.Items) == 0 {
				fmt.Fprintln(out, "No workflows found.")
				return nil
			}

			rows := make([][]string, 0, len(result.Items))
			for _, wf := range result.Items {
				rows = append(rows, []string{
					wf.ID,
					string(wf.Kind),
					wf.TargetID,
					colorState(out, string(wf.State)),
					string(wf.Priority),
					strconv.Itoa(wf.ApprovedCount) + "/" + strconv.Itoa(wf.ApproverCount),
					formatTime(wf.UpdatedAt),
				})
			}
			if err := writeTable(out, []string{"ID", "KIND", "TARGET", "STATE", "PRIORITY", "APPROVED", "UPDATED"}, rows); err != nil {
				return err
			}
			printNextCursor(out, result.NextCursor)
			return nil
		})
	},
}

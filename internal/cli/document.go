package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/civicledger/approvald/internal/engine"
	"github.com/civicledger/approvald/internal/models"
)

var (
	documentCreateID         string
	documentCreateType       string
	documentCreateOwner      string
	documentCreateIssuer     string
	documentCreateIssueDate  string
	documentCreateValidUntil string
	documentCreateHash       string
	documentCreateMetadata   string

	documentDecisionBy      string
	documentDecisionComment string
	documentDecisionReason  string

	documentVerifyHash string

	documentListOwner  string
	documentListState  string
	documentListCursor string
	documentListLimit  int
)

func init() {
	rootCmd.AddCommand(documentCmd)
	documentCmd.AddCommand(documentCreateCmd)
	documentCmd.AddCommand(documentSubmitCmd)
	documentCmd.AddCommand(documentApproveCmd)
	documentCmd.AddCommand(documentRejectCmd)
	documentCmd.AddCommand(documentRevokeCmd)
	documentCmd.AddCommand(documentStatusCmd)
	documentCmd.AddCommand(documentVerifyCmd)
	documentCmd.AddCommand(documentGetCmd)
	documentCmd.AddCommand(documentHistoryCmd)
	documentCmd.AddCommand(documentListCmd)

	documentCreateCmd.Flags().StringVar(&documentCreateID, "id", "", "document id")
	documentCreateCmd.Flags().StringVar(&documentCreateType, "type", "", "document type")
	documentCreateCmd.Flags().StringVar(&documentCreateOwner, "owner", "", "owner id")
	documentCreateCmd.Flags().StringVar(&documentCreateIssuer, "issuer", "", "issuer id (default: caller)")
	documentCreateCmd.Flags().StringVar(&documentCreateIssueDate, "issue-date", "", "issue date (RFC3339 or YYYY-MM-DD; default: now)")
	documentCreateCmd.Flags().StringVar(&documentCreateValidUntil, "valid-until", "", "expiry (RFC3339, YYYY-MM-DD or UNLIMITED)")
	documentCreateCmd.Flags().StringVar(&documentCreateHash, "hash", "", "content hash")
	documentCreateCmd.Flags().StringVar(&documentCreateMetadata, "metadata", "", "JSON object of metadata")

	documentApproveCmd.Flags().StringVar(&documentDecisionBy, "approver", "", "approver id (default: caller)")
	documentApproveCmd.Flags().StringVar(&documentDecisionComment, "comment", "", "approval comment")
	documentRejectCmd.Flags().StringVar(&documentDecisionBy, "rejector", "", "rejector id (default: caller)")
	documentRejectCmd.Flags().StringVar(&documentDecisionReason, "reason", "", "rejection reason")
	documentRevokeCmd.Flags().StringVar(&documentDecisionBy, "revoker", "", "revoker id (default: caller)")
	documentRevokeCmd.Flags().StringVar(&documentDecisionReason, "reason", "", "revocation reason")
	documentStatusCmd.Flags().StringVar(&documentDecisionReason, "reason", "", "override reason")

	documentVerifyCmd.Flags().StringVar(&documentVerifyHash, "hash", "", "expected content hash")

	documentListCmd.Flags().StringVar(&documentListOwner, "owner", "", "filter by owner id")
	documentListCmd.Flags().StringVar(&documentListState, "state", "", "filter by state (EXPIRED selects lapsed ACTIVE documents)")
	documentListCmd.Flags().StringVar(&documentListCursor, "cursor", "", "resume after this cursor")
	documentListCmd.Flags().IntVar(&documentListLimit, "limit", 50, "max results")
}

var documentCmd = &cobra.Command{
	Use:     "document",
	Aliases: []string{"doc"},
	Short:   "Manage documents",
}

var documentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a document draft",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, err := resolveActor()
		if err != nil {
			return err
		}

		in := engine.CreateDocumentInput{
			ID:          documentCreateID,
			Type:        documentCreateType,
			OwnerID:     documentCreateOwner,
			IssuerID:    documentCreateIssuer,
			ContentHash: documentCreateHash,
		}
		if strings.TrimSpace(documentCreateIssueDate) != "" {
			if in.IssueDate, err = models.ParseDate(documentCreateIssueDate); err != nil {
				return err
			}
		}
		if in.ValidUntil, err = models.ParseValidity(documentCreateValidUntil); err != nil {
			return err
		}
		if in.Metadata, err = models.ParseMetadata(documentCreateMetadata); err != nil {
			return err
		}

		return withSession(func(ctx context.Context, s *session) error {
			res, err := s.engine.CreateDocument(ctx, actor, in)
			if err != nil {
				return err
			}
			return printResult(ctx, cmd.OutOrStdout(), s, "document_create", res)
		})
	},
}

var documentSubmitCmd = &cobra.Command{
	Use:   "submit <id>",
	Short: "Submit a draft for approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocumentMutation(cmd, "document_submit", func(ctx context.Context, e *engine.Engine, actor models.Actor) (*models.TransitionResult, error) {
			return e.SubmitDocument(ctx, actor, args[0])
		})
	},
}

var documentApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocumentMutation(cmd, "document_approve", func(ctx context.Context, e *engine.Engine, actor models.Actor) (*models.TransitionResult, error) {
			return e.ApproveDocument(ctx, actor, args[0], documentDecisionBy, documentDecisionComment)
		})
	},
}

var documentRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Return a pending document to draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocumentMutation(cmd, "document_reject", func(ctx context.Context, e *engine.Engine, actor models.Actor) (*models.TransitionResult, error) {
			return e.RejectDocument(ctx, actor, args[0], documentDecisionBy, documentDecisionReason)
		})
	},
}

var documentRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke an active document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocumentMutation(cmd, "document_revoke", func(ctx context.Context, e *engine.Engine, actor models.Actor) (*models.TransitionResult, error) {
			return e.RevokeDocument(ctx, actor, args[0], documentDecisionBy, documentDecisionReason)
		})
	},
}

var documentStatusCmd = &cobra.Command{
	Use:   "status <id> <state>",
	Short: "Force a document into a state",
	Long:  "Administrative override. Any stored state may be set; EXPIRED is derived and cannot be set.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		state := models.DocumentState(strings.ToUpper(strings.TrimSpace(args[1])))
		return runDocumentMutation(cmd, "document_status", func(ctx context.Context, e *engine.Engine, actor models.Actor) (*models.TransitionResult, error) {
			return e.ForceDocumentStatus(ctx, actor, args[0], state, documentDecisionReason)
		})
	},
}

func runDocumentMutation(cmd *cobra.Command, action string, op func(context.Context, *engine.Engine, models.Actor) (*models.TransitionResult, error)) error {
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

var documentVerifyCmd = &cobra.Command{
	Use:   "verify <id>",
	Short: "Check a document's existence, validity and content hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Verification is open to any caller; an unset actor is fine.
		actor, _ := resolveActor()
		return withSession(func(ctx context.Context, s *session) error {
			res, err := s.engine.VerifyDocument(ctx, actor, args[0], documentVerifyHash)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if IsStructuredOutput() {
				return WriteOutput(out, res)
			}

			verdict := "NOT VERIFIED"
			if res.Verified {
				verdict = "VERIFIED"
			}
			fmt.Fprintf(out, "%s: %s\n", res.ID, verdict)
			rows := [][]string{
				{"exists", formatYesNo(res.Exists)},
				{"active", formatYesNo(res.IsActive)},
				{"expired", formatYesNo(res.IsExpired)},
				{"integrity", formatYesNo(res.DataIntegrity)},
			}
			if res.State != "" {
				rows = append(rows, []string{"state", colorState(out, string(res.State))})
			}
			return writeTable(out, nil, rows)
		})
	},
}

var documentGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			doc, err := s.engine.GetDocument(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if IsStructuredOutput() {
				return WriteOutput(out, doc)
			}

			rows := [][]string{
				{"ID", doc.ID},
				{"Type", doc.Type},
				{"Owner", doc.OwnerID},
				{"Issuer", doc.IssuerID},
				{"State", colorState(out, string(doc.State))},
				{"Issued", formatTime(doc.IssueDate)},
				{"Valid until", formatOptionalTime(doc.ValidUntil)},
				{"Content hash", doc.ContentHash},
			}
			if doc.ApprovedBy != "" {
				rows = append(rows, []string{"Approved", doc.ApprovedBy + " at " + formatOptionalTime(doc.ApprovedAt)})
			}
			if doc.RejectedBy != "" {
				rows = append(rows, []string{"Rejected", doc.RejectedBy + ": " + doc.RejectionReason})
			}
			if doc.RevokedBy != "" {
				rows = append(rows, []string{"Revoked", doc.RevokedBy + ": " + doc.RevocationReason})
			}
			return writeTable(out, nil, rows)
		})
	},
}

var documentHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show a document's history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			entries, err := s.engine.DocumentHistory(ctx, args[0])
			if err != nil {
				return err
			}
			return writeHistory(cmd, entries)
		})
	},
}

var documentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if documentListOwner != "" && documentListState != "" {
			return fmt.Errorf("use either --owner or --state, not both")
		}
		page := engine.Page{Cursor: documentListCursor, Limit: documentListLimit}

		return withSession(func(ctx context.Context, s *session) error {
			var (
				result *engine.DocumentPage
				err    error
			)
			switch {
			case documentListOwner != "":
				result, err = s.engine.ListDocumentsByOwner(ctx, documentListOwner, page)
			case documentListState != "":
				result, err = s.engine.ListDocumentsByState(ctx, models.DocumentState(strings.ToUpper(documentListState)), page)
			default:
				result, err = s.engine.ListDocuments(ctx, page)
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
				fmt.Fprintln(out, "No documents found.")
				return nil
			}

			rows := make([][]string, 0, len(result.Items))
			for _, doc := range result.Items {
				state := string(doc.State)
				if doc.Expired {
					state = string(models.DocumentStateExpired)
				}
				rows = append(rows, []string{
					doc.ID,
					doc.Type,
					doc.OwnerID,
					colorState(out, state),
					formatOptionalTime(doc.ValidUntil),
					formatTime(doc.UpdatedAt),
				})
			}
			if err := writeTable(out, []string{"ID", "TYPE", "OWNER", "STATE", "VALID UNTIL", "UPDATED"}, rows); err != nil {
				return err
			}
			printNextCursor(out, result.NextCursor)
			return nil
		})
	},
}

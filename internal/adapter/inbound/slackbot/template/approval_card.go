package template

import (
	"fmt"
	"strings"

	slackapi "github.com/slack-go/slack"

	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

const (
	ActionIDApprove = "approval_approve"
	ActionIDReject  = "approval_reject"
)

// BuildApprovalBlocks constructs Block Kit blocks for a pending approval. The
// button values carry the audit entry id.
func BuildApprovalBlocks(req outbound.ApprovalNotification) []slackapi.Block {
	title := strings.ReplaceAll(req.ActionType, "_", " ")
	header := slackapi.NewSectionBlock(
		slackapi.NewTextBlockObject(slackapi.MarkdownType,
			fmt.Sprintf(":warning: *Approval required: %s*", title), false, false),
		nil, nil,
	)

	fields := []*slackapi.TextBlockObject{
		slackapi.NewTextBlockObject(slackapi.MarkdownType,
			fmt.Sprintf("*Request ID*\n`%s`", req.AuditID), false, false),
		slackapi.NewTextBlockObject(slackapi.MarkdownType,
			fmt.Sprintf("*Environment*\n%s", req.Environment), false, false),
		slackapi.NewTextBlockObject(slackapi.MarkdownType,
			fmt.Sprintf("*Requested By*\n%s", req.RequestedBy), false, false),
	}
	if req.SnapshotID != "" {
		fields = append(fields, slackapi.NewTextBlockObject(slackapi.MarkdownType,
			fmt.Sprintf("*Snapshot*\n`%s`", req.SnapshotID), false, false))
	}

	blocks := []slackapi.Block{
		header,
		slackapi.NewDividerBlock(),
		slackapi.NewSectionBlock(nil, fields, nil),
		slackapi.NewSectionBlock(
			slackapi.NewTextBlockObject(slackapi.MarkdownType,
				fmt.Sprintf("*Description*\n%s", req.Description), false, false),
			nil, nil,
		),
	}
	if req.Reason != "" {
		blocks = append(blocks, slackapi.NewSectionBlock(
			slackapi.NewTextBlockObject(slackapi.MarkdownType,
				fmt.Sprintf("*Reason*\n%s", req.Reason), false, false),
			nil, nil,
		))
	}

	approveBtn := slackapi.NewButtonBlockElement(
		ActionIDApprove,
		fmt.Sprintf("approve:%s", req.AuditID),
		slackapi.NewTextBlockObject(slackapi.PlainTextType, "Approve", false, false),
	)
	approveBtn.Style = slackapi.StylePrimary

	rejectBtn := slackapi.NewButtonBlockElement(
		ActionIDReject,
		fmt.Sprintf("reject:%s", req.AuditID),
		slackapi.NewTextBlockObject(slackapi.PlainTextType, "Reject", false, false),
	)
	rejectBtn.Style = slackapi.StyleDanger

	blocks = append(blocks, slackapi.NewDividerBlock(), slackapi.NewActionBlock("", approveBtn, rejectBtn))
	return blocks
}

// ParseDecisionValue splits a button value into its verb and audit id.
func ParseDecisionValue(value string) (approve bool, auditID string, ok bool) {
	verb, id, found := strings.Cut(value, ":")
	if !found || id == "" {
		return false, "", false
	}
	switch verb {
	case "approve":
		return true, id, true
	case "reject":
		return false, id, true
	}
	return false, "", false
}

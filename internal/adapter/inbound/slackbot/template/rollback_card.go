package template

import (
	"fmt"

	slackapi "github.com/slack-go/slack"

	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// maxLogChars keeps restore logs under Slack's section text limit.
const maxLogChars = 2500

// BuildRollbackBlocks reports the outcome of an executed rollback.
func BuildRollbackBlocks(n outbound.RollbackNotification) []slackapi.Block {
	status := ":white_check_mark: *Rollback completed*"
	if !n.Success {
		status = ":x: *Rollback failed*"
	}
	header := slackapi.NewSectionBlock(
		slackapi.NewTextBlockObject(slackapi.MarkdownType, status, false, false),
		nil, nil,
	)
	fields := []*slackapi.TextBlockObject{
		slackapi.NewTextBlockObject(slackapi.MarkdownType,
			fmt.Sprintf("*Environment*\n%s", n.Environment), false, false),
		slackapi.NewTextBlockObject(slackapi.MarkdownType,
			fmt.Sprintf("*Snapshot*\n`%s`", n.SnapshotID), false, false),
		slackapi.NewTextBlockObject(slackapi.MarkdownType,
			fmt.Sprintf("*Approved By*\n%s", n.ApprovedBy), false, false),
		slackapi.NewTextBlockObject(slackapi.MarkdownType,
			fmt.Sprintf("*Request ID*\n`%s`", n.RequestID), false, false),
	}
	blocks := []slackapi.Block{header, slackapi.NewSectionBlock(nil, fields, nil)}

	if n.Logs != "" {
		logs := n.Logs
		if len(logs) > maxLogChars {
			logs = "..." + logs[len(logs)-maxLogChars:]
		}
		blocks = append(blocks, slackapi.NewSectionBlock(
			slackapi.NewTextBlockObject(slackapi.MarkdownType,
				fmt.Sprintf("```\n%s\n```", logs), false, false),
			nil, nil,
		))
	}
	return blocks
}

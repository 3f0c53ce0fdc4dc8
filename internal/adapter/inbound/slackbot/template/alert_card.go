package template

import (
	"fmt"
	"strings"

	slackapi "github.com/slack-go/slack"

	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// severityEmoji maps severity to an emoji prefix.
func severityEmoji(severity string) string {
	switch strings.ToLower(severity) {
	case "critical":
		return ":red_circle:"
	case "high":
		return ":large_orange_circle:"
	case "medium":
		return ":large_yellow_circle:"
	default:
		return ":large_blue_circle:"
	}
}

var alertTypeLabels = map[string]string{
	"honeytoken_breach": "Honeytoken breach",
	"export_anomaly":    "Export anomaly",
	"config_drift":      "Config drift",
	"login_anomaly":     "Login anomaly",
}

func alertTypeLabel(t string) string {
	if l, ok := alertTypeLabels[t]; ok {
		return l
	}
	return t
}

// BuildAlertBlocks constructs Block Kit blocks for a new security alert.
func BuildAlertBlocks(n outbound.AlertNotification) []slackapi.Block {
	header := slackapi.NewSectionBlock(
		slackapi.NewTextBlockObject(slackapi.MarkdownType,
			fmt.Sprintf("%s *%s*", severityEmoji(n.Severity), n.Title), false, false),
		nil, nil,
	)

	fields := []*slackapi.TextBlockObject{
		slackapi.NewTextBlockObject(slackapi.MarkdownType,
			fmt.Sprintf("*Severity*\n%s", strings.ToUpper(n.Severity)), false, false),
		slackapi.NewTextBlockObject(slackapi.MarkdownType,
			fmt.Sprintf("*Type*\n%s", alertTypeLabel(n.Type)), false, false),
		slackapi.NewTextBlockObject(slackapi.MarkdownType,
			fmt.Sprintf("*Alert ID*\n`%s`", n.AlertID), false, false),
	}
	blocks := []slackapi.Block{
		header,
		slackapi.NewDividerBlock(),
		slackapi.NewSectionBlock(nil, fields, nil),
		slackapi.NewSectionBlock(
			slackapi.NewTextBlockObject(slackapi.MarkdownType,
				fmt.Sprintf("*What happened*\n%s", n.Description), false, false),
			nil, nil,
		),
	}

	if n.Explanation != "" {
		blocks = append(blocks, slackapi.NewSectionBlock(
			slackapi.NewTextBlockObject(slackapi.MarkdownType,
				fmt.Sprintf("*Assessment*\n%s", n.Explanation), false, false),
			nil, nil,
		))
	}
	if n.RollbackSuggested {
		blocks = append(blocks, slackapi.NewContextBlock("",
			slackapi.NewTextBlockObject(slackapi.MarkdownType,
				":rewind: A rollback to the last verified snapshot is suggested.", false, false),
		))
	}
	return blocks
}

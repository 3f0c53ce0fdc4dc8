package slack

import (
	"context"
	"fmt"
	"strings"

	slackapi "github.com/slack-go/slack"

	"github.com/jonny/sentinel/internal/adapter/inbound/slackbot/template"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// Config holds Slack notifier configuration.
type Config struct {
	BotToken string
	// AlertChannel receives security alerts. Falls back to DefaultChannel.
	AlertChannel   string
	DefaultChannel string
	Channels       map[string]string // env -> channel ID
}

// Notifier implements outbound.Notifier via the Slack API.
type Notifier struct {
	client *slackapi.Client
	config Config
}

var _ outbound.Notifier = (*Notifier)(nil)

// NewNotifier creates a new Slack Notifier. opts are passed to the Slack client.
func NewNotifier(cfg Config, opts ...slackapi.Option) *Notifier {
	return &Notifier{
		client: slackapi.New(cfg.BotToken, opts...),
		config: cfg,
	}
}

// channelFor returns the channel to post to for a given environment.
func (n *Notifier) channelFor(env string) string {
	if ch, ok := n.config.Channels[env]; ok {
		return ch
	}
	return n.config.DefaultChannel
}

// NotifyAlert posts a Block Kit alert card.
func (n *Notifier) NotifyAlert(ctx context.Context, a outbound.AlertNotification) error {
	channel := n.config.AlertChannel
	if channel == "" {
		channel = n.config.DefaultChannel
	}
	_, _, err := n.client.PostMessageContext(ctx, channel,
		slackapi.MsgOptionBlocks(template.BuildAlertBlocks(a)...),
		slackapi.MsgOptionText(fmt.Sprintf("[%s] %s", strings.ToUpper(a.Severity), a.Title), false),
	)
	if err != nil {
		return fmt.Errorf("slack NotifyAlert: %w", err)
	}
	return nil
}

// RequestApproval posts an approval card with Approve/Reject buttons.
func (n *Notifier) RequestApproval(ctx context.Context, req outbound.ApprovalNotification) error {
	_, _, err := n.client.PostMessageContext(ctx, n.channelFor(req.Environment),
		slackapi.MsgOptionBlocks(template.BuildApprovalBlocks(req)...),
		slackapi.MsgOptionText("Approval required: "+req.Description, false),
	)
	if err != nil {
		return fmt.Errorf("slack RequestApproval: %w", err)
	}
	return nil
}

// NotifyRollback posts the outcome of an executed rollback.
func (n *Notifier) NotifyRollback(ctx context.Context, r outbound.RollbackNotification) error {
	text := fmt.Sprintf("Rollback of %s completed", r.Environment)
	if !r.Success {
		text = fmt.Sprintf("Rollback of %s failed", r.Environment)
	}
	_, _, err := n.client.PostMessageContext(ctx, n.channelFor(r.Environment),
		slackapi.MsgOptionBlocks(template.BuildRollbackBlocks(r)...),
		slackapi.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("slack NotifyRollback: %w", err)
	}
	return nil
}

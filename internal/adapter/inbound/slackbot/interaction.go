package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/jonny/sentinel/internal/adapter/inbound/slackbot/template"
	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/inbound"
)

// Handler turns Slack payloads into InteractionPort calls and reply text. It
// holds no Slack connection so it can be tested directly.
type Handler struct {
	interaction inbound.InteractionPort
	command     string
	logger      *slog.Logger
}

func NewHandler(interaction inbound.InteractionPort, command string, logger *slog.Logger) *Handler {
	if command == "" {
		command = "/sentinel"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{interaction: interaction, command: command, logger: logger}
}

// Decide applies a button click. The returned text is posted back to the
// channel whether the decision succeeded or not.
func (h *Handler) Decide(ctx context.Context, actionID, value, actor string) (string, bool) {
	if actionID != template.ActionIDApprove && actionID != template.ActionIDReject {
		return "", false
	}
	approve, auditID, ok := template.ParseDecisionValue(value)
	if !ok {
		h.logger.Warn("malformed approval button value", "value", value)
		return "", false
	}

	msg, err := h.interaction.HandleDecision(ctx, inbound.ApprovalDecision{
		AuditID: auditID,
		Approve: approve,
		Actor:   actor,
	})
	if err != nil {
		h.logger.Warn("slack approval decision failed", "audit_id", auditID, "actor", actor, "error", err)
		return ":warning: " + decisionError(err), true
	}
	if approve {
		return ":white_check_mark: " + msg, true
	}
	return ":no_entry: " + msg, true
}

func decisionError(err error) string {
	var ce *model.ConflictError
	switch {
	case errors.As(err, &ce):
		switch ce.Reason {
		case model.ConflictAlreadyApproved:
			return "This request was already approved."
		case model.ConflictAlreadyRejected:
			return "This request was already rejected."
		}
		return ce.Message
	case errors.Is(err, model.ErrNotFound):
		return "This request no longer exists."
	case errors.Is(err, model.ErrValidation):
		return err.Error()
	case errors.Is(err, model.ErrExternalService):
		return "The rollback was approved but the restore failed: " + err.Error()
	}
	return "Something went wrong; check the service logs."
}

// Command answers a slash command.
func (h *Handler) Command(ctx context.Context, text string) string {
	switch strings.TrimSpace(strings.ToLower(text)) {
	case "status", "":
		summary, err := h.interaction.StatusSummary(ctx)
		if err != nil {
			h.logger.Warn("status summary failed", "error", err)
			return ":warning: Status is unavailable right now."
		}
		return ":shield: " + summary
	case "help":
		return h.helpText()
	default:
		sanitized := text
		if len(sanitized) > 100 {
			sanitized = sanitized[:100]
		}
		sanitized = strings.ReplaceAll(sanitized, "`", "'")
		return fmt.Sprintf(":question: Unknown command `%s`. Try `%s help`.", sanitized, h.command)
	}
}

func (h *Handler) helpText() string {
	return strings.Join([]string{
		":shield: *Sentinel commands*",
		"",
		fmt.Sprintf("• `%s status`: monitoring state and open alerts", h.command),
		fmt.Sprintf("• `%s help`: this message", h.command),
		"",
		"Approve or reject rollback requests with the buttons on the approval card.",
	}, "\n")
}

// handleInteraction processes button clicks.
func (b *Bot) handleInteraction(ctx context.Context, evt socketmode.Event) {
	b.socketMode.Ack(*evt.Request)

	callback, ok := evt.Data.(slackapi.InteractionCallback)
	if !ok {
		return
	}
	actor := callback.User.Name
	if actor == "" {
		actor = callback.User.ID
	}
	for _, action := range callback.ActionCallback.BlockActions {
		reply, handled := b.handler.Decide(ctx, action.ActionID, action.Value, actor)
		if !handled {
			continue
		}
		opts := []slackapi.MsgOption{slackapi.MsgOptionText(reply, false)}
		if ts := callback.Message.Timestamp; ts != "" {
			opts = append(opts, slackapi.MsgOptionTS(ts))
		}
		if _, _, err := b.client.PostMessageContext(ctx, callback.Channel.ID, opts...); err != nil {
			b.logger.Warn("posting approval response failed", "error", err)
		}
	}
}

// handleSlashCommand answers slash commands inline in the ack.
func (b *Bot) handleSlashCommand(ctx context.Context, evt socketmode.Event) {
	cmd, ok := evt.Data.(slackapi.SlashCommand)
	if !ok {
		b.socketMode.Ack(*evt.Request)
		return
	}
	b.socketMode.Ack(*evt.Request, map[string]string{
		"text": b.handler.Command(ctx, cmd.Text),
	})
}

package slackbot

import (
	"context"
	"log/slog"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/jonny/sentinel/internal/domain/port/inbound"
)

// Config carries the tokens for a Socket Mode app.
type Config struct {
	BotToken string
	AppToken string
	// Command is the slash command the app is registered under.
	Command string
}

// Bot receives approval clicks and slash commands over Socket Mode, so no
// public endpoint is needed.
type Bot struct {
	client     *slackapi.Client
	socketMode *socketmode.Client
	handler    *Handler
	logger     *slog.Logger
}

func NewBot(cfg Config, interaction inbound.InteractionPort, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	api := slackapi.New(cfg.BotToken, slackapi.OptionAppLevelToken(cfg.AppToken))
	return &Bot{
		client:     api,
		socketMode: socketmode.New(api),
		handler:    NewHandler(interaction, cfg.Command, logger),
		logger:     logger.With("component", "slackbot"),
	}
}

// Start runs the socket connection until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	go b.consume(ctx)
	return b.socketMode.RunContext(ctx)
}

func (b *Bot) consume(ctx context.Context) {
	events := b.socketMode.Events
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			b.dispatch(ctx, evt)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeInteractive:
		b.handleInteraction(ctx, evt)
	case socketmode.EventTypeSlashCommand:
		b.handleSlashCommand(ctx, evt)
	case socketmode.EventTypeConnected:
		b.logger.Info("socket mode connected")
	case socketmode.EventTypeConnectionError:
		b.logger.Warn("socket mode connection error", "data", evt.Data)
	default:
		// Anything else carrying an envelope still needs an ack or Slack retries it.
		if evt.Request != nil {
			b.socketMode.Ack(*evt.Request)
		}
	}
}

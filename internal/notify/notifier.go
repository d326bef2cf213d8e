// Package notify delivers operational alerts to registered channels
// (Telegram, Discord). Events can be filtered so operators receive only the
// alerts they care about; delivery failures never propagate into the trading
// loop.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// eventTitles maps engine event names to the headline shown in the channel.
var eventTitles = map[string]string{
	"account_halted":    "Account halted",
	"account_recovered": "Account recovered",
	"auth_failure":      "Authentication failure",
	"position_closed":   "Position closed",
	"slippage_reversal": "Slippage reversal",
	"position_cap":      "Position cap enforced",
	"engine_started":    "Engine started",
	"engine_stopped":    "Engine stopped",
}

// Notifier fans alerts out to every sender. Only events in the allowed set
// are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders, filtered
// to the listed event types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers one event to every sender if the event type passes the
// filter. Sender failures are logged, never returned: a dead webhook must
// not stall an account cycle.
func (n *Notifier) Notify(ctx context.Context, event, message string) {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return
	}

	title, ok := eventTitles[event]
	if !ok {
		title = event
	}
	n.dispatch(ctx, title, message)
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}

// SendersFromConfig builds the sender list from whichever channels are
// configured; an empty list produces a silent notifier.
func SendersFromConfig(telegramToken, telegramChatID, discordWebhook string) []Sender {
	var senders []Sender
	if telegramToken != "" && telegramChatID != "" {
		senders = append(senders, NewTelegramSender(telegramToken, telegramChatID))
	}
	if discordWebhook != "" {
		senders = append(senders, NewDiscordSender(discordWebhook))
	}
	return senders
}

// String implements fmt.Stringer for debug logging.
func (n *Notifier) String() string {
	names := make([]string, 0, len(n.senders))
	for _, s := range n.senders {
		names = append(names, s.Name())
	}
	return fmt.Sprintf("notifier(%s)", strings.Join(names, ","))
}

package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSender struct {
	titles   []string
	messages []string
	err      error
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeSender) Name() string { return "fake" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyDeliversAllowedEvent(t *testing.T) {
	s := &fakeSender{}
	n := NewNotifier([]Sender{s}, []string{"account_halted"}, discardLogger())

	n.Notify(context.Background(), "account_halted", "balance 12.00 below floor 50.00")

	assert.Equal(t, []string{"Account halted"}, s.titles)
	assert.Equal(t, []string{"balance 12.00 below floor 50.00"}, s.messages)
}

func TestNotifyFiltersUnlistedEvent(t *testing.T) {
	s := &fakeSender{}
	n := NewNotifier([]Sender{s}, []string{"account_halted"}, discardLogger())

	n.Notify(context.Background(), "position_closed", "BTC-USD closed")

	assert.Empty(t, s.titles)
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	s := &fakeSender{}
	n := NewNotifier([]Sender{s}, nil, discardLogger())

	n.Notify(context.Background(), "slippage_reversal", "ETH-USD reversed")
	n.Notify(context.Background(), "custom_event", "anything goes")

	assert.Equal(t, []string{"Slippage reversal", "custom_event"}, s.titles)
}

func TestNotifySenderFailureDoesNotStopOthers(t *testing.T) {
	broken := &fakeSender{err: errors.New("webhook dead")}
	healthy := &fakeSender{}
	n := NewNotifier([]Sender{broken, healthy}, nil, discardLogger())

	n.Notify(context.Background(), "auth_failure", "kraken rejected credentials")

	assert.Equal(t, []string{"Authentication failure"}, healthy.titles)
}

func TestSendersFromConfig(t *testing.T) {
	assert.Empty(t, SendersFromConfig("", "", ""))
	assert.Len(t, SendersFromConfig("tok", "chat", ""), 1)
	assert.Len(t, SendersFromConfig("tok", "chat", "https://discord/hook"), 2)
	// Telegram needs both token and chat ID.
	assert.Empty(t, SendersFromConfig("tok", "", ""))
}

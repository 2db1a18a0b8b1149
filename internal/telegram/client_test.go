package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/dipwatch/internal/models"
	"github.com/rewired-gh/dipwatch/internal/notify"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	failures int
	updates  chan tgbotapi.Update
	stopped  bool
	notify   chan struct{}
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return tgbotapi.Message{}, errors.New("telegram unavailable")
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	if f.notify != nil {
		f.notify <- struct{}{}
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBot) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeBot) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

func sampleAlert() models.AlertEvent {
	return models.AlertEvent{
		ID:              "a-1",
		Symbol:          "ETH_USDT",
		CurrentPrice:    110,
		MaxPrice:        150,
		DipPercent:      26.666666,
		SecondsSinceMax: 125.4,
		UpdateCount:     3,
		Threshold:       20,
		EmittedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func command(text string) *tgbotapi.Message {
	name := strings.Fields(text)[0]
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: 99},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"BTC_USDT", "BTC\\_USDT"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{"+plus-minus", "\\+plus\\-minus"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"back\\slash", "back\\\\slash"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	if _, err := NewClient("token", "not-a-number", Options{}); err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

func TestFormatAlert(t *testing.T) {
	text := formatAlert(sampleAlert())

	for _, want := range []string{
		"*Dip Alert: ETH\\_USDT*",
		"Down *26\\.67%*",
		"Current: 110",
		"High: 150",
		"High set 2m5s ago",
		"Updates: 3 \\| Threshold: 20\\.00%",
		"2026\\-03\\-01 12:00:00 UTC",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("formatted alert missing %q:\n%s", want, text)
		}
	}
}

func TestEmit_SendsMarkdown(t *testing.T) {
	bot := &fakeBot{}
	c := newClient(bot, 42, Options{RetryDelayBase: time.Millisecond})

	if err := c.Emit(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	sent := bot.messages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].ChatID != 42 || sent[0].ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Errorf("unexpected message config: chat=%d mode=%s", sent[0].ChatID, sent[0].ParseMode)
	}
	if c.Name() != "telegram" {
		t.Errorf("Name() = %q", c.Name())
	}
}

func TestEmit_RetriesThenSucceeds(t *testing.T) {
	bot := &fakeBot{failures: 2}
	c := newClient(bot, 42, Options{MaxRetries: 3, RetryDelayBase: time.Millisecond})

	if err := c.Emit(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(bot.messages()) != 1 {
		t.Errorf("expected delivery on third attempt")
	}
}

func TestEmit_GivesUp(t *testing.T) {
	bot := &fakeBot{failures: 10}
	c := newClient(bot, 42, Options{MaxRetries: 2, RetryDelayBase: time.Millisecond})

	err := c.Emit(context.Background(), sampleAlert())
	if err == nil || !strings.Contains(err.Error(), "failed after 2 retries") {
		t.Errorf("Emit() = %v, want retry exhaustion", err)
	}
}

func TestEmit_CancelledDuringBackoff(t *testing.T) {
	bot := &fakeBot{failures: 10}
	c := newClient(bot, 42, Options{MaxRetries: 5, RetryDelayBase: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Emit(ctx, sampleAlert())
	if err == nil || !strings.Contains(err.Error(), "cancelled after 1 attempts") {
		t.Errorf("Emit() = %v, want cancellation", err)
	}
}

func TestEmit_RateLimited(t *testing.T) {
	bot := &fakeBot{}
	c := newClient(bot, 42, Options{RatePerSecond: 0.001, Burst: 2, RetryDelayBase: time.Millisecond})

	skipped := 0
	for i := 0; i < 5; i++ {
		err := c.Emit(context.Background(), sampleAlert())
		switch {
		case errors.Is(err, notify.ErrSkipped):
			skipped++
		case err != nil:
			t.Fatalf("Emit %d: %v", i, err)
		}
	}
	if skipped != 3 {
		t.Errorf("skipped %d alerts, want 3", skipped)
	}
	if got := len(bot.messages()); got != 2 {
		t.Errorf("delivered %d alerts, want burst of 2", got)
	}
}

func TestHandleCommand(t *testing.T) {
	view := models.StatsView{
		TotalSymbols:     120,
		SymbolsWithData:  100,
		ActiveSymbols:    98,
		ThresholdPercent: 20,
		Uptime:           3723 * time.Second,
	}

	tests := []struct {
		text string
		want string
	}{
		{"/ping", "Pong"},
		{"/stats", "Total pairs: 120\nPairs with data: 100\nActive pairs: 98\nThreshold: 20.00%\nUptime: 1h 2m 3s"},
		{"/threshold", "Alert threshold: 20.00% below session high"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			bot := &fakeBot{}
			c := newClient(bot, 42, Options{Stats: func() models.StatsView { return view }})
			c.handleCommand(command(tt.text))

			sent := bot.messages()
			if len(sent) != 1 {
				t.Fatalf("sent %d replies, want 1", len(sent))
			}
			if sent[0].ChatID != 99 {
				t.Errorf("reply went to chat %d, want 99", sent[0].ChatID)
			}
			if sent[0].Text != tt.want {
				t.Errorf("reply = %q, want %q", sent[0].Text, tt.want)
			}
		})
	}
}

func TestHandleCommand_IgnoresUnknownAndMissingStats(t *testing.T) {
	bot := &fakeBot{}
	c := newClient(bot, 42, Options{})
	c.handleCommand(command("/unknown"))
	c.handleCommand(command("/stats"))
	if len(bot.messages()) != 0 {
		t.Errorf("expected no replies, got %d", len(bot.messages()))
	}
}

func TestListenForCommands(t *testing.T) {
	bot := &fakeBot{updates: make(chan tgbotapi.Update, 1), notify: make(chan struct{}, 1)}
	c := newClient(bot, 42, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.ListenForCommands(ctx)

	bot.updates <- tgbotapi.Update{Message: command("/ping")}
	select {
	case <-bot.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("no reply to /ping")
	}
	if bot.messages()[0].Text != "Pong" {
		t.Errorf("reply = %q", bot.messages()[0].Text)
	}
}

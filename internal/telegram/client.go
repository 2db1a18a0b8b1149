// Package telegram delivers drawdown alerts through the Telegram Bot API
// and answers a few read-only bot commands.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/dipwatch/internal/logger"
	"github.com/rewired-gh/dipwatch/internal/models"
	"github.com/rewired-gh/dipwatch/internal/notify"
	"golang.org/x/time/rate"
)

// botAPI is the subset of *tgbotapi.BotAPI used by Client.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Options tunes delivery. Zero values select defaults.
type Options struct {
	MaxRetries     int
	RetryDelayBase time.Duration
	RatePerSecond  float64
	Burst          int
	// Stats backs the /stats and /threshold commands; nil disables them.
	Stats func() models.StatsView
	Log   *logger.Logger
}

// Client handles Telegram notifications.
type Client struct {
	bot            botAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	limiter        *rate.Limiter
	stats          func() models.StatsView
	log            *logger.Logger
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, opts Options) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	return newClient(bot, chatIDInt, opts), nil
}

func newClient(bot botAPI, chatID int64, opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelayBase <= 0 {
		opts.RetryDelayBase = time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}

	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     opts.MaxRetries,
		retryDelayBase: opts.RetryDelayBase,
		limiter:        rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		stats:          opts.Stats,
		log:            opts.Log.Component("telegram"),
	}
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	var text string
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "stats":
		if c.stats == nil {
			return
		}
		text = formatStats(c.stats())
	case "threshold":
		if c.stats == nil {
			return
		}
		text = fmt.Sprintf("Alert threshold: %.2f%% below session high", c.stats().ThresholdPercent)
	default:
		return
	}

	if _, err := c.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, text)); err != nil {
		c.log.Warn("Failed to answer /%s: %v", msg.Command(), err)
	}
}

// Name identifies the sink in logs and metrics.
func (c *Client) Name() string { return "telegram" }

// Emit sends one alert. Alerts over the rate limit are not sent and
// reported with an error wrapping notify.ErrSkipped.
func (c *Client) Emit(ctx context.Context, event models.AlertEvent) error {
	if !c.limiter.Allow() {
		return fmt.Errorf("%w: rate limit reached (%.2f%% dip)", notify.ErrSkipped, event.DipPercent)
	}
	return c.sendMarkdownV2(ctx, formatAlert(event))
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("send cancelled after %d attempts: %w", i+1, lastErr)
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// formatAlert renders one alert as a MarkdownV2 message.
func formatAlert(event models.AlertEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *Dip Alert: %s*\n\n", escapeMarkdownV2(event.Symbol))
	fmt.Fprintf(&b, "📉 Down *%s* from session high\n",
		escapeMarkdownV2(fmt.Sprintf("%.2f%%", event.DipPercent)))
	fmt.Fprintf(&b, "💰 Current: %s\n", escapeMarkdownV2(formatPrice(event.CurrentPrice)))
	fmt.Fprintf(&b, "🏔 High: %s\n", escapeMarkdownV2(formatPrice(event.MaxPrice)))

	since := time.Duration(event.SecondsSinceMax * float64(time.Second)).Round(time.Second)
	fmt.Fprintf(&b, "⏱ High set %s ago\n", escapeMarkdownV2(since.String()))
	fmt.Fprintf(&b, "🔢 Updates: %d \\| Threshold: %s\n",
		event.UpdateCount, escapeMarkdownV2(fmt.Sprintf("%.2f%%", event.Threshold)))

	if !event.EmittedAt.IsZero() {
		fmt.Fprintf(&b, "📅 %s", escapeMarkdownV2(event.EmittedAt.UTC().Format("2006-01-02 15:04:05 MST")))
	}
	return b.String()
}

// formatStats renders a plain-text stats summary for the /stats command.
func formatStats(view models.StatsView) string {
	return fmt.Sprintf("Total pairs: %d\nPairs with data: %d\nActive pairs: %d\nThreshold: %.2f%%\nUptime: %s",
		view.TotalSymbols, view.SymbolsWithData, view.ActiveSymbols,
		view.ThresholdPercent, logger.Duration(view.Uptime))
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

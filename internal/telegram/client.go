// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/eventoracle/internal/cycle"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration

	mu     sync.Mutex
	last   cycle.Summary // reported by /status
	lastAt time.Time
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
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
	var reply tgbotapi.MessageConfig
	switch msg.Command() {
	case "ping":
		reply = tgbotapi.NewMessage(msg.Chat.ID, "Pong")
	case "status":
		c.mu.Lock()
		sum, at := c.last, c.lastAt
		c.mu.Unlock()
		if at.IsZero() {
			reply = tgbotapi.NewMessage(msg.Chat.ID, "No cycle has completed yet")
			break
		}
		reply = tgbotapi.NewMessage(msg.Chat.ID, formatSummary(sum, at))
		reply.ParseMode = "MarkdownV2"
	default:
		return
	}
	c.bot.Send(reply) //nolint:errcheck
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a cycle failure notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Cycle failed*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Pipeline recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendSummary reports a finished cycle. Cycles that created, predicted or
// resolved nothing and had no failures are only remembered for /status.
func (c *Client) SendSummary(sum cycle.Summary) error {
	now := time.Now()
	c.mu.Lock()
	c.last, c.lastAt = sum, now
	c.mu.Unlock()
	if sum.EventsCreated == 0 && sum.PredictionsEmitted == 0 && sum.EventsResolved == 0 &&
		sum.ResolutionsContradicted == 0 && sum.Failures() == 0 {
		return nil
	}
	return c.sendMarkdownV2(formatSummary(sum, now))
}

// formatSummary formats a cycle summary into a Telegram MarkdownV2 message.
func formatSummary(sum cycle.Summary, at time.Time) string {
	var b strings.Builder
	b.WriteString("🗞 *Cycle summary*\n")
	fmt.Fprintf(&b, "📅 %s\n\n", escapeMarkdownV2(at.Format("2006-01-02 15:04:05")))

	fmt.Fprintf(&b, "📥 Items: %d new, %d duplicate, %d skipped\n",
		sum.ItemsIngested, sum.ItemsDuplicate, sum.ItemsSkipped)
	fmt.Fprintf(&b, "📝 Proposals: %d created, %d pending\n", sum.ProposalsCreated, sum.PendingRemaining)
	fmt.Fprintf(&b, "⚖️ Judged: %d accepted, %d rejected\n", sum.Accepted, sum.Rejected)
	fmt.Fprintf(&b, "🎯 Events: %d created, %d predictions\n", sum.EventsCreated, sum.PredictionsEmitted)
	fmt.Fprintf(&b, "🏁 Resolution: %d locked, %d resolved, %d open, %d need review\n",
		sum.EventsLocked, sum.EventsResolved, sum.ResolutionsOpen, sum.ResolutionsContradicted)

	if sum.Failures() > 0 {
		b.WriteString("\n*Failures*\n")
		if sum.SourceFailures > 0 {
			fmt.Fprintf(&b, "   sources: %s\n", escapeMarkdownV2(strings.Join(sum.FailedSources, ", ")))
		}
		if n := sum.JudgeFailures.Total(); n > 0 {
			fmt.Fprintf(&b, "   judge: %d \\(%d validation, %d backend\\)\n",
				n, sum.JudgeFailures.Validation, sum.JudgeFailures.Backend)
		}
		if n := sum.AssessFailures.Total(); n > 0 {
			fmt.Fprintf(&b, "   assess: %d \\(%d validation, %d backend\\)\n",
				n, sum.AssessFailures.Validation, sum.AssessFailures.Backend)
		}
		if n := sum.ResolveFailures.Total(); n > 0 {
			fmt.Fprintf(&b, "   resolve: %d \\(%d validation, %d backend\\)\n",
				n, sum.ResolveFailures.Validation, sum.ResolveFailures.Backend)
		}
	}

	fmt.Fprintf(&b, "\n⏱ %s", escapeMarkdownV2(sum.Duration.Round(time.Millisecond).String()))
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

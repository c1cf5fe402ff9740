// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/greekwatch/internal/models"
)

// maxMessageLen is Telegram's limit on a single message body.
const maxMessageLen = 4096

// Commands are the hooks behind the bot's chat commands. Nil hooks reply with a notice.
type Commands struct {
	// Rearm clears every fired alert condition and returns how many were cleared.
	Rearm func() int
	// Status returns a short plain-text status summary.
	Status func() string
	// Alerts returns the most recent alerts as plain text.
	Alerts func() string
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	limiter        *rate.Limiter
}

// NewClient creates a new Telegram client. messagesPerSecond caps outbound sends;
// zero or less uses one message per second.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration, messagesPerSecond float64) (*Client, error) {
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
	if messagesPerSecond <= 0 {
		messagesPerSecond = 1
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		limiter:        rate.NewLimiter(rate.Limit(messagesPerSecond), 1),
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, cmds Commands) {
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
					c.handleCommand(update.Message, cmds)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, cmds Commands) {
	text, ok := commandReply(msg.Command(), cmds)
	if !ok {
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	c.bot.Send(reply) //nolint:errcheck
}

// commandReply returns the plain-text answer to a chat command, or false for unknown commands.
func commandReply(command string, cmds Commands) (string, bool) {
	switch command {
	case "ping":
		return "Pong", true
	case "status":
		if cmds.Status == nil {
			return "Status unavailable", true
		}
		return cmds.Status(), true
	case "rearm":
		if cmds.Rearm == nil {
			return "Rearm unavailable", true
		}
		return fmt.Sprintf("Re-armed %d alert condition(s)", cmds.Rearm()), true
	case "alerts":
		if cmds.Alerts == nil {
			return "Alert history unavailable", true
		}
		return cmds.Alerts(), true
	}
	return "", false
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(context.Background(), text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(context.Background(), text)
}

// SendAlerts sends the alerts of one cycle, split across as many messages as needed.
func (c *Client) SendAlerts(ctx context.Context, alerts []models.Alert) error {
	for _, text := range formatAlerts(alerts) {
		if err := c.sendMarkdownV2(ctx, text); err != nil {
			return err
		}
	}
	return nil
}

// formatAlerts renders alerts as MarkdownV2 messages, each within maxMessageLen.
func formatAlerts(alerts []models.Alert) []string {
	if len(alerts) == 0 {
		return nil
	}

	header := "🔔 *Greek alerts*\n"
	header += fmt.Sprintf("📅 Detected: %s\n\n",
		escapeMarkdownV2(alerts[0].DetectedAt.Format("2006-01-02 15:04:05")))

	var messages []string
	var b strings.Builder
	b.WriteString(header)
	for i, a := range alerts {
		line := fmt.Sprintf("%d\\. %s\n", i+1, escapeMarkdownV2(a.Message))
		if b.Len() > len(header) && b.Len()+len(line) > maxMessageLen {
			messages = append(messages, b.String())
			b.Reset()
			b.WriteString(header)
		}
		b.WriteString(line)
	}
	return append(messages, b.String())
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

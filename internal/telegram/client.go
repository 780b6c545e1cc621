// Package telegram sends run notifications via the Telegram Bot API. It
// formats a finished bootstrap run into a human-readable summary message and
// handles delivery with retry logic for reliability.
//
// Messages use MarkdownV2 formatting, so all dynamic text is escaped before
// it is interpolated.
package telegram

import (
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mtvedt/qalyboot/internal/models"
)

// Client handles Telegram notifications
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
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

// Send sends a notification summarising a finished run
func (c *Client) Send(run *models.RunSummary) error {
	message := formatRunMessage(run)

	msg := tgbotapi.NewMessage(c.chatID, message)
	msg.ParseMode = "MarkdownV2"

	// Send with retry
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatRunMessage formats a run summary into a Telegram message
func formatRunMessage(run *models.RunSummary) string {
	message := "📊 *Bootstrap Run Finished*\n\n"

	message += fmt.Sprintf("🆔 Run: %s\n", escapeMarkdownV2(run.RunID))
	if run.Dataset != "" {
		message += fmt.Sprintf("📁 Dataset: %s\n", escapeMarkdownV2(run.Dataset))
	}
	dateStr := escapeMarkdownV2(run.CreatedAt.Format("2006-01-02 15:04:05"))
	message += fmt.Sprintf("📅 Finished: %s\n", dateStr)

	countsStr := escapeMarkdownV2(fmt.Sprintf("%d retained / %d dropped of %d",
		run.Retained, run.Dropped, run.Replicates))
	message += fmt.Sprintf("🔁 Replicates: %s\n\n", countsStr)

	significant := 0
	for _, coef := range run.Coefficients {
		if coef.Significant {
			significant++
		}
	}
	message += fmt.Sprintf("*Significant coefficients \\(%d of %d\\)*\n",
		significant, len(run.Coefficients))
	for _, coef := range run.Coefficients {
		if !coef.Significant {
			continue
		}
		nameStr := escapeMarkdownV2(coef.Name)
		bandStr := escapeMarkdownV2(fmt.Sprintf("%.4f [%.4f, %.4f]",
			coef.Quantiles.P50, coef.Quantiles.P025, coef.Quantiles.P975))
		message += fmt.Sprintf("  • %s: %s\n", nameStr, bandStr)
	}
	if significant == 0 {
		message += "  none\n"
	}

	if len(run.Bands) > 0 {
		message += "\n*QALY bands*\n"
		for _, band := range run.Bands {
			labelStr := escapeMarkdownV2(fmt.Sprintf("%s %s", band.AgeGroup, band.Type))
			bandStr := escapeMarkdownV2(fmt.Sprintf("%.3f [%.3f, %.3f]",
				band.Quantiles.P50, band.Quantiles.P025, band.Quantiles.P975))
			message += fmt.Sprintf("  • %s: %s\n", labelStr, bandStr)
		}
	}

	return message
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !

	result := ""
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			result += "\\" + string(char)
		default:
			result += string(char)
		}
	}
	return result
}

// Package notify posts run summaries to a Telegram chat.
package notify

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/AI-Sandbox-AI-Healthcare/js2-AI-Healthcare-Main/internal/config"
)

// Bot is the slice of the Telegram API the notifier uses (allows mocking).
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

type botWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *botWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *botWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates Bot instances (allows mocking).
type BotFactory func(token, apiEndpoint string, client *http.Client) (Bot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (Bot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &botWrapper{bot: bot}, nil
}

// Notifier posts messages to a single Telegram chat.
type Notifier struct {
	bot    Bot
	chatID int64
}

// New returns a notifier for the configured chat, or nil when Telegram
// notifications are disabled or not fully configured. A nil notifier is safe
// to use and discards every message.
func New(cfg config.TelegramConfig) (*Notifier, error) {
	return NewWithFactory(cfg, defaultBotFactory)
}

// NewWithFactory creates a Notifier with a custom bot factory (for testing).
func NewWithFactory(cfg config.TelegramConfig, factory BotFactory) (*Notifier, error) {
	if !cfg.Enabled || cfg.Token == "" || cfg.ChatID == 0 {
		return nil, nil
	}
	bot, err := factory(cfg.Token, tgbotapi.APIEndpoint, http.DefaultClient)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	log.Printf("[notify] authorized as @%s", bot.GetSelf().UserName)
	return &Notifier{bot: bot, chatID: cfg.ChatID}, nil
}

// Send posts text to the configured chat, splitting messages that exceed
// Telegram's length limit at line boundaries.
func (n *Notifier) Send(text string) error {
	if n == nil {
		return nil
	}

	// Telegram has a 4096 char limit per message
	const maxLen = 4000
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			// Try to split at last newline before maxLen
			idx := strings.LastIndex(chunk[:maxLen], "\n")
			if idx > 0 {
				chunk = chunk[:idx]
			} else {
				chunk = chunk[:maxLen]
			}
		}
		text = text[len(chunk):]

		if _, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, chunk)); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

package publish

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/quillpress/quill/internal/assemble"
	"github.com/quillpress/quill/pkg/ledger"
)

// telegramMessageLimit is the Bot API's maximum message length.
const telegramMessageLimit = 4096

// TelegramAdapter publishes drafts as HTML-formatted messages to a chat or
// channel via the Telegram Bot API.
type TelegramAdapter struct {
	name        string
	token       string
	chatID      string
	apiEndpoint string

	mu      sync.Mutex
	initErr error
	bot     *tgbotapi.BotAPI
}

// NewTelegramAdapter builds the adapter. The Bot API connection is
// established lazily on first publish so construction never hits the
// network.
func NewTelegramAdapter(name, token, chatID string) *TelegramAdapter {
	return &TelegramAdapter{name: name, token: token, chatID: chatID, apiEndpoint: tgbotapi.APIEndpoint}
}

// Name returns the configured platform name.
func (t *TelegramAdapter) Name() string {
	return t.name
}

// connect returns the Bot API handle, dialing it on first use. Auth and
// config failures are cached so a dead token never re-dials; transient
// failures (the API being unreachable) leave the adapter ready to retry
// on the next publish attempt.
func (t *TelegramAdapter) connect() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bot != nil {
		return t.bot, nil
	}
	if t.initErr != nil {
		return nil, t.initErr
	}
	if t.token == "" || t.chatID == "" {
		t.initErr = fmt.Errorf("%w: telegram adapter %q missing token or chat id", ErrAuth, t.name)
		return nil, t.initErr
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(t.token, t.apiEndpoint)
	if err != nil {
		err = classifyTelegramError(err)
		if errors.Is(err, ErrAuth) || errors.Is(err, ErrValidation) {
			t.initErr = err
		}
		return nil, err
	}
	t.bot = bot
	return bot, nil
}

// Publish sends the draft to the configured chat and returns the message
// reference.
func (t *TelegramAdapter) Publish(ctx context.Context, item *ledger.ContentItem, draft *assemble.Draft) (string, error) {
	bot, err := t.connect()
	if err != nil {
		return "", err
	}

	msg := t.message(draft)
	sent, err := bot.Send(msg)
	if err != nil {
		return "", classifyTelegramError(err)
	}

	return t.chatID + "/" + strconv.Itoa(sent.MessageID), nil
}

// message renders the draft into a length-limited HTML message.
func (t *TelegramAdapter) message(draft *assemble.Draft) tgbotapi.MessageConfig {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s</b>\n\n", html.EscapeString(draft.Title))
	if draft.Summary != "" {
		fmt.Fprintf(&sb, "<i>%s</i>\n\n", html.EscapeString(draft.Summary))
	}
	sb.WriteString(html.EscapeString(draft.Body))

	// The Bot API limit counts characters, not bytes, and a byte slice
	// could split a multi-byte rune mid-sequence.
	text := sb.String()
	if utf8.RuneCountInString(text) > telegramMessageLimit {
		runes := []rune(text)
		text = string(runes[:telegramMessageLimit-1]) + "…"
	}

	var msg tgbotapi.MessageConfig
	if chatID, err := strconv.ParseInt(t.chatID, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(chatID, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(t.chatID, text)
	}
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = false
	return msg
}

// classifyTelegramError maps Bot API errors onto the publish sentinels.
func classifyTelegramError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return fmt.Errorf("%w: telegram: %s", ErrRateLimited, apiErr.Message)
		case apiErr.Code == 401 || apiErr.Code == 403:
			return fmt.Errorf("%w: telegram: %s", ErrAuth, apiErr.Message)
		case apiErr.Code == 400:
			return fmt.Errorf("%w: telegram: %s", ErrValidation, apiErr.Message)
		case apiErr.Code >= 500:
			return fmt.Errorf("%w: telegram: %s", ErrPlatformUnavailable, apiErr.Message)
		}
	}
	// Transport-level failure - no API response at all.
	return fmt.Errorf("%w: telegram: %v", ErrPlatformUnavailable, err)
}

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Akshay-Anand-Code/chart-analyzer/internal/domain"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	defaultPollTimeout     = 10 * time.Second
	defaultRetryDelay      = 5 * time.Second
)

// botAPI is the subset of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
	GetMe() (tgbotapi.User, error)
}

// Telegram implements domain.Transport and domain.Prober over the Bot API
// with long polling. One instance is shared by every orchestration run.
type Telegram struct {
	token       string
	pollTimeout time.Duration
	retryDelay  time.Duration

	api    botAPI
	logger *slog.Logger
}

type TelegramConfig struct {
	Token       string
	PollTimeout time.Duration // long-poll timeout for getUpdates
	RetryDelay  time.Duration // wait after a failed poll
	APIEndpoint string        // optional, e.g. a local Bot API server
	Logger      *slog.Logger
}

// NewTelegram connects to the Bot API. The library verifies the token with
// getMe, so an invalid token fails here.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := tgbotapi.SetLogger(botLogger{cfg.Logger}); err != nil {
		return nil, fmt.Errorf("telegram logger: %w", err)
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return newTelegram(cfg, bot), nil
}

func newTelegram(cfg TelegramConfig, api botAPI) *Telegram {
	if cfg.PollTimeout < time.Second {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:       cfg.Token,
		pollTimeout: cfg.PollTimeout,
		retryDelay:  cfg.RetryDelay,
		api:         api,
		logger:      cfg.Logger,
	}
}

// Run polls for updates and publishes them to sink until ctx is done. A
// failed poll publishes a ConnectivityIssueEvent and is retried after the
// retry delay. Run returns nil on cancellation.
func (t *Telegram) Run(ctx context.Context, sink domain.EventSink) error {
	offset := 0
	t.logger.Info("telegram polling started", "timeout", t.pollTimeout)

	for {
		if ctx.Err() != nil {
			t.logger.Info("telegram polling stopped")
			return nil
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = int(t.pollTimeout / time.Second)
		u.AllowedUpdates = []string{"message"}

		updates, err := t.api.GetUpdates(u)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			t.logger.Debug("telegram poll failed", "error", err)
			sink.Publish(domain.ConnectivityIssueEvent{Detail: err.Error(), At: time.Now()})

			select {
			case <-ctx.Done():
			case <-time.After(t.retryDelay):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if ev, ok := toEvent(update); ok {
				sink.Publish(ev)
			}
		}
	}
}

// toEvent converts an update into an inbound event. Updates the pipeline
// does not handle (plain text, edits, stickers) yield false.
func toEvent(update tgbotapi.Update) (domain.InboundEvent, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return nil, false
	}

	switch {
	case len(msg.Photo) > 0:
		variants := make([]domain.PhotoVariant, 0, len(msg.Photo))
		for _, p := range msg.Photo {
			variants = append(variants, domain.PhotoVariant{
				FileID:       p.FileID,
				FileUniqueID: p.FileUniqueID,
				Width:        p.Width,
				Height:       p.Height,
				FileSize:     p.FileSize,
			})
		}
		return photoEvent(msg, variants), true

	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/"):
		// Charts sent "as file" skip Telegram's compression.
		return photoEvent(msg, []domain.PhotoVariant{{
			FileID:       msg.Document.FileID,
			FileUniqueID: msg.Document.FileUniqueID,
			FileSize:     msg.Document.FileSize,
		}}), true

	case msg.IsCommand():
		return domain.CommandEvent{
			ChatID: msg.Chat.ID,
			UserID: msg.From.ID,
			Name:   msg.Command(),
		}, true
	}
	return nil, false
}

func photoEvent(msg *tgbotapi.Message, variants []domain.PhotoVariant) domain.PhotoEvent {
	name := msg.From.UserName
	if name == "" {
		name = msg.From.FirstName
	}
	return domain.PhotoEvent{
		ChatID:      msg.Chat.ID,
		UserID:      msg.From.ID,
		MessageID:   msg.MessageID,
		DisplayName: name,
		Variants:    variants,
		ReceivedAt:  time.Unix(int64(msg.Date), 0),
	}
}

func (t *Telegram) SendText(ctx context.Context, chatID int64, text string) error {
	return t.sendMessage(ctx, chatID, text, false, "send_text")
}

func (t *Telegram) SendPlaceholder(ctx context.Context, chatID int64, text string) (domain.Placeholder, error) {
	sent, err := t.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		metrics.DeliveryFailures.WithLabelValues("send_placeholder").Inc()
		return domain.Placeholder{}, &domain.DeliveryError{Op: "send_placeholder", ChatID: chatID, Err: err}
	}
	return domain.Placeholder{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// SendResult sends Markdown text with link previews disabled.
func (t *Telegram) SendResult(ctx context.Context, chatID int64, text string) error {
	return t.sendMessage(ctx, chatID, text, true, "send_result")
}

func (t *Telegram) DeletePlaceholder(ctx context.Context, p domain.Placeholder) {
	if p.MessageID == 0 {
		return
	}
	if _, err := t.api.Request(tgbotapi.NewDeleteMessage(p.ChatID, p.MessageID)); err != nil {
		metrics.DeliveryFailures.WithLabelValues("delete_placeholder").Inc()
		t.logger.Warn("error deleting loading message",
			"chat_id", p.ChatID,
			"message_id", p.MessageID,
			"error", err,
		)
	}
}

// ResolveFileURL looks up the file path of photo and returns its download link.
func (t *Telegram) ResolveFileURL(ctx context.Context, photo domain.PhotoVariant) (string, error) {
	if photo.FileID == "" {
		return "", &domain.ResolutionError{Err: errors.New("empty file id")}
	}
	file, err := t.api.GetFile(tgbotapi.FileConfig{FileID: photo.FileID})
	if err != nil {
		return "", &domain.ResolutionError{FileID: photo.FileID, Err: err}
	}
	if file.FilePath == "" {
		return "", &domain.ResolutionError{FileID: photo.FileID}
	}
	return file.Link(t.token), nil
}

// Probe checks connectivity with getMe.
func (t *Telegram) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.api.GetMe(); err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	return nil
}

// sendMessage splits text at the platform limit and sends each chunk.
func (t *Telegram) sendMessage(ctx context.Context, chatID int64, text string, markdown bool, op string) error {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, chatID, chunk, markdown); err != nil {
			metrics.DeliveryFailures.WithLabelValues(op).Inc()
			return &domain.DeliveryError{Op: op, ChatID: chatID, Err: err}
		}
	}
	return nil
}

// sendChunk sends one chunk. Markdown that Telegram cannot parse is resent as
// plain text; rate limits are waited out.
func (t *Telegram) sendChunk(ctx context.Context, chatID int64, text string, markdown bool) error {
	var lastErr error
	for attempt := 0; attempt < telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if markdown {
			msg.ParseMode = tgbotapi.ModeMarkdown
			msg.DisableWebPagePreview = true
		}

		_, err := t.api.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		if markdown && strings.Contains(err.Error(), "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "error", err)
			markdown = false
			plain := tgbotapi.NewMessage(chatID, text)
			plain.DisableWebPagePreview = true
			_, err = t.api.Send(plain)
			if err == nil {
				return nil
			}
			lastErr = err
		}

		wait, limited := retryAfter(lastErr)
		if !limited {
			return lastErr
		}
		t.logger.Warn("telegram rate limited, backing off", "retry_after", wait, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

// retryAfter reports the wait Telegram asked for on a 429.
func retryAfter(err error) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		if apiErr.RetryAfter > 0 {
			return time.Duration(apiErr.RetryAfter) * time.Second, true
		}
		return 3 * time.Second, true
	}
	return 0, false
}

// splitMessage cuts text into chunks of at most maxLen runes, preferring a
// line break in the second half of each chunk.
func splitMessage(text string, maxLen int) []string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}
		cut := maxLen
		for i := maxLen - 1; i >= maxLen/2; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}

// botLogger routes the library's log output into slog at debug level.
type botLogger struct {
	l *slog.Logger
}

func (b botLogger) Println(v ...interface{}) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintln(v...)), "component", "tgbotapi")
}

func (b botLogger) Printf(format string, v ...interface{}) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "tgbotapi")
}

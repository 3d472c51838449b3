package channel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Akshay-Anand-Code/chart-analyzer/internal/domain"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/logutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
	offsets  []int

	sendFn    func(tgbotapi.MessageConfig) error
	requestFn func(tgbotapi.Chattable) error
	pollFn    func(call int) ([]tgbotapi.Update, error)
	file      tgbotapi.File
	fileErr   error
	meErr     error
	nextID    int
}

func (f *fakeBot) GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, cfg.Offset)
	call := len(f.offsets)
	f.mu.Unlock()
	return f.pollFn(call)
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg := c.(tgbotapi.MessageConfig)
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.nextID++
	id := f.nextID
	fn := f.sendFn
	f.mu.Unlock()
	if fn != nil {
		if err := fn(msg); err != nil {
			return tgbotapi.Message{}, err
		}
	}
	return tgbotapi.Message{MessageID: id}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, c)
	fn := f.requestFn
	f.mu.Unlock()
	if fn != nil {
		if err := fn(c); err != nil {
			return nil, err
		}
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) GetFile(cfg tgbotapi.FileConfig) (tgbotapi.File, error) {
	return f.file, f.fileErr
}

func (f *fakeBot) GetMe() (tgbotapi.User, error) {
	return tgbotapi.User{ID: 1, UserName: "chartbot"}, f.meErr
}

func (f *fakeBot) Sent() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.InboundEvent
}

func (s *recordingSink) Publish(ev domain.InboundEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}

func (s *recordingSink) Events() []domain.InboundEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.InboundEvent(nil), s.events...)
}

func newTestTelegram(bot *fakeBot) *Telegram {
	return newTelegram(TelegramConfig{
		Token:       "123:abc",
		PollTimeout: time.Second,
		RetryDelay:  10 * time.Millisecond,
		Logger:      logutil.Discard(),
	}, bot)
}

func photoUpdate(id int, username, firstName string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: id,
		Message: &tgbotapi.Message{
			MessageID: 77,
			Date:      1700000000,
			Chat:      &tgbotapi.Chat{ID: 42},
			From:      &tgbotapi.User{ID: 7, UserName: username, FirstName: firstName},
			Photo: []tgbotapi.PhotoSize{
				{FileID: "small", Width: 90, Height: 90},
				{FileID: "large", Width: 1280, Height: 720, FileSize: 2048},
			},
		},
	}
}

func commandUpdate(id int, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: id,
		Message: &tgbotapi.Message{
			Text:     text,
			Chat:     &tgbotapi.Chat{ID: 42},
			From:     &tgbotapi.User{ID: 7},
			Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(strings.Fields(text)[0])}},
		},
	}
}

// --- update conversion ---

func TestToEvent_Photo(t *testing.T) {
	ev, ok := toEvent(photoUpdate(1, "alice", "Alice"))
	require.True(t, ok)
	photo, ok := ev.(domain.PhotoEvent)
	require.True(t, ok)
	assert.Equal(t, int64(42), photo.ChatID)
	assert.Equal(t, int64(7), photo.UserID)
	assert.Equal(t, "alice", photo.DisplayName)
	require.Len(t, photo.Variants, 2)
	best, _ := photo.Best()
	assert.Equal(t, "large", best.FileID)
	assert.Equal(t, time.Unix(1700000000, 0), photo.ReceivedAt)
}

func TestToEvent_DisplayNameFallsBackToFirstName(t *testing.T) {
	ev, ok := toEvent(photoUpdate(1, "", "Alice"))
	require.True(t, ok)
	assert.Equal(t, "Alice", ev.(domain.PhotoEvent).DisplayName)
}

func TestToEvent_ImageDocument(t *testing.T) {
	u := tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 1},
		From:     &tgbotapi.User{ID: 2, UserName: "bob"},
		Document: &tgbotapi.Document{FileID: "doc1", MimeType: "image/png"},
	}}
	ev, ok := toEvent(u)
	require.True(t, ok)
	best, _ := ev.(domain.PhotoEvent).Best()
	assert.Equal(t, "doc1", best.FileID)

	u.Message.Document.MimeType = "application/pdf"
	_, ok = toEvent(u)
	assert.False(t, ok)
}

func TestToEvent_Command(t *testing.T) {
	ev, ok := toEvent(commandUpdate(1, "/help@chartbot"))
	require.True(t, ok)
	assert.Equal(t, domain.CommandEvent{ChatID: 42, UserID: 7, Name: "help"}, ev)
}

func TestToEvent_IgnoresOtherInput(t *testing.T) {
	_, ok := toEvent(tgbotapi.Update{})
	assert.False(t, ok)

	_, ok = toEvent(tgbotapi.Update{Message: &tgbotapi.Message{
		Text: "hello there",
		Chat: &tgbotapi.Chat{ID: 1},
		From: &tgbotapi.User{ID: 2},
	}})
	assert.False(t, ok)
}

// --- poll loop ---

func TestRun_PublishesEventsAndReconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bot := &fakeBot{}
	bot.pollFn = func(call int) ([]tgbotapi.Update, error) {
		switch call {
		case 1:
			return nil, errors.New("connection reset")
		case 2:
			return []tgbotapi.Update{commandUpdate(10, "/start"), photoUpdate(11, "alice", "")}, nil
		default:
			cancel()
			return nil, nil
		}
	}
	sink := &recordingSink{}

	done := make(chan error, 1)
	go func() { done <- newTestTelegram(bot).Run(ctx, sink) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop did not stop")
	}

	events := sink.Events()
	require.Len(t, events, 3)
	issue, ok := events[0].(domain.ConnectivityIssueEvent)
	require.True(t, ok)
	assert.Contains(t, issue.Detail, "connection reset")
	assert.IsType(t, domain.CommandEvent{}, events[1])
	assert.IsType(t, domain.PhotoEvent{}, events[2])

	bot.mu.Lock()
	defer bot.mu.Unlock()
	assert.Equal(t, []int{0, 0, 12}, bot.offsets)
}

// --- sending ---

func TestSendResult_MarkdownNoPreview(t *testing.T) {
	bot := &fakeBot{}
	require.NoError(t, newTestTelegram(bot).SendResult(context.Background(), 42, "*bold*"))

	sent := bot.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, tgbotapi.ModeMarkdown, sent[0].ParseMode)
	assert.True(t, sent[0].DisableWebPagePreview)
	assert.Equal(t, "*bold*", sent[0].Text)
}

func TestSendResult_FallsBackToPlainText(t *testing.T) {
	bot := &fakeBot{sendFn: func(m tgbotapi.MessageConfig) error {
		if m.ParseMode != "" {
			return errors.New("Bad Request: can't parse entities: unclosed bold")
		}
		return nil
	}}
	require.NoError(t, newTestTelegram(bot).SendResult(context.Background(), 42, "*broken"))

	sent := bot.Sent()
	require.Len(t, sent, 2)
	assert.Empty(t, sent[1].ParseMode)
	assert.Equal(t, "*broken", sent[1].Text)
}

func TestSendResult_SplitsLongText(t *testing.T) {
	bot := &fakeBot{}
	line := strings.Repeat("x", 99) + "\n"
	text := strings.Repeat(line, 50) // 5000 runes

	require.NoError(t, newTestTelegram(bot).SendResult(context.Background(), 42, text))
	sent := bot.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, text, sent[0].Text+sent[1].Text)
	assert.LessOrEqual(t, len([]rune(sent[0].Text)), telegramMaxMsgLen)
}

func TestSendText_FailureIsDeliveryError(t *testing.T) {
	bot := &fakeBot{sendFn: func(tgbotapi.MessageConfig) error { return errors.New("Forbidden: bot was blocked") }}
	err := newTestTelegram(bot).SendText(context.Background(), 42, "hi")

	var dErr *domain.DeliveryError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, "send_text", dErr.Op)
	assert.Equal(t, int64(42), dErr.ChatID)
	assert.Len(t, bot.Sent(), 1)
}

func TestSendPlaceholder(t *testing.T) {
	bot := &fakeBot{}
	p, err := newTestTelegram(bot).SendPlaceholder(context.Background(), 42, "🔄 Analyzing your chart...")
	require.NoError(t, err)
	assert.Equal(t, domain.Placeholder{ChatID: 42, MessageID: 1}, p)
	assert.Empty(t, bot.Sent()[0].ParseMode)

	bot.sendFn = func(tgbotapi.MessageConfig) error { return errors.New("boom") }
	_, err = newTestTelegram(bot).SendPlaceholder(context.Background(), 42, "x")
	assert.Equal(t, domain.KindDelivery, domain.KindOf(err))
}

func TestDeletePlaceholder_SwallowsErrors(t *testing.T) {
	bot := &fakeBot{requestFn: func(tgbotapi.Chattable) error { return errors.New("message to delete not found") }}
	tg := newTestTelegram(bot)

	tg.DeletePlaceholder(context.Background(), domain.Placeholder{ChatID: 42, MessageID: 9})
	require.Len(t, bot.requests, 1)
	del, ok := bot.requests[0].(tgbotapi.DeleteMessageConfig)
	require.True(t, ok)
	assert.Equal(t, 9, del.MessageID)

	// zero placeholder is a no-op
	tg.DeletePlaceholder(context.Background(), domain.Placeholder{})
	assert.Len(t, bot.requests, 1)
}

// --- file resolution and probe ---

func TestResolveFileURL(t *testing.T) {
	bot := &fakeBot{file: tgbotapi.File{FileID: "large", FilePath: "photos/file_1.jpg"}}
	url, err := newTestTelegram(bot).ResolveFileURL(context.Background(), domain.PhotoVariant{FileID: "large"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.telegram.org/file/bot123:abc/photos/file_1.jpg", url)
}

func TestResolveFileURL_NoPath(t *testing.T) {
	bot := &fakeBot{file: tgbotapi.File{FileID: "large"}}
	_, err := newTestTelegram(bot).ResolveFileURL(context.Background(), domain.PhotoVariant{FileID: "large"})
	assert.Equal(t, domain.KindResolution, domain.KindOf(err))

	bot = &fakeBot{fileErr: errors.New("Bad Request: file is too big")}
	_, err = newTestTelegram(bot).ResolveFileURL(context.Background(), domain.PhotoVariant{FileID: "large"})
	assert.Equal(t, domain.KindResolution, domain.KindOf(err))
}

func TestProbe(t *testing.T) {
	bot := &fakeBot{}
	tg := newTestTelegram(bot)
	assert.NoError(t, tg.Probe(context.Background()))

	bot.meErr = errors.New("unauthorized")
	assert.Error(t, tg.Probe(context.Background()))
}

// --- helpers ---

func TestRetryAfter(t *testing.T) {
	wait, ok := retryAfter(&tgbotapi.Error{Code: 429, ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 2}})
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, wait)

	_, ok = retryAfter(&tgbotapi.Error{Code: 400})
	assert.False(t, ok)
	_, ok = retryAfter(errors.New("plain"))
	assert.False(t, ok)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	chunks := splitMessage("aaaa\nbbbbbbbb", 8)
	assert.Equal(t, "aaaa\nbbbbbbbb", strings.Join(chunks, ""))
	assert.Equal(t, "aaaa", chunks[0])

	// multi-byte runes are never cut
	chunks = splitMessage(strings.Repeat("📈", 5), 2)
	assert.Equal(t, []string{"📈📈", "📈📈", "📈"}, chunks)
}

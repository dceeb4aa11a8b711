package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/expense-bot/internal/models"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

type fakeAPI struct {
	addErr     error
	added      []string
	recent     []Expense
	summary    *Summary
	summaryErr error
	start, end models.Date
}

func (f *fakeAPI) Health(context.Context) error { return nil }

func (f *fakeAPI) AddExpense(_ context.Context, telegramID, message string) (*Expense, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.added = append(f.added, telegramID+":"+message)
	return &Expense{ID: 1, Description: "Pizza", Amount: decimal.RequireFromString("25.5"), Category: "Food"}, nil
}

func (f *fakeAPI) RecentExpenses(context.Context, string, int) ([]Expense, error) {
	return f.recent, nil
}

func (f *fakeAPI) Summary(_ context.Context, _ string, start, end models.Date) (*Summary, error) {
	f.start, f.end = start, end
	return f.summary, f.summaryErr
}

func newTestBot(t *testing.T, api *fakeAPI) (*Bot, *fakeSender) {
	sender := &fakeSender{}
	return &Bot{
		sender:  sender,
		service: api,
		logger:  zaptest.NewLogger(t),
		now:     func() time.Time { return time.Date(2024, time.February, 20, 9, 0, 0, 0, time.UTC) },
	}, sender
}

func textMessage(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 10,
		From:      &tgbotapi.User{ID: 42},
		Chat:      &tgbotapi.Chat{ID: 100},
		Text:      text,
	}
}

func commandMessage(command string) *tgbotapi.Message {
	msg := textMessage(command)
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command)}}
	return msg
}

func TestHandleMessage_RecordsExpense(t *testing.T) {
	api := &fakeAPI{}
	b, sender := newTestBot(t, api)

	b.handleMessage(context.Background(), textMessage("Pizza 25.50"))

	assert.Equal(t, []string{"42:Pizza 25.50"}, api.added)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "✅ Food expense added: Pizza (25.50)", sender.sent[0].Text)
	assert.Equal(t, 10, sender.sent[0].ReplyToMessageID)
	assert.Equal(t, int64(100), sender.sent[0].ChatID)
}

func TestHandleMessage_Errors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantReply bool
	}{
		{name: "not an expense", err: ErrNotAnExpense},
		{name: "unauthorized", err: ErrUnauthorized},
		{name: "service failure", err: errors.New("expense service error 500"), wantReply: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, sender := newTestBot(t, &fakeAPI{addErr: tt.err})
			b.handleMessage(context.Background(), textMessage("hello"))

			if !tt.wantReply {
				assert.Empty(t, sender.sent)
				return
			}
			require.Len(t, sender.sent, 1)
			assert.Contains(t, sender.sent[0].Text, "Sorry")
		})
	}
}

func TestHandleMessage_IgnoresEmpty(t *testing.T) {
	api := &fakeAPI{}
	b, sender := newTestBot(t, api)

	b.handleMessage(context.Background(), textMessage("   "))
	msg := textMessage("Pizza 10")
	msg.From = nil
	b.handleMessage(context.Background(), msg)

	assert.Empty(t, api.added)
	assert.Empty(t, sender.sent)
}

func TestCommands(t *testing.T) {
	api := &fakeAPI{
		recent: []Expense{{Description: "Taxi", Amount: decimal.NewFromInt(15), Category: "Transportation", AddedAt: time.Date(2024, time.January, 20, 0, 0, 0, 0, time.UTC)}},
		summary: &Summary{
			TotalExpenses:              decimal.RequireFromString("40.5"),
			CategoryBreakdown:          []CategoryTotal{{Category: "Food", Total: decimal.RequireFromString("25.5")}},
			MonthlyVariationPercentage: -25.93,
		},
	}
	b, sender := newTestBot(t, api)
	ctx := context.Background()

	b.handleMessage(ctx, commandMessage("/help"))
	b.handleMessage(ctx, commandMessage("/recent"))
	b.handleMessage(ctx, commandMessage("/summary"))
	b.handleMessage(ctx, commandMessage("/unknown"))

	require.Len(t, sender.sent, 4)
	assert.Contains(t, sender.sent[0].Text, "/recent")
	assert.Contains(t, sender.sent[1].Text, "*15\\.00* Transportation")
	assert.Equal(t, tgbotapi.ModeMarkdownV2, sender.sent[1].ParseMode)
	assert.Contains(t, sender.sent[2].Text, "Total: *40\\.50*")
	assert.Contains(t, sender.sent[2].Text, "\\-25\\.93%")
	assert.Contains(t, sender.sent[3].Text, "Unknown command")

	assert.Equal(t, "2024-02-01", api.start.String())
	assert.Equal(t, "2024-02-20", api.end.String())
	assert.Empty(t, api.added)
}

func TestSummary_NoExpenses(t *testing.T) {
	b, sender := newTestBot(t, &fakeAPI{summaryErr: ErrNotFound})
	b.handleMessage(context.Background(), commandMessage("/summary"))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "You don't have any expenses yet.", sender.sent[0].Text)
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `\#Food\_Delivery 12\.50 \(tip\)\!`, escapeMarkdown("#Food_Delivery 12.50 (tip)!"))
}

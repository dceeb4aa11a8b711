package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/expense-bot/internal/models"
	"github.com/xaenox/expense-bot/internal/money"
)

const (
	recentLimit    = 5
	handlerTimeout = 30 * time.Second
)

// Sender delivers outgoing messages; *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Bot struct {
	api     *tgbotapi.BotAPI
	sender  Sender
	service ExpenseAPI
	logger  *zap.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

func New(token string, service ExpenseAPI, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		api:     api,
		sender:  api,
		service: service,
		logger:  logger.Named("bot"),
		now:     time.Now,
	}, nil
}

// Start checks the expense service, then long-polls Telegram until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.service.Health(ctx); err != nil {
		return err
	}
	b.logger.Info("Bot started", zap.String("username", b.api.Self.UserName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			b.logger.Info("Bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return nil
			}
			if update.Message == nil {
				continue
			}

			b.wg.Add(1)
			go func(message *tgbotapi.Message) {
				defer b.wg.Done()
				b.handleMessage(ctx, message)
			}(update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil || message.Chat == nil || strings.TrimSpace(message.Text) == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	// Handle commands
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	telegramID := strconv.FormatInt(message.From.ID, 10)
	b.logger.Info("Message received", zap.String("telegram_id", telegramID))

	expense, err := b.service.AddExpense(ctx, telegramID, message.Text)
	if err != nil {
		b.handleError(message.Chat.ID, telegramID, err)
		return
	}

	b.logger.Info("Expense recorded",
		zap.String("telegram_id", telegramID),
		zap.Int64("expense_id", expense.ID),
		zap.String("category", expense.Category))

	msg := tgbotapi.NewMessage(message.Chat.ID, formatExpenseAdded(expense))
	msg.ReplyToMessageID = message.MessageID
	b.send(msg)
}

// handleError stays silent for chatter and unknown users, as the API asks.
func (b *Bot) handleError(chatID int64, telegramID string, err error) {
	switch {
	case errors.Is(err, ErrNotAnExpense):
		b.logger.Info("Non-expense message ignored", zap.String("telegram_id", telegramID))
	case errors.Is(err, ErrUnauthorized):
		b.logger.Info("Unauthorized user ignored", zap.String("telegram_id", telegramID))
	default:
		b.logger.Error("Failed to process message",
			zap.Error(err),
			zap.String("telegram_id", telegramID))
		b.sendErrorMessage(chatID, "Sorry, I encountered an error processing your message. Please try again.")
	}
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "recent":
		b.handleRecent(ctx, message)
	case "summary":
		b.handleSummary(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to ExpenseBot! 💸
Send me what you spent, like "Pizza 25.50" or "taxi 12", and I'll record it with a category.

Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/recent - Show your last 5 expenses
/summary - Show this month's spending

Any other message with an amount is recorded as an expense.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleRecent(ctx context.Context, message *tgbotapi.Message) {
	telegramID := strconv.FormatInt(message.From.ID, 10)

	expenses, err := b.service.RecentExpenses(ctx, telegramID, recentLimit)
	if err != nil && !errors.Is(err, ErrNotFound) {
		b.logger.Error("Failed to get recent expenses",
			zap.Error(err),
			zap.String("telegram_id", telegramID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your expenses.")
		return
	}

	if len(expenses) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any expenses yet.")
		return
	}

	b.sendMarkdown(message.Chat.ID, formatRecent(expenses))
}

func (b *Bot) handleSummary(ctx context.Context, message *tgbotapi.Message) {
	telegramID := strconv.FormatInt(message.From.ID, 10)

	now := b.now().UTC()
	start := models.NewDate(now.Year(), now.Month(), 1)
	end := models.NewDate(now.Year(), now.Month(), now.Day())

	summary, err := b.service.Summary(ctx, telegramID, start, end)
	if errors.Is(err, ErrNotFound) {
		b.sendMessage(message.Chat.ID, "You don't have any expenses yet.")
		return
	}
	if err != nil {
		b.logger.Error("Failed to get summary",
			zap.Error(err),
			zap.String("telegram_id", telegramID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't build your summary.")
		return
	}

	b.sendMarkdown(message.Chat.ID, formatSummary(now, summary))
}

func formatExpenseAdded(expense *Expense) string {
	return fmt.Sprintf("✅ %s expense added: %s (%s)",
		expense.Category, expense.Description, money.Format(expense.Amount))
}

func formatRecent(expenses []Expense) string {
	var sb strings.Builder
	sb.WriteString("*Your recent expenses:*\n\n")
	for _, expense := range expenses {
		sb.WriteString(fmt.Sprintf("*%s* %s\n", escapeMarkdown(money.Format(expense.Amount)), escapeMarkdown(expense.Category)))
		sb.WriteString(fmt.Sprintf("_%s_\n", escapeMarkdown(expense.Description)))
		sb.WriteString(escapeMarkdown(expense.AddedAt.UTC().Format(models.DateLayout)) + "\n\n")
	}
	return sb.String()
}

func formatSummary(now time.Time, summary *Summary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*%s*\n", escapeMarkdown(now.Format("January 2006"))))
	sb.WriteString(fmt.Sprintf("Total: *%s*\n", escapeMarkdown(money.Format(summary.TotalExpenses))))

	if len(summary.CategoryBreakdown) > 0 {
		sb.WriteString("\n")
		for _, item := range summary.CategoryBreakdown {
			formattedCategory := "#" + strings.ReplaceAll(item.Category, " ", "_")
			sb.WriteString(fmt.Sprintf("%s %s\n", escapeMarkdown(formattedCategory), escapeMarkdown(money.Format(item.Total))))
		}
	}

	if summary.MonthlyVariationPercentage != 0 {
		variation := strconv.FormatFloat(summary.MonthlyVariationPercentage, 'f', 2, 64)
		if summary.MonthlyVariationPercentage > 0 {
			variation = "+" + variation
		}
		sb.WriteString(fmt.Sprintf("\nVs last month: %s%%\n", escapeMarkdown(variation)))
	}
	return sb.String()
}

// escapeMarkdown escapes the characters MarkdownV2 reserves.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	b.send(msg)
}

func (b *Bot) sendMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, "⚠️ "+text))
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", msg.ChatID))
	}
}

package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/wenwu/saas-platform/access-service/internal/models"
	"github.com/wenwu/saas-platform/access-service/internal/service"
)

const warningSeparator = "\n\n⚠️ "

// Resolver approves or rejects purchase requests
type Resolver interface {
	Approve(ctx context.Context, requestID string) (*models.Grant, error)
	Reject(ctx context.Context, requestID string) (*models.PurchaseRequest, error)
}

// Bot turns the admin's button presses into approve and reject calls
type Bot struct {
	api         *tgbotapi.BotAPI
	out         sender
	adminChatID int64
	resolver    Resolver
	now         func() time.Time
}

func NewBot(api *tgbotapi.BotAPI, adminChatID int64, resolver Resolver) *Bot {
	return &Bot{api: api, out: api, adminChatID: adminChatID, resolver: resolver, now: time.Now}
}

func (b *Bot) Run(ctx context.Context) error {
	upd := tgbotapi.NewUpdate(0)
	upd.Timeout = 30
	updates := b.api.GetUpdatesChan(upd)
	defer b.api.StopReceivingUpdates()

	log.Printf("[Telegram] Listening for approver callbacks as @%s", b.api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.CallbackQuery != nil {
				b.handleCallback(ctx, u.CallbackQuery)
			}
		}
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.Message == nil || q.Message.Chat == nil {
		return
	}
	chatID := q.Message.Chat.ID

	// Only admin can resolve requests
	if chatID != b.adminChatID {
		b.answerCallback(q.ID, "Access denied")
		return
	}

	action, requestID, err := parseCallback(q.Data)
	if err != nil {
		log.Printf("[Telegram] %v", err)
		b.answerCallback(q.ID, "Unknown action")
		return
	}
	b.answerCallback(q.ID, "")

	switch action {
	case actionApprove:
		_, err = b.resolver.Approve(ctx, requestID)
	case actionReject:
		_, err = b.resolver.Reject(ctx, requestID)
	}

	switch {
	case err == nil, errors.Is(err, service.ErrRequestNotFound):
		b.deleteMessage(chatID, q.Message.MessageID)
	case errors.Is(err, service.ErrNodeUnreachable):
		b.markWarning(q.Message, fmt.Sprintf("Server unreachable. Last attempt: %s", b.now().Format("15:04:05 02.01.2006")))
	default:
		log.Printf("[Telegram] Resolving %s failed: %v", requestID, err)
		b.markWarning(q.Message, err.Error())
	}
}

// markWarning rewrites the prompt with a warning line and keeps the buttons for a retry
func (b *Bot) markWarning(m *tgbotapi.Message, warning string) {
	base, _, _ := strings.Cut(m.Text, warningSeparator)
	text := base + warningSeparator + warning
	var edit tgbotapi.EditMessageTextConfig
	if m.ReplyMarkup != nil {
		edit = tgbotapi.NewEditMessageTextAndMarkup(m.Chat.ID, m.MessageID, text, *m.ReplyMarkup)
	} else {
		edit = tgbotapi.NewEditMessageText(m.Chat.ID, m.MessageID, text)
	}
	if _, err := b.out.Send(edit); err != nil {
		log.Printf("[Telegram] Failed to edit message %d: %v", m.MessageID, err)
	}
}

func (b *Bot) deleteMessage(chatID int64, messageID int) {
	if _, err := b.out.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		log.Printf("[Telegram] Failed to delete message %d: %v", messageID, err)
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.out.Request(tgbotapi.NewCallback(id, text)); err != nil {
		log.Printf("[Telegram] Failed to answer callback: %v", err)
	}
}

package telegram

import (
	"context"
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/wenwu/saas-platform/access-service/internal/models"
)

// sender is the part of *tgbotapi.BotAPI used for outgoing calls
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Notifier sends requester messages, operator alerts and approval prompts
type Notifier struct {
	api         sender
	adminChatID int64
}

func NewNotifier(api *tgbotapi.BotAPI, adminChatID int64) *Notifier {
	return &Notifier{api: api, adminChatID: adminChatID}
}

func (n *Notifier) SendText(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

func (n *Notifier) SendImage(ctx context.Context, chatID int64, png []byte, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "vless_link.png", Bytes: png})
	photo.Caption = caption
	if _, err := n.api.Send(photo); err != nil {
		return fmt.Errorf("send photo to %d: %w", chatID, err)
	}
	return nil
}

// Alert messages the admin chat
func (n *Notifier) Alert(ctx context.Context, text string) error {
	log.Printf("[Telegram] Alert: %s", text)
	return n.SendText(ctx, n.adminChatID, text)
}

// RequestApproval shows a pending request to the admin with approve and reject buttons
func (n *Notifier) RequestApproval(ctx context.Context, req *models.PurchaseRequest, server models.ServerNode, plan models.Plan) error {
	text := fmt.Sprintf("🛒 New purchase request\n\n"+
		"User: %s (%d)\n"+
		"Server: %s %s, %s\n"+
		"Address: %s\n"+
		"Plan: %s, %d month(s), %d\n"+
		"Request: %s",
		req.DisplayName(), req.RequesterID,
		server.FlagEmoji(), server.Alias, server.Location,
		server.Address,
		plan.Title, plan.DurationMonths, plan.Price,
		req.RequestID)

	msg := tgbotapi.NewMessage(n.adminChatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", callbackData(actionApprove, req.RequestID)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", callbackData(actionReject, req.RequestID)),
		),
	)
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("send approval prompt: %w", err)
	}
	return nil
}

func (n *Notifier) RequestNotFound(ctx context.Context, requestID string) error {
	return n.SendText(ctx, n.adminChatID,
		fmt.Sprintf("❌ Request %s was not found. It may have been removed by the scheduler.", requestID))
}

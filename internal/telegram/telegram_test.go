package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/wenwu/saas-platform/access-service/internal/client"
	"github.com/wenwu/saas-platform/access-service/internal/models"
	"github.com/wenwu/saas-platform/access-service/internal/service"
)

const adminChat = int64(1879326595)

type recordingSender struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  error
}

func (r *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	r.sent = append(r.sent, c)
	return tgbotapi.Message{}, r.sendErr
}

func (r *recordingSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	r.requests = append(r.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type fakeResolver struct {
	approved []string
	rejected []string
	err      error
}

func (f *fakeResolver) Approve(ctx context.Context, requestID string) (*models.Grant, error) {
	f.approved = append(f.approved, requestID)
	return &models.Grant{}, f.err
}

func (f *fakeResolver) Reject(ctx context.Context, requestID string) (*models.PurchaseRequest, error) {
	f.rejected = append(f.rejected, requestID)
	return &models.PurchaseRequest{}, f.err
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data       string
		wantAction string
		wantID     string
		wantErr    bool
	}{
		{"r-ac:3f1c", actionApprove, "3f1c", false},
		{"r-rj:3f1c", actionReject, "3f1c", false},
		{"r-ac:", "", "", true},
		{"menu", "", "", true},
		{"x-yz:3f1c", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			action, id, err := parseCallback(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if action != tt.wantAction || id != tt.wantID {
				t.Errorf("got (%q, %q)", action, id)
			}
		})
	}
}

func TestRequestApprovalHasButtons(t *testing.T) {
	out := &recordingSender{}
	n := &Notifier{api: out, adminChatID: adminChat}
	name := "alice"
	req := &models.PurchaseRequest{RequestID: "3f1c", RequesterID: 7, RequesterName: &name}
	server := models.ServerNode{ID: 1, Alias: "Paris-1", Address: "10.0.0.1", Location: "Paris", Flag: "FR"}
	plan := models.Plan{ID: 1, Title: "1 month", Price: 150, DurationMonths: 1}

	if err := n.RequestApproval(context.Background(), req, server, plan); err != nil {
		t.Fatalf("request approval: %v", err)
	}
	if len(out.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(out.sent))
	}
	msg := out.sent[0].(tgbotapi.MessageConfig)
	if msg.ChatID != adminChat {
		t.Errorf("prompt must go to the admin chat, got %d", msg.ChatID)
	}
	if !strings.Contains(msg.Text, "alice") || !strings.Contains(msg.Text, "10.0.0.1") {
		t.Errorf("prompt missing details: %q", msg.Text)
	}
	kb := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	row := kb.InlineKeyboard[0]
	if *row[0].CallbackData != "r-ac:3f1c" || *row[1].CallbackData != "r-rj:3f1c" {
		t.Errorf("unexpected callback data %q %q", *row[0].CallbackData, *row[1].CallbackData)
	}
}

func TestSendImageUsesFileBytes(t *testing.T) {
	out := &recordingSender{}
	n := &Notifier{api: out, adminChatID: adminChat}

	if err := n.SendImage(context.Background(), 7, []byte("png"), "caption"); err != nil {
		t.Fatalf("send image: %v", err)
	}
	photo := out.sent[0].(tgbotapi.PhotoConfig)
	if photo.ChatID != 7 || photo.Caption != "caption" {
		t.Errorf("unexpected photo %+v", photo)
	}
	if fb, ok := photo.File.(tgbotapi.FileBytes); !ok || string(fb.Bytes) != "png" {
		t.Errorf("unexpected file %#v", photo.File)
	}

	out.sendErr = errors.New("Forbidden: bot was blocked by the user")
	if err := n.SendImage(context.Background(), 7, []byte("png"), ""); err == nil {
		t.Error("expected send error to surface")
	}
}

func TestAlertGoesToAdmin(t *testing.T) {
	out := &recordingSender{}
	n := &Notifier{api: out, adminChatID: adminChat}
	_ = n.Alert(context.Background(), "node down")
	if msg := out.sent[0].(tgbotapi.MessageConfig); msg.ChatID != adminChat {
		t.Errorf("alert sent to %d", msg.ChatID)
	}
}

func newTestBot(resolver Resolver) (*Bot, *recordingSender) {
	out := &recordingSender{}
	return &Bot{
		out:         out,
		adminChatID: adminChat,
		resolver:    resolver,
		now:         func() time.Time { return time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC) },
	}, out
}

func callbackFrom(chatID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:   "cb-1",
		Data: data,
		Message: &tgbotapi.Message{
			MessageID: 42,
			Chat:      &tgbotapi.Chat{ID: chatID},
			Text:      "🛒 New purchase request",
			ReplyMarkup: &tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{
				{tgbotapi.NewInlineKeyboardButtonData("✅ Approve", "r-ac:3f1c")},
			}},
		},
	}
}

func TestCallbackFromOtherChatIgnored(t *testing.T) {
	resolver := &fakeResolver{}
	bot, out := newTestBot(resolver)

	bot.handleCallback(context.Background(), callbackFrom(12345, "r-ac:3f1c"))

	if len(resolver.approved) != 0 {
		t.Error("non-admin callback must not resolve")
	}
	if len(out.requests) != 1 {
		t.Errorf("expected only the callback answer, got %d requests", len(out.requests))
	}
}

func TestCallbackOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		err        error
		wantDelete bool
		wantEdit   string
	}{
		{"approved", "r-ac:3f1c", nil, true, ""},
		{"rejected", "r-rj:3f1c", nil, true, ""},
		{"not found", "r-ac:3f1c", service.ErrRequestNotFound, true, ""},
		{"unreachable", "r-ac:3f1c", fmt.Errorf("%w: 10.0.0.1 /add", client.ErrNodeUnreachable), false, "Server unreachable. Last attempt: 14:30:00 01.03.2026"},
		{"delivery failed", "r-ac:3f1c", service.ErrDeliveryFailed, false, "credential delivery failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &fakeResolver{err: tt.err}
			bot, out := newTestBot(resolver)

			bot.handleCallback(context.Background(), callbackFrom(adminChat, tt.data))

			if len(resolver.approved)+len(resolver.rejected) != 1 {
				t.Fatalf("expected exactly one resolution")
			}

			var deleted bool
			for _, r := range out.requests {
				if d, ok := r.(tgbotapi.DeleteMessageConfig); ok && d.MessageID == 42 {
					deleted = true
				}
			}
			if deleted != tt.wantDelete {
				t.Errorf("deleted = %v, want %v", deleted, tt.wantDelete)
			}

			if tt.wantEdit == "" {
				if len(out.sent) != 0 {
					t.Errorf("unexpected edits %+v", out.sent)
				}
				return
			}
			if len(out.sent) != 1 {
				t.Fatalf("expected one edit, got %d", len(out.sent))
			}
			edit := out.sent[0].(tgbotapi.EditMessageTextConfig)
			if !strings.HasSuffix(edit.Text, tt.wantEdit) {
				t.Errorf("edit text %q does not end with %q", edit.Text, tt.wantEdit)
			}
			if edit.ReplyMarkup == nil {
				t.Error("buttons must be kept for a retry")
			}
		})
	}
}

func TestRepeatedWarningReplacesPrevious(t *testing.T) {
	resolver := &fakeResolver{err: client.ErrNodeUnreachable}
	bot, out := newTestBot(resolver)

	q := callbackFrom(adminChat, "r-ac:3f1c")
	q.Message.Text = "🛒 New purchase request" + warningSeparator + "Server unreachable. Last attempt: 10:00:00 01.03.2026"
	bot.handleCallback(context.Background(), q)

	edit := out.sent[0].(tgbotapi.EditMessageTextConfig)
	if strings.Count(edit.Text, "Server unreachable") != 1 {
		t.Errorf("warnings accumulated: %q", edit.Text)
	}
}

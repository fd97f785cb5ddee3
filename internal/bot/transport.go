package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nexus-bot/internal/notify"
)

// API is the part of *tgbotapi.BotAPI the transport uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Transport delivers workflow output through the Bot API. All text is HTML.
type Transport struct {
	api API
}

func NewTransport(api API) *Transport {
	return &Transport{api: api}
}

func (t *Transport) SendToUser(ctx context.Context, userID int64, text string, kb notify.Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(userID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	markup, err := InlineKeyboard(kb)
	if err != nil {
		return err
	}
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	_, err = t.api.Send(msg)
	return err
}

func (t *Transport) SendToApprover(ctx context.Context, approverID int64, p notify.ApprovalPayload) (notify.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return notify.MessageRef{}, err
	}
	markup, err := InlineKeyboard(p.Keyboard)
	if err != nil {
		return notify.MessageRef{}, err
	}

	var c tgbotapi.Chattable
	switch p.Evidence.Kind {
	case notify.EvidenceDocument:
		doc := tgbotapi.NewDocument(approverID, tgbotapi.FileID(p.Evidence.FileID))
		doc.Caption = p.Caption
		doc.ParseMode = tgbotapi.ModeHTML
		if markup != nil {
			doc.ReplyMarkup = markup
		}
		c = doc
	case notify.EvidencePhoto, "":
		photo := tgbotapi.NewPhoto(approverID, tgbotapi.FileID(p.Evidence.FileID))
		photo.Caption = p.Caption
		photo.ParseMode = tgbotapi.ModeHTML
		if markup != nil {
			photo.ReplyMarkup = markup
		}
		c = photo
	default:
		return notify.MessageRef{}, fmt.Errorf("unsupported evidence kind %q", p.Evidence.Kind)
	}

	sent, err := t.api.Send(c)
	if err != nil {
		return notify.MessageRef{}, err
	}
	return notify.MessageRef{ChatID: approverID, MessageID: sent.MessageID, Caption: p.Caption}, nil
}

// Annotate rewrites the caption with appended text. The edit also drops the
// decision buttons.
func (t *Transport) Annotate(ctx context.Context, ref notify.MessageRef, appended string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageCaption(ref.ChatID, ref.MessageID, ref.Caption+appended)
	edit.ParseMode = tgbotapi.ModeHTML
	_, err := t.api.Request(edit)
	return err
}

func (t *Transport) Acknowledge(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cb := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cb = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	_, err := t.api.Request(cb)
	return err
}

// SendText sends plain text without markup. Used for alerts.
func (t *Transport) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// SendReply sends HTML text with a reply keyboard.
func (t *Transport) SendReply(ctx context.Context, chatID int64, text string, kb tgbotapi.ReplyKeyboardMarkup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = kb
	_, err := t.api.Send(msg)
	return err
}

// SendFile uploads a local file as a document.
func (t *Transport) SendFile(ctx context.Context, chatID int64, path, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = caption
	_, err := t.api.Send(doc)
	return err
}

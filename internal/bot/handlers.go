package bot

import (
	"context"
	"html"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"nexus-bot/internal/action"
	"nexus-bot/internal/admin"
	"nexus-bot/internal/approval"
	"nexus-bot/internal/logger"
	"nexus-bot/internal/notify"
	"nexus-bot/internal/subscription"
	"nexus-bot/internal/workflow"
)

// Flow is the event surface of workflow.Orchestrator.
type Flow interface {
	OnStart(ctx context.Context, u workflow.User)
	OnMainMenu(ctx context.Context, u workflow.User)
	OnBuyMenu(ctx context.Context, u workflow.User)
	OnPlanSelected(ctx context.Context, u workflow.User, plan subscription.PlanID)
	OnEvidenceSubmitted(ctx context.Context, u workflow.User, ev notify.Evidence)
	OnCancel(ctx context.Context, u workflow.User)
	OnApproverDecision(ctx context.Context, d workflow.Decision)
	OnStatus(ctx context.Context, u workflow.User)
	OnHelp(ctx context.Context, u workflow.User)
	OnQuestion(ctx context.Context, u workflow.User, text string)
}

// AdminConsole runs /admin_* commands.
type AdminConsole interface {
	Handle(ctx context.Context, approverID int64, command, args string) admin.Reply
}

// Outbox is what the handler sends directly, outside the workflow.
type Outbox interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendReply(ctx context.Context, chatID int64, text string, kb tgbotapi.ReplyKeyboardMarkup) error
	SendFile(ctx context.Context, chatID int64, path, caption string) error
	Acknowledge(ctx context.Context, callbackID, text string, alert bool) error
}

const (
	msgSlowDown       = "Please slow down! Wait a couple of seconds..."
	msgUnknownCommand = "Unknown command. Use /help to see what I can do."
	msgUnknownAction  = "This button is no longer valid."
)

type Handler struct {
	flow       Flow
	console    AdminConsole
	out        Outbox
	limiter    *RateLimiter
	isApprover func(int64) bool
	log        *zap.Logger
}

func NewHandler(flow Flow, console AdminConsole, out Outbox, isApprover func(int64) bool, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if isApprover == nil {
		isApprover = func(int64) bool { return false }
	}
	return &Handler{
		flow:       flow,
		console:    console,
		out:        out,
		limiter:    NewRateLimiter(isApprover),
		isApprover: isApprover,
		log:        log,
	}
}

// HandleUpdate routes one update. Panics are recovered and reported.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer logger.NotifyOnPanic("update handler")

	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		h.handleMessage(ctx, update.Message)
	}
}

func (h *Handler) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil {
		return
	}
	act, err := action.Decode(cq.Data)
	if err != nil {
		h.log.Warn("malformed callback data", zap.Int64("user_id", cq.From.ID), zap.String("data", cq.Data), zap.Error(err))
		h.ack(ctx, cq.ID, msgUnknownAction, false)
		return
	}

	if act.Kind.IsDecision() {
		d := workflow.Decision{
			Action:     act,
			Approver:   approval.Approver{ID: cq.From.ID, Name: cq.From.FirstName},
			CallbackID: cq.ID,
		}
		if cq.Message != nil && cq.Message.Chat != nil {
			d.Origin = notify.MessageRef{
				ChatID:    cq.Message.Chat.ID,
				MessageID: cq.Message.MessageID,
				Caption:   html.EscapeString(cq.Message.Caption),
			}
		}
		h.flow.OnApproverDecision(ctx, d)
		return
	}

	// stop the button spinner before doing the work
	h.ack(ctx, cq.ID, "", false)
	u := userOf(cq.From)
	switch act.Kind {
	case action.KindBuyMenu:
		h.flow.OnBuyMenu(ctx, u)
	case action.KindMainMenu:
		h.flow.OnMainMenu(ctx, u)
	case action.KindSelectPlan:
		h.flow.OnPlanSelected(ctx, u, act.PlanID)
	case action.KindCancel:
		h.flow.OnCancel(ctx, u)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	u := userOf(msg.From)

	if ev, ok := evidenceOf(msg); ok {
		if h.limiter.IsLimited(u.ID, "evidence") {
			return
		}
		h.flow.OnEvidenceSubmitted(ctx, u, ev)
		return
	}
	if msg.Text == "" {
		return
	}

	if !msg.IsCommand() {
		if h.limiter.IsLimited(u.ID, "question") {
			h.send(ctx, u.ID, msgSlowDown)
			return
		}
		h.flow.OnQuestion(ctx, u, msg.Text)
		return
	}

	cmd := msg.Command()
	if h.limiter.IsLimited(u.ID, "/"+cmd) {
		h.send(ctx, u.ID, msgSlowDown)
		return
	}

	if strings.HasPrefix(cmd, "admin_") && h.isApprover(u.ID) {
		h.handleAdmin(ctx, msg.Chat.ID, u.ID, cmd, msg.CommandArguments())
		return
	}

	switch cmd {
	case "start":
		h.flow.OnStart(ctx, u)
	case "buy":
		h.flow.OnBuyMenu(ctx, u)
	case "status":
		h.flow.OnStatus(ctx, u)
	case "cancel":
		h.flow.OnCancel(ctx, u)
	case "help":
		h.flow.OnHelp(ctx, u)
		if err := h.out.SendReply(ctx, u.ID, "Quick commands are on the keyboard below.", GetReplyKeyboard(h.isApprover(u.ID))); err != nil {
			h.log.Warn("failed to send reply keyboard", zap.Int64("user_id", u.ID), zap.Error(err))
		}
	default:
		h.send(ctx, u.ID, msgUnknownCommand)
	}
}

func (h *Handler) handleAdmin(ctx context.Context, chatID, approverID int64, cmd, args string) {
	reply := h.console.Handle(ctx, approverID, cmd, args)
	if reply.File != "" {
		defer os.Remove(reply.File)
		if err := h.out.SendFile(ctx, chatID, reply.File, reply.Text); err != nil {
			logger.Error("failed to send backup file", err, zap.Int64("chat_id", chatID))
			h.send(ctx, chatID, "Failed to upload the file: "+err.Error())
		}
		return
	}
	if err := h.out.SendReply(ctx, chatID, reply.Text, GetReplyKeyboard(true)); err != nil {
		h.log.Warn("failed to send admin reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// ForgetIdle drops rate limiter entries unused for maxIdle.
func (h *Handler) ForgetIdle(maxIdle time.Duration) int {
	return h.limiter.Forget(maxIdle)
}

func (h *Handler) send(ctx context.Context, chatID int64, text string) {
	if err := h.out.SendText(ctx, chatID, text); err != nil {
		h.log.Warn("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (h *Handler) ack(ctx context.Context, id, text string, alert bool) {
	if err := h.out.Acknowledge(ctx, id, text, alert); err != nil {
		h.log.Debug("failed to answer callback", zap.Error(err))
	}
}

func userOf(from *tgbotapi.User) workflow.User {
	full := strings.TrimSpace(from.FirstName + " " + from.LastName)
	return workflow.User{
		ID:        from.ID,
		FullName:  full,
		FirstName: from.FirstName,
		Username:  from.UserName,
	}
}

// evidenceOf extracts a payment receipt: the largest photo size, or an image
// sent as a file.
func evidenceOf(msg *tgbotapi.Message) (notify.Evidence, bool) {
	if n := len(msg.Photo); n > 0 {
		p := msg.Photo[n-1]
		return notify.Evidence{Kind: notify.EvidencePhoto, FileID: p.FileID, UniqueID: p.FileUniqueID}, true
	}
	if d := msg.Document; d != nil && strings.HasPrefix(d.MimeType, "image/") {
		return notify.Evidence{Kind: notify.EvidenceDocument, FileID: d.FileID, UniqueID: d.FileUniqueID}, true
	}
	return notify.Evidence{}, false
}

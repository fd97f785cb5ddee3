package bot

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-bot/internal/action"
	"nexus-bot/internal/admin"
	"nexus-bot/internal/notify"
	"nexus-bot/internal/subscription"
	"nexus-bot/internal/workflow"
)

const approverID int64 = 900

type call struct {
	Event    string
	User     workflow.User
	Plan     subscription.PlanID
	Evidence notify.Evidence
	Decision workflow.Decision
	Text     string
}

type fakeFlow struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeFlow) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeFlow) OnStart(_ context.Context, u workflow.User) { f.record(call{Event: "start", User: u}) }
func (f *fakeFlow) OnMainMenu(_ context.Context, u workflow.User) {
	f.record(call{Event: "menu", User: u})
}
func (f *fakeFlow) OnBuyMenu(_ context.Context, u workflow.User) { f.record(call{Event: "buy", User: u}) }
func (f *fakeFlow) OnPlanSelected(_ context.Context, u workflow.User, p subscription.PlanID) {
	f.record(call{Event: "plan", User: u, Plan: p})
}
func (f *fakeFlow) OnEvidenceSubmitted(_ context.Context, u workflow.User, ev notify.Evidence) {
	f.record(call{Event: "evidence", User: u, Evidence: ev})
}
func (f *fakeFlow) OnCancel(_ context.Context, u workflow.User) { f.record(call{Event: "cancel", User: u}) }
func (f *fakeFlow) OnApproverDecision(_ context.Context, d workflow.Decision) {
	f.record(call{Event: "decision", Decision: d})
}
func (f *fakeFlow) OnStatus(_ context.Context, u workflow.User) { f.record(call{Event: "status", User: u}) }
func (f *fakeFlow) OnHelp(_ context.Context, u workflow.User)   { f.record(call{Event: "help", User: u}) }
func (f *fakeFlow) OnQuestion(_ context.Context, u workflow.User, text string) {
	f.record(call{Event: "question", User: u, Text: text})
}

func (f *fakeFlow) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Event)
	}
	return out
}

type fakeConsole struct {
	reply admin.Reply
	got   []string
}

func (c *fakeConsole) Handle(_ context.Context, _ int64, command, args string) admin.Reply {
	c.got = append(c.got, command+" "+args)
	return c.reply
}

type outMsg struct {
	ChatID int64
	Text   string
	File   string
}

type fakeOutbox struct {
	mu   sync.Mutex
	msgs []outMsg
	acks []string
}

func (o *fakeOutbox) SendText(_ context.Context, chatID int64, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, outMsg{ChatID: chatID, Text: text})
	return nil
}

func (o *fakeOutbox) SendReply(_ context.Context, chatID int64, text string, _ tgbotapi.ReplyKeyboardMarkup) error {
	return o.SendText(context.Background(), chatID, text)
}

func (o *fakeOutbox) SendFile(_ context.Context, chatID int64, path, caption string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, outMsg{ChatID: chatID, Text: caption, File: path})
	return nil
}

func (o *fakeOutbox) Acknowledge(_ context.Context, id, text string, _ bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acks = append(o.acks, id+":"+text)
	return nil
}

func newHandler() (*Handler, *fakeFlow, *fakeConsole, *fakeOutbox) {
	flow := &fakeFlow{}
	console := &fakeConsole{reply: admin.Reply{Text: "ok"}}
	out := &fakeOutbox{}
	h := NewHandler(flow, console, out, func(id int64) bool { return id == approverID }, nil)
	return h, flow, console, out
}

func textUpdate(from int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: from, FirstName: "Ali", LastName: "Valiyev", UserName: "ali"},
		Chat:      &tgbotapi.Chat{ID: from},
		Text:      text,
	}
	if len(text) > 0 && text[0] == '/' {
		end := len(text)
		for i, r := range text {
			if r == ' ' {
				end = i
				break
			}
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: end}}
	}
	return tgbotapi.Update{Message: msg}
}

func callbackUpdate(from int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb1",
		From: &tgbotapi.User{ID: from, FirstName: "Boss"},
		Message: &tgbotapi.Message{
			MessageID: 77,
			Chat:      &tgbotapi.Chat{ID: from},
			Caption:   "New payment <x>",
		},
		Data: data,
	}}
}

func TestCommandsRouteToFlow(t *testing.T) {
	h, flow, _, out := newHandler()
	ctx := context.Background()

	for _, text := range []string{"/start", "/buy", "/status", "/cancel", "/help"} {
		h.HandleUpdate(ctx, textUpdate(1, text))
	}
	assert.Equal(t, []string{"start", "buy", "status", "cancel", "help"}, flow.events())
	assert.Equal(t, "Ali Valiyev", flow.calls[0].User.FullName)
	assert.Equal(t, "ali", flow.calls[0].User.Username)

	h.HandleUpdate(ctx, textUpdate(1, "/nope"))
	assert.Equal(t, msgUnknownCommand, out.msgs[len(out.msgs)-1].Text)
}

func TestRateLimitedCommand(t *testing.T) {
	h, flow, _, out := newHandler()
	ctx := context.Background()
	h.HandleUpdate(ctx, textUpdate(1, "/buy"))
	h.HandleUpdate(ctx, textUpdate(1, "/buy"))

	assert.Equal(t, []string{"buy"}, flow.events())
	assert.Equal(t, msgSlowDown, out.msgs[len(out.msgs)-1].Text)
}

func TestTextIsAQuestion(t *testing.T) {
	h, flow, _, _ := newHandler()
	h.HandleUpdate(context.Background(), textUpdate(1, "what is the weather?"))
	require.Len(t, flow.calls, 1)
	assert.Equal(t, "question", flow.calls[0].Event)
	assert.Equal(t, "what is the weather?", flow.calls[0].Text)
}

func TestPhotoIsEvidence(t *testing.T) {
	h, flow, _, _ := newHandler()
	u := textUpdate(1, "")
	u.Message.Photo = []tgbotapi.PhotoSize{
		{FileID: "small", FileUniqueID: "us"},
		{FileID: "large", FileUniqueID: "ul"},
	}
	h.HandleUpdate(context.Background(), u)

	require.Len(t, flow.calls, 1)
	assert.Equal(t, notify.Evidence{Kind: notify.EvidencePhoto, FileID: "large", UniqueID: "ul"}, flow.calls[0].Evidence)
}

func TestImageDocumentIsEvidence(t *testing.T) {
	h, flow, _, _ := newHandler()
	u := textUpdate(1, "")
	u.Message.Document = &tgbotapi.Document{FileID: "d", FileUniqueID: "ud", MimeType: "image/png"}
	h.HandleUpdate(context.Background(), u)

	require.Len(t, flow.calls, 1)
	assert.Equal(t, notify.EvidenceDocument, flow.calls[0].Evidence.Kind)

	u = textUpdate(2, "")
	u.Message.Document = &tgbotapi.Document{FileID: "z", MimeType: "application/zip"}
	h.HandleUpdate(context.Background(), u)
	assert.Len(t, flow.calls, 1)
}

func TestDecisionCallback(t *testing.T) {
	h, flow, _, out := newHandler()
	nonce := "0123456789abcdef0123456789abcdef"
	data := action.Approve(5, subscription.PlanMonthly, nonce).MustEncode()
	h.HandleUpdate(context.Background(), callbackUpdate(approverID, data))

	require.Len(t, flow.calls, 1)
	d := flow.calls[0].Decision
	assert.Equal(t, action.KindApprove, d.Action.Kind)
	assert.Equal(t, int64(5), d.Action.UserID)
	assert.Equal(t, nonce, d.Action.Nonce)
	assert.Equal(t, approverID, d.Approver.ID)
	assert.Equal(t, "Boss", d.Approver.Name)
	assert.Equal(t, "cb1", d.CallbackID)
	assert.Equal(t, notify.MessageRef{ChatID: approverID, MessageID: 77, Caption: "New payment &lt;x&gt;"}, d.Origin)
	assert.Empty(t, out.acks, "the workflow answers decision callbacks")
}

func TestMenuCallbacks(t *testing.T) {
	h, flow, _, out := newHandler()
	ctx := context.Background()
	h.HandleUpdate(ctx, callbackUpdate(1, action.BuyMenu().MustEncode()))
	h.HandleUpdate(ctx, callbackUpdate(1, action.SelectPlan(subscription.PlanDaily).MustEncode()))
	h.HandleUpdate(ctx, callbackUpdate(1, action.Cancel().MustEncode()))
	h.HandleUpdate(ctx, callbackUpdate(1, action.MainMenu().MustEncode()))

	assert.Equal(t, []string{"buy", "plan", "cancel", "menu"}, flow.events())
	assert.Equal(t, subscription.PlanDaily, flow.calls[1].Plan)
	assert.Len(t, out.acks, 4)
}

func TestMalformedCallback(t *testing.T) {
	h, flow, _, out := newHandler()
	h.HandleUpdate(context.Background(), callbackUpdate(1, "approve_5_daily"))
	assert.Empty(t, flow.events())
	assert.Equal(t, []string{"cb1:" + msgUnknownAction}, out.acks)
}

func TestAdminCommandsOnlyForApprovers(t *testing.T) {
	h, _, console, out := newHandler()
	ctx := context.Background()

	h.HandleUpdate(ctx, textUpdate(1, "/admin_stats"))
	assert.Empty(t, console.got)
	assert.Equal(t, msgUnknownCommand, out.msgs[len(out.msgs)-1].Text)

	h.HandleUpdate(ctx, textUpdate(approverID, "/admin_user 42"))
	assert.Equal(t, []string{"admin_user 42"}, console.got)
	assert.Equal(t, "ok", out.msgs[len(out.msgs)-1].Text)
}

func TestAdminFileReplyIsSentAndRemoved(t *testing.T) {
	h, _, console, out := newHandler()
	path := filepath.Join(t.TempDir(), "backup_x.dump")
	require.NoError(t, os.WriteFile(path, []byte("dump"), 0o600))
	console.reply = admin.Reply{Text: "Database backup created", File: path}

	h.HandleUpdate(context.Background(), textUpdate(approverID, "/admin_backup"))
	last := out.msgs[len(out.msgs)-1]
	assert.Equal(t, path, last.File)
	assert.NoFileExists(t, path)
}

type panicFlow struct{ fakeFlow }

func (p *panicFlow) OnStart(context.Context, workflow.User) { panic("boom") }

func TestHandlerRecoversPanics(t *testing.T) {
	h := NewHandler(&panicFlow{}, &fakeConsole{}, &fakeOutbox{}, nil, nil)
	assert.NotPanics(t, func() {
		h.HandleUpdate(context.Background(), textUpdate(1, "/start"))
	})
}

func TestDispatcherKeepsPerUserOrder(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int64][]int)
	d := NewDispatcher(4, func(_ context.Context, u tgbotapi.Update) {
		mu.Lock()
		defer mu.Unlock()
		seen[u.Message.From.ID] = append(seen[u.Message.From.ID], u.Message.MessageID)
	})

	updates := make(chan tgbotapi.Update)
	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), updates)
		close(done)
	}()
	for i := 0; i < 50; i++ {
		for _, user := range []int64{1, 2, 3} {
			u := textUpdate(user, "hi")
			u.Message.MessageID = i
			updates <- u
		}
	}
	close(updates)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not drain")
	}
	for _, user := range []int64{1, 2, 3} {
		ids := seen[user]
		require.Len(t, ids, 50)
		assert.True(t, sort.IntsAreSorted(ids))
	}
}

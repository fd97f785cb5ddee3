// Package workflow reacts to user and approver events and drives the
// session, approval and ledger components. Handlers never return errors:
// failures become an apology to the user, a notice to the approver or a
// silent no-op.
package workflow

import (
	"context"
	"errors"
	"html"
	"time"

	"go.uber.org/zap"

	"nexus-bot/internal/action"
	"nexus-bot/internal/approval"
	"nexus-bot/internal/assistant"
	"nexus-bot/internal/keylock"
	"nexus-bot/internal/notify"
	"nexus-bot/internal/session"
	"nexus-bot/internal/subscription"
)

// Config is the immutable part of the orchestrator's setup.
type Config struct {
	PaymentCard         string
	CardHolder          string
	SupportUsername     string
	WebAppURL           string
	CopilotURL          string
	FreeQuestionsPerDay int
	SessionTTL          time.Duration
}

// Answerer produces a reply for a free-text question. It never fails.
type Answerer interface {
	Answer(ctx context.Context, query string, history []assistant.Turn) string
}

type Deps struct {
	Catalog      *subscription.Catalog
	Sessions     session.Store
	Entitlements subscription.EntitlementStore
	// Ledger must be the one the Router extends through.
	Ledger       *subscription.Ledger
	Router       *approval.Router
	Transport    notify.Transport
	Answerer     Answerer
	Log          *zap.Logger
}

// User is the sender of an event.
type User struct {
	ID        int64
	FullName  string
	FirstName string
	Username  string
}

// Decision is an approver's button press.
type Decision struct {
	Action     action.Action
	Approver   approval.Approver
	CallbackID string
	// Origin is the message the button was pressed on.
	Origin notify.MessageRef
}

type Orchestrator struct {
	cfg       Config
	catalog   *subscription.Catalog
	sessions  session.Store
	ledger    *subscription.Ledger
	router    *approval.Router
	transport notify.Transport
	answerer  Answerer
	history   *assistant.History
	quota     *Quota
	locks     *keylock.Map
	log       *zap.Logger
	now       func() time.Time
}

func New(cfg Config, d Deps) *Orchestrator {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	ledger := d.Ledger
	if ledger == nil {
		ledger = subscription.NewLedger(d.Entitlements)
	}
	return &Orchestrator{
		cfg:       cfg,
		catalog:   d.Catalog,
		sessions:  d.Sessions,
		ledger:    ledger,
		router:    d.Router,
		transport: d.Transport,
		answerer:  d.Answerer,
		history:   assistant.NewHistory(10),
		quota:     NewQuota(cfg.FreeQuestionsPerDay),
		locks:     keylock.New(),
		log:       log,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// OnStart registers the user on first contact and shows the main menu.
func (o *Orchestrator) OnStart(ctx context.Context, u User) {
	e, err := o.ensureUser(ctx, u)
	if err != nil {
		o.log.Error("failed to load user", zap.Int64("user_id", u.ID), zap.Error(err))
		o.send(ctx, u.ID, msgApology, nil)
		return
	}
	premium := e.IsPremium
	o.send(ctx, u.ID, greetingText(u.FullName, premium), o.mainKeyboard(premium))
}

// OnMainMenu is the "back" button of the pricing menu.
func (o *Orchestrator) OnMainMenu(ctx context.Context, u User) {
	o.OnStart(ctx, u)
}

func (o *Orchestrator) OnBuyMenu(ctx context.Context, u User) {
	o.send(ctx, u.ID, pricingText, o.pricingKeyboard())
}

// OnPlanSelected opens a new payment session, replacing any unresolved one.
func (o *Orchestrator) OnPlanSelected(ctx context.Context, u User, planID subscription.PlanID) {
	plan, err := o.catalog.Lookup(planID)
	if err != nil {
		o.log.Warn("unknown plan selected", zap.Int64("user_id", u.ID), zap.String("plan", string(planID)))
		o.send(ctx, u.ID, msgPlanUnavailable, nil)
		return
	}

	unlock := o.locks.Lock(u.ID)
	defer unlock()

	s := session.Begin(u.ID, plan, o.now())
	if err := o.sessions.Save(ctx, s); err != nil {
		o.log.Error("failed to save payment session", zap.Int64("user_id", u.ID), zap.Error(err))
		o.send(ctx, u.ID, msgApology, nil)
		return
	}
	o.send(ctx, u.ID, instructionsText(plan, o.cfg.PaymentCard, o.cfg.CardHolder), cancelKeyboard())
}

// OnEvidenceSubmitted files the evidence for approval when the user has a
// session awaiting it. Otherwise the evidence is ignored.
func (o *Orchestrator) OnEvidenceSubmitted(ctx context.Context, u User, ev notify.Evidence) {
	unlock := o.locks.Lock(u.ID)
	defer unlock()

	s, err := o.loadSession(ctx, u.ID)
	if err != nil {
		o.log.Error("failed to load payment session", zap.Int64("user_id", u.ID), zap.Error(err))
		o.send(ctx, u.ID, msgApology, nil)
		return
	}
	if s == nil || s.State != session.AwaitingEvidence {
		o.log.Debug("evidence without active purchase ignored", zap.Int64("user_id", u.ID))
		return
	}

	req := &approval.Request{
		Nonce:       approval.NewNonce(),
		UserID:      u.ID,
		FullName:    u.FullName,
		Username:    u.Username,
		PlanID:      s.PlanID,
		Amount:      s.Amount,
		DisplayName: s.DisplayName,
		Evidence:    ev,
	}
	report, err := o.router.Submit(ctx, req)
	switch {
	case errors.Is(err, approval.ErrDuplicateEvidence):
		o.send(ctx, u.ID, msgDuplicateEvidence, cancelKeyboard())
		return
	case errors.Is(err, approval.ErrInsufficientDeliveries):
		o.log.Warn("approval request undelivered", zap.Int64("user_id", u.ID), zap.Int("delivered", report.Succeeded), zap.Error(err))
		o.send(ctx, u.ID, msgApproversUnreached, cancelKeyboard())
		return
	case err != nil:
		o.log.Error("failed to submit approval request", zap.Int64("user_id", u.ID), zap.Error(err))
		o.send(ctx, u.ID, msgApology, nil)
		return
	}

	ref := ev.UniqueID
	if ref == "" {
		ref = ev.FileID
	}
	if err := s.Submit(ref, req.Nonce); err != nil {
		o.log.Error("session transition failed", zap.Int64("user_id", u.ID), zap.Error(err))
	} else if err := o.sessions.Save(ctx, s); err != nil {
		// The approval is already out; the decision still reaches the user.
		o.log.Error("failed to save submitted session", zap.Int64("user_id", u.ID), zap.Error(err))
	}

	o.log.Info("payment submitted",
		zap.Int64("user_id", u.ID),
		zap.String("plan", string(req.PlanID)),
		zap.String("nonce", req.Nonce),
		zap.Int("approvers_reached", report.Succeeded))
	o.send(ctx, u.ID, msgEvidenceReceived, nil)
}

// OnCancel abandons a purchase that is still waiting for evidence.
func (o *Orchestrator) OnCancel(ctx context.Context, u User) {
	unlock := o.locks.Lock(u.ID)
	defer unlock()

	s, err := o.loadSession(ctx, u.ID)
	if err != nil {
		o.log.Error("failed to load payment session", zap.Int64("user_id", u.ID), zap.Error(err))
		o.send(ctx, u.ID, msgApology, nil)
		return
	}
	if s != nil && s.State == session.Submitted {
		o.send(ctx, u.ID, msgAlreadyUnderReview, nil)
		return
	}
	if err := s.Cancel(); err != nil {
		o.send(ctx, u.ID, msgNothingToCancel, nil)
		return
	}
	if err := o.sessions.Delete(ctx, u.ID); err != nil {
		o.log.Error("failed to delete payment session", zap.Int64("user_id", u.ID), zap.Error(err))
		o.send(ctx, u.ID, msgApology, nil)
		return
	}
	o.send(ctx, u.ID, msgCancelled, nil)
}

// OnApproverDecision applies an approve/reject press, marks every approver's
// copy with the outcome and closes the user's session.
func (o *Orchestrator) OnApproverDecision(ctx context.Context, d Decision) {
	out, err := o.router.Resolve(ctx, d.Action, d.Approver)
	if err != nil {
		switch {
		case errors.Is(err, approval.ErrNotApprover):
			o.log.Warn("decision from non-approver", zap.Int64("sender_id", d.Approver.ID))
			o.ack(ctx, d.CallbackID, ackNotApprover, true)
		case errors.Is(err, approval.ErrUnknownRequest), errors.Is(err, approval.ErrMismatch):
			o.ack(ctx, d.CallbackID, ackUnknown, true)
		default:
			o.log.Error("failed to resolve decision",
				zap.Int64("approver_id", d.Approver.ID),
				zap.Int64("user_id", d.Action.UserID),
				zap.String("nonce", d.Action.Nonce),
				zap.Error(err))
			o.ack(ctx, d.CallbackID, ackInternalError, true)
		}
		return
	}

	req := out.Request
	if out.Result == approval.ResultAlreadyDecided {
		o.ack(ctx, d.CallbackID, alreadyDecidedText(req), true)
		return
	}

	o.annotate(ctx, req, d.Origin)
	o.closeSession(ctx, req.UserID, req.Nonce)

	if out.Result == approval.ResultApproved {
		o.log.Info("payment approved",
			zap.Int64("user_id", req.UserID),
			zap.Int64("approver_id", d.Approver.ID),
			zap.String("plan", string(req.PlanID)),
			zap.Time("subscription_end", out.NewEnd))
		o.ack(ctx, d.CallbackID, ackApproved, false)
		return
	}
	o.log.Info("payment rejected", zap.Int64("user_id", req.UserID), zap.Int64("approver_id", d.Approver.ID))
	o.ack(ctx, d.CallbackID, ackRejected, false)
}

func (o *Orchestrator) OnStatus(ctx context.Context, u User) {
	e, err := o.ensureUser(ctx, u)
	if err != nil {
		o.log.Error("failed to load user", zap.Int64("user_id", u.ID), zap.Error(err))
		o.send(ctx, u.ID, msgApology, nil)
		return
	}
	var kb notify.Keyboard
	if !e.IsPremium {
		kb = upsellKeyboard()
	}
	o.send(ctx, u.ID, statusText(e, o.now()), kb)
}

func (o *Orchestrator) OnHelp(ctx context.Context, u User) {
	o.send(ctx, u.ID, helpText, nil)
}

// OnQuestion answers free text. Users without Premium get a daily quota.
func (o *Orchestrator) OnQuestion(ctx context.Context, u User, text string) {
	e, err := o.ensureUser(ctx, u)
	if err != nil {
		o.log.Error("failed to load user", zap.Int64("user_id", u.ID), zap.Error(err))
		o.send(ctx, u.ID, msgApology, nil)
		return
	}
	if !e.IsPremium && !o.quota.Allow(u.ID, o.now()) {
		o.send(ctx, u.ID, msgQuotaExhausted, upsellKeyboard())
		return
	}

	answer := o.answerer.Answer(ctx, text, o.history.Get(u.ID))
	o.history.Append(u.ID,
		assistant.Turn{Role: "user", Content: text},
		assistant.Turn{Role: "assistant", Content: answer})
	o.send(ctx, u.ID, html.EscapeString(answer), nil)
}

// ensureUser returns the user's entitlement, creating it on first contact.
// The premium flag is reconciled with the stored end under the ledger lock.
func (o *Orchestrator) ensureUser(ctx context.Context, u User) (*subscription.Entitlement, error) {
	e, err := o.ledger.Refresh(ctx, u.ID, subscription.Entitlement{
		UserID:   u.ID,
		FullName: u.FullName,
		Username: u.Username,
	})
	if e == nil {
		return nil, err
	}
	if err != nil {
		o.log.Warn("failed to sync premium flag", zap.Int64("user_id", u.ID), zap.Error(err))
	}
	return e, nil
}

// loadSession drops sessions older than the configured TTL.
func (o *Orchestrator) loadSession(ctx context.Context, userID int64) (*session.Session, error) {
	s, err := o.sessions.Load(ctx, userID)
	if err != nil || s == nil {
		return nil, err
	}
	if s.Expired(o.now(), o.cfg.SessionTTL) {
		if err := o.sessions.Delete(ctx, userID); err != nil {
			o.log.Warn("failed to delete expired session", zap.Int64("user_id", userID), zap.Error(err))
		}
		return nil, nil
	}
	return s, nil
}

// closeSession clears the user's session if it is the one this decision
// answers. A newer purchase started meanwhile is left alone.
func (o *Orchestrator) closeSession(ctx context.Context, userID int64, nonce string) {
	unlock := o.locks.Lock(userID)
	defer unlock()

	s, err := o.sessions.Load(ctx, userID)
	if err != nil {
		o.log.Warn("failed to load session after decision", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if s == nil || s.Nonce != nonce || s.Resolve() != nil {
		return
	}
	if err := o.sessions.Delete(ctx, userID); err != nil {
		o.log.Warn("failed to clear resolved session", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (o *Orchestrator) annotate(ctx context.Context, req *approval.Request, origin notify.MessageRef) {
	text := approval.Annotation(req.Status, req.DecidedByName)
	refs := req.Deliveries
	if len(refs) == 0 && origin.MessageID != 0 {
		refs = []notify.MessageRef{origin}
	}
	for _, ref := range refs {
		if err := o.transport.Annotate(ctx, ref, text); err != nil {
			o.log.Warn("failed to annotate approver copy",
				zap.Int64("chat_id", ref.ChatID),
				zap.Int("message_id", ref.MessageID),
				zap.Error(err))
		}
	}
}

func alreadyDecidedText(req *approval.Request) string {
	if req == nil {
		return "Already decided."
	}
	by := req.DecidedByName
	if by == "" {
		by = "another admin"
	}
	switch req.Status {
	case approval.StatusApproved:
		return "Already approved by " + by + "."
	case approval.StatusRejected:
		return "Already rejected by " + by + "."
	case approval.StatusExpired:
		return "This request has expired."
	}
	return "Already decided."
}

func (o *Orchestrator) send(ctx context.Context, userID int64, text string, kb notify.Keyboard) {
	if err := o.transport.SendToUser(ctx, userID, text, kb); err != nil {
		o.log.Warn("failed to send message", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (o *Orchestrator) ack(ctx context.Context, callbackID, text string, alert bool) {
	if callbackID == "" {
		return
	}
	if err := o.transport.Acknowledge(ctx, callbackID, text, alert); err != nil {
		o.log.Warn("failed to answer callback", zap.Error(err))
	}
}

// Package approval routes submitted payment evidence to approvers and applies
// their decisions.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nexus-bot/internal/action"
	"nexus-bot/internal/notify"
	"nexus-bot/internal/subscription"
)

var (
	ErrNotApprover            = errors.New("sender is not an approver")
	ErrMismatch               = errors.New("decision does not match approval request")
	ErrInsufficientDeliveries = errors.New("too few approvers received the request")
)

// maxParallelDeliveries bounds concurrent sends to approvers.
const maxParallelDeliveries = 4

type Options struct {
	Approvers []int64
	// MinDeliveries is the number of approvers that must receive a request
	// for the submission to stand. Zero accepts any outcome.
	MinDeliveries int
}

// Settler is implemented by repositories that share a transaction with the
// entitlement store. An approval is then claimed and applied in one commit.
type Settler interface {
	SettleApproval(ctx context.Context, nonce string, approverID int64, approverName string, at time.Time, durationDays int) (claimed bool, end time.Time, err error)
}

type Approver struct {
	ID   int64
	Name string
}

type Delivery struct {
	ApproverID int64
	Ref        notify.MessageRef
	Err        error
}

type DeliveryReport struct {
	Attempts  []Delivery
	Succeeded int
}

type Result int

const (
	ResultApproved Result = iota + 1
	ResultRejected
	ResultAlreadyDecided
)

type Outcome struct {
	Result  Result
	Request *Request
	NewEnd  time.Time
}

type Router struct {
	opts      Options
	repo      Repository
	ledger    *subscription.Ledger
	catalog   *subscription.Catalog
	transport notify.Transport
	log       *zap.Logger
	now       func() time.Time
}

func NewRouter(opts Options, repo Repository, ledger *subscription.Ledger, catalog *subscription.Catalog, transport notify.Transport, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		opts:      opts,
		repo:      repo,
		ledger:    ledger,
		catalog:   catalog,
		transport: transport,
		log:       log,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (r *Router) WithClock(now func() time.Time) *Router {
	r.now = now
	return r
}

func (r *Router) IsApprover(id int64) bool {
	for _, a := range r.opts.Approvers {
		if a == id {
			return true
		}
	}
	return false
}

// Submit records req as pending and broadcasts it. When fewer than
// MinDeliveries approvers got it, the request is expired and
// ErrInsufficientDeliveries is returned.
func (r *Router) Submit(ctx context.Context, req *Request) (DeliveryReport, error) {
	if req.Nonce == "" {
		req.Nonce = NewNonce()
	}
	if req.Fingerprint == "" {
		req.Fingerprint = Fingerprint(req.Evidence)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = r.now().UTC()
	}
	req.Status = StatusPending
	if _, err := decisionKeyboard(req); err != nil {
		return DeliveryReport{}, err
	}
	if err := r.repo.Create(ctx, req); err != nil {
		return DeliveryReport{}, err
	}

	report := r.NotifyApprovers(ctx, req)

	refs := make([]notify.MessageRef, 0, report.Succeeded)
	for _, d := range report.Attempts {
		if d.Err == nil {
			refs = append(refs, d.Ref)
		}
	}
	if len(refs) > 0 {
		if err := r.repo.AddDeliveries(ctx, req.Nonce, refs); err != nil {
			r.log.Error("failed to record approver deliveries", zap.String("nonce", req.Nonce), zap.Error(err))
		}
	}

	if report.Succeeded < r.opts.MinDeliveries {
		if _, err := r.repo.Claim(ctx, req.Nonce, StatusExpired, 0, "", r.now().UTC()); err != nil {
			r.log.Error("failed to expire undelivered request", zap.String("nonce", req.Nonce), zap.Error(err))
		}
		return report, fmt.Errorf("%w: %d of %d", ErrInsufficientDeliveries, report.Succeeded, r.opts.MinDeliveries)
	}
	return report, nil
}

// NotifyApprovers sends the request to every approver. Each attempt is
// independent; failures are logged and collected in the report.
func (r *Router) NotifyApprovers(ctx context.Context, req *Request) DeliveryReport {
	kb, _ := decisionKeyboard(req)
	payload := notify.ApprovalPayload{
		Evidence: req.Evidence,
		Caption:  approverCaption(req),
		Keyboard: kb,
	}

	attempts := make([]Delivery, len(r.opts.Approvers))
	var g errgroup.Group
	g.SetLimit(maxParallelDeliveries)
	for i, approverID := range r.opts.Approvers {
		i, approverID := i, approverID
		g.Go(func() error {
			ref, err := r.transport.SendToApprover(ctx, approverID, payload)
			attempts[i] = Delivery{ApproverID: approverID, Ref: ref, Err: err}
			if err != nil {
				r.log.Warn("approver delivery failed",
					zap.Int64("approver_id", approverID),
					zap.String("nonce", req.Nonce),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	report := DeliveryReport{Attempts: attempts}
	for _, a := range attempts {
		if a.Err == nil {
			report.Succeeded++
		}
	}
	return report
}

// decisionKeyboard builds the approve/reject buttons and fails when their
// tokens would not survive the transport.
func decisionKeyboard(req *Request) (notify.Keyboard, error) {
	approve := action.Approve(req.UserID, req.PlanID, req.Nonce)
	reject := action.Reject(req.UserID, req.PlanID, req.Nonce)
	for _, a := range []action.Action{approve, reject} {
		if _, err := a.Encode(); err != nil {
			return nil, fmt.Errorf("decision buttons: %w", err)
		}
	}
	return notify.Keyboard{{
		{Text: "✅ Approve", Action: approve},
		{Text: "❌ Reject", Action: reject},
	}}, nil
}

// Resolve applies an approver's decision. Only the first decision on a
// request takes effect; later ones get ResultAlreadyDecided. If the
// entitlement write fails the request returns to pending and the user is
// not notified.
func (r *Router) Resolve(ctx context.Context, decision action.Action, approver Approver) (Outcome, error) {
	if !decision.Kind.IsDecision() {
		return Outcome{}, fmt.Errorf("%w: %s is not a decision", ErrMismatch, decision.Kind)
	}
	if !r.IsApprover(approver.ID) {
		return Outcome{}, ErrNotApprover
	}
	req, err := r.repo.Get(ctx, decision.Nonce)
	if err != nil {
		return Outcome{}, err
	}
	if req.UserID != decision.UserID || req.PlanID != decision.PlanID {
		return Outcome{}, ErrMismatch
	}

	to := StatusRejected
	if decision.Kind == action.KindApprove {
		to = StatusApproved
	}

	var plan subscription.Plan
	if to == StatusApproved {
		if plan, err = r.catalog.Lookup(req.PlanID); err != nil {
			return Outcome{}, err
		}
	}

	at := r.now().UTC()
	var (
		claimed bool
		end     time.Time
	)
	if settler, ok := r.repo.(Settler); ok && to == StatusApproved {
		err = r.ledger.WithLock(req.UserID, func() error {
			var err error
			claimed, end, err = settler.SettleApproval(ctx, req.Nonce, approver.ID, approver.Name, at, plan.DurationDays)
			return err
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("settle approval: %w", err)
		}
	} else if claimed, err = r.repo.Claim(ctx, req.Nonce, to, approver.ID, approver.Name, at); err != nil {
		return Outcome{}, fmt.Errorf("claim request: %w", err)
	}
	if !claimed {
		current, err := r.repo.Get(ctx, req.Nonce)
		if err != nil {
			current = req
		}
		return Outcome{Result: ResultAlreadyDecided, Request: current}, nil
	}
	req.Status = to
	req.DecidedBy = approver.ID
	req.DecidedByName = approver.Name
	req.DecidedAt = &at

	if to == StatusRejected {
		if err := r.transport.SendToUser(ctx, req.UserID, rejectedText, nil); err != nil {
			r.log.Error("failed to notify user of rejection", zap.Int64("user_id", req.UserID), zap.Error(err))
		}
		return Outcome{Result: ResultRejected, Request: req}, nil
	}

	if end.IsZero() {
		if end, err = r.ledger.Extend(ctx, req.UserID, plan.DurationDays); err != nil {
			if rerr := r.repo.Release(ctx, req.Nonce); rerr != nil {
				r.log.Error("failed to release claim after ledger failure", zap.String("nonce", req.Nonce), zap.Error(rerr))
			}
			return Outcome{}, fmt.Errorf("extend subscription: %w", err)
		}
	}
	if err := r.transport.SendToUser(ctx, req.UserID, activatedText(end), nil); err != nil {
		r.log.Error("failed to notify user of activation", zap.Int64("user_id", req.UserID), zap.Error(err))
	}
	return Outcome{Result: ResultApproved, Request: req, NewEnd: end}, nil
}

// Package action defines the callback actions carried on inline buttons.
// Each action is encoded into a single opaque token that the transport
// hands back verbatim, and decoded exactly once when the callback arrives.
package action

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"nexus-bot/internal/subscription"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindBuyMenu
	KindMainMenu
	KindSelectPlan
	KindCancel
	KindApprove
	KindReject
)

// Telegram rejects callback data longer than this.
const MaxTokenLen = 64

var ErrMalformed = errors.New("malformed action token")

var tags = map[Kind]string{
	KindBuyMenu:    "buy",
	KindMainMenu:   "menu",
	KindSelectPlan: "pay",
	KindCancel:     "cancel",
	KindApprove:    "ap",
	KindReject:     "rj",
}

func (k Kind) String() string {
	if t, ok := tags[k]; ok {
		return t
	}
	return "unknown"
}

// IsDecision reports whether k is an approver decision.
func (k Kind) IsDecision() bool {
	return k == KindApprove || k == KindReject
}

type Action struct {
	Kind   Kind
	UserID int64
	PlanID subscription.PlanID
	Nonce  string
}

func BuyMenu() Action  { return Action{Kind: KindBuyMenu} }
func MainMenu() Action { return Action{Kind: KindMainMenu} }
func Cancel() Action   { return Action{Kind: KindCancel} }

func SelectPlan(plan subscription.PlanID) Action {
	return Action{Kind: KindSelectPlan, PlanID: plan}
}

func Approve(userID int64, plan subscription.PlanID, nonce string) Action {
	return Action{Kind: KindApprove, UserID: userID, PlanID: plan, Nonce: nonce}
}

func Reject(userID int64, plan subscription.PlanID, nonce string) Action {
	return Action{Kind: KindReject, UserID: userID, PlanID: plan, Nonce: nonce}
}

// Encode renders the token, e.g. "ap:5895125141:monthly:<nonce>".
func (a Action) Encode() (string, error) {
	tag, ok := tags[a.Kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown kind %d", ErrMalformed, a.Kind)
	}
	var token string
	switch a.Kind {
	case KindBuyMenu, KindMainMenu, KindCancel:
		token = tag
	case KindSelectPlan:
		if err := checkField(string(a.PlanID)); err != nil {
			return "", err
		}
		token = tag + ":" + string(a.PlanID)
	case KindApprove, KindReject:
		if a.UserID == 0 {
			return "", fmt.Errorf("%w: missing user id", ErrMalformed)
		}
		for _, f := range []string{string(a.PlanID), a.Nonce} {
			if err := checkField(f); err != nil {
				return "", err
			}
		}
		token = strings.Join([]string{tag, strconv.FormatInt(a.UserID, 10), string(a.PlanID), a.Nonce}, ":")
	}
	if len(token) > MaxTokenLen {
		return "", fmt.Errorf("%w: token is %d bytes", ErrMalformed, len(token))
	}
	return token, nil
}

// MustEncode is Encode for actions built from validated catalog data.
func (a Action) MustEncode() string {
	s, err := a.Encode()
	if err != nil {
		panic(err)
	}
	return s
}

func Decode(token string) (Action, error) {
	parts := strings.Split(token, ":")
	var kind Kind
	for k, t := range tags {
		if t == parts[0] {
			kind = k
			break
		}
	}
	switch kind {
	case KindBuyMenu, KindMainMenu, KindCancel:
		if len(parts) != 1 {
			return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
		}
		return Action{Kind: kind}, nil
	case KindSelectPlan:
		if len(parts) != 2 || parts[1] == "" {
			return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
		}
		return SelectPlan(subscription.PlanID(parts[1])), nil
	case KindApprove, KindReject:
		if len(parts) != 4 || parts[2] == "" || parts[3] == "" {
			return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
		}
		uid, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || uid == 0 {
			return Action{}, fmt.Errorf("%w: bad user id in %q", ErrMalformed, token)
		}
		return Action{Kind: kind, UserID: uid, PlanID: subscription.PlanID(parts[2]), Nonce: parts[3]}, nil
	}
	return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
}

func checkField(s string) error {
	if s == "" || strings.Contains(s, ":") {
		return fmt.Errorf("%w: field %q", ErrMalformed, s)
	}
	return nil
}

// Package notify is the outbound side of the bot as seen by the workflow.
package notify

import (
	"context"

	"nexus-bot/internal/action"
)

// Button is either an action button or a link (URL set).
type Button struct {
	Text   string
	Action action.Action
	URL    string
}

// Keyboard is a list of button rows.
type Keyboard [][]Button

// Column lays buttons out one per row.
func Column(buttons ...Button) Keyboard {
	kb := make(Keyboard, 0, len(buttons))
	for _, b := range buttons {
		kb = append(kb, []Button{b})
	}
	return kb
}

// MessageRef points at a delivered message. Caption is the text it was sent
// with, so annotations can append to it.
type MessageRef struct {
	ChatID    int64
	MessageID int
	Caption   string
}

// EvidenceKind tells the transport how to re-send the evidence file.
type EvidenceKind string

const (
	EvidencePhoto    EvidenceKind = "photo"
	EvidenceDocument EvidenceKind = "document"
)

type Evidence struct {
	Kind     EvidenceKind
	FileID   string
	UniqueID string
}

// ApprovalPayload is what an approver receives: the evidence, a caption and
// the two decision buttons.
type ApprovalPayload struct {
	Evidence Evidence
	Caption  string
	Keyboard Keyboard
}

type Transport interface {
	SendToUser(ctx context.Context, userID int64, text string, kb Keyboard) error
	SendToApprover(ctx context.Context, approverID int64, p ApprovalPayload) (MessageRef, error)
	Annotate(ctx context.Context, ref MessageRef, appended string) error
	// Acknowledge answers a button press. alert shows a modal instead of a toast.
	Acknowledge(ctx context.Context, callbackID, text string, alert bool) error
}

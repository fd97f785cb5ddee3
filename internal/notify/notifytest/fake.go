// Package notifytest provides a recording notify.Transport for tests.
package notifytest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"nexus-bot/internal/notify"
)

var ErrUnreachable = errors.New("chat unreachable")

type Sent struct {
	UserID   int64
	Text     string
	Keyboard notify.Keyboard
}

type ApproverSend struct {
	ApproverID int64
	Payload    notify.ApprovalPayload
	Ref        notify.MessageRef
}

type Annotation struct {
	Ref      notify.MessageRef
	Appended string
}

type Ack struct {
	CallbackID string
	Text       string
	Alert      bool
}

// Transport records every call. Chats listed in Fail return ErrUnreachable.
type Transport struct {
	mu          sync.Mutex
	Fail        map[int64]bool
	nextMessage int

	Messages    []Sent
	Approvals   []ApproverSend
	Annotations []Annotation
	Acks        []Ack
}

func New() *Transport {
	return &Transport{Fail: make(map[int64]bool)}
}

func (t *Transport) SetFail(chatID int64, fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Fail[chatID] = fail
}

func (t *Transport) SendToUser(_ context.Context, userID int64, text string, kb notify.Keyboard) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Fail[userID] {
		return ErrUnreachable
	}
	t.Messages = append(t.Messages, Sent{UserID: userID, Text: text, Keyboard: kb})
	return nil
}

func (t *Transport) SendToApprover(_ context.Context, approverID int64, p notify.ApprovalPayload) (notify.MessageRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Fail[approverID] {
		return notify.MessageRef{}, ErrUnreachable
	}
	t.nextMessage++
	ref := notify.MessageRef{ChatID: approverID, MessageID: t.nextMessage, Caption: p.Caption}
	t.Approvals = append(t.Approvals, ApproverSend{ApproverID: approverID, Payload: p, Ref: ref})
	return ref, nil
}

func (t *Transport) Annotate(_ context.Context, ref notify.MessageRef, appended string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Fail[ref.ChatID] {
		return ErrUnreachable
	}
	t.Annotations = append(t.Annotations, Annotation{Ref: ref, Appended: appended})
	return nil
}

func (t *Transport) Acknowledge(_ context.Context, callbackID, text string, alert bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Acks = append(t.Acks, Ack{CallbackID: callbackID, Text: text, Alert: alert})
	return nil
}

// MessagesTo returns texts sent to userID in order.
func (t *Transport) MessagesTo(userID int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, m := range t.Messages {
		if m.UserID == userID {
			out = append(out, m.Text)
		}
	}
	return out
}

// LastTo returns the last message sent to userID, or the zero Sent.
func (t *Transport) LastTo(userID int64) Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].UserID == userID {
			return t.Messages[i]
		}
	}
	return Sent{}
}

// CountContaining counts messages to userID whose text contains substr.
func (t *Transport) CountContaining(userID int64, substr string) int {
	n := 0
	for _, text := range t.MessagesTo(userID) {
		if strings.Contains(text, substr) {
			n++
		}
	}
	return n
}

func (t *Transport) ApprovalCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Approvals)
}

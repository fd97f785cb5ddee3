package logger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifyOnPanicAlertsAdmins(t *testing.T) {
	var (
		mu   sync.Mutex
		sent = map[int64][]string{}
	)
	InitNotifier(AlertFunc(func(_ context.Context, chatID int64, text string) error {
		mu.Lock()
		defer mu.Unlock()
		sent[chatID] = append(sent[chatID], text)
		return nil
	}), []int64{1, 2})

	func() {
		defer NotifyOnPanic("handler")
		panic("boom")
	}()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"[ALERT] Panic in handler: boom"}, sent[1])
	assert.Equal(t, []string{"[ALERT] Panic in handler: boom"}, sent[2])
}

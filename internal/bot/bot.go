package bot

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// UpdateHandler processes a single update to completion.
type UpdateHandler func(ctx context.Context, update tgbotapi.Update)

// Dispatcher fans updates out to a fixed set of workers. All updates from one
// user land on the same worker, so they are handled in arrival order.
type Dispatcher struct {
	shards []chan tgbotapi.Update
	handle UpdateHandler
}

func NewDispatcher(workers int, handle UpdateHandler) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	shards := make([]chan tgbotapi.Update, workers)
	for i := range shards {
		shards[i] = make(chan tgbotapi.Update, 64)
	}
	return &Dispatcher{shards: shards, handle: handle}
}

// Run consumes updates until ctx is done or the channel closes, then waits
// for queued updates to finish.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	// queued updates still finish after shutdown starts
	hctx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for _, shard := range d.shards {
		wg.Add(1)
		go func(in <-chan tgbotapi.Update) {
			defer wg.Done()
			for u := range in {
				d.handle(hctx, u)
			}
		}(shard)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case u, ok := <-updates:
			if !ok {
				break loop
			}
			d.shards[d.shardFor(senderID(u))] <- u
		}
	}
	for _, shard := range d.shards {
		close(shard)
	}
	wg.Wait()
}

func (d *Dispatcher) shardFor(userID int64) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(userID, 10)))
	return int(h.Sum32() % uint32(len(d.shards)))
}

func senderID(u tgbotapi.Update) int64 {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From.ID
	}
	return 0
}

// StartBotWithInstance runs long polling until ctx is cancelled.
func StartBotWithInstance(ctx context.Context, api *tgbotapi.BotAPI, d *Dispatcher) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		api.StopReceivingUpdates()
	}()
	d.Run(ctx, updates)
}

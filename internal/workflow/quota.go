package workflow

import (
	"sync"
	"time"
)

// Quota counts free assistant questions per user per UTC day.
type Quota struct {
	mu     sync.Mutex
	limit  int
	day    string
	counts map[int64]int
}

func NewQuota(perDay int) *Quota {
	return &Quota{limit: perDay, counts: make(map[int64]int)}
}

// Allow consumes one question for userID and reports whether it was within
// the daily limit.
func (q *Quota) Allow(userID int64, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	day := now.UTC().Format("2006-01-02")
	if day != q.day {
		q.day = day
		q.counts = make(map[int64]int)
	}
	if q.counts[userID] >= q.limit {
		return false
	}
	q.counts[userID]++
	return true
}

package assistant

import "sync"

// History keeps the last few turns per user so follow-up questions have context.
type History struct {
	mu    sync.Mutex
	max   int
	turns map[int64][]Turn
}

func NewHistory(maxTurns int) *History {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &History{max: maxTurns, turns: make(map[int64][]Turn)}
}

// Get returns a copy of userID's turns, oldest first.
func (h *History) Get(userID int64) []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Turn(nil), h.turns[userID]...)
}

func (h *History) Append(userID int64, turns ...Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := append(h.turns[userID], turns...)
	if len(t) > h.max {
		t = append([]Turn(nil), t[len(t)-h.max:]...)
	}
	h.turns[userID] = t
}

func (h *History) Reset(userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.turns, userID)
}

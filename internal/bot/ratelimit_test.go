package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRateLimiter(func(id int64) bool { return id == 1 })
	r.now = func() time.Time { return now }

	assert.False(t, r.IsLimited(2, "/buy"))
	assert.True(t, r.IsLimited(2, "/buy"))
	assert.False(t, r.IsLimited(2, "/status"), "limits are per command")
	assert.False(t, r.IsLimited(3, "/buy"), "limits are per user")

	now = now.Add(3 * time.Second)
	assert.False(t, r.IsLimited(2, "/buy"))

	for i := 0; i < 5; i++ {
		assert.False(t, r.IsLimited(1, "/buy"), "exempt users are never limited")
	}
}

func TestRateLimiterDefaultLimit(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRateLimiter(nil)
	r.now = func() time.Time { return now }

	assert.False(t, r.IsLimited(2, "/whatever"))
	now = now.Add(time.Second)
	assert.True(t, r.IsLimited(2, "/whatever"))
	now = now.Add(time.Second)
	assert.False(t, r.IsLimited(2, "/whatever"))
}

func TestRateLimiterForget(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRateLimiter(nil)
	r.now = func() time.Time { return now }
	r.IsLimited(2, "/buy")
	now = now.Add(time.Hour)
	r.IsLimited(3, "/buy")

	assert.Equal(t, 1, r.Forget(30*time.Minute))
	assert.False(t, r.IsLimited(2, "/buy"))
}

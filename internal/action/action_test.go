package action

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-bot/internal/subscription"
)

func TestDecisionTokenCarriesUserAndPlan(t *testing.T) {
	nonce := strings.Repeat("a", 32)
	token, err := Approve(5895125141, "monthly", nonce).Encode()
	require.NoError(t, err)
	assert.Equal(t, "ap:5895125141:monthly:"+nonce, token)
	assert.LessOrEqual(t, len(token), MaxTokenLen)

	a, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, KindApprove, a.Kind)
	assert.True(t, a.Kind.IsDecision())
	assert.Equal(t, int64(5895125141), a.UserID)
	assert.Equal(t, "monthly", string(a.PlanID))
	assert.Equal(t, nonce, a.Nonce)
}

func TestLongestDecisionTokenFits(t *testing.T) {
	plan := subscription.PlanID(strings.Repeat("p", subscription.MaxPlanIDLen))
	for _, a := range []Action{
		Approve(math.MaxInt64, plan, strings.Repeat("f", 32)),
		Reject(math.MaxInt64, plan, strings.Repeat("f", 32)),
	} {
		token, err := a.Encode()
		require.NoError(t, err)
		assert.LessOrEqual(t, len(token), MaxTokenLen)
	}
}

func TestDecodeSimpleActions(t *testing.T) {
	for token, kind := range map[string]Kind{
		"buy":          KindBuyMenu,
		"menu":         KindMainMenu,
		"cancel":       KindCancel,
		"pay:daily":    KindSelectPlan,
		"rj:1:daily:x": KindReject,
	} {
		a, err := Decode(token)
		require.NoError(t, err, token)
		assert.Equal(t, kind, a.Kind, token)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, token := range []string{
		"",
		"approve_1_daily",
		"pay",
		"pay:",
		"buy:extra",
		"ap:abc:daily:n",
		"ap:0:daily:n",
		"ap:1:daily",
		"ap:1::n",
		"rj:1:daily:",
	} {
		_, err := Decode(token)
		assert.ErrorIs(t, err, ErrMalformed, "token %q", token)
	}
}

func TestEncodeRejectsBadFields(t *testing.T) {
	_, err := SelectPlan("a:b").Encode()
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Approve(0, "daily", "n").Encode()
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Reject(1, "daily", strings.Repeat("n", 80)).Encode()
	assert.ErrorIs(t, err, ErrMalformed, "oversized tokens are refused")

	_, err = Action{}.Encode()
	assert.ErrorIs(t, err, ErrMalformed)
}

package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCatalog(t *testing.T) {
	c, err := NewCatalog(DefaultPlans()...)
	require.NoError(t, err)

	p, err := c.Lookup(PlanMonthly)
	require.NoError(t, err)
	assert.Equal(t, 30, p.DurationDays)
	assert.Equal(t, int64(69990), p.Price)

	_, err = c.Lookup("weekly")
	assert.ErrorIs(t, err, ErrUnknownPlan)

	ids := []PlanID{}
	for _, p := range c.Plans() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []PlanID{PlanDaily, PlanMonthly}, ids)
}

func TestNewCatalogValidation(t *testing.T) {
	tests := []struct {
		name string
		plan Plan
	}{
		{"empty id", Plan{ID: "", DurationDays: 1, Price: 1, Name: "x"}},
		{"separator in id", Plan{ID: "a:b", DurationDays: 1, Price: 1, Name: "x"}},
		{"zero duration", Plan{ID: "a", DurationDays: 0, Price: 1, Name: "x"}},
		{"negative price", Plan{ID: "a", DurationDays: 1, Price: -5, Name: "x"}},
		{"no name", Plan{ID: "a", DurationDays: 1, Price: 1}},
		{"id too long for buttons", Plan{ID: "quarterly_premium_x", DurationDays: 90, Price: 199990, Name: "3 Oylik"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.plan)
			assert.Error(t, err)
		})
	}

	_, err := NewCatalog(Plan{ID: "yearly_x", DurationDays: 365, Price: 1, Name: "x"})
	assert.NoError(t, err, "ids up to MaxPlanIDLen are accepted")

	_, err = NewCatalog(DefaultPlans()[0], DefaultPlans()[0])
	assert.Error(t, err, "duplicate ids must be rejected")
	_, err = NewCatalog()
	assert.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "7,990", FormatAmount(7990))
	assert.Equal(t, "69,990", FormatAmount(69990))
	assert.Equal(t, "1,000,000", FormatAmount(1000000))
	assert.Equal(t, "999", FormatAmount(999))
	assert.Equal(t, "0", FormatAmount(0))
}

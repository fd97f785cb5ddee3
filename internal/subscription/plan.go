package subscription

import (
	"errors"
	"fmt"
	"strings"
)

type PlanID string

const (
	PlanDaily   PlanID = "daily"
	PlanMonthly PlanID = "monthly"
)

// Plan is a purchasable (duration, price) pair. Price is in minor currency units.
type Plan struct {
	ID           PlanID
	DurationDays int
	Price        int64
	Name         string
}

var ErrUnknownPlan = errors.New("unknown plan")

// MaxPlanIDLen keeps a decision button token ("ap:<uid>:<plan>:<nonce>", 19
// digit uid, 32 char nonce) within Telegram's 64 byte callback limit.
const MaxPlanIDLen = 8

// Catalog is the immutable, ordered plan table.
type Catalog struct {
	order []PlanID
	plans map[PlanID]Plan
}

func NewCatalog(plans ...Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[PlanID]Plan, len(plans))}
	for _, p := range plans {
		switch {
		case p.ID == "" || strings.ContainsAny(string(p.ID), ": "):
			return nil, fmt.Errorf("plan id %q is invalid", p.ID)
		case len(p.ID) > MaxPlanIDLen:
			return nil, fmt.Errorf("plan id %q is longer than %d bytes", p.ID, MaxPlanIDLen)
		case p.DurationDays <= 0:
			return nil, fmt.Errorf("plan %s: %w", p.ID, ErrInvalidDuration)
		case p.Price <= 0:
			return nil, fmt.Errorf("plan %s: price must be positive", p.ID)
		case p.Name == "":
			return nil, fmt.Errorf("plan %s: display name is empty", p.ID)
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("plan %s declared twice", p.ID)
		}
		c.plans[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	if len(c.order) == 0 {
		return nil, errors.New("catalog is empty")
	}
	return c, nil
}

// DefaultPlans mirrors the prices the bot launched with.
func DefaultPlans() []Plan {
	return []Plan{
		{ID: PlanDaily, DurationDays: 1, Price: 7990, Name: "1 Kunlik"},
		{ID: PlanMonthly, DurationDays: 30, Price: 69990, Name: "1 Oylik"},
	}
}

func (c *Catalog) Lookup(id PlanID) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnknownPlan, id)
	}
	return p, nil
}

// Plans returns plans in declaration order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}

// FormatAmount renders minor units with thin grouping, e.g. 69990 -> "69,990".
func FormatAmount(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%d", v)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

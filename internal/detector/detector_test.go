package detector

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"floorwatch/internal/domain"
)

type floorMap map[domain.Rarity]decimal.Decimal

func (f floorMap) Get(r domain.Rarity) (decimal.Decimal, bool) {
	v, ok := f[r]
	return v, ok
}

type alertedSet map[string]bool

func (a alertedSet) Contains(id string) bool { return a[id] }

type fixedPolicy decimal.Decimal

func (p fixedPolicy) DiscountPct(domain.Rarity) decimal.Decimal { return decimal.Decimal(p) }

var half = fixedPolicy(decimal.NewFromInt(50))

func listing(id string, r domain.Rarity, price string) domain.Listing {
	return domain.Listing{ID: id, Rarity: r, Price: decimal.RequireFromString(price)}
}

func TestClassifyScenarios(t *testing.T) {
	floors := floorMap{domain.Epic: decimal.NewFromInt(100)}

	cases := []struct {
		name    string
		listing domain.Listing
		alerted alertedSet
		want    Decision
	}{
		{"below half of floor", listing("tok7", domain.Epic, "48"), alertedSet{}, Alert},
		{"exactly half is inclusive", listing("tok7", domain.Epic, "50"), alertedSet{}, Alert},
		{"just above half", listing("tok7", domain.Epic, "50.0001"), alertedSet{}, Ignore},
		{"above threshold", listing("tok7", domain.Epic, "51"), alertedSet{}, Ignore},
		{"already alerted", listing("tok7", domain.Epic, "10"), alertedSet{"tok7": true}, Duplicate},
		{"no floor for rarity", listing("tok9", domain.Legendary, "0.01"), alertedSet{}, SkippedNoFloor},
		{"duplicate wins over missing floor", listing("tok9", domain.Legendary, "1"), alertedSet{"tok9": true}, Duplicate},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.listing, floors, tc.alerted, half)
			assert.Equal(t, tc.want, got.Decision)
		})
	}
}

func TestClassifyReportsLimit(t *testing.T) {
	floors := floorMap{domain.Rare: decimal.NewFromInt(80)}
	res := Classify(listing("a", domain.Rare, "30"), floors, alertedSet{}, fixedPolicy(decimal.NewFromInt(25)))

	assert.Equal(t, Ignore, res.Decision)
	assert.True(t, res.Floor.Equal(decimal.NewFromInt(80)))
	assert.True(t, res.Limit.Equal(decimal.NewFromInt(60)), "limit %s", res.Limit)
	assert.True(t, res.DiscountPct.Equal(decimal.NewFromInt(25)))

	res = Classify(listing("a", domain.Rare, "60"), floors, alertedSet{}, fixedPolicy(decimal.NewFromInt(25)))
	assert.Equal(t, Alert, res.Decision)
}

func TestClassifyIsDeterministic(t *testing.T) {
	floors := floorMap{domain.Epic: decimal.NewFromInt(100)}
	l := listing("tok7", domain.Epic, "48")

	first := Classify(l, floors, alertedSet{}, half)
	second := Classify(l, floors, alertedSet{}, half)
	assert.Equal(t, first, second)
}

func TestClassifyPropertyAlertIffAtOrBelowHalf(t *testing.T) {
	floor := decimal.NewFromInt(100)
	floors := floorMap{domain.Common: floor}
	limit := floor.Mul(decimal.RequireFromString("0.5"))

	for cents := int64(0); cents <= 20000; cents += 37 {
		price := decimal.New(cents, -2)
		res := Classify(domain.Listing{ID: "p", Rarity: domain.Common, Price: price}, floors, alertedSet{}, half)
		if price.LessThanOrEqual(limit) {
			assert.Equal(t, Alert, res.Decision, "price %s", price)
		} else {
			assert.Equal(t, Ignore, res.Decision, "price %s", price)
		}
	}
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "alert", Alert.String())
	assert.Equal(t, "skipped_no_floor", SkippedNoFloor.String())
	assert.Equal(t, "unknown", Decision(42).String())
}

// Package detector decides whether an observed listing is a bargain relative to the
// floor of its rarity. Classification is pure: the same inputs always give the same result.
package detector

import (
	"github.com/shopspring/decimal"

	"floorwatch/internal/domain"
)

// Decision is the outcome of classifying one listing.
type Decision int

const (
	// Ignore means the listing is priced above the alert limit.
	Ignore Decision = iota
	// Alert means the listing is priced at or below the alert limit.
	Alert
	// SkippedNoFloor means the rarity has no floor yet.
	SkippedNoFloor
	// Duplicate means an alert was already delivered for the listing.
	Duplicate
)

func (d Decision) String() string {
	switch d {
	case Ignore:
		return "ignore"
	case Alert:
		return "alert"
	case SkippedNoFloor:
		return "skipped_no_floor"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// FloorLookup reads the current floor of a rarity.
type FloorLookup interface {
	Get(r domain.Rarity) (decimal.Decimal, bool)
}

// AlertedLookup reports whether a listing was already alerted on.
type AlertedLookup interface {
	Contains(listingID string) bool
}

// Policy supplies the discount below floor that qualifies as a bargain.
type Policy interface {
	DiscountPct(r domain.Rarity) decimal.Decimal
}

// Result carries the decision together with the values it was based on.
type Result struct {
	Decision    Decision
	Floor       decimal.Decimal
	Limit       decimal.Decimal
	DiscountPct decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Classify compares the listing against its rarity's floor.
// The duplicate check takes precedence over the floor check, and the limit is inclusive.
func Classify(l domain.Listing, floors FloorLookup, alerted AlertedLookup, policy Policy) Result {
	if alerted.Contains(l.ID) {
		return Result{Decision: Duplicate}
	}

	floor, ok := floors.Get(l.Rarity)
	if !ok {
		return Result{Decision: SkippedNoFloor}
	}

	pct := policy.DiscountPct(l.Rarity)
	limit := Limit(floor, pct)
	res := Result{Decision: Ignore, Floor: floor, Limit: limit, DiscountPct: pct}
	if l.Price.LessThanOrEqual(limit) {
		res.Decision = Alert
	}
	return res
}

// Limit is the highest price that still counts as a bargain: floor * (1 - pct/100).
func Limit(floor, discountPct decimal.Decimal) decimal.Decimal {
	return floor.Mul(hundred.Sub(discountPct)).Div(hundred)
}

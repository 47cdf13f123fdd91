package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"floorwatch/internal/domain"
)

// FloorRecord is the persisted floor of one rarity.
type FloorRecord struct {
	Rarity    domain.Rarity
	Price     decimal.Decimal
	UpdatedAt time.Time
}

// FloorPoint is one entry of the floor history, appended on every floor change.
type FloorPoint struct {
	Rarity     domain.Rarity
	Price      decimal.Decimal
	RecordedAt time.Time
}

// AlertedListing records a listing for which an alert was delivered.
type AlertedListing struct {
	ListingID string
	Rarity    domain.Rarity
	Price     decimal.Decimal
	AlertedAt time.Time
}

// ThresholdRecord stores the discount (percent below floor) that triggers an alert.
type ThresholdRecord struct {
	Rarity      domain.Rarity
	DiscountPct decimal.Decimal
	UpdatedAt   time.Time
}

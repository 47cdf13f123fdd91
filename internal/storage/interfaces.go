package storage

import (
	"context"
	"time"
)

// FloorRepository persists per-rarity floors.
type FloorRepository interface {
	LoadFloors(ctx context.Context) ([]FloorRecord, error)
	// UpsertFloor stores rec and appends it to the floor history.
	UpsertFloor(ctx context.Context, rec FloorRecord) error
}

// FloorHistoryReader exposes the floor history for reporting.
type FloorHistoryReader interface {
	ListFloorHistory(ctx context.Context, from, to time.Time) ([]FloorPoint, error)
}

// AlertedRepository persists the set of listings already alerted on.
type AlertedRepository interface {
	LoadAlerted(ctx context.Context) ([]AlertedListing, error)
	// MarkAlerted is idempotent: marking an existing id keeps the first record.
	MarkAlerted(ctx context.Context, rec AlertedListing) error
	ListRecentAlerted(ctx context.Context, limit int) ([]AlertedListing, error)
	DeleteAlertedBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// ThresholdRepository persists per-rarity alert thresholds.
type ThresholdRepository interface {
	LoadThresholds(ctx context.Context) ([]ThresholdRecord, error)
	UpsertThreshold(ctx context.Context, rec ThresholdRecord) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository is everything the service persists.
type Repository interface {
	FloorRepository
	FloorHistoryReader
	AlertedRepository
	ThresholdRepository
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"floorwatch/internal/domain"
)

const (
	loadFloorsSQL = `SELECT rarity, price::text, updated_at
    FROM floors
    ORDER BY rarity;`

	upsertFloorSQL = `INSERT INTO floors (
        rarity,
        price,
        updated_at
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (rarity) DO UPDATE
    SET price      = EXCLUDED.price,
        updated_at = EXCLUDED.updated_at;`

	insertFloorHistorySQL = `INSERT INTO floor_history (
        rarity,
        price,
        recorded_at
    ) VALUES (
        $1,$2,$3
    );`

	listFloorHistorySQL = `SELECT rarity, price::text, recorded_at
    FROM floor_history
    WHERE recorded_at >= $1
      AND recorded_at < $2
    ORDER BY recorded_at, id;`

	loadAlertedSQL = `SELECT listing_id, rarity, price::text, alerted_at
    FROM alerted_listings;`

	markAlertedSQL = `INSERT INTO alerted_listings (
        listing_id,
        rarity,
        price,
        alerted_at
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (listing_id) DO NOTHING;`

	listRecentAlertedSQL = `SELECT listing_id, rarity, price::text, alerted_at
    FROM alerted_listings
    ORDER BY alerted_at DESC
    LIMIT $1;`

	deleteAlertedBeforeSQL = `DELETE FROM alerted_listings WHERE alerted_at < $1;`

	loadThresholdsSQL = `SELECT rarity, discount_pct::text, updated_at
    FROM thresholds
    ORDER BY rarity;`

	upsertThresholdSQL = `INSERT INTO thresholds (
        rarity,
        discount_pct,
        updated_at
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (rarity) DO UPDATE
    SET discount_pct = EXCLUDED.discount_pct,
        updated_at   = EXCLUDED.updated_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store is the PostgreSQL-backed repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the connection is recycled
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// LoadFloors returns every persisted floor.
func (s *Store) LoadFloors(ctx context.Context) ([]FloorRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, loadFloorsSQL)
	if err != nil {
		return nil, fmt.Errorf("load floors: %w", err)
	}
	defer rows.Close()

	floors := make([]FloorRecord, 0, len(domain.Rarities()))
	for rows.Next() {
		var (
			rec      FloorRecord
			rarity   string
			priceStr string
		)
		if err := rows.Scan(&rarity, &priceStr, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan floor: %w", err)
		}
		if rec.Rarity, err = domain.ParseRarity(rarity); err != nil {
			// rows for retired rarities are left in place but not loaded
			continue
		}
		if rec.Price, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse floor price: %w", err)
		}
		floors = append(floors, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return floors, nil
}

// UpsertFloor stores the floor and appends it to floor_history in one transaction.
func (s *Store) UpsertFloor(ctx context.Context, rec FloorRecord) error {
	if !rec.Rarity.Valid() {
		return ErrInvalidInput
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	price := rec.Price.String()

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertFloorSQL, string(rec.Rarity), price, rec.UpdatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, insertFloorHistorySQL, string(rec.Rarity), price, rec.UpdatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert floor: %w", err)
	}
	return nil
}

// ListFloorHistory lists floor changes recorded within [from, to).
func (s *Store) ListFloorHistory(ctx context.Context, from, to time.Time) ([]FloorPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listFloorHistorySQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("list floor history: %w", err)
	}
	defer rows.Close()

	points := make([]FloorPoint, 0)
	for rows.Next() {
		var (
			point    FloorPoint
			rarity   string
			priceStr string
		)
		if err := rows.Scan(&rarity, &priceStr, &point.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan floor history: %w", err)
		}
		point.Rarity = domain.Rarity(rarity)
		if point.Price, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse history price: %w", err)
		}
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// LoadAlerted returns the full alerted set.
func (s *Store) LoadAlerted(ctx context.Context) ([]AlertedListing, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, loadAlertedSQL)
	if err != nil {
		return nil, fmt.Errorf("load alerted listings: %w", err)
	}
	return collectAlerted(rows)
}

// MarkAlerted records a delivered alert. Existing ids are left untouched.
func (s *Store) MarkAlerted(ctx context.Context, rec AlertedListing) error {
	if rec.ListingID == "" {
		return ErrInvalidInput
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if rec.AlertedAt.IsZero() {
		rec.AlertedAt = time.Now().UTC()
	}
	if _, err := pool.Exec(ctx, markAlertedSQL, rec.ListingID, string(rec.Rarity), rec.Price.String(), rec.AlertedAt); err != nil {
		return fmt.Errorf("mark alerted: %w", err)
	}
	return nil
}

// ListRecentAlerted lists the most recent alerts.
func (s *Store) ListRecentAlerted(ctx context.Context, limit int) ([]AlertedListing, error) {
	if limit <= 0 {
		return nil, ErrInvalidInput
	}
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRecentAlertedSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent alerted: %w", err)
	}
	return collectAlerted(rows)
}

// DeleteAlertedBefore evicts alerted ids recorded before olderThan.
func (s *Store) DeleteAlertedBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, deleteAlertedBeforeSQL, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete alerted before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LoadThresholds returns every persisted threshold override.
func (s *Store) LoadThresholds(ctx context.Context) ([]ThresholdRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, loadThresholdsSQL)
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	defer rows.Close()

	records := make([]ThresholdRecord, 0)
	for rows.Next() {
		var (
			rec    ThresholdRecord
			rarity string
			pct    string
		)
		if err := rows.Scan(&rarity, &pct, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan threshold: %w", err)
		}
		if rec.Rarity, err = domain.ParseRarity(rarity); err != nil {
			continue
		}
		if rec.DiscountPct, err = decimal.NewFromString(pct); err != nil {
			return nil, fmt.Errorf("parse discount pct: %w", err)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// UpsertThreshold stores a threshold override.
func (s *Store) UpsertThreshold(ctx context.Context, rec ThresholdRecord) error {
	if !rec.Rarity.Valid() {
		return ErrInvalidInput
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if _, err := pool.Exec(ctx, upsertThresholdSQL, string(rec.Rarity), rec.DiscountPct.String(), rec.UpdatedAt); err != nil {
		return fmt.Errorf("upsert threshold: %w", err)
	}
	return nil
}

func collectAlerted(rows pgx.Rows) ([]AlertedListing, error) {
	defer rows.Close()

	alerted := make([]AlertedListing, 0)
	for rows.Next() {
		var (
			rec      AlertedListing
			rarity   string
			priceStr string
		)
		if err := rows.Scan(&rec.ListingID, &rarity, &priceStr, &rec.AlertedAt); err != nil {
			return nil, fmt.Errorf("scan alerted listing: %w", err)
		}
		rec.Rarity = domain.Rarity(rarity)
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse alerted price: %w", err)
		}
		rec.Price = price
		alerted = append(alerted, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return alerted, nil
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)

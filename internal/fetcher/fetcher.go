package fetcher

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"floorwatch/internal/domain"
)

// ErrNoListings is returned when a rarity has no active listing.
var ErrNoListings = errors.New("no active listings")

// ListingFetcher retrieves currently active listings of the collection.
type ListingFetcher interface {
	// SearchListings returns up to pages pages of listings, cheapest first.
	SearchListings(ctx context.Context, pages int) ([]domain.Listing, error)
	// CheapestByRarity returns the size cheapest listings of one rarity.
	CheapestByRarity(ctx context.Context, rarity domain.Rarity, size int) ([]domain.Listing, error)
}

// RateFetcher retrieves the native currency to USD rate.
type RateFetcher interface {
	FetchRate(ctx context.Context) (decimal.Decimal, error)
}

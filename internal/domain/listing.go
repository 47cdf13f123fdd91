package domain

import (
	"github.com/shopspring/decimal"
)

// Listing is one item currently offered for sale, as observed in a single fetch.
type Listing struct {
	ID         string
	TokenID    string
	Name       string
	Rarity     Rarity
	Price      decimal.Decimal
	Currency   string
	ImageURL   string
	PreviewURL string
	RaribleURL string
	OpenSeaURL string
}

// ImageRef returns the best image pointer for an alert, preferring the preview.
func (l Listing) ImageRef() string {
	if l.PreviewURL != "" {
		return l.PreviewURL
	}
	return l.ImageURL
}

// MinPriceByRarity returns the lowest price per rarity present in listings.
// Rarities without listings are absent from the result.
func MinPriceByRarity(listings []Listing) map[Rarity]decimal.Decimal {
	mins := make(map[Rarity]decimal.Decimal)
	for _, l := range listings {
		if !l.Rarity.Valid() || l.Price.IsNegative() {
			continue
		}
		current, ok := mins[l.Rarity]
		if !ok || l.Price.LessThan(current) {
			mins[l.Rarity] = l.Price
		}
	}
	return mins
}

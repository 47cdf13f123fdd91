package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRarity is returned when a value is not one of the tracked rarities.
var ErrUnknownRarity = errors.New("unknown rarity")

// Rarity is the categorical trait floors are tracked by.
type Rarity string

const (
	Legendary Rarity = "Legendary"
	Epic      Rarity = "Epic"
	Rare      Rarity = "Rare"
	Uncommon  Rarity = "Uncommon"
	Common    Rarity = "Common"
)

var rarities = []Rarity{Legendary, Epic, Rare, Uncommon, Common}

// Rarities returns every rarity in a fixed order.
func Rarities() []Rarity {
	out := make([]Rarity, len(rarities))
	copy(out, rarities)
	return out
}

// ParseRarity matches s against the known rarities, ignoring case and surrounding space.
func ParseRarity(s string) (Rarity, error) {
	trimmed := strings.TrimSpace(s)
	for _, r := range rarities {
		if strings.EqualFold(trimmed, string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRarity, s)
}

// Valid reports whether r is one of the tracked rarities.
func (r Rarity) Valid() bool {
	for _, known := range rarities {
		if r == known {
			return true
		}
	}
	return false
}

func (r Rarity) String() string {
	return string(r)
}

package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Collection identifies a tracked collection as BLOCKCHAIN-0xcontract.
type Collection struct {
	Blockchain string
	Address    common.Address
}

// ParseCollection parses identifiers such as "POLYGON-0xd815...cc63".
func ParseCollection(id string) (Collection, error) {
	chain, addr, ok := strings.Cut(strings.TrimSpace(id), "-")
	if !ok || chain == "" {
		return Collection{}, fmt.Errorf("collection %q: expected BLOCKCHAIN-0xaddress", id)
	}
	if !common.IsHexAddress(addr) {
		return Collection{}, fmt.Errorf("collection %q: invalid contract address", id)
	}
	return Collection{
		Blockchain: strings.ToUpper(chain),
		Address:    common.HexToAddress(addr),
	}, nil
}

// String renders the marketplace identifier; the address is lower-cased as the marketplace expects.
func (c Collection) String() string {
	return c.Blockchain + "-" + strings.ToLower(c.Address.Hex())
}

// ItemPrefix is the prefix of marketplace item ids belonging to the collection.
func (c Collection) ItemPrefix() string {
	return c.Blockchain + ":" + strings.ToLower(c.Address.Hex()) + ":"
}

// NativeCurrency is the symbol of the chain's native coin, the only currency floors are kept in.
func (c Collection) NativeCurrency() string {
	if c.Blockchain == "POLYGON" {
		return "MATIC"
	}
	return "ETH"
}

package domain

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Chain identifies the ledger an asset leg lives on.
type Chain uint8

const (
	ChainUnknown Chain = iota
	ChainBitcoin
	ChainLitecoin
	ChainEthereum
	ChainArbitrum
)

var chainNames = map[Chain]string{
	ChainBitcoin:  "bitcoin",
	ChainLitecoin: "litecoin",
	ChainEthereum: "ethereum",
	ChainArbitrum: "arbitrum",
}

// String returns the lowercase chain name.
func (c Chain) String() string {
	if name, ok := chainNames[c]; ok {
		return name
	}
	return "unknown"
}

// ParseChain converts a chain name (case-insensitive) into a Chain.
func ParseChain(s string) (Chain, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for c, name := range chainNames {
		if name == needle {
			return c, nil
		}
	}
	return ChainUnknown, fmt.Errorf("unknown chain %q", s)
}

// MarshalText lets chains travel as names in JSON and YAML.
func (c Chain) MarshalText() ([]byte, error) {
	if c == ChainUnknown {
		return nil, fmt.Errorf("cannot marshal unknown chain")
	}
	return []byte(c.String()), nil
}

// UnmarshalText parses a chain name.
func (c *Chain) UnmarshalText(b []byte) error {
	parsed, err := ParseChain(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ChainFamily groups chains by their transaction model.
type ChainFamily string

const (
	FamilyUTXO    ChainFamily = "UTXO"
	FamilyAccount ChainFamily = "ACCOUNT"
)

// ChainInfo is the static metadata the book needs about a chain.
type ChainInfo struct {
	Chain    Chain
	Symbol   string
	Decimals int32
	Family   ChainFamily
	// SameChainSwaps marks the chain as explicitly compatible with itself,
	// allowing orders whose both legs live on it.
	SameChainSwaps bool
}

// FormatAmount renders an amount in base units (sats, wei) as a decimal in whole units.
func (ci ChainInfo) FormatAmount(amount uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -ci.Decimals)
}

// DefaultChains returns the built-in chain metadata.
func DefaultChains() []ChainInfo {
	return []ChainInfo{
		{Chain: ChainBitcoin, Symbol: "BTC", Decimals: 8, Family: FamilyUTXO},
		{Chain: ChainLitecoin, Symbol: "LTC", Decimals: 8, Family: FamilyUTXO},
		{Chain: ChainEthereum, Symbol: "ETH", Decimals: 18, Family: FamilyAccount},
		{Chain: ChainArbitrum, Symbol: "ETH", Decimals: 18, Family: FamilyAccount},
	}
}

// ChainRegistry holds the chains the book accepts orders for.
// It is immutable after construction.
type ChainRegistry struct {
	chains map[Chain]ChainInfo
}

// NewChainRegistry builds a registry from the given chain metadata.
func NewChainRegistry(infos []ChainInfo) *ChainRegistry {
	r := &ChainRegistry{chains: make(map[Chain]ChainInfo, len(infos))}
	for _, info := range infos {
		if info.Chain == ChainUnknown {
			continue
		}
		r.chains[info.Chain] = info
	}
	return r
}

// Lookup returns the metadata of an enabled chain.
func (r *ChainRegistry) Lookup(c Chain) (ChainInfo, bool) {
	info, ok := r.chains[c]
	return info, ok
}

// Compatible reports whether an order may swap from one chain to another.
// Distinct enabled chains are always compatible; a chain is compatible with
// itself only when marked SameChainSwaps.
func (r *ChainRegistry) Compatible(from, to Chain) bool {
	fromInfo, ok := r.chains[from]
	if !ok {
		return false
	}
	if _, ok := r.chains[to]; !ok {
		return false
	}
	if from == to {
		return fromInfo.SameChainSwaps
	}
	return true
}

// Chains returns the enabled chains in enum order.
func (r *ChainRegistry) Chains() []ChainInfo {
	out := make([]ChainInfo, 0, len(r.chains))
	for _, info := range r.chains {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chain < out[j].Chain })
	return out
}

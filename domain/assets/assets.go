package assets

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Asset describes a single tradable asset. Accuracy is the number of
// decimal places all balances and volumes in this asset are kept at.
type Asset struct {
	ID       string
	Accuracy int32
}

// AssetPair binds a base asset to a quoting asset. Prices are expressed
// as quoting units per base unit.
type AssetPair struct {
	ID             string
	BaseAssetID    string
	QuotingAssetID string
	Accuracy       int32
}

// Dictionary resolves reference data for validation and rounding.
// A missing entry is reported as (zero, false); callers surface it as
// an UnknownAsset rejection.
type Dictionary interface {
	Asset(id string) (Asset, bool)
	AssetPair(id string) (AssetPair, bool)
}

// InMemoryDictionary is a Dictionary backed by plain maps. The engine
// treats reference data as externally managed; this implementation is
// loaded once at startup and safe for concurrent reads.
type InMemoryDictionary struct {
	mu    sync.RWMutex
	items map[string]Asset
	pairs map[string]AssetPair
}

func NewInMemoryDictionary() *InMemoryDictionary {
	return &InMemoryDictionary{
		items: make(map[string]Asset),
		pairs: make(map[string]AssetPair),
	}
}

func (d *InMemoryDictionary) PutAsset(a Asset) {
	d.mu.Lock()
	d.items[a.ID] = a
	d.mu.Unlock()
}

func (d *InMemoryDictionary) PutAssetPair(p AssetPair) {
	d.mu.Lock()
	d.pairs[p.ID] = p
	d.mu.Unlock()
}

func (d *InMemoryDictionary) Asset(id string) (Asset, bool) {
	d.mu.RLock()
	a, ok := d.items[id]
	d.mu.RUnlock()
	return a, ok
}

func (d *InMemoryDictionary) AssetPair(id string) (AssetPair, bool) {
	d.mu.RLock()
	p, ok := d.pairs[id]
	d.mu.RUnlock()
	return p, ok
}

// Round quantizes v to the asset accuracy, half up.
func Round(v decimal.Decimal, accuracy int32) decimal.Decimal {
	return v.Round(accuracy)
}

// MinVolume returns the smallest representable amount at the given
// accuracy. Residue below it is dust.
func MinVolume(accuracy int32) decimal.Decimal {
	return decimal.New(1, -accuracy)
}

package state

import (
	"SynthLedger/internal/oracle"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrConfigurationMismatch = errors.New("collateral: configuration mismatch")
	ErrAssetNotApproved      = errors.New("collateral: asset not approved")
)

// CollateralRegistry maps approved collateral assets to their price oracle.
// The asset set is fixed at construction; ListAssets order is the
// registration order and drives every aggregation over collateral.
type CollateralRegistry struct {
	assets  []common.Address
	oracles map[common.Address]*oracle.Adapter
}

// NewCollateralRegistry builds a registry from parallel asset and adapter
// lists.
func NewCollateralRegistry(assets []common.Address, adapters []*oracle.Adapter) (*CollateralRegistry, error) {
	if len(assets) != len(adapters) {
		return nil, fmt.Errorf("%w: %d assets, %d price feeds", ErrConfigurationMismatch, len(assets), len(adapters))
	}

	r := &CollateralRegistry{
		assets:  make([]common.Address, 0, len(assets)),
		oracles: make(map[common.Address]*oracle.Adapter, len(assets)),
	}
	for i, asset := range assets {
		if asset == (common.Address{}) {
			return nil, fmt.Errorf("%w: asset %d has zero address", ErrConfigurationMismatch, i)
		}
		if adapters[i] == nil {
			return nil, fmt.Errorf("%w: asset %s has no price feed", ErrConfigurationMismatch, asset.Hex())
		}
		if _, dup := r.oracles[asset]; dup {
			return nil, fmt.Errorf("%w: asset %s registered twice", ErrConfigurationMismatch, asset.Hex())
		}
		r.assets = append(r.assets, asset)
		r.oracles[asset] = adapters[i]
	}
	return r, nil
}

func (r *CollateralRegistry) IsApproved(asset common.Address) bool {
	_, ok := r.oracles[asset]
	return ok
}

// OracleFor returns the price adapter of an approved asset.
func (r *CollateralRegistry) OracleFor(asset common.Address) (*oracle.Adapter, error) {
	a, ok := r.oracles[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotApproved, asset.Hex())
	}
	return a, nil
}

// ListAssets returns a copy of the approved assets in registration order.
func (r *CollateralRegistry) ListAssets() []common.Address {
	out := make([]common.Address, len(r.assets))
	copy(out, r.assets)
	return out
}

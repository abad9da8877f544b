package core

import (
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/token"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// AssetSpec describes one collateral asset.
type AssetSpec struct {
	Symbol  string
	Address common.Address
	Feed    oracle.Feed // nil reads rounds from the system price store
}

// SystemConfig describes a complete in-process deployment.
type SystemConfig struct {
	EngineAddress    common.Address
	SyntheticAddress common.Address
	SyntheticSymbol  string
	Assets           []AssetSpec
	MaxPriceAge      time.Duration // 0 disables the staleness check
}

// System is an engine wired to in-memory tokens and a price store.
type System struct {
	Engine     *IssuanceEngine
	Prices     *oracle.Store
	Collateral map[common.Address]*token.Fungible
	Synthetic  *token.Synthetic
	Symbols    map[common.Address]string
}

func NewSystem(cfg SystemConfig, logger zerolog.Logger) (*System, error) {
	if cfg.SyntheticAddress == (common.Address{}) {
		return nil, fmt.Errorf("%w: synthetic address is zero", ErrConfigurationMismatch)
	}

	sys := &System{
		Prices:     oracle.NewStore(),
		Collateral: make(map[common.Address]*token.Fungible, len(cfg.Assets)),
		Synthetic:  token.NewSynthetic(cfg.SyntheticSymbol, cfg.SyntheticAddress, cfg.EngineAddress),
		Symbols:    make(map[common.Address]string, len(cfg.Assets)+1),
	}
	sys.Symbols[cfg.SyntheticAddress] = cfg.SyntheticSymbol

	var adapterOpts []oracle.AdapterOption
	if cfg.MaxPriceAge > 0 {
		adapterOpts = append(adapterOpts, oracle.WithMaxAge(cfg.MaxPriceAge))
	}

	engineCfg := Config{
		Address:   cfg.EngineAddress,
		Tokens:    make(map[common.Address]AssetToken, len(cfg.Assets)),
		Synthetic: sys.Synthetic.Bind(cfg.EngineAddress),
	}
	revertibles := []Revertible{sys.Synthetic}

	for _, a := range cfg.Assets {
		if a.Address == cfg.SyntheticAddress {
			return nil, fmt.Errorf("%w: %s is the synthetic token", ErrConfigurationMismatch, a.Address.Hex())
		}
		feed := a.Feed
		if feed == nil {
			feed = sys.Prices.Feed(a.Address)
		}
		f := token.NewFungible(a.Symbol, a.Address)
		sys.Collateral[a.Address] = f
		sys.Symbols[a.Address] = a.Symbol
		revertibles = append(revertibles, f)

		engineCfg.Assets = append(engineCfg.Assets, a.Address)
		engineCfg.PriceFeeds = append(engineCfg.PriceFeeds, oracle.NewAdapter(feed, adapterOpts...))
		engineCfg.Tokens[a.Address] = f.Bind(cfg.EngineAddress)
	}

	engine, err := NewIssuanceEngine(engineCfg,
		WithLogger(logger),
		WithRevertibles(revertibles...),
	)
	if err != nil {
		return nil, err
	}
	sys.Engine = engine
	return sys, nil
}

// Token returns the in-memory token at address, collateral or synthetic.
func (s *System) Token(address common.Address) (*token.Fungible, bool) {
	if address == s.Synthetic.Address() {
		return s.Synthetic.Fungible, true
	}
	f, ok := s.Collateral[address]
	return f, ok
}

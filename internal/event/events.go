package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventType discriminator for domain events emitted by the engine
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeCollateralDeposited
	EventTypeCollateralRedeemed
	EventTypeSyntheticMinted
	EventTypeSyntheticBurned
	EventTypeLiquidated
)

func (et EventType) String() string {
	switch et {
	case EventTypeCollateralDeposited:
		return "CollateralDeposited"
	case EventTypeCollateralRedeemed:
		return "CollateralRedeemed"
	case EventTypeSyntheticMinted:
		return "SyntheticMinted"
	case EventTypeSyntheticBurned:
		return "SyntheticBurned"
	case EventTypeLiquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}

// Event is the interface all domain events implement
type Event interface {
	EventType() EventType
}

type CollateralDeposited struct {
	Account common.Address `json:"account"`
	Asset   common.Address `json:"asset"`
	Amount  *uint256.Int   `json:"amount"`
}

func (e *CollateralDeposited) EventType() EventType { return EventTypeCollateralDeposited }

// CollateralRedeemed with From != To is a liquidation seizure
type CollateralRedeemed struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Asset  common.Address `json:"asset"`
	Amount *uint256.Int   `json:"amount"`
}

func (e *CollateralRedeemed) EventType() EventType { return EventTypeCollateralRedeemed }

// IsSeizure reports whether the collateral left through a liquidation
func (e *CollateralRedeemed) IsSeizure() bool {
	return e.From != e.To
}

type SyntheticMinted struct {
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

func (e *SyntheticMinted) EventType() EventType { return EventTypeSyntheticMinted }

type SyntheticBurned struct {
	OnBehalfOf common.Address `json:"on_behalf_of"`
	Payer      common.Address `json:"payer"`
	Amount     *uint256.Int   `json:"amount"`
}

func (e *SyntheticBurned) EventType() EventType { return EventTypeSyntheticBurned }

// Liquidated summarizes one successful liquidation
type Liquidated struct {
	Liquidator       common.Address `json:"liquidator"`
	Target           common.Address `json:"target"`
	Asset            common.Address `json:"asset"`
	DebtCovered      *uint256.Int   `json:"debt_covered"`
	CollateralSeized *uint256.Int   `json:"collateral_seized"` // includes Bonus
	Bonus            *uint256.Int   `json:"bonus"`
	StartingHealth   *uint256.Int   `json:"starting_health_factor"`
	EndingHealth     *uint256.Int   `json:"ending_health_factor"`
}

func (e *Liquidated) EventType() EventType { return EventTypeLiquidated }

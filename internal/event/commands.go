package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Amounts are in the asset's smallest unit and travel as decimal strings.

type DepositCollateral struct {
	Header
	Asset  common.Address `json:"asset"`
	Amount *uint256.Int   `json:"amount"`
}

func (c *DepositCollateral) CommandType() CommandType { return CommandTypeDepositCollateral }

type Mint struct {
	Header
	Amount *uint256.Int `json:"amount"`
}

func (c *Mint) CommandType() CommandType { return CommandTypeMint }

type DepositAndMint struct {
	Header
	Asset      common.Address `json:"asset"`
	Amount     *uint256.Int   `json:"amount"`
	MintAmount *uint256.Int   `json:"mint_amount"`
}

func (c *DepositAndMint) CommandType() CommandType { return CommandTypeDepositAndMint }

type RedeemCollateral struct {
	Header
	Asset  common.Address `json:"asset"`
	Amount *uint256.Int   `json:"amount"`
}

func (c *RedeemCollateral) CommandType() CommandType { return CommandTypeRedeemCollateral }

type Burn struct {
	Header
	Amount *uint256.Int `json:"amount"`
}

func (c *Burn) CommandType() CommandType { return CommandTypeBurn }

type RedeemForBurn struct {
	Header
	Asset            common.Address `json:"asset"`
	CollateralAmount *uint256.Int   `json:"collateral_amount"`
	DebtAmount       *uint256.Int   `json:"debt_amount"`
}

func (c *RedeemForBurn) CommandType() CommandType { return CommandTypeRedeemForBurn }

type Liquidate struct {
	Header
	Asset       common.Address `json:"asset"`
	Target      common.Address `json:"target"`
	DebtToCover *uint256.Int   `json:"debt_to_cover"`
}

func (c *Liquidate) CommandType() CommandType { return CommandTypeLiquidate }

// PriceUpdate reports a new oracle round for a collateral asset
type PriceUpdate struct {
	Header
	Asset       common.Address `json:"asset"`
	RoundID     uint64         `json:"round_id"`
	Answer      *big.Int       `json:"answer"` // signed, feed decimals
	UpdatedAtUs int64          `json:"updated_at_us"`
}

func (c *PriceUpdate) CommandType() CommandType { return CommandTypePriceUpdate }

// WalletCredit bridges external funds of a collateral asset into an account
type WalletCredit struct {
	Header
	Asset   common.Address `json:"asset"`
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

func (c *WalletCredit) CommandType() CommandType { return CommandTypeWalletCredit }

// Approve sets the caller's allowance for spender on a collateral or the synthetic token
type Approve struct {
	Header
	Token   common.Address `json:"token"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

func (c *Approve) CommandType() CommandType { return CommandTypeApprove }

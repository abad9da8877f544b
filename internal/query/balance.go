package query

import (
	"SynthLedger/internal/core"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// AccountInfoResponse is an account's live position read from the core,
// unlike PositionResponse which trails behind on the projection.
type AccountInfoResponse struct {
	Account            string              `json:"account"`
	Collateral         []CollateralBalance `json:"collateral"`
	Debt               string              `json:"debt"`
	CollateralValueUSD string              `json:"collateral_value_usd"`
	HealthFactor       string              `json:"health_factor"`
	Status             string              `json:"status"`
	AsOfSequence       int64               `json:"as_of_sequence"`
}

// BalanceResponse is a wallet balance of one token.
type BalanceResponse struct {
	Token        string `json:"token"`
	Symbol       string `json:"symbol"`
	Account      string `json:"account"`
	Balance      string `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// PriceResponse is the latest oracle round for an asset.
type PriceResponse struct {
	Asset     string `json:"asset"`
	Symbol    string `json:"symbol"`
	RoundID   uint64 `json:"round_id"`
	Answer    string `json:"answer"`
	UpdatedAt int64  `json:"updated_at"`
}

// LiveAccountInfo builds an account's position from a core view.
// Call it from inside core.Query.
func LiveAccountInfo(v *core.View, account common.Address) (*AccountInfoResponse, error) {
	pos, err := v.Position(account)
	if err != nil {
		return nil, err
	}
	resp := &AccountInfoResponse{
		Account:            account.Hex(),
		Debt:               pos.Debt.Dec(),
		CollateralValueUSD: pos.CollateralValueUSD.Dec(),
		HealthFactor:       pos.HealthFactor.Dec(),
		Status:             pos.Status.String(),
		AsOfSequence:       v.Sequence() - 1,
	}
	for _, c := range pos.Collateral {
		resp.Collateral = append(resp.Collateral, CollateralBalance{
			Asset:  c.Asset.Hex(),
			Amount: c.Amount.Dec(),
		})
	}
	return resp, nil
}

// LiveBalance reads a wallet balance from a core view.
func LiveBalance(v *core.View, tokenAddr, account common.Address) (*BalanceResponse, error) {
	bal, ok := v.TokenBalance(tokenAddr, account)
	if !ok {
		return nil, fmt.Errorf("unknown token %s", tokenAddr.Hex())
	}
	return &BalanceResponse{
		Token:        tokenAddr.Hex(),
		Symbol:       v.Symbol(tokenAddr),
		Account:      account.Hex(),
		Balance:      bal.Dec(),
		AsOfSequence: v.Sequence() - 1,
	}, nil
}

// LivePrice reads the latest round for asset. ok is false before any round.
func LivePrice(v *core.View, asset common.Address) (*PriceResponse, bool) {
	round, ok := v.LatestRound(asset)
	if !ok {
		return nil, false
	}
	return &PriceResponse{
		Asset:     asset.Hex(),
		Symbol:    v.Symbol(asset),
		RoundID:   round.RoundID,
		Answer:    round.Answer.String(),
		UpdatedAt: round.UpdatedAt.Unix(),
	}, true
}

// LiveCustody compares recorded deposits with engine holdings per asset.
func LiveCustody(v *core.View) []CustodyMismatch {
	var out []CustodyMismatch
	for asset, pair := range v.Custody() {
		if !pair[0].Eq(pair[1]) {
			out = append(out, CustodyMismatch{
				Asset:    asset.Hex(),
				Deposits: pair[0].Dec(),
				Custody:  pair[1].Dec(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

package event_test

import (
	"SynthLedger/internal/event"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	weth  = common.HexToAddress("0x000000000000000000000000000000000000e7e1")
)

func TestCommandType_ParseRoundTrip(t *testing.T) {
	for ct := event.CommandTypeDepositCollateral; ct <= event.CommandTypeApprove; ct++ {
		parsed, err := event.ParseCommandType(ct.String())
		require.NoError(t, err)
		assert.Equal(t, ct, parsed)
	}

	_, err := event.ParseCommandType("Withdraw")
	assert.Error(t, err)
}

func TestDecodeCommand_LiquidateFromWire(t *testing.T) {
	raw := `{
		"idempotency_key": "liq-7",
		"caller": "0x0000000000000000000000000000000000000b0b",
		"timestamp_us": 1700000000000000,
		"asset": "0x000000000000000000000000000000000000e7e1",
		"target": "0x00000000000000000000000000000000000a11ce",
		"debt_to_cover": "4000000000000000000000"
	}`
	cmd, err := event.DecodeCommand(event.CommandTypeLiquidate, []byte(raw))
	require.NoError(t, err)

	liq, ok := cmd.(*event.Liquidate)
	require.True(t, ok)
	assert.Equal(t, "liq-7", liq.IdempotencyKey())
	assert.Equal(t, bob, liq.Sender())
	assert.Equal(t, alice, liq.Target)
	assert.Equal(t, weth, liq.Asset)
	assert.Equal(t, "4000000000000000000000", liq.DebtToCover.Dec())
	assert.Equal(t, int64(1700000000), liq.Time().Unix())
}

func TestEncodeCommand_AmountsAreDecimalStrings(t *testing.T) {
	cmd := &event.Mint{
		Header: event.Header{Key: "m-1", Caller: alice, TimestampUs: 1},
		Amount: uint256.NewInt(1234),
	}
	data, err := event.EncodeCommand(cmd)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"amount":"1234"`)
	assert.Contains(t, string(data), `"idempotency_key":"m-1"`)
}

func TestDecodeCommand_PriceUpdateSignedAnswer(t *testing.T) {
	cmd := &event.PriceUpdate{
		Header:  event.Header{Key: "px-1", Caller: alice, TimestampUs: 5},
		Asset:   weth,
		RoundID: 3,
		Answer:  big.NewInt(-1),
	}
	data, err := event.EncodeCommand(cmd)
	require.NoError(t, err)

	decoded, err := event.DecodeCommand(event.CommandTypePriceUpdate, data)
	require.NoError(t, err)
	pu := decoded.(*event.PriceUpdate)
	assert.Equal(t, int64(-1), pu.Answer.Int64())
	assert.Equal(t, uint64(3), pu.RoundID)
}

func TestDecodeCommand_Errors(t *testing.T) {
	_, err := event.DecodeCommand(event.CommandTypeUnknown, []byte(`{}`))
	assert.Error(t, err)

	_, err = event.DecodeCommand(event.CommandTypeMint, []byte(`{"amount": "not-a-number"}`))
	assert.Error(t, err)
}

func TestEncodeEvents_PreservesOrderAndTypes(t *testing.T) {
	events := []event.Event{
		&event.CollateralRedeemed{From: alice, To: bob, Asset: weth, Amount: uint256.NewInt(11)},
		&event.SyntheticBurned{OnBehalfOf: alice, Payer: bob, Amount: uint256.NewInt(10)},
		&event.Liquidated{
			Liquidator:       bob,
			Target:           alice,
			Asset:            weth,
			DebtCovered:      uint256.NewInt(10),
			CollateralSeized: uint256.NewInt(11),
			Bonus:            uint256.NewInt(1),
			StartingHealth:   uint256.NewInt(5),
			EndingHealth:     uint256.NewInt(6),
		},
	}
	data, err := event.EncodeEvents(events)
	require.NoError(t, err)
	assert.True(t, strings.Index(string(data), "CollateralRedeemed") < strings.Index(string(data), "Liquidated"))

	decoded, err := event.DecodeEvents(data)
	require.NoError(t, err)
	require.Len(t, decoded, 3)

	redeemed := decoded[0].(*event.CollateralRedeemed)
	assert.True(t, redeemed.IsSeizure())
	assert.Equal(t, uint64(11), redeemed.Amount.Uint64())
	assert.Equal(t, event.EventTypeSyntheticBurned, decoded[1].EventType())
	liq := decoded[2].(*event.Liquidated)
	assert.Equal(t, uint64(6), liq.EndingHealth.Uint64())
}

func TestDecodeEvents_UnknownType(t *testing.T) {
	_, err := event.DecodeEvents([]byte(`[{"type":"FundingPaid","data":{}}]`))
	assert.Error(t, err)
}

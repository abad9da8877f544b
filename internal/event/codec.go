package event

import (
	"encoding/json"
	"fmt"
)

// EncodeCommand returns the JSON wire form of a command
func EncodeCommand(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.CommandType(), err)
	}
	return data, nil
}

// DecodeCommand parses the JSON wire form of a command of the given type
func DecodeCommand(ct CommandType, data []byte) (Command, error) {
	var cmd Command
	switch ct {
	case CommandTypeDepositCollateral:
		cmd = &DepositCollateral{}
	case CommandTypeMint:
		cmd = &Mint{}
	case CommandTypeDepositAndMint:
		cmd = &DepositAndMint{}
	case CommandTypeRedeemCollateral:
		cmd = &RedeemCollateral{}
	case CommandTypeBurn:
		cmd = &Burn{}
	case CommandTypeRedeemForBurn:
		cmd = &RedeemForBurn{}
	case CommandTypeLiquidate:
		cmd = &Liquidate{}
	case CommandTypePriceUpdate:
		cmd = &PriceUpdate{}
	case CommandTypeWalletCredit:
		cmd = &WalletCredit{}
	case CommandTypeApprove:
		cmd = &Approve{}
	default:
		return nil, fmt.Errorf("unknown command type: %d", ct)
	}
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ct, err)
	}
	return cmd, nil
}

type taggedEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeEvents serializes domain events with their type tag, preserving order
func EncodeEvents(events []Event) ([]byte, error) {
	tagged := make([]taggedEvent, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", e.EventType(), err)
		}
		tagged = append(tagged, taggedEvent{Type: e.EventType().String(), Data: data})
	}
	return json.Marshal(tagged)
}

// DecodeEvents reverses EncodeEvents
func DecodeEvents(data []byte) ([]Event, error) {
	var tagged []taggedEvent
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("parse events: %w", err)
	}
	out := make([]Event, 0, len(tagged))
	for _, t := range tagged {
		var e Event
		switch t.Type {
		case "CollateralDeposited":
			e = &CollateralDeposited{}
		case "CollateralRedeemed":
			e = &CollateralRedeemed{}
		case "SyntheticMinted":
			e = &SyntheticMinted{}
		case "SyntheticBurned":
			e = &SyntheticBurned{}
		case "Liquidated":
			e = &Liquidated{}
		default:
			return nil, fmt.Errorf("unknown event type: %s", t.Type)
		}
		if err := json.Unmarshal(t.Data, e); err != nil {
			return nil, fmt.Errorf("parse %s: %w", t.Type, err)
		}
		out = append(out, e)
	}
	return out, nil
}

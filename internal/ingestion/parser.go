package ingestion

import (
	"SynthLedger/internal/event"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	CommandSubjectPrefix = "synth.commands."
	PriceSubjectPrefix   = "synth.prices."
	EventSubjectPrefix   = "synth.ledger.events."
)

var (
	ErrUnknownSubject  = errors.New("unknown subject")
	ErrMissingField    = errors.New("missing field")
	ErrSubjectMismatch = errors.New("subject does not match payload")
)

// CommandTypeFromSubject resolves the command type a subject carries.
// "synth.commands.<Type>[.<suffix>]" maps to <Type>, "synth.prices.<asset>"
// to PriceUpdate.
func CommandTypeFromSubject(subject string) (event.CommandType, error) {
	switch {
	case strings.HasPrefix(subject, CommandSubjectPrefix):
		name, _, _ := strings.Cut(strings.TrimPrefix(subject, CommandSubjectPrefix), ".")
		ct, err := event.ParseCommandType(name)
		if err != nil {
			return event.CommandTypeUnknown, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
		}
		return ct, nil
	case strings.HasPrefix(subject, PriceSubjectPrefix):
		return event.CommandTypePriceUpdate, nil
	}
	return event.CommandTypeUnknown, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
}

// ParseRawCommand converts a RawCommand into a typed, validated command.
// Price subjects fill a missing payload asset from the subject suffix.
func ParseRawCommand(raw RawCommand) (event.Command, error) {
	ct, err := CommandTypeFromSubject(raw.Subject)
	if err != nil {
		return nil, err
	}
	cmd, err := event.DecodeCommand(ct, raw.Data)
	if err != nil {
		return nil, err
	}

	if pu, ok := cmd.(*event.PriceUpdate); ok && strings.HasPrefix(raw.Subject, PriceSubjectPrefix) {
		suffix := strings.TrimPrefix(raw.Subject, PriceSubjectPrefix)
		if !common.IsHexAddress(suffix) {
			return nil, fmt.Errorf("%w: price subject %s", ErrUnknownSubject, raw.Subject)
		}
		subjectAsset := common.HexToAddress(suffix)
		switch pu.Asset {
		case common.Address{}:
			pu.Asset = subjectAsset
		case subjectAsset:
		default:
			return nil, fmt.Errorf("%w: asset %s on %s", ErrSubjectMismatch, pu.Asset.Hex(), raw.Subject)
		}
	}

	if err := ValidateCommand(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// ValidateCommand checks a command is well-formed. Business rules such as
// zero amounts or unapproved assets are left to the engine, which rejects
// them with a typed error.
func ValidateCommand(cmd event.Command) error {
	if cmd.IdempotencyKey() == "" {
		return fmt.Errorf("%w: idempotency_key", ErrMissingField)
	}
	if cmd.Sender() == (common.Address{}) {
		return fmt.Errorf("%w: caller", ErrMissingField)
	}
	if cmd.Time().UnixMicro() <= 0 {
		return fmt.Errorf("%w: timestamp_us", ErrMissingField)
	}

	switch c := cmd.(type) {
	case *event.DepositCollateral:
		return requireAmounts(c.CommandType(), map[string]*uint256.Int{"amount": c.Amount})
	case *event.Mint:
		return requireAmounts(c.CommandType(), map[string]*uint256.Int{"amount": c.Amount})
	case *event.DepositAndMint:
		return requireAmounts(c.CommandType(), map[string]*uint256.Int{"amount": c.Amount, "mint_amount": c.MintAmount})
	case *event.RedeemCollateral:
		return requireAmounts(c.CommandType(), map[string]*uint256.Int{"amount": c.Amount})
	case *event.Burn:
		return requireAmounts(c.CommandType(), map[string]*uint256.Int{"amount": c.Amount})
	case *event.RedeemForBurn:
		return requireAmounts(c.CommandType(), map[string]*uint256.Int{"collateral_amount": c.CollateralAmount, "debt_amount": c.DebtAmount})
	case *event.Liquidate:
		if c.Target == (common.Address{}) {
			return fmt.Errorf("%w: target", ErrMissingField)
		}
		return requireAmounts(c.CommandType(), map[string]*uint256.Int{"debt_to_cover": c.DebtToCover})
	case *event.PriceUpdate:
		if c.Asset == (common.Address{}) {
			return fmt.Errorf("%w: asset", ErrMissingField)
		}
		if c.Answer == nil {
			return fmt.Errorf("%w: answer", ErrMissingField)
		}
	case *event.WalletCredit:
		if c.Account == (common.Address{}) {
			return fmt.Errorf("%w: account", ErrMissingField)
		}
		return requireAmounts(c.CommandType(), map[string]*uint256.Int{"amount": c.Amount})
	case *event.Approve:
		if c.Spender == (common.Address{}) {
			return fmt.Errorf("%w: spender", ErrMissingField)
		}
		return requireAmounts(c.CommandType(), map[string]*uint256.Int{"amount": c.Amount})
	}
	return nil
}

func requireAmounts(ct event.CommandType, amounts map[string]*uint256.Int) error {
	for name, v := range amounts {
		if v == nil {
			return fmt.Errorf("%w: %s.%s", ErrMissingField, ct, name)
		}
	}
	return nil
}

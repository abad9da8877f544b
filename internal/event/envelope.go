package event

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CommandType discriminator for inbound command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeDepositCollateral
	CommandTypeMint
	CommandTypeDepositAndMint
	CommandTypeRedeemCollateral
	CommandTypeBurn
	CommandTypeRedeemForBurn
	CommandTypeLiquidate
	CommandTypePriceUpdate
	CommandTypeWalletCredit
	CommandTypeApprove
)

var commandTypeNames = map[CommandType]string{
	CommandTypeDepositCollateral: "DepositCollateral",
	CommandTypeMint:              "Mint",
	CommandTypeDepositAndMint:    "DepositAndMint",
	CommandTypeRedeemCollateral:  "RedeemCollateral",
	CommandTypeBurn:              "Burn",
	CommandTypeRedeemForBurn:     "RedeemForBurn",
	CommandTypeLiquidate:         "Liquidate",
	CommandTypePriceUpdate:       "PriceUpdate",
	CommandTypeWalletCredit:      "WalletCredit",
	CommandTypeApprove:           "Approve",
}

func (ct CommandType) String() string {
	if name, ok := commandTypeNames[ct]; ok {
		return name
	}
	return "Unknown"
}

// ParseCommandType maps a wire name (e.g. a NATS subject suffix) to its type
func ParseCommandType(name string) (CommandType, error) {
	for ct, n := range commandTypeNames {
		if n == name {
			return ct, nil
		}
	}
	return CommandTypeUnknown, fmt.Errorf("unknown command type: %s", name)
}

// EventEnvelope wraps every committed command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command type discriminator
	CommandType CommandType

	// Account that issued the command
	Caller common.Address

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded command, replayed on recovery
	Payload []byte

	// Domain events emitted by the committed call, in order
	Events []Event

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous envelope's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all inbound command payloads must implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// Sender is the implicit caller of the engine operation
	Sender() common.Address

	// Time is the versioned timestamp the engine uses as its clock
	Time() time.Time
}

// Header carries the fields every command shares
type Header struct {
	Key         string         `json:"idempotency_key"`
	Caller      common.Address `json:"caller"`
	TimestampUs int64          `json:"timestamp_us"`
}

func (h Header) IdempotencyKey() string {
	return h.Key
}

func (h Header) Sender() common.Address {
	return h.Caller
}

func (h Header) Time() time.Time {
	return time.UnixMicro(h.TimestampUs).UTC()
}

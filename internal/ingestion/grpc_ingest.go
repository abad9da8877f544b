package ingestion

import (
	"SynthLedger/internal/event"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// CommandSubmitter is the core's command entry point.
type CommandSubmitter interface {
	Submit(ctx context.Context, cmd event.Command) error
}

// GRPCIngestService submits single commands from the RPC surface.
// NATS is the high-throughput path; this one is for clients that want the
// engine's verdict synchronously.
type GRPCIngestService struct {
	core CommandSubmitter
}

func NewGRPCIngestService(core CommandSubmitter) *GRPCIngestService {
	return &GRPCIngestService{core: core}
}

// SubmitRaw decodes payload as commandType, validates and submits it.
func (s *GRPCIngestService) SubmitRaw(ctx context.Context, commandType string, payload []byte) error {
	ct, err := event.ParseCommandType(commandType)
	if err != nil {
		return err
	}
	cmd, err := event.DecodeCommand(ct, payload)
	if err != nil {
		return err
	}
	return s.Submit(ctx, cmd)
}

// Submit validates and submits an already typed command.
func (s *GRPCIngestService) Submit(ctx context.Context, cmd event.Command) error {
	if err := ValidateCommand(cmd); err != nil {
		return err
	}
	return s.core.Submit(ctx, cmd)
}

// RunIngestionLoop parses raw NATS messages and submits them one at a time.
// A message is ACKed once the core has ruled on it, accepted or rejected;
// rejections are deterministic so redelivery would only reject again.
// Unparseable messages are ACKed and dropped. Only a shutdown NAKs.
func RunIngestionLoop(ctx context.Context, rawChan <-chan RawCommand, core CommandSubmitter, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}
			if err := handleRaw(ctx, raw, core, logger); err != nil {
				raw.NakFunc()
				return
			}
			raw.AckFunc()
		}
	}
}

// handleRaw returns an error only when the message should be redelivered.
func handleRaw(ctx context.Context, raw RawCommand, core CommandSubmitter, logger zerolog.Logger) error {
	cmd, err := ParseRawCommand(raw)
	if err != nil {
		logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable command")
		return nil
	}

	err = core.Submit(ctx, cmd)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("submit %s: %w", cmd.IdempotencyKey(), err)
	default:
		logger.Debug().Err(err).
			Str("command_type", cmd.CommandType().String()).
			Str("key", cmd.IdempotencyKey()).
			Msg("command rejected")
		return nil
	}
}

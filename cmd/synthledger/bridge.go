package main

import (
	"SynthLedger/internal/core"
	"SynthLedger/internal/event"
	"SynthLedger/internal/ingestion"
	"SynthLedger/internal/ledger"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/persistence"
	"SynthLedger/internal/projection"
	"fmt"

	"github.com/rs/zerolog"
)

// bridge converts core.CoreOutput into the persistence, projection and
// outbound formats. This keeps core free of storage and transport imports.
type bridge struct {
	persistOut    chan<- persistence.CoreOutput
	projectionOut chan<- projection.ProjectionOutput
	publishOut    chan<- ingestion.PublishableEvent
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

// run drains both core channels until they are closed, then closes its
// outputs so the workers can flush and exit. Persistence sends block;
// projection and publish sends drop when the consumer lags.
func (b *bridge) run(persistIn, projectionIn <-chan core.CoreOutput) {
	defer close(b.persistOut)
	defer close(b.projectionOut)
	defer close(b.publishOut)

	for persistIn != nil || projectionIn != nil {
		select {
		case output, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}
			row, err := toPersistence(output)
			if err != nil {
				// Only an unencodable event gets here; the log must not skip a sequence.
				b.logger.Fatal().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("bridge persistence output")
			}
			b.persistOut <- row
			b.publish(output.Envelope)

		case output, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}
			select {
			case b.projectionOut <- toProjection(output):
			default:
				if b.metrics != nil {
					b.metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
				}
			}
		}
	}
}

func (b *bridge) publish(env *event.EventEnvelope) {
	pubs, err := ingestion.PublishablesFromEnvelope(env)
	if err != nil {
		b.logger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("build outbound events")
		return
	}
	for _, p := range pubs {
		select {
		case b.publishOut <- p:
		default:
			if b.metrics != nil {
				b.metrics.PublishDrops.Inc()
			}
		}
	}
}

func toPersistence(output core.CoreOutput) (persistence.CoreOutput, error) {
	env := output.Envelope
	events, err := event.EncodeEvents(env.Events)
	if err != nil {
		return persistence.CoreOutput{}, fmt.Errorf("encode events seq=%d: %w", env.Sequence, err)
	}

	stateHash := env.StateHash
	prevHash := env.PrevHash
	out := persistence.CoreOutput{
		EventRow: persistence.EventRow{
			Sequence:       env.Sequence,
			CommandType:    env.CommandType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Caller:         env.Caller.Hex(),
			Payload:        env.Payload,
			Events:         events,
			StateHash:      stateHash[:],
			PrevHash:       prevHash[:],
			Timestamp:      env.Timestamp,
		},
	}

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			var asset *string
			if j.Account.Kind == ledger.KindCollateral {
				a := j.Account.Asset.Hex()
				asset = &a
			}
			out.JournalRows = append(out.JournalRows, persistence.JournalRow{
				JournalID:   j.JournalID.String(),
				BatchID:     j.BatchID.String(),
				EventRef:    j.EventRef,
				Sequence:    j.Sequence,
				Account:     j.Account.Account.Hex(),
				AccountPath: j.Account.AccountPath(),
				EntryKind:   j.Account.Kind.String(),
				Asset:       asset,
				Direction:   int16(j.Direction),
				Amount:      j.Amount.Dec(),
				JournalType: int32(j.JournalType),
				Timestamp:   j.Timestamp,
			})
		}
	}
	return out, nil
}

func toProjection(output core.CoreOutput) projection.ProjectionOutput {
	env := output.Envelope
	out := projection.ProjectionOutput{
		Sequence:    env.Sequence,
		CommandType: env.CommandType.String(),
		Timestamp:   env.Timestamp.UnixMicro(),
	}

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			d := projection.PositionDelta{
				Account:   j.Account.Account.Hex(),
				EntryKind: j.Account.Kind.String(),
				Amount:    j.SignedAmount(),
			}
			if j.Account.Kind == ledger.KindCollateral {
				d.Asset = j.Account.Asset.Hex()
			}
			out.Deltas = append(out.Deltas, d)
		}
	}

	for _, e := range env.Events {
		liq, ok := e.(*event.Liquidated)
		if !ok {
			continue
		}
		out.Liquidations = append(out.Liquidations, projection.LiquidationRecord{
			Liquidator:       liq.Liquidator.Hex(),
			Target:           liq.Target.Hex(),
			Asset:            liq.Asset.Hex(),
			DebtCovered:      liq.DebtCovered.Dec(),
			CollateralSeized: liq.CollateralSeized.Dec(),
			Bonus:            liq.Bonus.Dec(),
			StartingHealth:   liq.StartingHealth.Dec(),
			EndingHealth:     liq.EndingHealth.Dec(),
		})
	}
	return out
}

package ingestion_test

import (
	"SynthLedger/internal/event"
	"SynthLedger/internal/ingestion"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const (
	aliceHex = "0x00000000000000000000000000000000000a11ce"
	wethHex  = "0x000000000000000000000000000000000000e7e1"
	wbtcHex  = "0x0000000000000000000000000000000000000b7c"
)

func rawCommand(subject, data string) ingestion.RawCommand {
	return ingestion.RawCommand{
		Subject:   subject,
		Data:      []byte(data),
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestCommandTypeFromSubject(t *testing.T) {
	cases := []struct {
		subject string
		want    event.CommandType
		wantErr bool
	}{
		{"synth.commands.DepositCollateral", event.CommandTypeDepositCollateral, false},
		{"synth.commands.Liquidate.desk-7", event.CommandTypeLiquidate, false},
		{"synth.prices." + wethHex, event.CommandTypePriceUpdate, false},
		{"synth.commands.Withdraw", event.CommandTypeUnknown, true},
		{"perp.trades.BTC", event.CommandTypeUnknown, true},
	}
	for _, tc := range cases {
		got, err := ingestion.CommandTypeFromSubject(tc.subject)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tc.subject, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.subject, got, tc.want)
		}
	}
}

func TestParseDepositCollateral(t *testing.T) {
	raw := rawCommand("synth.commands.DepositCollateral", `{
		"idempotency_key": "dep-1",
		"caller": "`+aliceHex+`",
		"timestamp_us": 1700000000000000,
		"asset": "`+wethHex+`",
		"amount": "10000000000000000000"
	}`)

	cmd, err := ingestion.ParseRawCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dep, ok := cmd.(*event.DepositCollateral)
	if !ok {
		t.Fatalf("expected *event.DepositCollateral, got %T", cmd)
	}
	if dep.Asset != common.HexToAddress(wethHex) {
		t.Errorf("asset: got %s, want %s", dep.Asset.Hex(), wethHex)
	}
	if dep.Amount.Dec() != "10000000000000000000" {
		t.Errorf("amount: got %s", dep.Amount.Dec())
	}
	if dep.Sender() != common.HexToAddress(aliceHex) {
		t.Errorf("caller: got %s", dep.Sender().Hex())
	}
}

func TestParsePriceUpdate_AssetFromSubject(t *testing.T) {
	raw := rawCommand("synth.prices."+wethHex, `{
		"idempotency_key": "px-weth-42",
		"caller": "`+aliceHex+`",
		"timestamp_us": 1700000000000000,
		"round_id": 42,
		"answer": 200000000000,
		"updated_at_us": 1700000000000000
	}`)

	cmd, err := ingestion.ParseRawCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	pu := cmd.(*event.PriceUpdate)
	if pu.Asset != common.HexToAddress(wethHex) {
		t.Errorf("asset: got %s, want subject asset", pu.Asset.Hex())
	}
	if pu.RoundID != 42 {
		t.Errorf("round: got %d, want 42", pu.RoundID)
	}
	if pu.Answer.Int64() != 200000000000 {
		t.Errorf("answer: got %s", pu.Answer)
	}
}

func TestParsePriceUpdate_SubjectMismatch(t *testing.T) {
	raw := rawCommand("synth.prices."+wbtcHex, `{
		"idempotency_key": "px-1",
		"caller": "`+aliceHex+`",
		"timestamp_us": 1,
		"asset": "`+wethHex+`",
		"round_id": 1,
		"answer": 1
	}`)

	_, err := ingestion.ParseRawCommand(raw)
	if !errors.Is(err, ingestion.ErrSubjectMismatch) {
		t.Fatalf("expected ErrSubjectMismatch, got %v", err)
	}
}

func TestParse_MissingFields(t *testing.T) {
	cases := map[string]string{
		"no key":       `{"caller":"` + aliceHex + `","timestamp_us":1,"amount":"1"}`,
		"no caller":    `{"idempotency_key":"k","timestamp_us":1,"amount":"1"}`,
		"no timestamp": `{"idempotency_key":"k","caller":"` + aliceHex + `","amount":"1"}`,
		"no amount":    `{"idempotency_key":"k","caller":"` + aliceHex + `","timestamp_us":1}`,
	}
	for name, payload := range cases {
		_, err := ingestion.ParseRawCommand(rawCommand("synth.commands.Mint", payload))
		if !errors.Is(err, ingestion.ErrMissingField) {
			t.Errorf("%s: expected ErrMissingField, got %v", name, err)
		}
	}
}

func TestParse_ZeroAmountIsLeftToEngine(t *testing.T) {
	raw := rawCommand("synth.commands.Burn", `{
		"idempotency_key": "b-0",
		"caller": "`+aliceHex+`",
		"timestamp_us": 1,
		"amount": "0"
	}`)
	if _, err := ingestion.ParseRawCommand(raw); err != nil {
		t.Fatalf("zero amount should parse, got %v", err)
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	_, err := ingestion.ParseRawCommand(rawCommand("synth.commands.Mint", `{not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// ============================================================================
// Ingestion loop
// ============================================================================

type fakeSubmitter struct {
	errs      []error
	submitted []string
}

func (f *fakeSubmitter) Submit(_ context.Context, cmd event.Command) error {
	f.submitted = append(f.submitted, cmd.IdempotencyKey())
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func TestRunIngestionLoop_AckSemantics(t *testing.T) {
	mint := func(key string) string {
		return `{"idempotency_key":"` + key + `","caller":"` + aliceHex + `","timestamp_us":1,"amount":"1"}`
	}

	var acks, naks []string
	track := func(raw ingestion.RawCommand, id string) ingestion.RawCommand {
		raw.AckFunc = func() { acks = append(acks, id) }
		raw.NakFunc = func() { naks = append(naks, id) }
		return raw
	}

	rawChan := make(chan ingestion.RawCommand, 4)
	rawChan <- track(rawCommand("synth.commands.Mint", mint("ok")), "ok")
	rawChan <- track(rawCommand("synth.commands.Mint", mint("rejected")), "rejected")
	rawChan <- track(rawCommand("synth.commands.Mint", `garbage`), "garbage")
	rawChan <- track(rawCommand("synth.commands.Mint", mint("shutdown")), "shutdown")
	close(rawChan)

	sub := &fakeSubmitter{errs: []error{nil, errors.New("health factor broken"), context.Canceled}}
	ingestion.RunIngestionLoop(context.Background(), rawChan, sub, zerolog.Nop())

	if len(sub.submitted) != 3 {
		t.Fatalf("submitted %v, want 3 commands", sub.submitted)
	}
	wantAcks := []string{"ok", "rejected", "garbage"}
	if len(acks) != len(wantAcks) {
		t.Fatalf("acks = %v, want %v", acks, wantAcks)
	}
	for i := range wantAcks {
		if acks[i] != wantAcks[i] {
			t.Errorf("ack[%d] = %s, want %s", i, acks[i], wantAcks[i])
		}
	}
	if len(naks) != 1 || naks[0] != "shutdown" {
		t.Errorf("naks = %v, want [shutdown]", naks)
	}
}

func TestGRPCIngestService_SubmitRaw(t *testing.T) {
	sub := &fakeSubmitter{}
	svc := ingestion.NewGRPCIngestService(sub)

	err := svc.SubmitRaw(context.Background(), "Mint",
		[]byte(`{"idempotency_key":"m-1","caller":"`+aliceHex+`","timestamp_us":1,"amount":"5"}`))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(sub.submitted) != 1 || sub.submitted[0] != "m-1" {
		t.Errorf("submitted = %v", sub.submitted)
	}

	if err := svc.SubmitRaw(context.Background(), "Withdraw", []byte(`{}`)); err == nil {
		t.Error("expected unknown command type error")
	}
	if err := svc.SubmitRaw(context.Background(), "Mint", []byte(`{"amount":"5"}`)); !errors.Is(err, ingestion.ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}

func TestPublishablesFromEnvelope(t *testing.T) {
	env := &event.EventEnvelope{
		Sequence:       9,
		IdempotencyKey: "dep-9",
		CommandType:    event.CommandTypeDepositCollateral,
		Events: []event.Event{
			&event.CollateralDeposited{},
		},
	}
	pubs, err := ingestion.PublishablesFromEnvelope(env)
	if err != nil {
		t.Fatalf("flatten failed: %v", err)
	}
	if len(pubs) != 1 {
		t.Fatalf("got %d publishables, want 1", len(pubs))
	}
	if pubs[0].Subject() != "synth.ledger.events.CollateralDeposited" {
		t.Errorf("subject: got %s", pubs[0].Subject())
	}
	if pubs[0].MsgID() != "9-0" {
		t.Errorf("msg id: got %s", pubs[0].MsgID())
	}
}

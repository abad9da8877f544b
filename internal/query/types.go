package query

// PositionResponse is an account's projected position.
type PositionResponse struct {
	Account      string              `json:"account"`
	Collateral   []CollateralBalance `json:"collateral"`
	Debt         string              `json:"debt"`
	AsOfSequence int64               `json:"as_of_sequence"`
}

// CollateralBalance is one deposited asset.
type CollateralBalance struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// LiquidationResponse is one executed liquidation.
type LiquidationResponse struct {
	Sequence         int64  `json:"sequence"`
	Liquidator       string `json:"liquidator"`
	Target           string `json:"target"`
	Asset            string `json:"asset"`
	DebtCovered      string `json:"debt_covered"`
	CollateralSeized string `json:"collateral_seized"`
	Bonus            string `json:"bonus"`
	StartingHealth   string `json:"starting_health_factor"`
	EndingHealth     string `json:"ending_health_factor"`
	Timestamp        int64  `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID   string `json:"journal_id"`
	BatchID     string `json:"batch_id"`
	EventRef    string `json:"event_ref"`
	Sequence    int64  `json:"sequence"`
	AccountPath string `json:"account_path"`
	EntryKind   string `json:"entry_kind"`
	Asset       string `json:"asset,omitempty"`
	Direction   int16  `json:"direction"`
	Amount      string `json:"amount"`
	JournalType int32  `json:"journal_type"`
	Timestamp   int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy         bool              `json:"is_healthy"`
	LatestSequence    int64             `json:"latest_sequence"`
	HashChainBreaks   []int64           `json:"hash_chain_breaks,omitempty"`
	SequenceGaps      []int64           `json:"sequence_gaps,omitempty"`
	NegativePositions []string          `json:"negative_positions,omitempty"`
	ProjectionDrift   []ProjectionDrift `json:"projection_drift,omitempty"`
	CustodyMismatches []CustodyMismatch `json:"custody_mismatches,omitempty"`
}

// ProjectionDrift is a position whose projected balance disagrees with the journal.
type ProjectionDrift struct {
	AccountPath string `json:"account_path"`
	Journal     string `json:"journal"`
	Projection  string `json:"projection"`
}

// CustodyMismatch is a collateral asset whose recorded deposits differ from
// the engine's live token holdings.
type CustodyMismatch struct {
	Asset    string `json:"asset"`
	Deposits string `json:"deposits"`
	Custody  string `json:"custody"`
}

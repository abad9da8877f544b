package server

import (
	"SynthLedger/internal/core"
	"SynthLedger/internal/event"
	"SynthLedger/internal/projection"
	"SynthLedger/internal/query"
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "synthledger.v1.Engine"

// ============================================================================
// Messages
// ============================================================================

type SubmitCommandRequest struct {
	CommandType string          `json:"command_type"`
	Command     json.RawMessage `json:"command"`
}

type SubmitCommandResponse struct {
	Accepted bool  `json:"accepted"`
	Sequence int64 `json:"sequence"` // next sequence after the command
}

type AccountRequest struct {
	Account string `json:"account"`
}

type BalanceRequest struct {
	Token   string `json:"token"`
	Account string `json:"account"`
}

type PriceRequest struct {
	Asset string `json:"asset"`
}

type HistoryRequest struct {
	Account        string `json:"account"`
	PageSize       int    `json:"page_size"`
	BeforeSequence int64  `json:"before_sequence"`
}

type Empty struct{}

type ParametersResponse struct {
	core.Parameters
	EngineAddress    string   `json:"engine_address"`
	CollateralTokens []string `json:"collateral_tokens"`
	SyntheticSupply  string   `json:"synthetic_supply"`
	Sequence         int64    `json:"sequence"`
}

type LiquidationsResponse struct {
	Liquidations []query.LiquidationResponse `json:"liquidations"`
}

type JournalResponse struct {
	Entries []query.JournalHistoryEntry `json:"entries"`
}

type EventLogInfoResponse struct {
	LastPersistedSequence int64  `json:"last_persisted_sequence"`
	NextSequence          int64  `json:"next_sequence"`
	StateHash             string `json:"state_hash"`
}

type RebuildProjectionsResponse struct {
	Rebuilt    bool  `json:"rebuilt"`
	DurationMs int64 `json:"duration_ms"`
}

// ============================================================================
// Service
// ============================================================================

// CoreAccess is the slice of the sequencer the service needs.
type CoreAccess interface {
	Submit(ctx context.Context, cmd event.Command) error
	Query(ctx context.Context, fn func(*core.View)) error
}

// EngineServer is the server API for synthledger.v1.Engine.
type EngineServer interface {
	SubmitCommand(context.Context, *SubmitCommandRequest) (*SubmitCommandResponse, error)
	GetAccountInfo(context.Context, *AccountRequest) (*query.AccountInfoResponse, error)
	GetBalance(context.Context, *BalanceRequest) (*query.BalanceResponse, error)
	GetPrice(context.Context, *PriceRequest) (*query.PriceResponse, error)
	GetParameters(context.Context, *Empty) (*ParametersResponse, error)
	GetPosition(context.Context, *AccountRequest) (*query.PositionResponse, error)
	ListLiquidations(context.Context, *HistoryRequest) (*LiquidationsResponse, error)
	ListJournal(context.Context, *HistoryRequest) (*JournalResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
	GetEventLogInfo(context.Context, *Empty) (*EventLogInfoResponse, error)
	RebuildProjections(context.Context, *Empty) (*RebuildProjectionsResponse, error)
}

type engineService struct {
	deps *ServerDeps
	qs   *query.QueryService // nil disables projection-backed endpoints
}

// NewEngineService builds the service implementation from deps.
func NewEngineService(deps *ServerDeps) EngineServer {
	return &engineService{deps: deps, qs: deps.QueryService}
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, status.Errorf(codes.InvalidArgument, "%s must be a hex address, got %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func (s *engineService) SubmitCommand(ctx context.Context, req *SubmitCommandRequest) (*SubmitCommandResponse, error) {
	if req.CommandType == "" {
		return nil, status.Error(codes.InvalidArgument, "command_type is required")
	}
	if err := s.deps.Ingest.SubmitRaw(ctx, req.CommandType, req.Command); err != nil {
		return nil, toStatus(err)
	}
	resp := &SubmitCommandResponse{Accepted: true}
	if err := s.deps.Core.Query(ctx, func(v *core.View) { resp.Sequence = v.Sequence() }); err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *engineService) GetAccountInfo(ctx context.Context, req *AccountRequest) (*query.AccountInfoResponse, error) {
	account, err := parseAddress("account", req.Account)
	if err != nil {
		return nil, err
	}
	var (
		resp    *query.AccountInfoResponse
		viewErr error
	)
	if err := s.deps.Core.Query(ctx, func(v *core.View) { resp, viewErr = query.LiveAccountInfo(v, account) }); err != nil {
		return nil, toStatus(err)
	}
	if viewErr != nil {
		return nil, toStatus(viewErr)
	}
	return resp, nil
}

func (s *engineService) GetBalance(ctx context.Context, req *BalanceRequest) (*query.BalanceResponse, error) {
	tokenAddr, err := parseAddress("token", req.Token)
	if err != nil {
		return nil, err
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		return nil, err
	}
	var (
		resp    *query.BalanceResponse
		viewErr error
	)
	if err := s.deps.Core.Query(ctx, func(v *core.View) { resp, viewErr = query.LiveBalance(v, tokenAddr, account) }); err != nil {
		return nil, toStatus(err)
	}
	if viewErr != nil {
		return nil, status.Error(codes.NotFound, viewErr.Error())
	}
	return resp, nil
}

func (s *engineService) GetPrice(ctx context.Context, req *PriceRequest) (*query.PriceResponse, error) {
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}
	var (
		resp *query.PriceResponse
		ok   bool
	)
	if err := s.deps.Core.Query(ctx, func(v *core.View) { resp, ok = query.LivePrice(v, asset) }); err != nil {
		return nil, toStatus(err)
	}
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no round reported for %s", asset.Hex())
	}
	return resp, nil
}

func (s *engineService) GetParameters(ctx context.Context, _ *Empty) (*ParametersResponse, error) {
	resp := &ParametersResponse{}
	err := s.deps.Core.Query(ctx, func(v *core.View) {
		resp.Parameters = v.Parameters()
		resp.EngineAddress = v.EngineAddress().Hex()
		for _, t := range v.CollateralTokens() {
			resp.CollateralTokens = append(resp.CollateralTokens, t.Hex())
		}
		resp.SyntheticSupply = v.SyntheticSupply().Dec()
		resp.Sequence = v.Sequence()
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *engineService) GetPosition(ctx context.Context, req *AccountRequest) (*query.PositionResponse, error) {
	if s.qs == nil {
		return nil, status.Error(codes.Unimplemented, "projections disabled")
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		return nil, err
	}
	resp, err := s.qs.GetPosition(ctx, account)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get position: %v", err)
	}
	return resp, nil
}

func pageSize(n int) int {
	if n <= 0 || n > 100 {
		return 50
	}
	return n
}

func (s *engineService) ListLiquidations(ctx context.Context, req *HistoryRequest) (*LiquidationsResponse, error) {
	if s.qs == nil {
		return nil, status.Error(codes.Unimplemented, "projections disabled")
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		return nil, err
	}
	var before *int64
	if req.BeforeSequence > 0 {
		before = &req.BeforeSequence
	}
	liqs, err := s.qs.GetLiquidations(ctx, account, pageSize(req.PageSize), before)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list liquidations: %v", err)
	}
	return &LiquidationsResponse{Liquidations: liqs}, nil
}

func (s *engineService) ListJournal(ctx context.Context, req *HistoryRequest) (*JournalResponse, error) {
	if s.qs == nil {
		return nil, status.Error(codes.Unimplemented, "projections disabled")
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		return nil, err
	}
	var before *int64
	if req.BeforeSequence > 0 {
		before = &req.BeforeSequence
	}
	entries, err := s.qs.GetJournalHistory(ctx, account, pageSize(req.PageSize), before)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list journal: %v", err)
	}
	return &JournalResponse{Entries: entries}, nil
}

// VerifyIntegrity merges the stored-log checks with a live custody check.
func (s *engineService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	report := &query.IntegrityReport{IsHealthy: true}
	if s.qs != nil {
		r, err := s.qs.VerifyIntegrity(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
		}
		report = r
	}
	if err := s.deps.Core.Query(ctx, func(v *core.View) { report.CustodyMismatches = query.LiveCustody(v) }); err != nil {
		return nil, toStatus(err)
	}
	if len(report.CustodyMismatches) > 0 {
		report.IsHealthy = false
	}
	return report, nil
}

func (s *engineService) GetEventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfoResponse, error) {
	resp := &EventLogInfoResponse{}
	if s.deps.SnapshotMgr != nil {
		last, err := s.deps.SnapshotMgr.GetLatestSequence(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
		}
		resp.LastPersistedSequence = last
	}
	err := s.deps.Core.Query(ctx, func(v *core.View) {
		h := v.StateHash()
		resp.NextSequence = v.Sequence()
		resp.StateHash = hex.EncodeToString(h[:])
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *engineService) RebuildProjections(ctx context.Context, _ *Empty) (*RebuildProjectionsResponse, error) {
	if s.deps.DB == nil {
		return nil, status.Error(codes.Unimplemented, "projections disabled")
	}
	start := time.Now()
	if err := projection.RebuildProjections(ctx, s.deps.DB, s.deps.Logger); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &RebuildProjectionsResponse{Rebuilt: true, DurationMs: time.Since(start).Milliseconds()}, nil
}

// ============================================================================
// Service descriptor
// ============================================================================

func unaryHandler[Req any, Resp any](
	method string,
	call func(EngineServer, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(EngineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(EngineServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// EngineServiceDesc is the hand-written descriptor for synthledger.v1.Engine.
// Messages travel through the JSON codec, so no generated protobuf types are needed.
var EngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("SubmitCommand", EngineServer.SubmitCommand),
		unaryHandler("GetAccountInfo", EngineServer.GetAccountInfo),
		unaryHandler("GetBalance", EngineServer.GetBalance),
		unaryHandler("GetPrice", EngineServer.GetPrice),
		unaryHandler("GetParameters", EngineServer.GetParameters),
		unaryHandler("GetPosition", EngineServer.GetPosition),
		unaryHandler("ListLiquidations", EngineServer.ListLiquidations),
		unaryHandler("ListJournal", EngineServer.ListJournal),
		unaryHandler("VerifyIntegrity", EngineServer.VerifyIntegrity),
		unaryHandler("GetEventLogInfo", EngineServer.GetEventLogInfo),
		unaryHandler("RebuildProjections", EngineServer.RebuildProjections),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "synthledger/v1/engine.proto",
}

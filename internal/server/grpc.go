package server

import (
	"SynthLedger/internal/ingestion"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/persistence"
	"SynthLedger/internal/query"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// GRPCServer wraps the gRPC server and the HTTP gateway mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	service       EngineServer
	healthServer  *health.Server
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// ServerDeps holds all dependencies needed by the engine service.
type ServerDeps struct {
	Core          CoreAccess
	Ingest        *ingestion.GRPCIngestService
	QueryService  *query.QueryService
	DB            *sql.DB
	SnapshotMgr   *persistence.SnapshotManager
	HealthChecker *observability.HealthChecker
	Logger        zerolog.Logger

	// SubmitRate limits SubmitCommand calls per second. Zero disables it.
	SubmitRate  float64
	SubmitBurst int
}

// NewGRPCServer creates a gRPC server with the engine and health services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpc_prometheus.UnaryServerInterceptor,
			submitRateLimiter(deps.SubmitRate, deps.SubmitBurst),
		),
	)

	svc := NewEngineService(deps)
	grpcServer.RegisterService(&EngineServiceDesc, svc)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	grpc_prometheus.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		service:       svc,
		healthServer:  healthServer,
		healthChecker: deps.HealthChecker,
		logger:        deps.Logger,
	}
}

// SetServing flips the gRPC health status of the engine service.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus(ServiceName, st)
	s.healthServer.SetServingStatus("", st)
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the engine methods as HTTP/JSON (blocking).
// Handlers call the service in-process instead of dialing back over gRPC.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.HTTPHandler()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP gateway shutdown")
		}
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// HTTPHandler builds the gateway routes plus the health endpoints.
func (s *GRPCServer) HTTPHandler() (http.Handler, error) {
	mux := runtime.NewServeMux()
	svc := s.service

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{"POST", "/v1/commands/{command_type}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				writeError(w, status.Errorf(codes.InvalidArgument, "read body: %v", err))
				return
			}
			resp, err := svc.SubmitCommand(r.Context(), &SubmitCommandRequest{
				CommandType: p["command_type"],
				Command:     body,
			})
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/accounts/{account}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := svc.GetAccountInfo(r.Context(), &AccountRequest{Account: p["account"]})
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/accounts/{account}/position", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := svc.GetPosition(r.Context(), &AccountRequest{Account: p["account"]})
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/accounts/{account}/liquidations", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := svc.ListLiquidations(r.Context(), historyRequest(r, p["account"]))
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/accounts/{account}/journal", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := svc.ListJournal(r.Context(), historyRequest(r, p["account"]))
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/tokens/{token}/balances/{account}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := svc.GetBalance(r.Context(), &BalanceRequest{Token: p["token"], Account: p["account"]})
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/prices/{asset}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := svc.GetPrice(r.Context(), &PriceRequest{Asset: p["asset"]})
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/parameters", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.GetParameters(r.Context(), &Empty{})
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/admin/integrity", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.VerifyIntegrity(r.Context(), &Empty{})
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/admin/eventlog", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.GetEventLogInfo(r.Context(), &Empty{})
			writeResult(w, resp, err)
		}},
		{"POST", "/v1/admin/projections:rebuild", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.RebuildProjections(r.Context(), &Empty{})
			writeResult(w, resp, err)
		}},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// ============================================================================
// Interceptors
// ============================================================================

// submitRateLimiter throttles SubmitCommand only; reads are not limited.
func submitRateLimiter(rps float64, burst int) grpc.UnaryServerInterceptor {
	if rps <= 0 {
		return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			return handler(ctx, req)
		}
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasSuffix(info.FullMethod, "/SubmitCommand") && !limiter.Allow() {
			return nil, status.Error(codes.ResourceExhausted, "submit rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

// ============================================================================
// HTTP helpers
// ============================================================================

func historyRequest(r *http.Request, account string) *HistoryRequest {
	q := r.URL.Query()
	req := &HistoryRequest{Account: account}
	if n, err := strconv.Atoi(q.Get("page_size")); err == nil {
		req.PageSize = n
	}
	if n, err := strconv.ParseInt(q.Get("before_sequence"), 10, 64); err == nil {
		req.BeforeSequence = n
	}
	return req
}

func writeResult(w http.ResponseWriter, resp any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(toStatus(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    int(st.Code()),
		"message": st.Message(),
	})
}

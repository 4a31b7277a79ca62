package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/pratokko/stable-coin/history"
	"github.com/pratokko/stable-coin/native/common"
	"github.com/pratokko/stable-coin/native/stable"
	"github.com/pratokko/stable-coin/observability"
	"github.com/pratokko/stable-coin/state"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Server exposes the engine over JSON-RPC 2.0 on a single POST endpoint,
// alongside /healthz and /metrics.
type Server struct {
	engine  *stable.Engine
	manager *state.Manager
	archive *history.Archive
	logger  *slog.Logger
	metrics *observability.EngineMetrics
	pauses  *common.Switch

	authToken string

	// stateMu serializes access to the shared state manager: mutating
	// operations hold the write lock across the engine call and commit,
	// queries hold the read lock. The engine's own guard only catches
	// re-entrant calls made from within an operation.
	stateMu sync.RWMutex

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	perSec   rate.Limit
	burst    int
}

// Options tunes server construction. Zero values fall back to defaults.
type Options struct {
	RequestsPerMinute float64
	Burst             int
	Pauses            *common.Switch
}

// NewServer wires the RPC surface. The archive and logger are optional; the
// auth token is read from STABLE_RPC_TOKEN.
func NewServer(engine *stable.Engine, manager *state.Manager, archive *history.Archive, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	perMinute := opts.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 600
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 20
	}
	return &Server{
		engine:    engine,
		manager:   manager,
		archive:   archive,
		logger:    logger,
		metrics:   observability.Engine(),
		pauses:    opts.Pauses,
		authToken: strings.TrimSpace(os.Getenv("STABLE_RPC_TOKEN")),
		visitors:  make(map[string]*rate.Limiter),
		perSec:    rate.Limit(perMinute / 60.0),
		burst:     burst,
	}
}

// Handler builds the HTTP routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Method(http.MethodPost, "/", otelhttp.NewHandler(http.HandlerFunc(s.handle), "stable.rpc"))
	return r
}

// Start serves the handler until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.allowSource(clientID(r)) {
		observability.ModuleMetrics().RecordThrottle("stable", "rate_limit")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	start := time.Now()
	status := s.route(w, r, req)
	observability.ModuleMetrics().Observe("stable", req.Method, status, time.Since(start))
}

func (s *Server) route(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	switch req.Method {
	case "stable_depositCollateral":
		return s.withAuth(w, r, req, s.handleDepositCollateral)
	case "stable_mintDsc":
		return s.withAuth(w, r, req, s.handleMintDsc)
	case "stable_depositCollateralAndMintDsc":
		return s.withAuth(w, r, req, s.handleDepositAndMint)
	case "stable_redeemCollateral":
		return s.withAuth(w, r, req, s.handleRedeemCollateral)
	case "stable_redeemCollateralForDsc":
		return s.withAuth(w, r, req, s.handleRedeemForDsc)
	case "stable_burnDsc":
		return s.withAuth(w, r, req, s.handleBurnDsc)
	case "stable_liquidate":
		return s.withAuth(w, r, req, s.handleLiquidate)
	case "stable_getHealthFactor":
		return s.withRead(w, req, s.handleGetHealthFactor)
	case "stable_getAccountInformation":
		return s.withRead(w, req, s.handleGetAccountInformation)
	case "stable_getPosition":
		return s.withRead(w, req, s.handleGetPosition)
	case "stable_getCollateralBalance":
		return s.withRead(w, req, s.handleGetCollateralBalance)
	case "stable_getApprovedAssets":
		return s.handleGetApprovedAssets(w, req)
	case "stable_getUsdValue":
		return s.withRead(w, req, s.handleGetUsdValue)
	case "stable_getTokenAmountFromUsd":
		return s.withRead(w, req, s.handleGetTokenAmountFromUsd)
	case "stable_getHistory":
		return s.handleGetHistory(w, req)
	case "stable_pause":
		return s.withAuth(w, r, req, s.handlePause)
	case "stable_resume":
		return s.withAuth(w, r, req, s.handleResume)
	case "stable_listPaused":
		return s.handleListPaused(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return http.StatusNotFound
	}
}

func (s *Server) withRead(w http.ResponseWriter, req *RPCRequest, next func(http.ResponseWriter, *RPCRequest) int) int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return next(w, req)
}

func (s *Server) withAuth(w http.ResponseWriter, r *http.Request, req *RPCRequest, next func(http.ResponseWriter, *RPCRequest) int) int {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return http.StatusUnauthorized
	}
	return next(w, req)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	limiter, ok := s.visitors[source]
	if !ok {
		limiter = rate.NewLimiter(s.perSec, s.burst)
		s.visitors[source] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func clientID(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if parsed := net.ParseIP(ip); parsed != nil {
			return parsed.String()
		}
		if comma := strings.IndexByte(ip, ','); comma > 0 {
			trimmed := strings.TrimSpace(ip[:comma])
			if parsed := net.ParseIP(trimmed); parsed != nil {
				return parsed.String()
			}
		}
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// errorStatus maps engine failures onto JSON-RPC codes and HTTP status.
func errorStatus(err error) (int, int) {
	switch {
	case errors.Is(err, stable.ErrInvalidAmount),
		errors.Is(err, stable.ErrAssetNotApproved):
		return http.StatusBadRequest, codeInvalidParams
	case errors.Is(err, stable.ErrInsufficientCollateral),
		errors.Is(err, stable.ErrInsufficientDebt),
		errors.Is(err, stable.ErrHealthFactorBroken),
		errors.Is(err, stable.ErrPositionHealthy),
		errors.Is(err, stable.ErrLiquidationIneffective),
		errors.Is(err, stable.ErrTransferFailed):
		return http.StatusConflict, codeServerError
	case errors.Is(err, stable.ErrReentrantCall),
		errors.Is(err, stable.ErrPaused):
		return http.StatusServiceUnavailable, codeServerError
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

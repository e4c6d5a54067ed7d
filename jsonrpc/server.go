package jsonrpc

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/chain"
	"github.com/mezonai/chainfork/consensus"
	"github.com/mezonai/chainfork/errors"
	"github.com/mezonai/chainfork/exception"
	"github.com/mezonai/chainfork/logx"
	"github.com/mezonai/chainfork/ratelimit"
)

// ChainService is the controller surface the RPC server needs.
type ChainService interface {
	State() *chain.ChainState
	Halted() bool
	BlockByNumber(number uint64) (*block.Block, error)
	BlockByID(id block.ID) (*block.Block, error)
	Status(number uint64) consensus.Status
	ProcessBlock(ctx context.Context, peer string, b *block.Block) (chain.Result, error)
	ProcessConfirmation(ctx context.Context, c *consensus.Confirmation) (bool, error)
}

const (
	codeNotFound    jrpc2.Code = -32004
	codeRejected    jrpc2.Code = -32010
	codeInternal    jrpc2.Code = -32000
	codeRateLimited jrpc2.Code = -32029
)

func toJRPC2Error(err error) error {
	if err == nil {
		return nil
	}
	ne := errors.FromChainError(err).(*errors.NetworkError)
	code := codeRejected
	switch ne.Code {
	case errors.ErrCodeBlockNotFound:
		code = codeNotFound
	case errors.ErrCodeInternal:
		code = codeInternal
		logx.Error("JSONRPC", "Internal error: ", err)
	case errors.ErrCodeInvalidRequest:
		code = jrpc2.InvalidParams
	}
	return jrpc2.Errorf(code, "%s", ne.Message).WithData(ne)
}

type blockRef struct {
	Number uint64 `json:"number"`
	ID     string `json:"id"`
}

type headInfo struct {
	Number     uint64 `json:"number"`
	ID         string `json:"id"`
	PreviousID string `json:"previous_id"`
	Producer   string `json:"producer"`
	Timestamp  int64  `json:"timestamp"`
	TxCount    int    `json:"tx_count"`
}

func toHeadInfo(b *block.Block) *headInfo {
	return &headInfo{
		Number:     b.Number,
		ID:         b.ID.String(),
		PreviousID: b.PreviousID.String(),
		Producer:   b.Producer,
		Timestamp:  b.Timestamp.UnixMilli(),
		TxCount:    len(b.Transactions),
	}
}

type stateResponse struct {
	Head       *headInfo  `json:"head"`
	LIB        uint64     `json:"lib"`
	KnownHeads []blockRef `json:"known_heads"`
	Halted     bool       `json:"halted"`
}

type getBlockByNumberRequest struct {
	Number uint64 `json:"number"`
}

type getBlockByIDRequest struct {
	ID string `json:"id"`
}

type blockResponse struct {
	Block  *block.Block `json:"block"`
	Status string       `json:"status"`
}

type submitBlockRequest struct {
	Block *block.Block `json:"block"`
}

type submitBlockResponse struct {
	Outcome  string `json:"outcome"`
	Decision string `json:"decision,omitempty"`
	Reason   string `json:"reason,omitempty"`
	LIB      uint64 `json:"lib"`
}

type submitConfirmationRequest struct {
	Confirmation *consensus.Confirmation `json:"confirmation"`
}

type submitConfirmationResponse struct {
	Advanced bool   `json:"advanced"`
	LIB      uint64 `json:"lib"`
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

type Server struct {
	addr       string
	chain      ChainService
	corsConfig CORSConfig
	bridge     jhttp.Bridge
	httpServer *http.Server
	// submits throttles chain.submit* per client IP; nil admits everything.
	// It is applied in parseRequest.
	submits *ratelimit.SlidingWindow
}

func NewServer(addr string, svc ChainService) *Server {
	s := &Server{addr: addr, chain: svc}
	s.bridge = jhttp.NewBridge(s.buildMethodMap(), &jhttp.BridgeOptions{
		Server:       &jrpc2.ServerOptions{},
		ParseRequest: s.parseRequest,
	})
	return s
}

func (s *Server) SetCORSConfig(config CORSConfig) {
	s.corsConfig = config
}

func (s *Server) SetSubmitLimiter(limiter *ratelimit.SlidingWindow) {
	s.submits = limiter
}

func isSubmit(method string) bool {
	return method == MethodChainSubmitBlock || method == MethodChainSubmitConfirmation
}

// parseRequest decodes the body and turns over-limit submit calls into
// error responses before they reach a handler.
func (s *Server) parseRequest(r *http.Request) ([]*jrpc2.ParsedRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	reqs, err := jrpc2.ParseRequests(body)
	if err != nil || s.submits == nil {
		return reqs, err
	}
	ip := extractClientIPFromRequest(r)
	for _, req := range reqs {
		if req.Error != nil || !isSubmit(req.Method) || s.submits.Allow(ip) {
			continue
		}
		logx.Warn("JSONRPC", "Rate limited ", req.Method, " from ", ip)
		req.Error = jrpc2.Errorf(codeRateLimited, "%s", errors.ErrMsgRateLimited).
			WithData(errors.NewError(errors.ErrCodeRateLimited, errors.ErrMsgRateLimited))
	}
	return reqs, nil
}

// Handler serves JSON-RPC over HTTP POST with CORS preflight support.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Accept-Post", "application/json")
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt != "application/json" {
			http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
			return
		}
		s.bridge.ServeHTTP(w, r)
	})
}

func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/", s.Handler())
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	exception.SafeGo("JsonRpcServer", func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Error("JSONRPC", fmt.Sprintf("Server on %s stopped: %v", s.addr, err))
		}
	})
	logx.Info("JSONRPC", "JSON-RPC server listening on ", s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	defer s.bridge.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) buildMethodMap() handler.Map {
	return handler.Map{
		MethodChainGetHead: handler.New(func(ctx context.Context) (*headInfo, error) {
			st := s.chain.State()
			if st == nil {
				return nil, toJRPC2Error(chain.ErrNotInitialized)
			}
			return toHeadInfo(st.CanonicalHead), nil
		}),
		MethodChainGetLIB: handler.New(func(ctx context.Context) (*blockRef, error) {
			st := s.chain.State()
			if st == nil {
				return nil, toJRPC2Error(chain.ErrNotInitialized)
			}
			b, err := s.chain.BlockByNumber(st.LastIrreversible)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return &blockRef{Number: b.Number, ID: b.ID.String()}, nil
		}),
		MethodChainGetBlockByNumber: handler.New(func(ctx context.Context, p getBlockByNumberRequest) (*blockResponse, error) {
			b, err := s.chain.BlockByNumber(p.Number)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return &blockResponse{Block: b, Status: s.chain.Status(b.Number).String()}, nil
		}),
		MethodChainGetBlockByID: handler.New(func(ctx context.Context, p getBlockByIDRequest) (*blockResponse, error) {
			id, err := block.ParseID(p.ID)
			if err != nil {
				return nil, jrpc2.Errorf(jrpc2.InvalidParams, "invalid block id: %v", err)
			}
			b, err := s.chain.BlockByID(id)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return &blockResponse{Block: b, Status: s.blockStatus(b)}, nil
		}),
		MethodChainGetState: handler.New(func(ctx context.Context) (*stateResponse, error) {
			st := s.chain.State()
			if st == nil {
				return nil, toJRPC2Error(chain.ErrNotInitialized)
			}
			resp := &stateResponse{
				Head:       toHeadInfo(st.CanonicalHead),
				LIB:        st.LastIrreversible,
				KnownHeads: make([]blockRef, 0, len(st.KnownHeads)),
				Halted:     s.chain.Halted(),
			}
			for _, h := range st.KnownHeads {
				resp.KnownHeads = append(resp.KnownHeads, blockRef{Number: h.Number, ID: h.ID.String()})
			}
			return resp, nil
		}),
		MethodChainSubmitBlock: handler.New(func(ctx context.Context, p submitBlockRequest) (*submitBlockResponse, error) {
			if p.Block == nil {
				return nil, jrpc2.Errorf(jrpc2.InvalidParams, "block required")
			}
			// no peer: repairs go to the configured peers and nobody is flagged
			res, err := s.chain.ProcessBlock(ctx, "", p.Block)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			resp := &submitBlockResponse{Outcome: res.Outcome.String(), LIB: res.LastIrreversible}
			if res.Decision != nil {
				resp.Decision = res.Decision.Kind.String()
			}
			if res.Reason != nil {
				resp.Reason = errors.FromChainError(res.Reason).(*errors.NetworkError).Message
			}
			return resp, nil
		}),
		MethodChainSubmitConfirmation: handler.New(func(ctx context.Context, p submitConfirmationRequest) (*submitConfirmationResponse, error) {
			if p.Confirmation == nil {
				return nil, jrpc2.Errorf(jrpc2.InvalidParams, "confirmation required")
			}
			advanced, err := s.chain.ProcessConfirmation(ctx, p.Confirmation)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			lib := uint64(0)
			if st := s.chain.State(); st != nil {
				lib = st.LastIrreversible
			}
			return &submitConfirmationResponse{Advanced: advanced, LIB: lib}, nil
		}),
	}
}

// blockStatus reports a block off the canonical chain as "fork".
func (s *Server) blockStatus(b *block.Block) string {
	canonical, err := s.chain.BlockByNumber(b.Number)
	if err != nil || canonical.ID != b.ID {
		return "fork"
	}
	return s.chain.Status(b.Number).String()
}

func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.corsConfig.AllowedOrigins) > 0 {
		if s.corsConfig.AllowedOrigins[0] == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			origin := r.Header.Get("Origin")
			for _, allowed := range s.corsConfig.AllowedOrigins {
				if origin == allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
	}
	if len(s.corsConfig.AllowedMethods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(s.corsConfig.AllowedMethods, ", "))
	}
	if len(s.corsConfig.AllowedHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(s.corsConfig.AllowedHeaders, ", "))
	}
	if s.corsConfig.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(s.corsConfig.MaxAge))
	}
}

// CORSFromEnv builds a CORSConfig from CORS_ALLOWED_ORIGINS,
// CORS_ALLOWED_METHODS, CORS_ALLOWED_HEADERS and CORS_MAX_AGE. ok is false
// when none is set.
func CORSFromEnv() (CORSConfig, bool) {
	cfg := CORSConfig{
		AllowedOrigins: splitAndTrim(os.Getenv("CORS_ALLOWED_ORIGINS")),
		AllowedMethods: splitAndTrim(os.Getenv("CORS_ALLOWED_METHODS")),
		AllowedHeaders: splitAndTrim(os.Getenv("CORS_ALLOWED_HEADERS")),
	}
	if v, err := strconv.Atoi(os.Getenv("CORS_MAX_AGE")); err == nil {
		cfg.MaxAge = v
	}
	provided := len(cfg.AllowedOrigins) > 0 || len(cfg.AllowedMethods) > 0 || len(cfg.AllowedHeaders) > 0 || cfg.MaxAge > 0
	return cfg, provided
}

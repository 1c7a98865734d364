package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lpvault/native/router"
	"lpvault/observability"
	"lpvault/services/routerd/archive"
)

const (
	defaultReceiptLimit = 50
	maxReceiptLimit     = 500
)

// ReceiptStore serves archived router receipts.
type ReceiptStore interface {
	ByBorrower(ctx context.Context, borrower string, limit int) ([]archive.Receipt, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Router         *router.Router
	Receipts       ReceiptStore
	Auth           AuthConfig
	RateLimit      RateLimit
	Metrics        *observability.RouterMetrics
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

// Server exposes the router over HTTP.
type Server struct {
	router   *router.Router
	receipts ReceiptStore
	auth     *Authenticator
	limiter  *RateLimiter
	logger   *slog.Logger
	timeout  time.Duration

	handler http.Handler
}

func New(cfg Config) (*Server, error) {
	if cfg.Router == nil {
		return nil, errors.New("server: router must be configured")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	srv := &Server{
		router:   cfg.Router,
		receipts: cfg.Receipts,
		auth:     NewAuthenticator(cfg.Auth, logger),
		limiter:  NewRateLimiter(cfg.RateLimit, cfg.Metrics),
		logger:   logger.With("component", "http"),
		timeout:  cfg.RequestTimeout,
	}
	srv.handler = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(s.timeout))
	r.Use(withOperationID)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.With(s.limiter.Middleware("markets")).Get("/markets", s.handleMarkets)
		api.With(s.limiter.Middleware("pools")).Get("/markets/{market}/pools", s.handlePools)
		api.With(s.limiter.Middleware("leverage")).Post("/leverage", s.handleLeverage)
		api.With(s.limiter.Middleware("deleverage")).Post("/deleverage", s.handleDeleverage)
		api.With(s.limiter.Middleware("mint_collateral")).Post("/collateral/mint", s.handleMintCollateral)
		api.With(s.limiter.Middleware("supply")).Post("/supply", s.handleSupply)
		api.With(s.limiter.Middleware("repay")).Post("/repay", s.handleRepay)
		api.With(s.limiter.Middleware("permit_nonce")).Get("/permits/{market}/{domain}/{owner}", s.handlePermitNonce)
		api.With(s.limiter.Middleware("position")).Get("/positions/{market}/{borrower}", s.handlePosition)
		api.With(s.limiter.Middleware("receipts")).Get("/receipts/{borrower}", s.handleReceipts)

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(s.auth.Middleware(ScopeAdmin))
			admin.Get("/pause", s.handlePaused)
			admin.Post("/pause", s.handleSetPaused)
		})
	})

	return otelhttp.NewHandler(r, "routerd")
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("operation_id", OperationID(r.Context())),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("operation_id", OperationID(r.Context())),
			slog.Any("error", err))
	}
	writeError(w, r, status, body)
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.router.Markets()
	out := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		domains, err := s.router.PermitDomains(m.ID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, marketResponse{
			ID:        m.ID,
			AssetA:    m.AssetA,
			AssetB:    m.AssetB,
			LP:        m.LP,
			Share:     m.Share,
			MaxLTVBps: m.MaxLTVBps,
			Router:    router.Address().String(),
			Domains: map[string]domainBody{
				router.DomainBorrowA: newDomainBody(domains.BorrowA),
				router.DomainBorrowB: newDomainBody(domains.BorrowB),
				router.DomainShare:   newDomainBody(domains.Share),
				router.DomainLP:      newDomainBody(domains.LP),
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"markets": out})
}

func (s *Server) handleLeverage(w http.ResponseWriter, r *http.Request) {
	var body leverageBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := body.request()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.router.Leverage(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leverageResponse{
		OperationID:      OperationID(r.Context()),
		BorrowedA:        formatAmount(res.BorrowedA),
		BorrowedB:        formatAmount(res.BorrowedB),
		LP:               formatAmount(res.LP),
		Shares:           formatAmount(res.Shares),
		CollateralShares: formatAmount(res.CollateralShares),
	})
}

func (s *Server) handleDeleverage(w http.ResponseWriter, r *http.Request) {
	var body deleverageBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := body.request()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.router.Deleverage(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleverageResponse{
		OperationID: OperationID(r.Context()),
		LP:          formatAmount(res.LP),
		AmountA:     formatAmount(res.AmountA),
		AmountB:     formatAmount(res.AmountB),
		RepaidA:     formatAmount(res.RepaidA),
		RepaidB:     formatAmount(res.RepaidB),
		RefundA:     formatAmount(res.RefundA),
		RefundB:     formatAmount(res.RefundB),
	})
}

func (s *Server) handleMintCollateral(w http.ResponseWriter, r *http.Request) {
	var body mintBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := body.request()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	shares, err := s.router.MintCollateral(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"operationId": OperationID(r.Context()),
		"shares":      formatAmount(shares),
	})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	var body supplyBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := body.request()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	shares, err := s.router.Supply(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"operationId": OperationID(r.Context()),
		"shares":      formatAmount(shares),
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var body repayBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := body.request()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.router.Repay(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"operationId": OperationID(r.Context()),
		"repaid":      formatAmount(res.Repaid),
		"refund":      formatAmount(res.Refund),
	})
}

func (s *Server) handlePermitNonce(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", chi.URLParam(r, "owner"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	domains, err := s.router.PermitDomains(chi.URLParam(r, "market"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	domain, kind, err := domains.Lookup(chi.URLParam(r, "domain"))
	if err != nil {
		s.fail(w, r, badRequest("domain", err))
		return
	}
	nonce, err := s.router.PermitNonce(r.Context(), domain, owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonceResponse{
		Domain:  newDomainBody(domain),
		Kind:    string(kind),
		Owner:   owner.String(),
		Spender: router.Address().String(),
		Nonce:   nonce,
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	borrower, err := parseAddress("borrower", chi.URLParam(r, "borrower"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	pos, err := s.router.Position(r.Context(), chi.URLParam(r, "market"), borrower)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionResponse(pos))
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	market := chi.URLParam(r, "market")
	pools, err := s.router.Pools(r.Context(), market)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]poolResponse, 0, len(pools))
	for _, p := range pools {
		out = append(out, newPoolResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"market": market, "pools": out})
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	if s.receipts == nil {
		writeError(w, r, http.StatusServiceUnavailable, errorBody{Kind: "unavailable", Message: "receipt archive disabled"})
		return
	}
	borrower, err := parseAddress("borrower", chi.URLParam(r, "borrower"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit := defaultReceiptLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.fail(w, r, badRequest("limit", errors.New("must be a positive integer")))
			return
		}
		limit = parsed
	}
	if limit > maxReceiptLimit {
		limit = maxReceiptLimit
	}
	receipts, err := s.receipts.ByBorrower(r.Context(), borrower.String(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]receiptResponse, 0, len(receipts))
	for _, rec := range receipts {
		attrs, err := rec.Decode()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, receiptResponse{
			ID:         rec.ID.String(),
			Type:       rec.Type,
			Market:     rec.Market,
			Borrower:   rec.Borrower,
			Attributes: attrs,
			CreatedAt:  rec.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"receipts": out})
}

func (s *Server) handlePaused(w http.ResponseWriter, r *http.Request) {
	paused, err := s.router.Paused(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"modules": paused})
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var body pauseBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.router.SetPaused(r.Context(), body.Module, body.Paused); err != nil {
		s.fail(w, r, err)
		return
	}
	subject, _ := r.Context().Value(contextKeySubject).(string)
	s.logger.Info("pause switch updated",
		slog.String("module", body.Module),
		slog.Bool("paused", body.Paused),
		slog.String("subject", subject),
		slog.String("operation_id", OperationID(r.Context())))
	s.handlePaused(w, r)
}

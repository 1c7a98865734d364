package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lpvault/core"
	"lpvault/core/state"
	"lpvault/core/types"
	"lpvault/crypto"
	"lpvault/native/amm"
	"lpvault/native/collateral"
	nativecommon "lpvault/native/common"
	"lpvault/native/lending"
	"lpvault/native/permit"
	"lpvault/native/token"
	"lpvault/observability"
)

// ErrUnknownMarket is returned for operations naming a market the router was
// not configured with.
var ErrUnknownMarket = errors.New("router: unknown market")

// ErrNotNative is returned for native supplies to a side that does not hold
// the wrapped native asset.
var ErrNotNative = errors.New("router: side is not the wrapped native asset")

// Address returns the router's module account. The router only holds funds in
// the middle of an operation.
func Address() crypto.Address { return crypto.ModuleAddress("router") }

// Router orchestrates leverage and deleverage across a pair, its collateral
// vault and two lending pools. Every operation runs as one ledger transaction.
type Router struct {
	ledger  *core.Ledger
	cfg     Config
	markets map[string]Market
	logger  *slog.Logger
	metrics *observability.RouterMetrics
	tracer  trace.Tracer
}

// New validates the markets and binds the router to ledger.
func New(ledger *core.Ledger, cfg Config, markets []Market) (*Router, error) {
	if ledger == nil {
		return nil, fmt.Errorf("router: ledger required")
	}
	cfg.NativeSymbol = state.NormalizeSymbol(cfg.NativeSymbol)
	cfg.WrappedSymbol = state.NormalizeSymbol(cfg.WrappedSymbol)
	if (cfg.NativeSymbol == "") != (cfg.WrappedSymbol == "") {
		return nil, fmt.Errorf("router: native and wrapped symbols must be set together")
	}
	r := &Router{
		ledger:  ledger,
		cfg:     cfg,
		markets: make(map[string]Market, len(markets)),
		logger:  slog.Default().With("component", "router"),
		tracer:  otel.Tracer("lpvault/router"),
	}
	for _, m := range markets {
		m = m.normalize()
		if err := m.validate(); err != nil {
			return nil, err
		}
		if _, exists := r.markets[m.ID]; exists {
			return nil, fmt.Errorf("router: duplicate market %s", m.ID)
		}
		r.markets[m.ID] = m
	}
	return r, nil
}

// SetLogger replaces the operation logger.
func (r *Router) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	r.logger = logger.With("component", "router")
}

// SetMetrics enables prometheus instrumentation.
func (r *Router) SetMetrics(m *observability.RouterMetrics) { r.metrics = m }

// Config returns the router settings.
func (r *Router) Config() Config { return r.cfg }

// Market returns the market registered under id.
func (r *Router) Market(id string) (Market, error) {
	m, ok := r.markets[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Market{}, fmt.Errorf("%w: %s", ErrUnknownMarket, id)
	}
	return m, nil
}

// Markets returns every market ordered by id.
func (r *Router) Markets() []Market {
	out := make([]Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PoolID returns the lending pool id backing side of m.
func PoolID(m Market, side Side) string {
	return m.ID + "/" + m.Asset(side)
}

// PermitDomains returns the signing domains of the market's permits.
func (r *Router) PermitDomains(id string) (PermitDomains, error) {
	m, err := r.Market(id)
	if err != nil {
		return PermitDomains{}, err
	}
	domain := func(side Side) permit.Domain {
		pool := lending.NewEngine(m.Asset(side), nil)
		pool.SetPoolID(PoolID(m, side))
		pool.SetPermits(nil, r.cfg.ChainID)
		return pool.PermitDomain()
	}
	vault := collateral.NewVault(collateral.Config{ShareSymbol: m.Share}, nil, nil)
	vault.SetPermits(nil, r.cfg.ChainID)
	return PermitDomains{
		BorrowA: domain(SideA),
		BorrowB: domain(SideB),
		Share:   vault.PermitDomain(),
		LP:      lpPermitDomain(m, r.cfg.ChainID),
	}, nil
}

// binding is the set of engines for one market bound to one transaction.
type binding struct {
	market  Market
	tx      *core.Tx
	tokens  *token.Engine
	pool    *amm.Pool
	lendA   *lending.Engine
	lendB   *lending.Engine
	vault   *collateral.Vault
	permits *permit.Verifier
	wrapper *token.Wrapper
	chainID uint64
}

func (r *Router) bind(tx *core.Tx, m Market) (*binding, error) {
	tokens := token.NewEngine()
	tokens.SetState(tx.State)
	tokens.SetEmitter(tx)

	dex := amm.NewEngine(tokens)
	dex.SetState(tx.State)
	dex.SetPauses(tx.State)
	pool, err := dex.Pool(m.LP, m.AssetA, m.AssetB)
	if err != nil {
		return nil, internalError("", err)
	}

	verifier := permit.NewVerifier(tx.State)
	vault := collateral.NewVault(collateral.Config{
		ShareSymbol: m.Share,
		AssetA:      m.AssetA,
		AssetB:      m.AssetB,
		MaxLTVBps:   m.MaxLTVBps,
	}, tokens, pool)
	vault.SetPermits(verifier, r.cfg.ChainID)
	vault.SetPauses(tx.State)

	lendingPool := func(side Side) *lending.Engine {
		engine := lending.NewEngine(m.Asset(side), tokens)
		engine.SetPoolID(PoolID(m, side))
		engine.SetState(tx.State)
		engine.SetPauses(tx.State)
		engine.SetPermits(verifier, r.cfg.ChainID)
		engine.SetCollateralChecker(vault)
		engine.SetNow(tx.Now())
		if side == SideA {
			engine.SetInterestModel(m.InterestA)
			engine.SetBorrowCaps(m.CapsA)
		} else {
			engine.SetInterestModel(m.InterestB)
			engine.SetBorrowCaps(m.CapsB)
		}
		return engine
	}
	lendA, lendB := lendingPool(SideA), lendingPool(SideB)
	vault.SetDebtSources(lendA, lendB)

	var wrapper *token.Wrapper
	if r.cfg.WrappedSymbol != "" {
		wrapper = token.NewWrapper(tokens, r.cfg.NativeSymbol, r.cfg.WrappedSymbol)
	}
	return &binding{
		market:  m,
		tx:      tx,
		tokens:  tokens,
		pool:    pool,
		lendA:   lendA,
		lendB:   lendB,
		vault:   vault,
		permits: verifier,
		wrapper: wrapper,
		chainID: r.cfg.ChainID,
	}, nil
}

func (b *binding) lendingPool(side Side) *lending.Engine {
	if side == SideB {
		return b.lendB
	}
	return b.lendA
}

func (b *binding) checkDeadline(deadline uint64) error {
	now := b.tx.Now().Unix()
	if now < 0 || uint64(now) > deadline {
		return &Error{Kind: KindExpired, Reason: ReasonExpired, Err: fmt.Errorf("deadline %d passed at %d", deadline, now)}
	}
	return nil
}

// execute runs fn against the market's engines inside one ledger transaction
// and enforces router custody before commit.
func (r *Router) execute(ctx context.Context, op, marketID string, borrower crypto.Address, fn func(*binding) error) ([]*types.Event, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "router."+op, trace.WithAttributes(
		attribute.String("market", marketID),
		attribute.String("borrower", borrower.String()),
	))
	defer span.End()

	market, err := r.Market(marketID)
	if err != nil {
		r.finish(span, op, marketID, borrower, start, err)
		return nil, err
	}
	evts, err := r.ledger.Execute(ctx, func(tx *core.Tx) error {
		if err := nativecommon.Guard(tx.State, nativecommon.ModuleRouter); err != nil {
			return err
		}
		b, err := r.bind(tx, market)
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
		return b.checkCustody()
	})
	err = classify(err, market)
	r.finish(span, op, market.ID, borrower, start, err)
	return evts, err
}

func (r *Router) finish(span trace.Span, op, market string, borrower crypto.Address, start time.Time, err error) {
	kind := KindOf(err)
	if err != nil && kind == "" {
		kind = KindInternal
	}
	r.metrics.Observe(op, string(kind), time.Since(start))
	attrs := []any{
		slog.String("operation", op),
		slog.String("market", market),
		slog.String("borrower", borrower.String()),
		slog.Duration("elapsed", time.Since(start)),
	}
	if err == nil {
		r.logger.Info("router operation committed", attrs...)
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	var routerErr *Error
	if errors.As(err, &routerErr) {
		attrs = append(attrs, slog.String("kind", string(routerErr.Kind)), slog.String("reason", routerErr.Reason))
		if routerErr.Side != "" {
			attrs = append(attrs, slog.String("side", string(routerErr.Side)), slog.String("asset", routerErr.Asset))
		}
	}
	attrs = append(attrs, slog.Any("error", err))
	r.logger.Warn("router operation rejected", attrs...)
}

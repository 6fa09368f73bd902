package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/zigzag/pkg/app/core/num"
	"github.com/uhyunpark/zigzag/pkg/app/core/oracle"
	"github.com/uhyunpark/zigzag/pkg/app/core/order"
	"github.com/uhyunpark/zigzag/pkg/crypto"
	"github.com/uhyunpark/zigzag/pkg/storage"
)

// TokenLedger is the fungible token ledger the engine settles through.
// Amounts cross as (low, high) 128-bit limbs.
type TokenLedger interface {
	BalanceOf(asset, account common.Address) (num.Limbs, error)
	Allowance(asset, owner, spender common.Address) (num.Limbs, error)
	TransferFrom(asset, spender, from, to common.Address, amount num.Limbs) error
}

// LedgerBinder returns a TokenLedger whose state reads and writes go
// through kv, so token movements commit or vanish with the fill.
type LedgerBinder func(kv storage.KV) TokenLedger

// TimeSource reads the current time as seen by kv
type TimeSource func(kv storage.KV) (uint64, error)

// FillRequest is one matched pair submitted for settlement
type FillRequest struct {
	Sell             order.SignedOrder
	Buy              order.SignedOrder
	FillPrice        num.Ratio
	BaseFillQuantity *uint256.Int
}

// Receipt describes an applied settlement
type Receipt struct {
	SellHash    common.Hash
	BuyHash     common.Hash
	QuoteAmount *uint256.Int
	SellFilled  *uint256.Int
	BuyFilled   *uint256.Int
	Event       Event
}

// Config fixes the engine's identity and accepted hash schemes
type Config struct {
	Domain crypto.EIP712Domain
	// Address is the spender the engine presents to the token ledger
	Address   common.Address
	AcceptRaw bool
}

// Engine settles matched order pairs against a state store.
// Calls are serialized; each either commits every write or none.
type Engine struct {
	mu      sync.Mutex
	store   storage.Store
	ledger  LedgerBinder
	hasher  *order.Hasher
	now     TimeSource
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option    { return func(e *Engine) { e.logger = l } }
func WithMetrics(m *Metrics) Option      { return func(e *Engine) { e.metrics = m } }
func WithTimeSource(t TimeSource) Option { return func(e *Engine) { e.now = t } }

func NewEngine(store storage.Store, ledger LedgerBinder, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		ledger:  ledger,
		hasher:  order.NewHasher(cfg.Domain),
		now:     oracle.CurrentTime,
		cfg:     cfg,
		logger:  zap.NewNop(),
		metrics: NewMetrics(nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Hasher exposes the order hasher bound to the engine's domain
func (e *Engine) Hasher() *order.Hasher { return e.hasher }

// Address is the engine's spender identity on the token ledger
func (e *Engine) Address() common.Address { return e.cfg.Address }

// OrderStatus returns the base quantity filled so far for an order hash
func (e *Engine) OrderStatus(hash common.Hash) (*uint256.Int, error) {
	return filled(e.store, hash)
}

// FillOrder validates req and, if every check passes, moves base from
// seller to buyer and quote from buyer to seller, then records the fill.
//
// A negative outcome is a *RejectError and leaves state untouched. Any
// other error is a storage fault and also leaves state untouched.
func (e *Engine) FillOrder(ctx context.Context, req FillRequest) (*Receipt, error) {
	return e.FillOrderOn(ctx, e.store, req)
}

// FillOrderOn is FillOrder against base instead of the engine's store.
// Passing an open storage.Tx stages the fill in that overlay, so the
// caller decides when it reaches disk.
func (e *Engine) FillOrderOn(ctx context.Context, base storage.Store, req FillRequest) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	defer func() { e.metrics.ApplySeconds.Observe(time.Since(start).Seconds()) }()

	tx := storage.NewTx(base)
	receipt, err := e.settle(tx, req)
	if err != nil {
		tx.Discard()
		if reason, ok := ReasonOf(err); ok {
			e.metrics.Rejections.WithLabelValues(string(reason)).Inc()
			e.logger.Info("settlement_rejected",
				zap.String("reason", string(reason)),
				zap.Error(err))
		} else {
			e.logger.Error("settlement_failed", zap.Error(err))
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit settlement: %w", err)
	}

	e.metrics.Settlements.Inc()
	e.metrics.BaseVolume.WithLabelValues(receipt.Event.BaseAsset.Hex()).
		Add(req.BaseFillQuantity.Float64())
	e.logger.Info("settlement_applied",
		zap.Uint64("seq", receipt.Event.Seq),
		zap.String("sell", receipt.SellHash.Hex()),
		zap.String("buy", receipt.BuyHash.Hex()),
		zap.String("base_qty", receipt.Event.BaseQuantity),
		zap.String("quote_amt", receipt.Event.QuoteAmount))
	return receipt, nil
}

// settle runs every gate against tx. Writes only happen after all checks.
func (e *Engine) settle(tx *storage.Tx, req FillRequest) (*Receipt, error) {
	sell, buy := &req.Sell.Order, &req.Buy.Order

	// well-formedness
	if err := sell.Validate(); err != nil {
		return nil, reject(ReasonInvalidOrder, "sell", "%v", err)
	}
	if err := buy.Validate(); err != nil {
		return nil, reject(ReasonInvalidOrder, "buy", "%v", err)
	}
	if !req.FillPrice.Valid() {
		return nil, reject(ReasonInvalidOrder, "", "fill price must have a positive denominator")
	}
	if req.BaseFillQuantity == nil {
		return nil, reject(ReasonInvalidOrder, "", "missing base fill quantity")
	}

	// structure
	if sell.BaseAsset != buy.BaseAsset || sell.QuoteAsset != buy.QuoteAsset {
		return nil, reject(ReasonAssetMismatch, "",
			"sell trades %s/%s, buy trades %s/%s",
			sell.BaseAsset.Hex(), sell.QuoteAsset.Hex(), buy.BaseAsset.Hex(), buy.QuoteAsset.Hex())
	}
	if sell.Side != order.Sell {
		return nil, reject(ReasonSideMismatch, "sell", "order side is %s", sell.Side)
	}
	if buy.Side != order.Buy {
		return nil, reject(ReasonSideMismatch, "buy", "order side is %s", buy.Side)
	}

	// signatures
	sellHash, err := e.authenticate("sell", &req.Sell)
	if err != nil {
		return nil, err
	}
	buyHash, err := e.authenticate("buy", &req.Buy)
	if err != nil {
		return nil, err
	}

	// expiration
	now, err := e.now(tx)
	if err != nil {
		return nil, fmt.Errorf("read time: %w", err)
	}
	if now >= sell.Expiration {
		return nil, reject(ReasonOrderExpired, "sell", "now %d, expiration %d", now, sell.Expiration)
	}
	if now >= buy.Expiration {
		return nil, reject(ReasonOrderExpired, "buy", "now %d, expiration %d", now, buy.Expiration)
	}

	// price crossing: sell.price <= fill <= buy.price
	if !req.FillPrice.Within(sell.Price, buy.Price) {
		if req.FillPrice.Cmp(sell.Price) < 0 {
			return nil, reject(ReasonPriceCross, "sell", "fill %s below sell limit %s", req.FillPrice, sell.Price)
		}
		return nil, reject(ReasonPriceCross, "buy", "fill %s above buy limit %s", req.FillPrice, buy.Price)
	}

	// quantity
	q := req.BaseFillQuantity
	if q.IsZero() {
		return nil, reject(ReasonQuantityExceeded, "", "zero fill quantity")
	}
	sellFilled, err := filled(tx, sellHash)
	if err != nil {
		return nil, err
	}
	buyFilled, err := filled(tx, buyHash)
	if err != nil {
		return nil, err
	}
	if rem := remaining(sell.BaseQuantity, sellFilled); q.Gt(rem) {
		return nil, reject(ReasonQuantityExceeded, "sell", "fill %s, remaining %s", q.Dec(), rem.Dec())
	}
	if rem := remaining(buy.BaseQuantity, buyFilled); q.Gt(rem) {
		return nil, reject(ReasonQuantityExceeded, "buy", "fill %s, remaining %s", q.Dec(), rem.Dec())
	}

	// quote amount, floored
	quote, overflow := req.FillPrice.MulFloor(q)
	if overflow {
		return nil, reject(ReasonAmountOverflow, "", "%s * %s", q.Dec(), req.FillPrice)
	}
	if quote.IsZero() {
		return nil, reject(ReasonDustFill, "", "%s at %s rounds to zero quote", q.Dec(), req.FillPrice)
	}

	// transfers
	ledger := e.ledger(tx)
	if err := e.checkFunds(ledger, "sell", sell.BaseAsset, sell.Signer, q); err != nil {
		return nil, err
	}
	if err := e.checkFunds(ledger, "buy", buy.QuoteAsset, buy.Signer, quote); err != nil {
		return nil, err
	}
	if err := ledger.TransferFrom(sell.BaseAsset, e.cfg.Address, sell.Signer, buy.Signer, num.SplitLimbs(q)); err != nil {
		return nil, reject(ReasonInsufficientFunds, "sell", "base leg: %v", err)
	}
	if err := ledger.TransferFrom(buy.QuoteAsset, e.cfg.Address, buy.Signer, sell.Signer, num.SplitLimbs(quote)); err != nil {
		return nil, reject(ReasonInsufficientFunds, "buy", "quote leg: %v", err)
	}

	// fill records and event
	sellTotal, err := increment(tx, sellHash, q)
	if err != nil {
		return nil, err
	}
	buyTotal, err := increment(tx, buyHash, q)
	if err != nil {
		return nil, err
	}
	ev := Event{
		SellHash:     sellHash,
		BuyHash:      buyHash,
		SellSigner:   sell.Signer,
		BuySigner:    buy.Signer,
		BaseAsset:    sell.BaseAsset,
		QuoteAsset:   sell.QuoteAsset,
		FillPriceNum: req.FillPrice.Num.Dec(),
		FillPriceDen: req.FillPrice.Den.Dec(),
		BaseQuantity: q.Dec(),
		QuoteAmount:  quote.Dec(),
		Time:         now,
	}
	if err := appendEvent(tx, &ev); err != nil {
		return nil, err
	}

	return &Receipt{
		SellHash:    sellHash,
		BuyHash:     buyHash,
		QuoteAmount: quote,
		SellFilled:  sellTotal,
		BuyFilled:   buyTotal,
		Event:       ev,
	}, nil
}

// authenticate hashes so under its scheme and checks it was signed by its
// own Signer
func (e *Engine) authenticate(side string, so *order.SignedOrder) (common.Hash, error) {
	if so.Scheme == order.SchemeRaw && !e.cfg.AcceptRaw {
		return common.Hash{}, reject(ReasonInvalidSignature, side, "raw hash scheme not accepted")
	}
	hash, err := e.hasher.Hash(&so.Order, so.Scheme)
	if err != nil {
		return common.Hash{}, reject(ReasonInvalidSignature, side, "%v", err)
	}
	if !crypto.VerifySignature(so.Order.Signer, hash[:], so.Signature) {
		return common.Hash{}, reject(ReasonInvalidSignature, side, "signature does not match %s", so.Order.Signer.Hex())
	}
	return hash, nil
}

// checkFunds confirms owner can pay amount of asset through the engine
func (e *Engine) checkFunds(ledger TokenLedger, side string, asset, owner common.Address, amount *uint256.Int) error {
	bal, err := ledger.BalanceOf(asset, owner)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", owner.Hex(), err)
	}
	if bal.Int().Lt(amount) {
		return reject(ReasonInsufficientFunds, side, "balance %s < %s", bal, amount.Dec())
	}
	alw, err := ledger.Allowance(asset, owner, e.cfg.Address)
	if err != nil {
		return fmt.Errorf("allowance of %s: %w", owner.Hex(), err)
	}
	if alw.Int().Lt(amount) {
		return reject(ReasonInsufficientFunds, side, "allowance %s < %s", alw, amount.Dec())
	}
	return nil
}

package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"pgregory.net/rapid"

	"github.com/uhyunpark/zigzag/pkg/app/core/ledger"
	"github.com/uhyunpark/zigzag/pkg/app/core/num"
	"github.com/uhyunpark/zigzag/pkg/app/core/oracle"
	"github.com/uhyunpark/zigzag/pkg/app/core/order"
	"github.com/uhyunpark/zigzag/pkg/crypto"
	"github.com/uhyunpark/zigzag/pkg/storage"
)

var (
	baseAsset    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	quoteAsset   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	engineAddr   = common.HexToAddress("0x0000000000000000000000000000000000e9e9e9")
	oracleWriter = common.HexToAddress("0x00000000000000000000000000000000000071e1")
)

const genesisTime = 1000

type harness struct {
	t       *testing.T
	store   *storage.MemStore
	engine  *Engine
	metrics *Metrics
	seller  *crypto.Signer
	buyer   *crypto.Signer
}

func bindLedger(kv storage.KV) TokenLedger { return ledger.New(kv) }

func newHarness(t *testing.T, acceptRaw bool) *harness {
	t.Helper()
	store := storage.NewMemStore()
	if err := oracle.Init(store, oracleWriter, genesisTime); err != nil {
		t.Fatal(err)
	}

	seller, _ := crypto.GenerateKey()
	buyer, _ := crypto.GenerateKey()

	l := ledger.New(store)
	l.Mint(baseAsset, seller.Address(), units(1_000))
	l.Approve(baseAsset, seller.Address(), engineAddr, units(1_000))
	l.Mint(quoteAsset, buyer.Address(), units(1_000_000))
	l.Approve(quoteAsset, buyer.Address(), engineAddr, units(1_000_000))

	metrics := NewMetrics(prometheus.NewRegistry())
	engine := NewEngine(store, bindLedger, Config{
		Domain:    crypto.DefaultDomain(),
		Address:   engineAddr,
		AcceptRaw: acceptRaw,
	}, WithMetrics(metrics))

	return &harness{t: t, store: store, engine: engine, metrics: metrics, seller: seller, buyer: buyer}
}

func units(n uint64) num.Limbs { return num.SplitLimbs(uint256.NewInt(n)) }

func (h *harness) sign(key *crypto.Signer, side order.Side, qty uint64, price num.Ratio, exp uint64, scheme order.Scheme) order.SignedOrder {
	h.t.Helper()
	so, err := h.engine.Hasher().Sign(order.Order{
		BaseAsset:    baseAsset,
		QuoteAsset:   quoteAsset,
		Side:         side,
		BaseQuantity: uint256.NewInt(qty),
		Price:        price,
		Expiration:   exp,
	}, scheme, key)
	if err != nil {
		h.t.Fatal(err)
	}
	return so
}

func (h *harness) sell(qty uint64, price num.Ratio) order.SignedOrder {
	return h.sign(h.seller, order.Sell, qty, price, 2000, order.SchemeTyped)
}

func (h *harness) buy(qty uint64, price num.Ratio) order.SignedOrder {
	return h.sign(h.buyer, order.Buy, qty, price, 2000, order.SchemeTyped)
}

func (h *harness) fill(sell, buy order.SignedOrder, price num.Ratio, qty uint64) (*Receipt, error) {
	return h.engine.FillOrder(context.Background(), FillRequest{
		Sell:             sell,
		Buy:              buy,
		FillPrice:        price,
		BaseFillQuantity: uint256.NewInt(qty),
	})
}

func (h *harness) balance(asset common.Address, who *crypto.Signer) uint64 {
	h.t.Helper()
	b, err := ledger.New(h.store).BalanceOf(asset, who.Address())
	if err != nil {
		h.t.Fatal(err)
	}
	return b.Int().Uint64()
}

func (h *harness) filledOf(so order.SignedOrder) uint64 {
	h.t.Helper()
	hash, _ := h.engine.Hasher().Hash(&so.Order, so.Scheme)
	f, err := h.engine.OrderStatus(hash)
	if err != nil {
		h.t.Fatal(err)
	}
	return f.Uint64()
}

func requireReason(t *testing.T, err error, want Reason) {
	t.Helper()
	got, ok := ReasonOf(err)
	if !ok {
		t.Fatalf("err = %v, want rejection %s", err, want)
	}
	if got != want {
		t.Fatalf("reason = %s (%v), want %s", got, err, want)
	}
}

func TestFillAtEqualPrices(t *testing.T) {
	h := newHarness(t, false)
	sell := h.sell(100, num.NewRatio(1, 1))
	buy := h.buy(50, num.NewRatio(1, 1))

	r, err := h.fill(sell, buy, num.NewRatio(1, 1), 50)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if r.QuoteAmount.Uint64() != 50 {
		t.Errorf("quote = %s, want 50", r.QuoteAmount.Dec())
	}
	if r.SellFilled.Uint64() != 50 || r.BuyFilled.Uint64() != 50 {
		t.Errorf("filled = %s/%s", r.SellFilled.Dec(), r.BuyFilled.Dec())
	}

	if got := h.balance(baseAsset, h.buyer); got != 50 {
		t.Errorf("buyer base = %d, want 50", got)
	}
	if got := h.balance(baseAsset, h.seller); got != 950 {
		t.Errorf("seller base = %d, want 950", got)
	}
	if got := h.balance(quoteAsset, h.seller); got != 50 {
		t.Errorf("seller quote = %d, want 50", got)
	}
	if got := h.balance(quoteAsset, h.buyer); got != 999_950 {
		t.Errorf("buyer quote = %d, want 999950", got)
	}
	if v := testutil.ToFloat64(h.metrics.Settlements); v != 1 {
		t.Errorf("applied counter = %v", v)
	}
}

func TestPriceCrossing(t *testing.T) {
	h := newHarness(t, false)

	// buy limit 3 is below sell limit 4: nothing can satisfy both
	sell := h.sell(10, num.NewRatio(4, 1))
	buy := h.buy(10, num.NewRatio(3, 1))
	for _, p := range []num.Ratio{num.NewRatio(3, 1), num.NewRatio(4, 1), num.NewRatio(7, 2), num.NewRatio(5, 1)} {
		_, err := h.fill(sell, buy, p, 1)
		requireReason(t, err, ReasonPriceCross)
		if !errors.Is(err, ErrPriceCross) {
			t.Errorf("errors.Is(ErrPriceCross) false for %v", err)
		}
	}

	// crossing book: any price in [2, 5] works, outside does not
	sell = h.sell(10, num.NewRatio(2, 1))
	buy = h.buy(10, num.NewRatio(10, 2))
	_, err := h.fill(sell, buy, num.NewRatio(19, 10), 1)
	requireReason(t, err, ReasonPriceCross)
	_, err = h.fill(sell, buy, num.NewRatio(51, 10), 1)
	requireReason(t, err, ReasonPriceCross)
	if _, err := h.fill(sell, buy, num.NewRatio(4, 2), 1); err != nil {
		t.Errorf("fill at sell limit: %v", err)
	}
	if _, err := h.fill(sell, buy, num.NewRatio(5, 1), 1); err != nil {
		t.Errorf("fill at buy limit: %v", err)
	}
}

func TestPartialFills(t *testing.T) {
	h := newHarness(t, false)
	price := num.NewRatio(1, 1)
	sell := h.sell(100, price)

	steps := []struct {
		buyQty, fillQty uint64
		sellFilled      uint64
	}{
		{50, 50, 50},
		{25, 25, 75},
		{25, 25, 100},
	}
	for i, s := range steps {
		// distinct expirations keep equal-sized buys as distinct orders
		buy := h.sign(h.buyer, order.Buy, s.buyQty, price, 2000+uint64(i), order.SchemeTyped)
		if _, err := h.fill(sell, buy, price, s.fillQty); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := h.filledOf(sell); got != s.sellFilled {
			t.Fatalf("step %d: sell filled = %d, want %d", i, got, s.sellFilled)
		}
		if got := h.filledOf(buy); got != s.fillQty {
			t.Fatalf("step %d: buy filled = %d, want %d", i, got, s.fillQty)
		}
	}

	_, err := h.fill(sell, h.buy(10, price), price, 1)
	requireReason(t, err, ReasonQuantityExceeded)
	if rej := err.(*RejectError); rej.Side != "sell" {
		t.Errorf("side = %q, want sell", rej.Side)
	}
}

// A sell of 50 half-filled by a buy of 25 is finished by a larger buy,
// which keeps its own remainder.
func TestPartialFillAcrossBuys(t *testing.T) {
	h := newHarness(t, false)
	price := num.NewRatio(1, 1)
	sell := h.sell(50, price)
	first := h.buy(25, price)
	second := h.sign(h.buyer, order.Buy, 50, price, 2001, order.SchemeTyped)

	if _, err := h.fill(sell, first, price, 25); err != nil {
		t.Fatal(err)
	}
	if got := h.filledOf(sell); got != 25 {
		t.Fatalf("sell filled = %d, want 25", got)
	}
	if got := h.filledOf(first); got != 25 {
		t.Fatalf("first buy filled = %d, want 25", got)
	}

	if _, err := h.fill(sell, second, price, 25); err != nil {
		t.Fatal(err)
	}
	if got := h.filledOf(sell); got != 50 {
		t.Errorf("sell filled = %d, want 50", got)
	}
	if got := h.filledOf(second); got != 25 {
		t.Errorf("second buy filled = %d, want 25", got)
	}
	if got := h.balance(baseAsset, h.buyer); got != 50 {
		t.Errorf("buyer base = %d, want 50", got)
	}
	if got := h.balance(quoteAsset, h.seller); got != 50 {
		t.Errorf("seller quote = %d, want 50", got)
	}

	// the sell is exhausted even though the second buy is not
	_, err := h.fill(sell, second, price, 1)
	requireReason(t, err, ReasonQuantityExceeded)
	if rej := err.(*RejectError); rej.Side != "sell" {
		t.Errorf("side = %q, want sell", rej.Side)
	}

	// the second buy's remaining 25 still fills against a fresh sell
	other := h.sign(h.seller, order.Sell, 25, price, 2001, order.SchemeTyped)
	if _, err := h.fill(other, second, price, 25); err != nil {
		t.Fatalf("fill remainder: %v", err)
	}
	if got := h.filledOf(second); got != 50 {
		t.Errorf("second buy filled = %d, want 50", got)
	}
	_, err = h.fill(h.sell(10, price), second, price, 1)
	requireReason(t, err, ReasonQuantityExceeded)
	if rej := err.(*RejectError); rej.Side != "buy" {
		t.Errorf("side = %q, want buy", rej.Side)
	}
}

func TestReplayRejected(t *testing.T) {
	h := newHarness(t, false)
	price := num.NewRatio(1, 1)
	sell := h.sell(100, price)
	buy := h.buy(50, price)

	if _, err := h.fill(sell, buy, price, 50); err != nil {
		t.Fatal(err)
	}
	_, err := h.fill(sell, buy, price, 50)
	requireReason(t, err, ReasonQuantityExceeded)

	// over-fill in one step is the same failure
	_, err = h.fill(sell, h.buy(60, price), price, 51)
	requireReason(t, err, ReasonQuantityExceeded)

	_, err = h.fill(sell, h.buy(60, price), price, 0)
	requireReason(t, err, ReasonQuantityExceeded)
}

func TestExpirationBoundary(t *testing.T) {
	h := newHarness(t, false)
	price := num.NewRatio(1, 1)

	// now = 1000: expiration 1001 is live, 1000 is not
	live := h.sign(h.seller, order.Sell, 10, price, genesisTime+1, order.SchemeTyped)
	dead := h.sign(h.seller, order.Sell, 10, price, genesisTime, order.SchemeTyped)

	_, err := h.fill(dead, h.buy(10, price), price, 1)
	requireReason(t, err, ReasonOrderExpired)

	if _, err := h.fill(live, h.buy(10, price), price, 1); err != nil {
		t.Fatalf("live order rejected: %v", err)
	}

	if err := oracle.SetCurrentTime(h.store, oracleWriter, genesisTime+1); err != nil {
		t.Fatal(err)
	}
	_, err = h.fill(live, h.buy(10, price), price, 1)
	requireReason(t, err, ReasonOrderExpired)

	expiredBuy := h.sign(h.buyer, order.Buy, 10, price, genesisTime, order.SchemeTyped)
	_, err = h.fill(h.sell(10, price), expiredBuy, price, 1)
	requireReason(t, err, ReasonOrderExpired)
	if err.(*RejectError).Side != "buy" {
		t.Errorf("side = %q, want buy", err.(*RejectError).Side)
	}
}

func TestAtomicityOnQuoteLegFailure(t *testing.T) {
	h := newHarness(t, false)
	price := num.NewRatio(2, 1)

	// base leg would succeed; buyer only approved 10 quote for 2*50 = 100
	ledger.New(h.store).Approve(quoteAsset, h.buyer.Address(), engineAddr, units(10))

	sell := h.sell(100, price)
	buy := h.buy(50, price)
	_, err := h.fill(sell, buy, price, 50)
	requireReason(t, err, ReasonInsufficientFunds)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("errors.Is(ErrInsufficientFunds) false for %v", err)
	}

	if got := h.balance(baseAsset, h.seller); got != 1000 {
		t.Errorf("seller base = %d, want untouched 1000", got)
	}
	if got := h.balance(baseAsset, h.buyer); got != 0 {
		t.Errorf("buyer base = %d, want 0", got)
	}
	if got := h.filledOf(sell); got != 0 {
		t.Errorf("sell filled = %d, want 0", got)
	}
	events, _ := RecentEvents(h.store, 0)
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
	if v := testutil.ToFloat64(h.metrics.Rejections.WithLabelValues(string(ReasonInsufficientFunds))); v != 1 {
		t.Errorf("rejection counter = %v", v)
	}
}

// failingLedger passes the pre-checks but refuses to move one asset
type failingLedger struct {
	TokenLedger
	fail common.Address
}

func (f failingLedger) TransferFrom(asset, spender, from, to common.Address, amount num.Limbs) error {
	if asset == f.fail {
		return errors.New("transfer refused")
	}
	return f.TokenLedger.TransferFrom(asset, spender, from, to, amount)
}

func TestAtomicityWhenTransferFails(t *testing.T) {
	h := newHarness(t, false)
	h.engine = NewEngine(h.store, func(kv storage.KV) TokenLedger {
		return failingLedger{TokenLedger: ledger.New(kv), fail: quoteAsset}
	}, Config{Domain: crypto.DefaultDomain(), Address: engineAddr})

	price := num.NewRatio(1, 1)
	sell := h.sell(100, price)
	buy := h.buy(50, price)

	// the base leg has already moved inside the overlay when the quote leg fails
	_, err := h.fill(sell, buy, price, 50)
	requireReason(t, err, ReasonInsufficientFunds)

	if got := h.balance(baseAsset, h.seller); got != 1000 {
		t.Errorf("seller base = %d, want untouched 1000", got)
	}
	if got := h.balance(baseAsset, h.buyer); got != 0 {
		t.Errorf("buyer base = %d, want 0", got)
	}
	alw, _ := ledger.New(h.store).Allowance(baseAsset, h.seller.Address(), engineAddr)
	if alw.Int().Uint64() != 1000 {
		t.Errorf("seller allowance = %s, want untouched 1000", alw)
	}
	if got := h.filledOf(sell); got != 0 {
		t.Errorf("sell filled = %d, want 0", got)
	}
}

func TestInsufficientBaseBalance(t *testing.T) {
	h := newHarness(t, false)
	price := num.NewRatio(1, 1)
	sell := h.sell(5000, price)
	buy := h.buy(5000, price)

	_, err := h.fill(sell, buy, price, 1001)
	requireReason(t, err, ReasonInsufficientFunds)
	if err.(*RejectError).Side != "sell" {
		t.Errorf("side = %q, want sell", err.(*RejectError).Side)
	}
}

func TestDustAndOverflow(t *testing.T) {
	h := newHarness(t, false)

	third := num.NewRatio(1, 3)
	_, err := h.fill(h.sell(10, third), h.buy(10, third), third, 2)
	requireReason(t, err, ReasonDustFill)

	// 3 * 1/3 = 1, floor keeps it
	if r, err := h.fill(h.sell(10, third), h.buy(10, third), third, 3); err != nil || r.QuoteAmount.Uint64() != 1 {
		t.Errorf("fill 3 at 1/3: %v, %v", r, err)
	}

	max := num.Ratio{Num: new(uint256.Int).SetAllOne(), Den: uint256.NewInt(1)}
	_, err = h.fill(h.sell(10, num.NewRatio(1, 1)), h.buy(10, max), max, 2)
	requireReason(t, err, ReasonAmountOverflow)
}

func TestSignatureChecks(t *testing.T) {
	h := newHarness(t, false)
	price := num.NewRatio(1, 1)

	// signer field rewritten after signing
	forged := h.sell(10, price)
	forged.Order.Signer = h.buyer.Address()
	_, err := h.fill(forged, h.buy(10, price), price, 1)
	requireReason(t, err, ReasonInvalidSignature)

	// quantity raised after signing
	inflated := h.buy(10, price)
	inflated.Order.BaseQuantity = uint256.NewInt(1_000)
	_, err = h.fill(h.sell(10, price), inflated, price, 1)
	requireReason(t, err, ReasonInvalidSignature)
	if err.(*RejectError).Side != "buy" {
		t.Errorf("side = %q, want buy", err.(*RejectError).Side)
	}

	// signature made for another chain
	otherDomain := crypto.DefaultDomain()
	otherDomain.ChainID.SetInt64(1)
	foreign, _ := order.NewHasher(otherDomain).Sign(h.sell(10, price).Order, order.SchemeTyped, h.seller)
	_, err = h.fill(foreign, h.buy(10, price), price, 1)
	requireReason(t, err, ReasonInvalidSignature)
}

func TestRawSchemeGate(t *testing.T) {
	price := num.NewRatio(1, 1)

	strict := newHarness(t, false)
	rawSell := strict.sign(strict.seller, order.Sell, 10, price, 2000, order.SchemeRaw)
	_, err := strict.fill(rawSell, strict.buy(10, price), price, 1)
	requireReason(t, err, ReasonInvalidSignature)

	open := newHarness(t, true)
	rawSell = open.sign(open.seller, order.Sell, 10, price, 2000, order.SchemeRaw)
	if _, err := open.fill(rawSell, open.buy(10, price), price, 1); err != nil {
		t.Errorf("raw order rejected with raw accepted: %v", err)
	}
}

func TestStructuralChecks(t *testing.T) {
	h := newHarness(t, false)
	price := num.NewRatio(1, 1)

	// both orders selling
	_, err := h.fill(h.sell(10, price), h.sign(h.buyer, order.Sell, 10, price, 2000, order.SchemeTyped), price, 1)
	requireReason(t, err, ReasonSideMismatch)

	// buy order listed as the sell leg
	_, err = h.fill(h.buy(10, price), h.buy(10, price), price, 1)
	requireReason(t, err, ReasonSideMismatch)

	other, _ := h.engine.Hasher().Sign(order.Order{
		BaseAsset:    baseAsset,
		QuoteAsset:   common.HexToAddress("0xa2"),
		Side:         order.Buy,
		BaseQuantity: uint256.NewInt(10),
		Price:        price,
		Expiration:   2000,
	}, order.SchemeTyped, h.buyer)
	_, err = h.fill(h.sell(10, price), other, price, 1)
	requireReason(t, err, ReasonAssetMismatch)

	_, err = h.fill(h.sell(10, price), h.buy(10, price), num.NewRatio(1, 0), 1)
	requireReason(t, err, ReasonInvalidOrder)

	zeroDen := h.sell(10, price)
	zeroDen.Order.Price = num.NewRatio(1, 0)
	_, err = h.fill(zeroDen, h.buy(10, price), price, 1)
	requireReason(t, err, ReasonInvalidOrder)
}

func TestEventsRecorded(t *testing.T) {
	h := newHarness(t, false)
	price := num.NewRatio(3, 2)
	sell := h.sell(100, price)

	for _, q := range []uint64{10, 20, 30} {
		if _, err := h.fill(sell, h.buy(q, price), price, q); err != nil {
			t.Fatal(err)
		}
	}

	events, err := RecentEvents(h.store, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Seq != 2 || events[0].BaseQuantity != "30" || events[0].QuoteAmount != "45" {
		t.Errorf("newest event = %+v", events[0])
	}
	if events[1].Seq != 1 || events[1].BaseQuantity != "20" {
		t.Errorf("second event = %+v", events[1])
	}
	if events[0].Time != genesisTime || events[0].SellSigner != h.seller.Address() {
		t.Errorf("event metadata = %+v", events[0])
	}
}

func TestCanceledContext(t *testing.T) {
	h := newHarness(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	price := num.NewRatio(1, 1)
	_, err := h.engine.FillOrder(ctx, FillRequest{
		Sell: h.sell(10, price), Buy: h.buy(10, price),
		FillPrice: price, BaseFillQuantity: uint256.NewInt(1),
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// Fills never decrease, never pass the order quantity, and equal the sum
// of accepted quantities.
func TestFillMonotonicity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness(t, false)
		price := num.NewRatio(1, 1)
		sellQty := rapid.Uint64Range(1, 200).Draw(rt, "sellQty")
		sell := h.sell(sellQty, price)

		var accepted, prev uint64
		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			buyQty := rapid.Uint64Range(1, 100).Draw(rt, "buyQty")
			q := rapid.Uint64Range(0, 120).Draw(rt, "q")

			_, err := h.fill(sell, h.buy(buyQty, price), price, q)
			if err == nil {
				accepted += q
			} else if _, ok := ReasonOf(err); !ok {
				rt.Fatalf("unexpected fault: %v", err)
			}

			cur := h.filledOf(sell)
			if cur < prev {
				rt.Fatalf("fill decreased: %d -> %d", prev, cur)
			}
			if cur > sellQty {
				rt.Fatalf("filled %d > quantity %d", cur, sellQty)
			}
			if cur != accepted {
				rt.Fatalf("filled %d, accepted sum %d", cur, accepted)
			}
			prev = cur
		}
	})
}

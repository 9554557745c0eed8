package reconcile_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pos-ledger/cash"
	"github.com/warp/pos-ledger/inventory"
	"github.com/warp/pos-ledger/ledger"
	"github.com/warp/pos-ledger/ledger/store"
	"github.com/warp/pos-ledger/loyalty"
	"github.com/warp/pos-ledger/notify"
	"github.com/warp/pos-ledger/reconcile"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type captureEmitter struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureEmitter) Emit(_ context.Context, ev notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureEmitter) ofType(t string) []notify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []notify.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type captureObserver struct {
	closes        []string
	lowStock      int
	discrepancies int
}

func (o *captureObserver) ObserveClose(class string, _ decimal.Decimal) {
	o.closes = append(o.closes, class)
}
func (o *captureObserver) SetLowStock(n int) { o.lowStock = n }
func (o *captureObserver) ObserveDiscrepancy(ledger.AccountType, ledger.DiscrepancyKind) {
	o.discrepancies++
}

type fixture struct {
	core      *ledger.Ledger
	registers *cash.Ledger
	stock     *inventory.Ledger
	members   *loyalty.Ledger
	engine    *reconcile.Engine
	emitter   *captureEmitter
	observer  *captureObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{emitter: &captureEmitter{}, observer: &captureObserver{}}
	f.core = ledger.New(store.NewMemory())
	f.registers = cash.New(f.core, cash.DefaultVarianceThresholds())
	f.stock = inventory.New(f.core)
	f.members = loyalty.New(f.core, loyalty.DefaultProgram())
	f.engine = reconcile.NewEngine(f.core, f.registers, f.stock, f.members,
		reconcile.WithEmitter(f.emitter),
		reconcile.WithObserver(f.observer),
		reconcile.WithLogger(zerolog.Nop()),
	)
	return f
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }

func (f *fixture) item(t *testing.T, product string, quantity int64, min *decimal.Decimal) ledger.AccountID {
	t.Helper()
	ctx := context.Background()
	acct, err := f.stock.Stock(ctx, inventory.StockInput{ProductID: product, Min: min})
	require.NoError(t, err)
	if quantity > 0 {
		_, err = f.stock.Move(ctx, inventory.Movement{ItemID: acct.ID, Kind: inventory.KindInbound, Quantity: decimal.NewFromInt(quantity), Actor: "stocker"})
		require.NoError(t, err)
	}
	return acct.ID
}

// =============================================================================
// CLOSE REGISTER TESTS
// =============================================================================

func TestEngine_CloseRegister(t *testing.T) {
	// GIVEN: A register opened with 100.00, one 50.00 sale, one 20.00 withdrawal
	// WHEN: Closing with 130.00 declared
	// THEN: expected 130.00, variance 0, summary published and measured

	f := newFixture(t)
	ctx := context.Background()
	res, err := f.registers.Open(ctx, cash.OpenInput{RegisterID: "till-1", Initial: d("100.00"), Actor: "cashier-1"})
	require.NoError(t, err)
	id := res.Account.ID

	_, err = f.registers.RecordSale(ctx, cash.Sale{SessionID: id, Amount: d("50.00"), PaymentMethod: "cash", Actor: "cashier-1"})
	require.NoError(t, err)
	_, err = f.registers.Withdraw(ctx, cash.Movement{SessionID: id, Amount: d("20.00"), Actor: "cashier-1"})
	require.NoError(t, err)

	summary, err := f.engine.CloseRegister(ctx, cash.CloseInput{SessionID: id, Declared: d("130.00"), Actor: "manager-1"})
	require.NoError(t, err)

	assert.True(t, summary.ExpectedAmount.Equal(d("130")))
	assert.True(t, summary.Variance.IsZero())
	assert.True(t, summary.ExpectedAmount.Equal(summary.InitialAmount.Add(summary.SalesTotal).Sub(summary.WithdrawalsTotal).Add(summary.DepositsTotal)))
	assert.Equal(t, []string{"normal"}, f.observer.closes)

	closed := f.emitter.ofType(notify.EventRegisterClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, id, closed[0].AccountID)
}

func TestEngine_CloseRegister_FailureEmitsNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CloseRegister(context.Background(), cash.CloseInput{SessionID: "missing", Declared: d("1"), Actor: "manager-1"})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.Empty(t, f.emitter.ofType(notify.EventRegisterClosed))
	assert.Empty(t, f.observer.closes)
}

// =============================================================================
// LOW STOCK TESTS
// =============================================================================

func TestLowStockReport_SortedAscendingWithFallback(t *testing.T) {
	// GIVEN: Items with quantities 4, 1, 9, 1, 50 and various thresholds
	// WHEN: Building the report with one explicit override
	// THEN: Low items only, ascending by quantity then id, with shortfalls

	items := []inventory.Item{
		{ID: "d", Quantity: d("4"), Min: ptr(d("5"))},
		{ID: "c", Quantity: d("1"), Min: ptr(d("2"))},
		{ID: "b", Quantity: d("9"), Min: ptr(d("3"))}, // overridden to 10
		{ID: "a", Quantity: d("1"), Min: ptr(d("1"))},
		{ID: "e", Quantity: d("50")},                   // no threshold
		{ID: "f", Quantity: d("2"), Min: ptr(d("10"))}, // overridden to 1
	}
	report := reconcile.LowStockReport(items, reconcile.Thresholds{"b": d("10"), "f": d("1")})

	ids := make([]ledger.AccountID, 0, len(report))
	for _, r := range report {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []ledger.AccountID{"a", "c", "d", "b"}, ids)
	assert.True(t, report[0].Shortfall.IsZero())
	assert.True(t, report[3].Threshold.Equal(d("10")))
	assert.True(t, report[3].Shortfall.Equal(d("1")))
}

func TestEngine_LowStock(t *testing.T) {
	f := newFixture(t)
	f.item(t, "bun", 2, ptr(d("5")))
	f.item(t, "patty", 20, ptr(d("5")))

	report, err := f.engine.LowStock(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, "bun", report[0].ProductID)
	assert.Equal(t, 1, f.observer.lowStock)
}

func TestStockWatch_AnnouncesOnlyNewlyLowItems(t *testing.T) {
	// GIVEN: One item below its minimum
	// WHEN: Checking twice, restocking, then selling it low again
	// THEN: Announced on the first check, silent on the second, announced again after recovery

	f := newFixture(t)
	ctx := context.Background()
	id := f.item(t, "bun", 2, ptr(d("5")))
	watch := reconcile.NewStockWatch(f.engine, time.Hour, zerolog.Nop())

	assert.Len(t, watch.Check(ctx), 1)
	assert.Empty(t, watch.Check(ctx))

	_, err := f.stock.Move(ctx, inventory.Movement{ItemID: id, Kind: inventory.KindPurchase, Quantity: d("10"), Actor: "stocker"})
	require.NoError(t, err)
	assert.Empty(t, watch.Check(ctx))

	_, err = f.stock.Move(ctx, inventory.Movement{ItemID: id, Kind: inventory.KindSale, Quantity: d("9"), Actor: "pos"})
	require.NoError(t, err)
	announced := watch.Check(ctx)
	require.Len(t, announced, 1)
	assert.True(t, announced[0].Quantity.Equal(d("3")))

	events := f.emitter.ofType(notify.EventLowStock)
	require.Len(t, events, 2)
	assert.Equal(t, id, events[1].AccountID)
}

func TestStockWatch_StartStop(t *testing.T) {
	f := newFixture(t)
	f.item(t, "bun", 0, ptr(d("5")))
	watch := reconcile.NewStockWatch(f.engine, time.Hour, zerolog.Nop())

	watch.Start()
	watch.Start()
	require.Eventually(t, func() bool {
		return len(f.emitter.ofType(notify.EventLowStock)) == 1
	}, time.Second, 5*time.Millisecond, "first check runs on start")
	watch.Stop()
	watch.Stop()
}

// =============================================================================
// TIER TRANSITION TESTS
// =============================================================================

func TestTierTransition(t *testing.T) {
	member := loyalty.Member{ID: "m-1", Tier: "silver"}

	tr, ok := reconcile.TierTransition(member, "bronze")
	require.True(t, ok)
	assert.Equal(t, reconcile.Transition{MemberID: "m-1", Old: "bronze", New: "silver"}, tr)

	_, ok = reconcile.TierTransition(member, "silver")
	assert.False(t, ok)
}

func TestEngine_EarnPublishesTierChange(t *testing.T) {
	// GIVEN: A bronze member
	// WHEN: A 600 purchase moves them to silver, then a 10 purchase does not
	// THEN: Exactly one tier event is published

	f := newFixture(t)
	ctx := context.Background()
	m, err := f.members.Enroll(ctx, loyalty.EnrollInput{CustomerID: "cust-1"})
	require.NoError(t, err)

	res, err := f.engine.Earn(ctx, loyalty.EarnInput{MemberID: m.ID, Purchase: d("600"), Actor: "pos"})
	require.NoError(t, err)
	assert.Equal(t, "silver", res.Tier)
	_, err = f.engine.Earn(ctx, loyalty.EarnInput{MemberID: m.ID, Purchase: d("10"), Actor: "pos"})
	require.NoError(t, err)

	events := f.emitter.ofType(notify.EventTierChanged)
	require.Len(t, events, 1)
	assert.Equal(t, "bronze", events[0].Data["old_tier"])
	assert.Equal(t, "silver", events[0].Data["new_tier"])

	tr, ok, err := f.engine.TierTransition(ctx, m.ID, "bronze")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "silver", tr.New)
}

// =============================================================================
// VERIFY TESTS
// =============================================================================

func TestEngine_VerifyAllAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.item(t, "bun", 5, nil)
	_, err := f.registers.Open(ctx, cash.OpenInput{RegisterID: "till-1", Initial: d("20"), Actor: "cashier-1"})
	require.NoError(t, err)
	_, err = f.members.Enroll(ctx, loyalty.EnrollInput{CustomerID: "cust-1"})
	require.NoError(t, err)

	reports, err := f.engine.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	for _, r := range reports {
		assert.True(t, r.OK(), "%s: %+v", r.AccountID, r.Discrepancies)
	}
	assert.Zero(t, f.observer.discrepancies)
}

package cash_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pos-ledger/cash"
	"github.com/warp/pos-ledger/inventory"
	"github.com/warp/pos-ledger/ledger"
	"github.com/warp/pos-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRegister(t *testing.T) *cash.Ledger {
	t.Helper()
	return cash.New(ledger.New(store.NewMemory()), cash.DefaultVarianceThresholds())
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openSession(t *testing.T, c *cash.Ledger, register, initial string) ledger.AccountID {
	t.Helper()
	res, err := c.Open(context.Background(), cash.OpenInput{RegisterID: register, Initial: money(initial), Actor: "cashier-1"})
	require.NoError(t, err)
	return res.Account.ID
}

func sale(id ledger.AccountID, amount, method string) cash.Sale {
	return cash.Sale{SessionID: id, Amount: money(amount), PaymentMethod: method, Actor: "cashier-1"}
}

// =============================================================================
// CLOSING TESTS
// =============================================================================

func TestRegister_CloseScenario_NoVariance(t *testing.T) {
	// GIVEN: A register opened with 100.00
	// WHEN: A 50.00 sale and a 20.00 withdrawal, closed with 130.00 declared
	// THEN: expected = 130.00, variance = 0.00, session closed

	c := newTestRegister(t)
	ctx := context.Background()
	id := openSession(t, c, "till-1", "100.00")

	_, err := c.RecordSale(ctx, sale(id, "50.00", "cash"))
	require.NoError(t, err)
	_, err = c.Withdraw(ctx, cash.Movement{SessionID: id, Amount: money("20.00"), Reason: "change run", Actor: "cashier-1"})
	require.NoError(t, err)

	summary, err := c.Close(ctx, cash.CloseInput{SessionID: id, Declared: money("130.00"), Actor: "manager-1"})
	require.NoError(t, err)

	assert.True(t, summary.InitialAmount.Equal(money("100")))
	assert.True(t, summary.SalesTotal.Equal(money("50")))
	assert.True(t, summary.WithdrawalsTotal.Equal(money("20")))
	assert.True(t, summary.DepositsTotal.IsZero())
	assert.True(t, summary.ExpectedAmount.Equal(money("130")))
	assert.True(t, summary.Variance.IsZero())
	assert.Equal(t, cash.VarianceNormal, summary.VarianceClass)
	assert.Equal(t, "till-1", summary.RegisterID)
	assert.NotZero(t, summary.ClosingEntryID)

	acct, err := c.Session(ctx, id)
	require.NoError(t, err)
	assert.True(t, acct.IsClosed())
	assert.True(t, acct.Balance(cash.Balance).Equal(money("130")))
}

func TestRegister_Close_ReportsShortfall(t *testing.T) {
	// GIVEN: A register expected to hold 150.00
	// WHEN: Only 120.00 is counted
	// THEN: variance = -30.00 (critical) and the balance is reconciled to 120.00

	c := newTestRegister(t)
	ctx := context.Background()
	id := openSession(t, c, "till-1", "100")
	_, err := c.RecordSale(ctx, sale(id, "30", "cash"))
	require.NoError(t, err)
	_, err = c.Deposit(ctx, cash.Movement{SessionID: id, Amount: money("20"), Reason: "float top-up", Actor: "manager-1"})
	require.NoError(t, err)

	summary, err := c.Close(ctx, cash.CloseInput{SessionID: id, Declared: money("120"), Notes: "short", Actor: "manager-1"})
	require.NoError(t, err)

	assert.True(t, summary.ExpectedAmount.Equal(money("150")))
	assert.True(t, summary.Variance.Equal(money("-30")))
	assert.True(t, summary.Variance.Equal(summary.DeclaredAmount.Sub(summary.ExpectedAmount)))
	assert.Equal(t, cash.VarianceCritical, summary.VarianceClass)

	acct, err := c.Session(ctx, id)
	require.NoError(t, err)
	assert.True(t, acct.Balance(cash.Balance).Equal(money("120")))
}

func TestRegister_Close_SalesByMethod(t *testing.T) {
	c := newTestRegister(t)
	ctx := context.Background()
	id := openSession(t, c, "till-1", "0")

	for _, s := range []cash.Sale{sale(id, "10", "cash"), sale(id, "25.50", "card"), sale(id, "4.50", "card")} {
		_, err := c.RecordSale(ctx, s)
		require.NoError(t, err)
	}

	summary, err := c.Close(ctx, cash.CloseInput{SessionID: id, Declared: money("40"), Actor: "manager-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"card", "cash"}, summary.Methods())
	assert.True(t, summary.SalesByMethod["card"].Equal(money("30")))
	assert.True(t, summary.SalesByMethod["cash"].Equal(money("10")))
}

func TestRegister_Close_NegativeDeclared_Rejected(t *testing.T) {
	c := newTestRegister(t)
	id := openSession(t, c, "till-1", "10")

	_, err := c.Close(context.Background(), cash.CloseInput{SessionID: id, Declared: money("-1"), Actor: "manager-1"})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestRegister_ClosedSession_RejectsEverything(t *testing.T) {
	// GIVEN: A closed session
	// WHEN: Recording a sale, a withdrawal or closing again
	// THEN: ErrAccountClosed each time

	c := newTestRegister(t)
	ctx := context.Background()
	id := openSession(t, c, "till-1", "10")
	_, err := c.Close(ctx, cash.CloseInput{SessionID: id, Declared: money("10"), Actor: "manager-1"})
	require.NoError(t, err)

	_, err = c.RecordSale(ctx, sale(id, "1", "cash"))
	assert.ErrorIs(t, err, ledger.ErrAccountClosed)
	_, err = c.Withdraw(ctx, cash.Movement{SessionID: id, Amount: money("1"), Actor: "cashier-1"})
	assert.ErrorIs(t, err, ledger.ErrAccountClosed)
	_, err = c.Close(ctx, cash.CloseInput{SessionID: id, Declared: money("10"), Actor: "manager-1"})
	assert.ErrorIs(t, err, ledger.ErrAccountClosed)
}

func TestRegister_OneOpenSessionPerRegister(t *testing.T) {
	// GIVEN: till-1 has an open session
	// WHEN: Opening till-1 again
	// THEN: ErrAlreadyOpen; after closing, a new session can be opened

	c := newTestRegister(t)
	ctx := context.Background()
	id := openSession(t, c, "till-1", "10")

	_, err := c.Open(ctx, cash.OpenInput{RegisterID: "till-1", Initial: money("5"), Actor: "cashier-2"})
	assert.ErrorIs(t, err, ledger.ErrAlreadyOpen)

	current, err := c.OpenSession(ctx, "till-1")
	require.NoError(t, err)
	assert.Equal(t, id, current.ID)

	_, err = c.Close(ctx, cash.CloseInput{SessionID: id, Declared: money("10"), Actor: "manager-1"})
	require.NoError(t, err)

	_, err = c.OpenSession(ctx, "till-1")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	next := openSession(t, c, "till-1", "5")
	assert.NotEqual(t, id, next)
}

func TestRegister_WithdrawBeyondDrawer_Rejected(t *testing.T) {
	// GIVEN: A drawer holding 10
	// WHEN: Withdrawing 15
	// THEN: ErrInsufficientBalance, drawer still holds 10

	c := newTestRegister(t)
	ctx := context.Background()
	id := openSession(t, c, "till-1", "10")

	_, err := c.Withdraw(ctx, cash.Movement{SessionID: id, Amount: money("15"), Actor: "cashier-1"})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	acct, err := c.Session(ctx, id)
	require.NoError(t, err)
	assert.True(t, acct.Balance(cash.Balance).Equal(money("10")))
}

func TestRegister_SaleWithoutPaymentMethod_Rejected(t *testing.T) {
	c := newTestRegister(t)
	id := openSession(t, c, "till-1", "10")

	_, err := c.RecordSale(context.Background(), sale(id, "5", ""))
	assert.ErrorIs(t, err, ledger.ErrInvalidCommand)
}

func TestRegister_MovementsOnStockItem_NotFound(t *testing.T) {
	// GIVEN: A stock item on the same ledger
	// WHEN: Recording a sale, a withdrawal and a deposit against its id
	// THEN: Each fails with ErrAccountNotFound

	core := ledger.New(store.NewMemory())
	c := cash.New(core, cash.DefaultVarianceThresholds())
	ctx := context.Background()
	item, err := inventory.New(core).Stock(ctx, inventory.StockInput{ProductID: "cola", Unit: "can"})
	require.NoError(t, err)

	_, err = c.RecordSale(ctx, sale(item.ID, "5", "cash"))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = c.Withdraw(ctx, cash.Movement{SessionID: item.ID, Amount: money("1"), Reason: "safe drop", Actor: "cashier-1"})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = c.Deposit(ctx, cash.Movement{SessionID: item.ID, Amount: money("1"), Reason: "float", Actor: "cashier-1"})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestRegister_SaleIdempotency(t *testing.T) {
	c := newTestRegister(t)
	ctx := context.Background()
	id := openSession(t, c, "till-1", "0")

	s := sale(id, "12", "card")
	s.Reference = &ledger.Reference{Type: "order", ID: "order-9"}
	s.IdempotencyKey = "order-9"
	_, err := c.RecordSale(ctx, s)
	require.NoError(t, err)
	_, err = c.RecordSale(ctx, s)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	acct, err := c.Session(ctx, id)
	require.NoError(t, err)
	assert.True(t, acct.Balance(cash.Balance).Equal(money("12")))
}

// =============================================================================
// VARIANCE CLASSIFICATION TESTS
// =============================================================================

func TestVarianceThresholds_Classify(t *testing.T) {
	th := cash.DefaultVarianceThresholds()

	tests := []struct {
		variance string
		want     cash.VarianceClass
	}{
		{"0", cash.VarianceNormal},
		{"-5", cash.VarianceNormal},
		{"5.01", cash.VarianceWarning},
		{"-20", cash.VarianceWarning},
		{"20.01", cash.VarianceCritical},
	}
	for _, tt := range tests {
		t.Run(tt.variance, func(t *testing.T) {
			assert.Equal(t, tt.want, th.Classify(money(tt.variance)))
		})
	}

	assert.Equal(t, cash.VarianceNormal, cash.VarianceThresholds{}.Classify(decimal.Zero))
	assert.Equal(t, cash.VarianceCritical, cash.VarianceThresholds{}.Classify(money("0.01")))
}

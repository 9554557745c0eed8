package metrics_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pos-ledger/ledger"
	"github.com/warp/pos-ledger/metrics"
)

func TestRecorder_CountsOutcomesByResult(t *testing.T) {
	// GIVEN: A fresh recorder
	// WHEN: Observing one committed and two rejected sales
	// THEN: Counters are split by result label

	r := metrics.New(metrics.DefaultConfig())
	ctx := context.Background()

	ok := ledger.Outcome{Op: "apply", AccountType: "inventory", Kind: "sale", Duration: time.Millisecond}
	short := ok
	short.Err = &ledger.InsufficientBalanceError{AccountID: "a", Balance: "quantity"}

	r.Observe(ctx, ok)
	r.Observe(ctx, short)
	r.Observe(ctx, short)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Entries.WithLabelValues("apply", "inventory", "sale", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Entries.WithLabelValues("apply", "inventory", "sale", "insufficient_balance")))
}

func TestRecorder_CloseDropsAndGauges(t *testing.T) {
	r := metrics.New(metrics.DefaultConfig())

	r.ObserveClose("warning", decimal.RequireFromString("-7.50"))
	r.EventDropped("queue_full")
	r.SetLowStock(3)
	r.ObserveDiscrepancy("cash_register", ledger.DiscrepancyChain)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.RegisterCloses.WithLabelValues("warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.EventsDropped.WithLabelValues("queue_full")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.LowStockItems))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.VerifyFailures.WithLabelValues("cash_register", "chain_break")))
}

func TestRecorder_Handler(t *testing.T) {
	r := metrics.New(metrics.DefaultConfig())
	r.SetLowStock(2)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "pos_ledger_low_stock_items 2"))
}

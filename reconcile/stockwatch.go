/*
stockwatch.go - Periodic low-stock check

PURPOSE:
  Runs the low-stock report on an interval and emits an inventory.low_stock
  event for every item that became low since the previous check. Items that
  stay low are not re-announced; an item that recovers and drops again is.

DESIGN:
  - One background goroutine with a ticker, started and stopped explicitly
  - First check runs immediately on Start
  - A failing check is logged and retried at the next tick

USAGE:
  watch := reconcile.NewStockWatch(engine, time.Minute, logger)
  watch.Start()
  defer watch.Stop()
*/
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/pos-ledger/inventory"
	"github.com/warp/pos-ledger/ledger"
	"github.com/warp/pos-ledger/notify"
)

// StockWatch announces items that fall to or below their minimum.
type StockWatch struct {
	Engine        *Engine
	CheckInterval time.Duration
	Thresholds    Thresholds

	logger zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	low    map[ledger.AccountID]bool
}

func NewStockWatch(engine *Engine, interval time.Duration, logger zerolog.Logger) *StockWatch {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StockWatch{
		Engine:        engine,
		CheckInterval: interval,
		logger:        logger,
		low:           make(map[ledger.AccountID]bool),
	}
}

// Start begins the watch. Calling Start twice is a no-op.
func (w *StockWatch) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ticker != nil {
		return
	}

	w.ticker = time.NewTicker(w.CheckInterval)
	w.stop = make(chan struct{})
	w.wg.Add(1)
	go w.run(w.ticker, w.stop)

	w.logger.Info().Dur("interval", w.CheckInterval).Msg("stock watch started")
}

// Stop stops the watch and waits for a running check to finish.
func (w *StockWatch) Stop() {
	w.mu.Lock()
	if w.ticker == nil {
		w.mu.Unlock()
		return
	}
	w.ticker.Stop()
	close(w.stop)
	w.ticker = nil
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info().Msg("stock watch stopped")
}

func (w *StockWatch) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer w.wg.Done()

	w.Check(context.Background())
	for {
		select {
		case <-ticker.C:
			w.Check(context.Background())
		case <-stop:
			return
		}
	}
}

// Check runs one report and emits events for newly low items. It returns
// the items that were announced.
func (w *StockWatch) Check(ctx context.Context) []LowStockItem {
	report, err := w.Engine.LowStock(ctx, w.Thresholds)
	if err != nil {
		w.logger.Error().Err(err).Msg("low stock check failed")
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	current := make(map[ledger.AccountID]bool, len(report))
	var announced []LowStockItem
	for _, item := range report {
		current[item.ID] = true
		if w.low[item.ID] {
			continue
		}
		announced = append(announced, item)
		w.Engine.emitter.Emit(ctx, lowStockEvent(item))
	}
	w.low = current

	if len(announced) > 0 {
		w.logger.Warn().
			Int("new", len(announced)).
			Int("total", len(report)).
			Msg("items at or below minimum stock")
	}
	return announced
}

func lowStockEvent(item LowStockItem) notify.Event {
	ev := notify.NewEvent(notify.EventLowStock, item.ID)
	ev.AccountType = inventory.AccountType
	ev.Balances = ledger.Single(inventory.Balance, item.Quantity)
	ev.Data = map[string]any{
		"product_id": item.ProductID,
		"threshold":  item.Threshold.String(),
		"shortfall":  item.Shortfall.String(),
	}
	return ev
}

/*
Package reconcile closes register periods and evaluates stock and loyalty
thresholds over the ledgers.

PURPOSE:
  The ledgers keep balances consistent with their logs. This package turns
  those balances into the derived reports the back office consumes:

    CloseRegister   expected vs declared cash, variance (cash.Close)
    LowStockReport  items at or below their minimum, ascending by quantity
    TierTransition  (old, new) tier when an earn moved a member
    Verify          replay of account logs against stored balances

  Nothing here corrects a balance. Variances and discrepancies are
  reported, never hidden.

SEE ALSO:
  - stockwatch.go: periodic LowStockReport with event emission
  - cash/cash.go:  the closing fold
*/
package reconcile

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/pos-ledger/cash"
	"github.com/warp/pos-ledger/inventory"
	"github.com/warp/pos-ledger/ledger"
	"github.com/warp/pos-ledger/loyalty"
	"github.com/warp/pos-ledger/notify"
)

// Emitter receives derived events. *notify.Dispatcher implements it.
type Emitter interface {
	Emit(ctx context.Context, ev notify.Event)
}

// Observer receives derived measurements. *metrics.Recorder implements it.
type Observer interface {
	ObserveClose(class string, variance decimal.Decimal)
	SetLowStock(n int)
	ObserveDiscrepancy(accountType ledger.AccountType, kind ledger.DiscrepancyKind)
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, notify.Event) {}

type nopObserver struct{}

func (nopObserver) ObserveClose(string, decimal.Decimal)                          {}
func (nopObserver) SetLowStock(int)                                               {}
func (nopObserver) ObserveDiscrepancy(ledger.AccountType, ledger.DiscrepancyKind) {}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	ledger    *ledger.Ledger
	registers *cash.Ledger
	stock     *inventory.Ledger
	loyalty   *loyalty.Ledger

	emitter  Emitter
	observer Observer
	logger   zerolog.Logger
}

type Option func(*Engine)

func WithEmitter(e Emitter) Option        { return func(en *Engine) { en.emitter = e } }
func WithObserver(o Observer) Option      { return func(en *Engine) { en.observer = o } }
func WithLogger(lg zerolog.Logger) Option { return func(en *Engine) { en.logger = lg } }

func NewEngine(core *ledger.Ledger, registers *cash.Ledger, stock *inventory.Ledger, members *loyalty.Ledger, opts ...Option) *Engine {
	e := &Engine{
		ledger:    core,
		registers: registers,
		stock:     stock,
		loyalty:   members,
		emitter:   nopEmitter{},
		observer:  nopObserver{},
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// REGISTER CLOSE
// =============================================================================

// CloseRegister closes a register session and publishes its summary.
func (e *Engine) CloseRegister(ctx context.Context, in cash.CloseInput) (cash.Summary, error) {
	summary, err := e.registers.Close(ctx, in)
	if err != nil {
		return cash.Summary{}, err
	}

	e.observer.ObserveClose(string(summary.VarianceClass), summary.Variance)

	ev := notify.NewEvent(notify.EventRegisterClosed, summary.SessionID)
	ev.AccountType = cash.AccountType
	ev.Kind = cash.KindClosing
	ev.OccurredAt = summary.ClosedAt
	ev.Data = map[string]any{"summary": summary}
	e.emitter.Emit(ctx, ev)

	log := e.logger.Info()
	if summary.VarianceClass != cash.VarianceNormal {
		log = e.logger.Warn()
	}
	log.Str("session_id", string(summary.SessionID)).
		Str("register_id", summary.RegisterID).
		Str("expected", summary.ExpectedAmount.String()).
		Str("declared", summary.DeclaredAmount.String()).
		Str("variance", summary.Variance.String()).
		Str("variance_class", string(summary.VarianceClass)).
		Msg("register closed")
	return summary, nil
}

// =============================================================================
// LOW STOCK
// =============================================================================

// LowStockItem is one row of the low-stock report.
type LowStockItem struct {
	inventory.Item
	Threshold decimal.Decimal `json:"threshold"`
	Shortfall decimal.Decimal `json:"shortfall"` // threshold - quantity, >= 0
}

// Thresholds overrides the stored minimum per stock account.
type Thresholds map[ledger.AccountID]decimal.Decimal

// LowStockReport lists the items where IsLow holds, using the explicit
// threshold of an item first and its stored minimum otherwise. Items with
// neither are skipped. Sorted ascending by quantity, ties by id.
func LowStockReport(items []inventory.Item, thresholds Thresholds) []LowStockItem {
	var out []LowStockItem
	for _, item := range items {
		var min *decimal.Decimal
		if t, ok := thresholds[item.ID]; ok {
			min = &t
		}
		if !item.IsLow(min) {
			continue
		}
		if min == nil {
			min = item.Min
		}
		out = append(out, LowStockItem{
			Item:      item,
			Threshold: *min,
			Shortfall: min.Sub(item.Quantity),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Quantity.Equal(out[j].Quantity) {
			return out[i].Quantity.LessThan(out[j].Quantity)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// LowStock runs LowStockReport over every stock account.
func (e *Engine) LowStock(ctx context.Context, thresholds Thresholds) ([]LowStockItem, error) {
	items, err := e.stock.Items(ctx)
	if err != nil {
		return nil, err
	}
	report := LowStockReport(items, thresholds)
	e.observer.SetLowStock(len(report))
	return report, nil
}

// =============================================================================
// TIER TRANSITION
// =============================================================================

// Transition is a tier change of one member.
type Transition struct {
	MemberID ledger.AccountID `json:"member_id"`
	Old      string           `json:"old_tier"`
	New      string           `json:"new_tier"`
}

// TierTransition reports the change from previousTier to the member's
// current tier. ok is false when the tier did not change.
func TierTransition(member loyalty.Member, previousTier string) (Transition, bool) {
	if member.Tier == previousTier {
		return Transition{}, false
	}
	return Transition{MemberID: member.ID, Old: previousTier, New: member.Tier}, true
}

// TierTransition loads the member and compares against previousTier. A
// change is published as a tier event.
func (e *Engine) TierTransition(ctx context.Context, id ledger.AccountID, previousTier string) (Transition, bool, error) {
	member, err := e.loyalty.Member(ctx, id)
	if err != nil {
		return Transition{}, false, err
	}
	tr, ok := TierTransition(member, previousTier)
	if ok {
		e.emitTier(ctx, tr)
	}
	return tr, ok, nil
}

// Earn applies an earn entry and publishes the tier change it caused.
func (e *Engine) Earn(ctx context.Context, in loyalty.EarnInput) (loyalty.EarnResult, error) {
	res, err := e.loyalty.Earn(ctx, in)
	if err != nil {
		return loyalty.EarnResult{}, err
	}
	if res.TierChanged() {
		e.emitTier(ctx, Transition{MemberID: in.MemberID, Old: res.PreviousTier, New: res.Tier})
	}
	return res, nil
}

func (e *Engine) emitTier(ctx context.Context, tr Transition) {
	ev := notify.NewEvent(notify.EventTierChanged, tr.MemberID)
	ev.AccountType = loyalty.AccountType
	ev.Data = map[string]any{"old_tier": tr.Old, "new_tier": tr.New}
	e.emitter.Emit(ctx, ev)
}

// =============================================================================
// VERIFY
// =============================================================================

// Verify replays the logs of the given accounts, or of every account when
// ids is empty. Reports with discrepancies are logged and counted.
func (e *Engine) Verify(ctx context.Context, ids ...ledger.AccountID) ([]ledger.VerifyReport, error) {
	if len(ids) == 0 {
		accts, err := e.ledger.Accounts(ctx, ledger.AccountFilter{})
		if err != nil {
			return nil, err
		}
		for _, a := range accts {
			ids = append(ids, a.ID)
		}
	}

	reports := make([]ledger.VerifyReport, 0, len(ids))
	for _, id := range ids {
		report, err := e.ledger.VerifyAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		if !report.OK() {
			acct, err := e.ledger.Account(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, d := range report.Discrepancies {
				e.observer.ObserveDiscrepancy(acct.Type, d.Kind)
			}
			e.logger.Error().
				Str("account_id", string(id)).
				Int("discrepancies", len(report.Discrepancies)).
				Msg("ledger replay does not match stored balance")
		}
		reports = append(reports, report)
	}
	return reports, nil
}

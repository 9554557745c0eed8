/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledgers with realistic
	restaurant data for demos. Each scenario goes through the same ledger
	operations as live traffic, so the resulting logs verify cleanly.

AVAILABLE SCENARIOS:

	lunch-service: A till opened, sales across payment methods, a safe drop,
	               and a close with a small shortfall
	stock-take:    Stock items with thresholds, deliveries, sales, waste and
	               a physical count that corrects the book quantity
	loyalty-tiers: Members earning across the tier thresholds, a redemption
	               and an expiry

HOW SCENARIOS WORK:
 1. Accounts get fresh ids so a scenario can be loaded more than once
 2. Register and product ids are suffixed with the same token
 3. Entries go through the ledger, never straight to the store

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "lunch-service"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, suffix)
 3. Add case to scenarioLoader

SEE ALSO:
  - handlers.go: the operations the loaders call
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/pos-ledger/cash"
	"github.com/warp/pos-ledger/inventory"
	"github.com/warp/pos-ledger/ledger"
	"github.com/warp/pos-ledger/loyalty"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "lunch-service",
		Name:        "Lunch Service",
		Description: "Till session with mixed payments, a safe drop and a close with a shortfall",
		Category:    "cash",
	},
	{
		ID:          "stock-take",
		Name:        "Stock Take",
		Description: "Deliveries, sales and waste followed by a physical count",
		Category:    "inventory",
	},
	{
		ID:          "loyalty-tiers",
		Name:        "Loyalty Tiers",
		Description: "Members crossing tier thresholds, redeeming and expiring points",
		Category:    "loyalty",
	},
}

const scenarioActor = "scenario-loader"

type scenarioFunc func(h *Handler, ctx context.Context, suffix string) ([]ledger.AccountID, error)

func scenarioLoader(id string) (scenarioFunc, bool) {
	switch id {
	case "lunch-service":
		return (*Handler).loadLunchServiceScenario, true
	case "stock-take":
		return (*Handler).loadStockTakeScenario, true
	case "loyalty-tiers":
		return (*Handler).loadLoyaltyTiersScenario, true
	default:
		return nil, false
	}
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario runs one scenario and returns the accounts it created.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	load, ok := scenarioLoader(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ids, err := load(h, r.Context(), uuid.NewString()[:8])
	if err != nil {
		h.fail(w, r, "Failed to load scenario", err)
		return
	}

	result := ScenarioResultDTO{Accounts: make([]string, len(ids))}
	for i, id := range ids {
		result.Accounts[i] = string(id)
	}
	for _, s := range scenarios {
		if s.ID == req.ScenarioID {
			result.Scenario = s
		}
	}
	writeJSON(w, http.StatusCreated, result)
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// LUNCH SERVICE
// =============================================================================

func (h *Handler) loadLunchServiceScenario(ctx context.Context, suffix string) ([]ledger.AccountID, error) {
	res, err := h.Registers.Open(ctx, cash.OpenInput{
		RegisterID: "till-" + suffix,
		Initial:    amount("150.00"),
		Actor:      scenarioActor,
	})
	if err != nil {
		return nil, err
	}
	session := res.Account.ID

	sales := []struct {
		amount string
		method string
	}{
		{"23.50", "cash"},
		{"41.00", "card"},
		{"12.75", "cash"},
		{"64.20", "card"},
		{"18.00", "voucher"},
		{"9.90", "cash"},
	}
	for i, s := range sales {
		_, err := h.Registers.RecordSale(ctx, cash.Sale{
			SessionID:     session,
			Amount:        amount(s.amount),
			PaymentMethod: s.method,
			Reference:     &ledger.Reference{Type: "order", ID: fmt.Sprintf("order-%s-%d", suffix, i+1)},
			Actor:         scenarioActor,
		})
		if err != nil {
			return nil, err
		}
	}

	if _, err := h.Registers.Withdraw(ctx, cash.Movement{
		SessionID: session,
		Amount:    amount("100.00"),
		Reason:    "safe drop",
		Actor:     scenarioActor,
	}); err != nil {
		return nil, err
	}

	// Expected is 150 + 169.35 - 100 = 219.35; the count comes up 2.00 short.
	if _, err := h.Engine.CloseRegister(ctx, cash.CloseInput{
		SessionID: session,
		Declared:  amount("217.35"),
		Notes:     "end of lunch service",
		Actor:     scenarioActor,
	}); err != nil {
		return nil, err
	}
	return []ledger.AccountID{session}, nil
}

// =============================================================================
// STOCK TAKE
// =============================================================================

func (h *Handler) loadStockTakeScenario(ctx context.Context, suffix string) ([]ledger.AccountID, error) {
	products := []struct {
		name     string
		unit     string
		min, max int64
		moves    []inventory.Movement
		counted  string
	}{
		{
			name: "tomatoes", unit: "kg", min: 5, max: 40,
			moves: []inventory.Movement{
				{Kind: inventory.KindPurchase, Quantity: amount("30")},
				{Kind: inventory.KindSale, Quantity: amount("18")},
				{Kind: inventory.KindWaste, Quantity: amount("3"), Notes: "bruised"},
			},
			counted: "8",
		},
		{
			name: "espresso-beans", unit: "bag", min: 4, max: 20,
			moves: []inventory.Movement{
				{Kind: inventory.KindInbound, Quantity: amount("6")},
				{Kind: inventory.KindOutbound, Quantity: amount("4")},
			},
			counted: "2",
		},
		{
			name: "pizza-dough", unit: "ball", min: 20, max: 120,
			moves: []inventory.Movement{
				{Kind: inventory.KindProduction, Quantity: amount("80")},
				{Kind: inventory.KindSale, Quantity: amount("64")},
			},
			counted: "15",
		},
	}

	var ids []ledger.AccountID
	for _, p := range products {
		min, max := decimal.NewFromInt(p.min), decimal.NewFromInt(p.max)
		acct, err := h.Stock.Stock(ctx, inventory.StockInput{
			ProductID: p.name + "-" + suffix,
			Unit:      p.unit,
			Min:       &min,
			Max:       &max,
		})
		if err != nil {
			return nil, err
		}
		for _, m := range p.moves {
			m.ItemID = acct.ID
			m.Actor = scenarioActor
			if _, err := h.Stock.Move(ctx, m); err != nil {
				return nil, err
			}
		}
		if _, err := h.Stock.Adjust(ctx, acct.ID, amount(p.counted), "weekly stock take", scenarioActor); err != nil {
			return nil, err
		}
		ids = append(ids, acct.ID)
	}
	return ids, nil
}

// =============================================================================
// LOYALTY TIERS
// =============================================================================

func (h *Handler) loadLoyaltyTiersScenario(ctx context.Context, suffix string) ([]ledger.AccountID, error) {
	purchases := map[string][]string{
		"regular":     {"35.00", "42.50", "28.00"},
		"frequent":    {"220.00", "180.00", "150.00"},
		"big-spender": {"900.00", "750.00", "600.00"},
	}

	var ids []ledger.AccountID
	for _, customer := range []string{"regular", "frequent", "big-spender"} {
		m, err := h.Loyalty.Enroll(ctx, loyalty.EnrollInput{CustomerID: customer + "-" + suffix})
		if err != nil {
			return nil, err
		}
		for i, p := range purchases[customer] {
			if _, err := h.Engine.Earn(ctx, loyalty.EarnInput{
				MemberID:  m.ID,
				Purchase:  amount(p),
				Actor:     scenarioActor,
				Reference: &ledger.Reference{Type: "order", ID: fmt.Sprintf("%s-%s-%d", customer, suffix, i+1)},
			}); err != nil {
				return nil, err
			}
		}
		ids = append(ids, m.ID)
	}

	if _, err := h.Loyalty.Redeem(ctx, loyalty.Spend{MemberID: ids[1], Amount: amount("200"), Actor: scenarioActor, Notes: "free dessert"}); err != nil {
		return nil, err
	}
	if _, err := h.Loyalty.Expire(ctx, loyalty.Spend{MemberID: ids[0], Amount: amount("30"), Actor: scenarioActor, Notes: "points past ttl"}); err != nil {
		return nil, err
	}
	return ids, nil
}

/*
program.go - Loyalty program configuration and the tier table

TIER TABLE:
  An ordered list of (name, min_spent, multiplier) with strictly increasing
  thresholds:

    bronze:0:1, silver:500:1.2, gold:2000:1.5

  The tier of a member is the highest tier whose min_spent <= lifetime
  spend. Tier is never stored: it is derived from lifetime_spend on every
  read, so it can always be recomputed from the log.

EARNING:
  points   = floor(purchase * points_per_unit * multiplier(tier BEFORE purchase))
  cashback = round(purchase * cashback_rate, 2)
*/
package loyalty

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tier is one row of the tier table.
type Tier struct {
	Name       string          `json:"name"`
	MinSpent   decimal.Decimal `json:"min_spent"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// TierTable is ordered by ascending MinSpent.
type TierTable []Tier

func (t TierTable) Validate() error {
	seen := make(map[string]bool, len(t))
	for i, tier := range t {
		if tier.Name == "" {
			return fmt.Errorf("tier %d: empty name", i)
		}
		if seen[tier.Name] {
			return fmt.Errorf("tier %s: duplicate name", tier.Name)
		}
		seen[tier.Name] = true
		if tier.MinSpent.IsNegative() {
			return fmt.Errorf("tier %s: negative min_spent", tier.Name)
		}
		if !tier.Multiplier.IsPositive() {
			return fmt.Errorf("tier %s: multiplier must be positive", tier.Name)
		}
		if i > 0 && !tier.MinSpent.GreaterThan(t[i-1].MinSpent) {
			return fmt.Errorf("tier %s: min_spent must be strictly greater than %s", tier.Name, t[i-1].Name)
		}
	}
	return nil
}

// For returns the highest tier whose MinSpent <= spend. The zero Tier (no
// name, multiplier 1) is returned when spend is below every threshold.
func (t TierTable) For(spend decimal.Decimal) Tier {
	current := Tier{MinSpent: decimal.Zero, Multiplier: decimal.NewFromInt(1)}
	for _, tier := range t {
		if tier.MinSpent.GreaterThan(spend) {
			break
		}
		current = tier
	}
	return current
}

// ParseTierTable reads "name:min_spent:multiplier" rows separated by commas.
func ParseTierTable(s string) (TierTable, error) {
	var out TierTable
	for _, row := range strings.Split(s, ",") {
		row = strings.TrimSpace(row)
		if row == "" {
			continue
		}
		parts := strings.Split(row, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("tier %q: want name:min_spent:multiplier", row)
		}
		minSpent, err := decimal.NewFromString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("tier %q: min_spent: %w", row, err)
		}
		mult, err := decimal.NewFromString(parts[2])
		if err != nil {
			return nil, fmt.Errorf("tier %q: multiplier: %w", row, err)
		}
		out = append(out, Tier{Name: strings.TrimSpace(parts[0]), MinSpent: minSpent, Multiplier: mult})
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func DefaultTierTable() TierTable {
	return TierTable{
		{Name: "bronze", MinSpent: decimal.Zero, Multiplier: decimal.NewFromInt(1)},
		{Name: "silver", MinSpent: decimal.NewFromInt(500), Multiplier: decimal.RequireFromString("1.2")},
		{Name: "gold", MinSpent: decimal.NewFromInt(2000), Multiplier: decimal.RequireFromString("1.5")},
	}
}

// =============================================================================
// PROGRAM
// =============================================================================

const DefaultPointsTTL = 365 * 24 * time.Hour

// Program holds the earning rules.
type Program struct {
	PointsPerUnit decimal.Decimal
	CashbackRate  decimal.Decimal
	Tiers         TierTable

	// PointsTTL is recorded on earn entries as expires_at. Zero = never.
	PointsTTL time.Duration
}

func DefaultProgram() Program {
	return Program{
		PointsPerUnit: decimal.NewFromInt(1),
		CashbackRate:  decimal.Zero,
		Tiers:         DefaultTierTable(),
		PointsTTL:     DefaultPointsTTL,
	}
}

func (p Program) Validate() error {
	if p.PointsPerUnit.IsNegative() {
		return fmt.Errorf("points per unit must not be negative")
	}
	if p.CashbackRate.IsNegative() || p.CashbackRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("cashback rate must be within [0, 1]")
	}
	if p.PointsTTL < 0 {
		return fmt.Errorf("points ttl must not be negative")
	}
	return p.Tiers.Validate()
}

// Points earned on a purchase by a member currently in tier.
func (p Program) Points(purchase decimal.Decimal, tier Tier) decimal.Decimal {
	return purchase.Mul(p.PointsPerUnit).Mul(tier.Multiplier).Floor()
}

// Cashback earned on a purchase. Kept at full precision.
func (p Program) Cashback(purchase decimal.Decimal) decimal.Decimal {
	return purchase.Mul(p.CashbackRate)
}

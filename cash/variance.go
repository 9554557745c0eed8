package cash

import "github.com/shopspring/decimal"

// VarianceClass grades a closing variance by its absolute size.
type VarianceClass string

const (
	VarianceNormal   VarianceClass = "normal"
	VarianceWarning  VarianceClass = "warning"
	VarianceCritical VarianceClass = "critical"
)

// VarianceThresholds are absolute currency amounts. A variance up to
// Warning is normal, up to Critical is a warning, anything above is critical.
// Zero thresholds make every non-zero variance critical.
type VarianceThresholds struct {
	Warning  decimal.Decimal
	Critical decimal.Decimal
}

func DefaultVarianceThresholds() VarianceThresholds {
	return VarianceThresholds{
		Warning:  decimal.NewFromInt(5),
		Critical: decimal.NewFromInt(20),
	}
}

func (t VarianceThresholds) Classify(variance decimal.Decimal) VarianceClass {
	abs := variance.Abs()
	switch {
	case abs.IsZero(), abs.LessThanOrEqual(t.Warning):
		return VarianceNormal
	case abs.LessThanOrEqual(t.Critical):
		return VarianceWarning
	default:
		return VarianceCritical
	}
}

// Package pricing computes the labor cost, overtime, platform fee and
// referral commission of an order.
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/farmhand/internal/apperr"
	"github.com/sudo-init-do/farmhand/internal/order"
)

// Rates are the tunable pricing parameters.
type Rates struct {
	PlatformFeeRate        decimal.Decimal
	ReferrerCommissionRate decimal.Decimal
	OvertimeMultiplier     decimal.Decimal
	StandardDailyHours     decimal.Decimal
	StandardMonthlyHours   decimal.Decimal
}

// DefaultRates returns the platform's standard fee schedule.
func DefaultRates() Rates {
	return Rates{
		PlatformFeeRate:        decimal.RequireFromString("0.05"),
		ReferrerCommissionRate: decimal.RequireFromString("0.02"),
		OvertimeMultiplier:     decimal.RequireFromString("1.5"),
		StandardDailyHours:     decimal.NewFromInt(8),
		StandardMonthlyHours:   decimal.NewFromInt(208),
	}
}

// Validate rejects rate sets that cannot produce a meaningful breakdown.
func (r Rates) Validate() error {
	if r.PlatformFeeRate.IsNegative() || r.PlatformFeeRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("platform fee rate must be within [0, 1], got %s", r.PlatformFeeRate)
	}
	if r.ReferrerCommissionRate.IsNegative() {
		return fmt.Errorf("referrer commission rate must not be negative, got %s", r.ReferrerCommissionRate)
	}
	if r.OvertimeMultiplier.IsNegative() {
		return fmt.Errorf("overtime multiplier must not be negative, got %s", r.OvertimeMultiplier)
	}
	if !r.StandardDailyHours.IsPositive() || !r.StandardMonthlyHours.IsPositive() {
		return fmt.Errorf("standard hours must be positive")
	}
	return nil
}

// Engine is a pure calculator over a fixed rate set.
type Engine struct {
	rates Rates
}

func NewEngine(rates Rates) *Engine {
	return &Engine{rates: rates}
}

func (e *Engine) Rates() Rates { return e.rates }

// Calculate derives the financial breakdown of o. It reads o only and
// returns identical output for identical input. CalculatedAt is left for the
// caller to stamp.
func (e *Engine) Calculate(o *order.Order) (order.Financials, error) {
	if o == nil {
		return order.Financials{}, apperr.ErrMissingPricingInfo
	}
	if o.ActualWorkload.Overtime() < 0 {
		return order.Financials{}, apperr.Validation("overtime hours must not be negative")
	}

	base, overtime, err := e.laborComponents(o)
	if err != nil {
		return order.Financials{}, err
	}

	labor := base.Add(overtime)
	fee := roundUnit(labor.Mul(e.rates.PlatformFeeRate))
	commission := decimal.Zero
	if o.ReferrerID != "" {
		commission = roundUnit(labor.Mul(e.rates.ReferrerCommissionRate))
	}

	return order.Financials{
		BaseAmount:         base.IntPart(),
		OvertimeCost:       overtime.IntPart(),
		LaborCost:          labor.IntPart(),
		PlatformFee:        fee.IntPart(),
		ReferrerCommission: commission.IntPart(),
		TotalAmount:        labor.Add(commission).IntPart(),
		FulfillerIncome:    labor.Sub(fee).IntPart(),
	}, nil
}

// Ensure fills o.Financials when it is absent, stamping it with now.
// Existing financials are left untouched.
func (e *Engine) Ensure(o *order.Order, now time.Time) error {
	if o.Financials != nil {
		return nil
	}
	f, err := e.Calculate(o)
	if err != nil {
		return err
	}
	f.CalculatedAt = now
	o.Financials = &f
	return nil
}

// laborComponents returns the rounded base amount and overtime cost.
func (e *Engine) laborComponents(o *order.Order) (base, overtime decimal.Decimal, err error) {
	w := o.ActualWorkload
	hours := decimal.NewFromFloat(w.Overtime())

	switch o.PricingMode {
	case order.ModeUnitRate:
		r := o.UnitRate
		if r == nil {
			return base, overtime, apperr.ErrMissingPricingInfo
		}
		qty := pick(w.Quantity, r.EstimatedQuantity)
		base = roundUnit(qty.Mul(decimal.NewFromInt(r.UnitPrice)))
		return base, decimal.Zero, nil

	case order.ModeDailyRate:
		r := o.DailyRate
		if r == nil {
			return base, overtime, apperr.ErrMissingPricingInfo
		}
		wage := decimal.NewFromInt(r.DailyWage)
		days := pick(w.Days, r.EstimatedDays)
		workers := pick(w.Workers, r.EstimatedWorkers)
		base = roundUnit(days.Mul(workers).Mul(wage))
		overtime = e.overtimeCost(hours, wage, e.rates.StandardDailyHours)
		return base, overtime, nil

	case order.ModeMonthlyRate:
		r := o.MonthlyRate
		if r == nil {
			return base, overtime, apperr.ErrMissingPricingInfo
		}
		wage := decimal.NewFromInt(r.MonthlyWage)
		months := pick(w.Months, r.EstimatedMonths)
		workers := pick(w.Workers, r.EstimatedWorkers)
		base = roundUnit(months.Mul(workers).Mul(wage))
		overtime = e.overtimeCost(hours, wage, e.rates.StandardMonthlyHours)
		return base, overtime, nil
	}
	return base, overtime, apperr.ErrMissingPricingInfo
}

// overtimeCost is hours × (wage / standardHours) × multiplier, divided last
// so the hourly rate carries no intermediate rounding.
func (e *Engine) overtimeCost(hours, wage, standardHours decimal.Decimal) decimal.Decimal {
	if hours.IsZero() || !standardHours.IsPositive() {
		return decimal.Zero
	}
	return hours.Mul(wage).Mul(e.rates.OvertimeMultiplier).DivRound(standardHours, 0)
}

func pick(actual *float64, estimate float64) decimal.Decimal {
	if actual != nil {
		return decimal.NewFromFloat(*actual)
	}
	return decimal.NewFromFloat(estimate)
}

// roundUnit rounds half away from zero to the smallest currency unit.
func roundUnit(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}

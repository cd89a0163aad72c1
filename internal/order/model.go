package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/sudo-init-do/farmhand/internal/apperr"
)

// Collection is the document collection holding orders.
const Collection = "orders"

type Status string

const (
	StatusPending    Status = "pending"
	StatusBid        Status = "bid"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusBid, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Party is the caller's relation to an order.
type Party string

const (
	PartyRequester Party = "requester"
	PartyFulfiller Party = "fulfiller"
)

type JobKind string

const (
	JobHarvest    JobKind = "harvest"
	JobPlant      JobKind = "plant"
	JobFertilize  JobKind = "fertilize"
	JobPesticide  JobKind = "pesticide"
	JobWeeding    JobKind = "weeding"
	JobManagement JobKind = "management"
)

func (k JobKind) Valid() bool {
	switch k {
	case JobHarvest, JobPlant, JobFertilize, JobPesticide, JobWeeding, JobManagement:
		return true
	}
	return false
}

type PricingMode string

const (
	ModeUnitRate    PricingMode = "unitRate"
	ModeDailyRate   PricingMode = "dailyRate"
	ModeMonthlyRate PricingMode = "monthlyRate"
)

func (m PricingMode) Valid() bool {
	return m == ModeUnitRate || m == ModeDailyRate || m == ModeMonthlyRate
}

// UnitRate prices work per unit of output (per mu, per kilogram).
type UnitRate struct {
	Unit              string  `json:"unit"`
	UnitPrice         int64   `json:"unitPrice"`
	EstimatedQuantity float64 `json:"estimatedQuantity"`
}

// DailyRate prices work per worker per day.
type DailyRate struct {
	DailyWage        int64   `json:"dailyWage"`
	EstimatedDays    float64 `json:"estimatedDays"`
	EstimatedWorkers float64 `json:"estimatedWorkers"`
}

// MonthlyRate prices work per worker per month.
type MonthlyRate struct {
	MonthlyWage      int64   `json:"monthlyWage"`
	EstimatedMonths  float64 `json:"estimatedMonths"`
	EstimatedWorkers float64 `json:"estimatedWorkers"`
}

// Workload is the actual amount of work performed. Nil fields fall back to
// the estimate of the pricing block.
type Workload struct {
	Quantity      *float64 `json:"quantity,omitempty"`
	Days          *float64 `json:"days,omitempty"`
	Months        *float64 `json:"months,omitempty"`
	Workers       *float64 `json:"workers,omitempty"`
	OvertimeHours *float64 `json:"overtimeHours,omitempty"`
}

// Merge overlays the non-nil fields of w onto the receiver.
func (a *Workload) Merge(w Workload) {
	if w.Quantity != nil {
		a.Quantity = w.Quantity
	}
	if w.Days != nil {
		a.Days = w.Days
	}
	if w.Months != nil {
		a.Months = w.Months
	}
	if w.Workers != nil {
		a.Workers = w.Workers
	}
	if w.OvertimeHours != nil {
		a.OvertimeHours = w.OvertimeHours
	}
}

// Overtime returns the overtime hours, zero when none were reported.
func (a Workload) Overtime() float64 {
	if a.OvertimeHours == nil {
		return 0
	}
	return *a.OvertimeHours
}

type Timeline struct {
	CreatedAt   time.Time  `json:"createdAt"`
	BidAt       *time.Time `json:"bidAt,omitempty"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
}

// ProgressEntry is one progress report made while the work is running.
type ProgressEntry struct {
	Percent     int       `json:"percent"`
	Description string    `json:"description,omitempty"`
	Images      []string  `json:"images,omitempty"`
	ReportedBy  string    `json:"reportedBy"`
	ReportedAt  time.Time `json:"reportedAt"`
}

// Financials is the derived cost breakdown of an order, in the smallest
// currency unit.
type Financials struct {
	BaseAmount         int64     `json:"baseAmount"`
	OvertimeCost       int64     `json:"overtimeCost"`
	LaborCost          int64     `json:"laborCost"`
	PlatformFee        int64     `json:"platformFee"`
	ReferrerCommission int64     `json:"referrerCommission"`
	TotalAmount        int64     `json:"totalAmount"`
	FulfillerIncome    int64     `json:"fulfillerIncome"`
	CalculatedAt       time.Time `json:"calculatedAt"`
}

type Order struct {
	ID          string      `json:"id"`
	RequesterID string      `json:"requesterId"`
	FulfillerID string      `json:"fulfillerId,omitempty"`
	ReferrerID  string      `json:"referrerId,omitempty"`
	JobKind     JobKind     `json:"jobKind"`
	PricingMode PricingMode `json:"pricingMode"`
	Description string      `json:"description,omitempty"`
	Location    string      `json:"location,omitempty"`

	UnitRate    *UnitRate    `json:"unitRate,omitempty"`
	DailyRate   *DailyRate   `json:"dailyRate,omitempty"`
	MonthlyRate *MonthlyRate `json:"monthlyRate,omitempty"`

	ActualWorkload Workload `json:"actualWorkload"`

	Status               Status      `json:"status"`
	Timeline             Timeline    `json:"timeline"`
	ConfirmedByRequester bool        `json:"confirmedByRequester"`
	ConfirmedByFulfiller bool        `json:"confirmedByFulfiller"`
	Financials           *Financials `json:"financials,omitempty"`

	Progress        int             `json:"progress"`
	ProgressUpdates []ProgressEntry `json:"progressUpdates,omitempty"`

	CancelReason string `json:"cancelReason,omitempty"`
	CancelledBy  string `json:"cancelledBy,omitempty"`

	Version int64 `json:"version"`
}

// SetVersion records the store version the order was read at.
func (o *Order) SetVersion(v int64) { o.Version = v }

// PartyOf returns the caller's relation to the order, if any.
func (o *Order) PartyOf(userID string) (Party, bool) {
	switch {
	case userID == "":
		return "", false
	case userID == o.RequesterID:
		return PartyRequester, true
	case o.FulfillerID != "" && userID == o.FulfillerID:
		return PartyFulfiller, true
	}
	return "", false
}

// BothConfirmed reports whether both parties confirmed the actual workload.
func (o *Order) BothConfirmed() bool {
	return o.ConfirmedByRequester && o.ConfirmedByFulfiller
}

// Validate checks a freshly submitted order: known enums and a positive
// pricing block matching the mode.
func (o *Order) Validate() error {
	if strings.TrimSpace(o.RequesterID) == "" {
		return apperr.Validation("requester is required")
	}
	if !o.JobKind.Valid() {
		return apperr.Validation(fmt.Sprintf("unknown job kind %q", o.JobKind))
	}
	switch o.PricingMode {
	case ModeUnitRate:
		r := o.UnitRate
		if r == nil {
			return apperr.Validation("unitRate block is required")
		}
		if r.UnitPrice <= 0 || r.EstimatedQuantity <= 0 {
			return apperr.Validation("unit price and estimated quantity must be positive")
		}
	case ModeDailyRate:
		r := o.DailyRate
		if r == nil {
			return apperr.Validation("dailyRate block is required")
		}
		if r.DailyWage <= 0 || r.EstimatedDays <= 0 || r.EstimatedWorkers <= 0 {
			return apperr.Validation("daily wage, days and workers must be positive")
		}
	case ModeMonthlyRate:
		r := o.MonthlyRate
		if r == nil {
			return apperr.Validation("monthlyRate block is required")
		}
		if r.MonthlyWage <= 0 || r.EstimatedMonths <= 0 || r.EstimatedWorkers <= 0 {
			return apperr.Validation("monthly wage, months and workers must be positive")
		}
	default:
		return apperr.Validation(fmt.Sprintf("unknown pricing mode %q", o.PricingMode))
	}
	return nil
}

// ApplyQuote replaces the price of the active pricing block with a bid price.
func (o *Order) ApplyQuote(price int64) error {
	if price <= 0 {
		return apperr.Validation("quote price must be positive")
	}
	switch o.PricingMode {
	case ModeUnitRate:
		if o.UnitRate == nil {
			return apperr.ErrMissingPricingInfo
		}
		o.UnitRate.UnitPrice = price
	case ModeDailyRate:
		if o.DailyRate == nil {
			return apperr.ErrMissingPricingInfo
		}
		o.DailyRate.DailyWage = price
	case ModeMonthlyRate:
		if o.MonthlyRate == nil {
			return apperr.ErrMissingPricingInfo
		}
		o.MonthlyRate.MonthlyWage = price
	default:
		return apperr.ErrMissingPricingInfo
	}
	return nil
}

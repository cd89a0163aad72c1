package marketplace

import "github.com/sudo-init-do/farmhand/internal/order"

// CreateOrderRequest is posted by a requester. Exactly the block matching
// PricingMode is used.
type CreateOrderRequest struct {
	ReferrerID  string             `json:"referrerId" validate:"omitempty,max=64"`
	JobKind     order.JobKind      `json:"jobKind" validate:"required,oneof=harvest plant fertilize pesticide weeding management"`
	PricingMode order.PricingMode  `json:"pricingMode" validate:"required,oneof=unitRate dailyRate monthlyRate"`
	Description string             `json:"description" validate:"max=2000"`
	Location    string             `json:"location" validate:"max=200"`
	UnitRate    *order.UnitRate    `json:"unitRate,omitempty"`
	DailyRate   *order.DailyRate   `json:"dailyRate,omitempty"`
	MonthlyRate *order.MonthlyRate `json:"monthlyRate,omitempty"`
}

type BidRequest struct {
	Price int64 `json:"price" validate:"required,gt=0"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type ProgressRequest struct {
	Percent     *int     `json:"percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	Description string   `json:"description" validate:"max=1000"`
	Images      []string `json:"images,omitempty" validate:"max=9,dive,url"`
}

type ConfirmWorkloadRequest struct {
	Quantity      *float64 `json:"quantity,omitempty" validate:"omitempty,gte=0"`
	Days          *float64 `json:"days,omitempty" validate:"omitempty,gte=0"`
	Months        *float64 `json:"months,omitempty" validate:"omitempty,gte=0"`
	Workers       *float64 `json:"workers,omitempty" validate:"omitempty,gte=0"`
	OvertimeHours *float64 `json:"overtimeHours,omitempty" validate:"omitempty,gte=0"`
}

func (r ConfirmWorkloadRequest) workload() order.Workload {
	return order.Workload{
		Quantity:      r.Quantity,
		Days:          r.Days,
		Months:        r.Months,
		Workers:       r.Workers,
		OvertimeHours: r.OvertimeHours,
	}
}

// ConfirmResult reports whether the confirmation completed the pair.
type ConfirmResult struct {
	Order         *order.Order `json:"order"`
	BothConfirmed bool         `json:"bothConfirmed"`
}

// CommissionStats summarises a referrer's orders and commission.
type CommissionStats struct {
	TotalOrders       int                  `json:"totalOrders"`
	TotalCommission   int64                `json:"totalCommission"`
	SettledCommission int64                `json:"settledCommission"`
	PendingCommission int64                `json:"pendingCommission"`
	ByStatus          map[order.Status]int `json:"byStatus"`
}

package marketplace

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/farmhand/internal/alerts"
	"github.com/sudo-init-do/farmhand/internal/apperr"
	"github.com/sudo-init-do/farmhand/internal/docstore"
	"github.com/sudo-init-do/farmhand/internal/order"
	"github.com/sudo-init-do/farmhand/internal/settlement"
)

const (
	maxProgressNote   = 1000
	maxProgressImages = 9
	statsOrderLimit   = 1000
)

// UpdateProgress records a progress report by the fulfiller of an
// in-progress order. A nil percent keeps the last reported value.
func (s *Service) UpdateProgress(ctx context.Context, orderID, callerID string, req ProgressRequest) (*order.Order, error) {
	if req.Percent != nil && (*req.Percent < 0 || *req.Percent > 100) {
		return nil, apperr.Validation("progress must be between 0 and 100")
	}
	if len(req.Images) > maxProgressImages {
		return nil, apperr.Validation(fmt.Sprintf("at most %d progress images", maxProgressImages))
	}
	note := strings.TrimSpace(req.Description)
	if runes := []rune(note); len(runes) > maxProgressNote {
		note = string(runes[:maxProgressNote])
	}

	o, err := docstore.Update[order.Order](ctx, s.store, s.policy, order.Collection, orderID, func(o *order.Order) error {
		party, ok := o.PartyOf(callerID)
		if !ok {
			return apperr.Forbidden("not a party of this order")
		}
		if o.Status != order.StatusInProgress {
			return apperr.Conflict(fmt.Sprintf("progress cannot be reported while order is %s", o.Status))
		}
		if party != order.PartyFulfiller {
			return apperr.Forbidden("only the fulfiller reports progress")
		}
		if req.Percent != nil {
			o.Progress = *req.Percent
		}
		o.ProgressUpdates = append(o.ProgressUpdates, order.ProgressEntry{
			Percent:     o.Progress,
			Description: note,
			Images:      req.Images,
			ReportedBy:  callerID,
			ReportedAt:  s.now(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"order_id": orderID, "progress": o.Progress}).Info("progress reported")
	s.notify(ctx, alerts.TaskProgressUpdated, o.RequesterID, "", o, map[string]any{"progress": o.Progress})
	return o, nil
}

// CommissionStats totals the commission of the orders referrerID brought
// in. Settled commission is what settlements paid out; pending is the rest
// of the commission on orders that are not cancelled.
func (s *Service) CommissionStats(ctx context.Context, referrerID string) (*CommissionStats, error) {
	orders, err := docstore.Find[order.Order](ctx, s.store, order.Collection, docstore.Query{
		Where: []docstore.Filter{{Field: "referrerId", Value: referrerID}},
		Limit: statsOrderLimit,
	})
	if err != nil {
		return nil, err
	}
	settled, err := docstore.Find[settlement.Settlement](ctx, s.store, settlement.Collection, docstore.Query{
		Where: []docstore.Filter{{Field: "referrerId", Value: referrerID}},
	})
	if err != nil {
		return nil, err
	}
	paid := make(map[string]int64, len(settled))
	for _, st := range settled {
		paid[st.OrderID] = st.ReferrerAmount
	}

	stats := &CommissionStats{ByStatus: map[order.Status]int{}, TotalOrders: len(orders)}
	for _, o := range orders {
		stats.ByStatus[o.Status]++
		if amount, ok := paid[o.ID]; ok {
			stats.SettledCommission += amount
			stats.TotalCommission += amount
			continue
		}
		if o.Status == order.StatusCancelled {
			continue
		}
		commission, err := s.expectedCommission(o)
		if err != nil {
			s.log.WithField("order_id", o.ID).WithError(err).Warn("commission estimate skipped")
			continue
		}
		stats.PendingCommission += commission
		stats.TotalCommission += commission
	}
	return stats, nil
}

// expectedCommission uses the stored financials when present and the
// current estimate otherwise.
func (s *Service) expectedCommission(o *order.Order) (int64, error) {
	if o.Financials != nil {
		return o.Financials.ReferrerCommission, nil
	}
	f, err := s.pricing.Calculate(o)
	if err != nil {
		return 0, err
	}
	return f.ReferrerCommission, nil
}

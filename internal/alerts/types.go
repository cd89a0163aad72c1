package alerts

import "time"

// Task type constants
const (
	TaskNewDemand           = "notify:new_demand"
	TaskNewBid              = "notify:new_bid"
	TaskBidAccepted         = "notify:bid_accepted"
	TaskWorkStarted         = "notify:work_started"
	TaskProgressUpdated     = "notify:progress_updated"
	TaskOrderCompleted      = "notify:order_completed"
	TaskOrderCancelled      = "notify:order_cancelled"
	TaskWorkloadConfirmed   = "notify:workload_confirmed"
	TaskPaymentConfirmed    = "notify:payment_confirmed"
	TaskSettlementCompleted = "notify:settlement_completed"
)

// AllTasks lists every notification type the processor understands.
var AllTasks = []string{
	TaskNewDemand,
	TaskNewBid,
	TaskBidAccepted,
	TaskWorkStarted,
	TaskProgressUpdated,
	TaskOrderCompleted,
	TaskOrderCancelled,
	TaskWorkloadConfirmed,
	TaskPaymentConfirmed,
	TaskSettlementCompleted,
}

// GroupFulfillers addresses every fulfiller instead of a single user.
const GroupFulfillers = "fulfillers"

// Notification is the envelope handed to a Notifier. Exactly one of Target
// or Group is normally set.
type Notification struct {
	Type    string         `json:"type"`
	Target  string         `json:"target,omitempty"`
	Group   string         `json:"group,omitempty"`
	OrderID string         `json:"order_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

// Recipient is the user id or group the notification is filed under.
func (n Notification) Recipient() string {
	if n.Target != "" {
		return n.Target
	}
	return n.Group
}

func titleFor(taskType string) string {
	switch taskType {
	case TaskNewDemand:
		return "New job posted"
	case TaskNewBid:
		return "A fulfiller bid on your order"
	case TaskBidAccepted:
		return "Your bid was accepted"
	case TaskWorkStarted:
		return "Work has started"
	case TaskProgressUpdated:
		return "Work progress updated"
	case TaskOrderCompleted:
		return "Order completed"
	case TaskOrderCancelled:
		return "Order cancelled"
	case TaskWorkloadConfirmed:
		return "Workload confirmed"
	case TaskPaymentConfirmed:
		return "Payment received"
	case TaskSettlementCompleted:
		return "Settlement completed"
	}
	return "Notification"
}

package order

import (
	"fmt"
	"time"

	"github.com/sudo-init-do/farmhand/internal/apperr"
)

// edge returns the parties allowed to move an order from -> to, and whether
// the edge exists at all.
func edge(from, to Status) ([]Party, bool) {
	both := []Party{PartyRequester, PartyFulfiller}
	switch from {
	case StatusPending:
		switch to {
		case StatusBid:
			return []Party{PartyFulfiller}, true
		case StatusCancelled:
			return []Party{PartyRequester}, true
		}
	case StatusBid:
		switch to {
		case StatusAccepted:
			return []Party{PartyRequester}, true
		case StatusCancelled:
			return both, true
		}
	case StatusAccepted:
		switch to {
		case StatusInProgress:
			return []Party{PartyFulfiller}, true
		case StatusCancelled:
			return both, true
		}
	case StatusInProgress:
		switch to {
		case StatusCompleted:
			return []Party{PartyFulfiller}, true
		case StatusCancelled:
			return both, true
		}
	case StatusCompleted:
		// Exceptional path kept for parity with the transition table.
		if to == StatusCancelled {
			return both, true
		}
	}
	return nil, false
}

// Transition validates moving an order from current to target on behalf of
// party. Edge legality is checked before permission.
func Transition(current, target Status, party Party) error {
	parties, ok := edge(current, target)
	if !ok {
		return apperr.New(apperr.CodeIllegalTransition,
			fmt.Sprintf("cannot move order from %s to %s", current, target))
	}
	for _, p := range parties {
		if p == party {
			return nil
		}
	}
	return apperr.New(apperr.CodePermissionDenied,
		fmt.Sprintf("%s may not move order from %s to %s", party, current, target))
}

// AllowedTransitions lists the statuses reachable from s.
func AllowedTransitions(s Status) []Status {
	var out []Status
	for _, to := range []Status{StatusBid, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled} {
		if _, ok := edge(s, to); ok {
			out = append(out, to)
		}
	}
	return out
}

func CanBid(s Status) bool      { return s == StatusPending }
func CanAccept(s Status) bool   { return s == StatusBid }
func CanStart(s Status) bool    { return s == StatusAccepted }
func CanComplete(s Status) bool { return s == StatusInProgress }
func CanCancel(s Status) bool   { return s.Valid() && s != StatusCancelled }

// Apply validates the transition and, when legal, moves o to target and
// stamps the matching timeline entry.
func (o *Order) Apply(target Status, party Party, now time.Time) error {
	if err := Transition(o.Status, target, party); err != nil {
		return err
	}
	o.Status = target
	t := now
	switch target {
	case StatusBid:
		o.Timeline.BidAt = &t
	case StatusAccepted:
		o.Timeline.AcceptedAt = &t
	case StatusInProgress:
		o.Timeline.StartedAt = &t
	case StatusCompleted:
		o.Timeline.CompletedAt = &t
	case StatusCancelled:
		o.Timeline.CancelledAt = &t
	}
	return nil
}

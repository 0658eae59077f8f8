package billing

import "time"

// Status is the single reported billing state of a subject at an instant.
type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusGrace     Status = "grace"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// The functions below derive billing state from a subject's fields and the
// given instant only. They never touch the gateway.

// OnTrial reports whether now falls before the trial end.
func OnTrial(b Billable, now time.Time) bool {
	end := b.TrialEndsAt()
	return end != nil && now.Before(*end)
}

// OnGracePeriod reports whether a cancelled subscription is still paid up at now.
func OnGracePeriod(b Billable, now time.Time) bool {
	end := b.SubscriptionEndsAt()
	return end != nil && now.Before(*end)
}

// Subscribed reports whether the subject currently has access. A trial only
// counts when the subject is not required to supply a card up front.
func Subscribed(b Billable, now time.Time) bool {
	if b.IsActive() || OnGracePeriod(b, now) {
		return true
	}
	if b.RequiresCardUpFront() {
		return false
	}
	return OnTrial(b, now)
}

func Expired(b Billable, now time.Time) bool {
	return !Subscribed(b, now)
}

// Cancelled reports whether a known gateway customer has no active subscription.
func Cancelled(b Billable) bool {
	return EverSubscribed(b) && !b.IsActive()
}

func EverSubscribed(b Billable) bool {
	return b.GatewayCustomerID() != ""
}

// StatusAt collapses the predicates into one status. A pending cancellation
// reports grace even while the gateway still marks the subscription active;
// active wins over trial. Trial, active and grace are reported exactly when
// Subscribed is true.
func StatusAt(b Billable, now time.Time) Status {
	switch {
	case OnGracePeriod(b, now):
		return StatusGrace
	case b.IsActive():
		return StatusActive
	case !b.RequiresCardUpFront() && OnTrial(b, now):
		return StatusTrial
	case Cancelled(b):
		return StatusCancelled
	default:
		return StatusExpired
	}
}

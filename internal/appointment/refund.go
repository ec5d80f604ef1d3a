package appointment

import (
	"time"
)

// RefundPolicy maps hours-before-appointment at cancellation time to a
// refund percentage. Tier boundaries are inclusive at the lower bound, so
// cancelling exactly FullAfter before the start still earns 100%.
type RefundPolicy struct {
	FullAfter time.Duration // cancel at least this early -> 100%
	HalfAfter time.Duration // cancel at least this early -> 50%
}

// ComputeRefund is a pure function of the appointment start, the
// cancellation time and the frozen fee. Same inputs always produce the same
// record, which is what makes a retried cancellation idempotent.
func (p RefundPolicy) ComputeRefund(appt Appointment, cancelledAt time.Time) RefundRecord {
	lead := appt.StartTime.Sub(cancelledAt)

	var pct int
	switch {
	case lead >= p.FullAfter:
		pct = 100
	case lead >= p.HalfAfter:
		pct = 50
	default:
		pct = 0
	}

	return RefundRecord{
		AppointmentID: appt.ID,
		Percentage:    pct,
		AmountCents:   appt.FeeCents * int64(pct) / 100,
		CancelledAt:   cancelledAt,
		ComputedAt:    cancelledAt,
	}
}

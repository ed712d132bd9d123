package domain

import "fmt"

// MandateInactiveError is returned when an operation needs an active mandate
// but finds one that was already used, revoked or expired.
type MandateInactiveError struct {
	MandateID string
	Reason    InactiveReason
}

func (e *MandateInactiveError) Error() string {
	return fmt.Sprintf("payment mandate %s already %s", e.MandateID, e.Reason)
}

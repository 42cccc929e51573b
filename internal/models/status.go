package models

// IsTerminal reports whether no transition out of s is permitted
func (s SaleStatus) IsTerminal() bool {
	return s == SaleStatusCompleted || s == SaleStatusCancelled
}

// CanTransitionTo reports whether a sale may move from s to next.
// Only pending -> completed and pending -> cancelled exist.
func (s SaleStatus) CanTransitionTo(next SaleStatus) bool {
	return s == SaleStatusPending && next.IsTerminal()
}

// IsTerminal reports whether the payment has been settled either way
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed
}

// CanTransitionTo reports whether a payment may move from s to next
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == PaymentStatusPending && next.IsTerminal()
}

package domain

var accountStatusTransitionChart = AccountStatusTransitionChart{
	AccountStatusActive:  {AccountStatusBlocked, AccountStatusClosed},
	AccountStatusBlocked: {AccountStatusActive},
}

var paymentStatusTransitionChart = PaymentStatusTransitionChart{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusCancelled},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
}

// AccountStatusTransitionChart lists the allowed target states per state.
type AccountStatusTransitionChart map[AccountStatus][]AccountStatus

// Allowed reports whether from -> to is a legal transition.
func (c AccountStatusTransitionChart) Allowed(from, to AccountStatus) bool {
	for _, status := range c[from] {
		if status == to {
			return true
		}
	}
	return false
}

// PaymentStatusTransitionChart lists the allowed target states per state.
type PaymentStatusTransitionChart map[PaymentStatus][]PaymentStatus

// Allowed reports whether from -> to is a legal transition.
func (c PaymentStatusTransitionChart) Allowed(from, to PaymentStatus) bool {
	for _, status := range c[from] {
		if status == to {
			return true
		}
	}
	return false
}

// CanTransitionAccount reports whether an account may move from -> to.
func CanTransitionAccount(from, to AccountStatus) bool {
	return accountStatusTransitionChart.Allowed(from, to)
}

// CanTransitionPayment reports whether a payment may move from -> to.
func CanTransitionPayment(from, to PaymentStatus) bool {
	return paymentStatusTransitionChart.Allowed(from, to)
}

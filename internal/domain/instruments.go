package domain

import (
	"fmt"
	"strings"
)

// instrument describes the source-account rules of a payment type.
type instrument struct {
	requiresSource       bool // source account must be given
	requiresBalanceCheck bool // source is debited and pre-checked when present
}

// PIX and BOLETO can arrive without a source (e.g. PIX receive, boleto
// deposit). CARD requires a source for attribution but is funded by the
// card network, so it is never debited here.
var instruments = map[PaymentType]instrument{
	PaymentTypePIX:      {requiresSource: false, requiresBalanceCheck: true},
	PaymentTypeTransfer: {requiresSource: true, requiresBalanceCheck: true},
	PaymentTypeCard:     {requiresSource: true, requiresBalanceCheck: false},
	PaymentTypeBoleto:   {requiresSource: false, requiresBalanceCheck: false},
}

// PaymentTypes lists every supported instrument.
func PaymentTypes() []PaymentType {
	return []PaymentType{PaymentTypePIX, PaymentTypeTransfer, PaymentTypeCard, PaymentTypeBoleto}
}

// RequiresSourceAccount reports whether t must name a source account.
func RequiresSourceAccount(t PaymentType) bool {
	return instruments[t].requiresSource
}

// RequiresBalanceCheck reports whether a payment of type t debits its source.
func RequiresBalanceCheck(t PaymentType) bool {
	return instruments[t].requiresBalanceCheck
}

// ParsePaymentType parses an instrument name case-insensitively.
func ParsePaymentType(s string) (PaymentType, error) {
	t := PaymentType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := instruments[t]; !ok {
		return "", fmt.Errorf("%w: unknown payment type %q", ErrInvalidRequest, s)
	}
	return t, nil
}

// ParsePaymentStatus parses a payment status case-insensitively.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	st := PaymentStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown payment status %q", ErrInvalidRequest, s)
	}
	return st, nil
}

// ParseAccountStatus parses an account status case-insensitively.
func ParseAccountStatus(s string) (AccountStatus, error) {
	st := AccountStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown account status %q", ErrInvalidRequest, s)
	}
	return st, nil
}

// debitsSource reports whether settlement of p debits its source account.
func debitsSource(p *Payment) bool {
	return p.FromAccountID != nil && RequiresBalanceCheck(p.Type)
}

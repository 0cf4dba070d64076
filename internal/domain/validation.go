package domain

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var (
	// Regex pattern for validating decimal amounts with up to 2 decimal places
	amountPattern = regexp.MustCompile(`^\d{1,13}(\.\d{1,2})?$`)

	// CPF has 11 digits, CNPJ 14
	documentPattern = regexp.MustCompile(`^(\d{11}|\d{14})$`)
	phonePattern    = regexp.MustCompile(`^\d{10,11}$`)
)

const (
	maxDescriptionLength = 500
	maxExternalIDLength  = 255

	minFullNameLength = 2
	maxFullNameLength = 255
	maxEmailLength    = 255
)

// ParseAmount parses a decimal string such as "100.50" into an amount.
// The result is validated with ValidateAmount.
func ParseAmount(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if !amountPattern.MatchString(value) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}

	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// ValidateAmount checks that amount is positive, has at most 2 decimal
// places and at most 13 integer digits.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(2)) {
		return ErrInvalidAmount
	}
	if len(amount.Truncate(0).String()) > 13 {
		return ErrInvalidAmount
	}
	return nil
}

// FormatAmount formats an amount with exactly 2 decimal places.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// validateCreateRequest checks the request fields that do not need storage.
func validateCreateRequest(req CreatePaymentRequest) error {
	if err := ValidateAmount(req.Amount); err != nil {
		return err
	}

	if req.FromAccountID != nil && *req.FromAccountID == req.ToAccountID {
		return ErrSameAccount
	}

	instrument, ok := instruments[req.Type]
	if !ok {
		return fmt.Errorf("%w: unknown payment type %q", ErrInvalidRequest, req.Type)
	}
	if instrument.requiresSource && req.FromAccountID == nil {
		return ErrMissingSourceAccount
	}

	if utf8.RuneCountInString(req.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidRequest, maxDescriptionLength)
	}
	if utf8.RuneCountInString(req.ExternalID) > maxExternalIDLength {
		return fmt.Errorf("%w: external id exceeds %d characters", ErrInvalidRequest, maxExternalIDLength)
	}

	return nil
}

// NormalizeEmail trims and lower-cases an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateUserRequest normalizes req and checks its fields.
func validateUserRequest(req UserRequest) (UserRequest, error) {
	req.Email = NormalizeEmail(req.Email)
	req.Document = strings.TrimSpace(req.Document)
	req.FullName = strings.TrimSpace(req.FullName)
	req.Phone = strings.TrimSpace(req.Phone)

	if req.Email == "" {
		return req, fmt.Errorf("%w: email is required", ErrInvalidRequest)
	}
	if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email || len(req.Email) > maxEmailLength {
		return req, fmt.Errorf("%w: invalid email %q", ErrInvalidRequest, req.Email)
	}
	if !documentPattern.MatchString(req.Document) {
		return req, fmt.Errorf("%w: document must have 11 or 14 digits", ErrInvalidRequest)
	}
	if n := utf8.RuneCountInString(req.FullName); n < minFullNameLength || n > maxFullNameLength {
		return req, fmt.Errorf("%w: full name must have between %d and %d characters",
			ErrInvalidRequest, minFullNameLength, maxFullNameLength)
	}
	if req.Phone != "" && !phonePattern.MatchString(req.Phone) {
		return req, fmt.Errorf("%w: phone must have 10 or 11 digits", ErrInvalidRequest)
	}
	return req, nil
}

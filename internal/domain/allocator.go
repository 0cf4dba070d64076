package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransactionIDAllocator produces practically unique payment references.
// Collisions are not retried here; PaymentRepository.Create rejects a
// duplicate with ErrDuplicateTransactionID.
type TransactionIDAllocator interface {
	Allocate() string
}

// TimeRandomAllocator combines a random component with a clock reading:
// TXN-<8 hex>-<unix millis>.
type TimeRandomAllocator struct {
	now func() time.Time
}

// NewTransactionIDAllocator creates the default allocator.
func NewTransactionIDAllocator() *TimeRandomAllocator {
	return &TimeRandomAllocator{now: time.Now}
}

// Allocate returns a new transaction id.
func (a *TimeRandomAllocator) Allocate() string {
	random := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("TXN-%s-%d", random, a.now().UnixMilli())
}

// AccountNumberGenerator produces candidate account numbers.
// Uniqueness is enforced by AccountRepository.Create.
type AccountNumberGenerator interface {
	Generate() string
}

// bankCode prefixes every account number.
const bankCode = "001"

// CheckDigitGenerator builds numbers of the form 001-NNNNNN-D where D is a
// positional-weight check digit.
type CheckDigitGenerator struct{}

// Generate returns a random account number.
func (CheckDigitGenerator) Generate() string {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken
		panic(fmt.Sprintf("failed to read random source: %v", err))
	}
	number := 100000 + int(n.Int64())
	return fmt.Sprintf("%s-%d-%d", bankCode, number, checkDigit(number))
}

func checkDigit(number int) int {
	digits := fmt.Sprintf("%d", number)
	sum := 0
	for i, c := range digits {
		sum += int(c-'0') * (i + 1)
	}
	return sum % 10
}

// ValidAccountNumber reports whether s is well formed and its check digit matches.
func ValidAccountNumber(s string) bool {
	var bank string
	var number, digit int
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return false
	}
	bank = parts[0]
	if _, err := fmt.Sscanf(parts[1], "%d", &number); err != nil || len(parts[1]) != 6 {
		return false
	}
	if _, err := fmt.Sscanf(parts[2], "%d", &digit); err != nil || len(parts[2]) != 1 {
		return false
	}
	return bank == bankCode && checkDigit(number) == digit
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efojunior25/payment-system/internal/domain"
)

func TestSettlementMetrics(t *testing.T) {
	m := NewSettlementMetrics()

	m.ObserveSettlement(domain.PaymentTypeTransfer, domain.PaymentStatusCompleted, domain.StageSettled, 20*time.Millisecond)
	m.ObserveSettlement(domain.PaymentTypeTransfer, domain.PaymentStatusCompleted, domain.StageSettled, 30*time.Millisecond)
	m.ObserveSettlement(domain.PaymentTypeTransfer, domain.PaymentStatusFailed, domain.StageCompensated, 5*time.Millisecond)
	m.ObserveSettlement(domain.PaymentTypePIX, domain.PaymentStatusCompleted, domain.StageSettled, time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.mOutcomes.WithLabelValues("TRANSFER", "COMPLETED", "SETTLED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.mOutcomes.WithLabelValues("TRANSFER", "FAILED", "COMPENSATED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.mOutcomes.WithLabelValues("PIX", "COMPLETED", "SETTLED")))

	// Three outcome series plus two duration histograms.
	assert.Equal(t, 5, testutil.CollectAndCount(m))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics()
	require.NoError(t, reg.Register(m))
	m.ObserveSettlement(domain.PaymentTypeCard, domain.PaymentStatusCompleted, domain.StageSettled, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `payments_settlement_total{stage="SETTLED",status="COMPLETED",type="CARD"} 1`), body)
	assert.Contains(t, body, "payments_settlement_duration_seconds_bucket")
}

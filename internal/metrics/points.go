package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		pointsLedgerTotal,
		admissionsTotal,
		paymentsTotal,
	)
}

var (
	pointsLedgerTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordai_points_ledger_total",
			Help: "Points moved through the ledger by kind (debit/credit).",
		},
		[]string{"kind"},
	)

	admissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordai_admissions_total",
			Help: "Admission decisions by job type and outcome (free/paid/rejected).",
		},
		[]string{"job_type", "outcome"},
	)

	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordai_payments_total",
			Help: "Payment webhooks by status (credited/duplicate/ignored/rejected).",
		},
		[]string{"status"},
	)
)

func AddPoints(kind string, amount int64) {
	pointsLedgerTotal.WithLabelValues(norm(kind)).Add(float64(amount))
}

func IncAdmission(jobType, outcome string) {
	admissionsTotal.WithLabelValues(norm(jobType), norm(outcome)).Inc()
}

func IncPayment(status string) {
	paymentsTotal.WithLabelValues(norm(status)).Inc()
}

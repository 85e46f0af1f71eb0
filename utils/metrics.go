package utils

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics содержит метрики приложения
type Metrics struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	transactions   *prometheus.CounterVec
	gatewayCalls   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	breakerState   *prometheus.GaugeVec
	compensations  *prometheus.CounterVec
	recoveries     *prometheus.CounterVec
	replays        prometheus.Counter
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// GetMetrics возвращает экземпляр метрик, зарегистрированный в реестре по умолчанию
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return metrics
}

// NewMetrics регистрирует метрики в заданном реестре
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "funds_http_requests_total",
			Help: "Total HTTP requests processed, labeled by status code",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "funds_http_request_duration_seconds",
			Help:    "Latency distribution of HTTP requests",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "funds_transactions_total",
			Help: "Transactions reaching a status, by type",
		}, []string{"type", "status"}),
		gatewayCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "funds_ledger_calls_total",
			Help: "Calls to the account ledger by operation and outcome",
		}, []string{"operation", "outcome"}),
		gatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "funds_ledger_call_duration_seconds",
			Help:    "Latency of account ledger calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "funds_ledger_circuit_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		}, []string{"name"}),
		compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "funds_compensations_total",
			Help: "Source re-credits after a failed destination credit",
		}, []string{"outcome"}),
		recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "funds_recovery_actions_total",
			Help: "Actions taken by the stuck transaction recovery job",
		}, []string{"action"}),
		replays: factory.NewCounter(prometheus.CounterOpts{
			Name: "funds_idempotent_replays_total",
			Help: "Requests answered from an existing idempotency key",
		}),
	}
}

// RecordRequest записывает метрики HTTP запроса
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTransaction учитывает переход транзакции в статус
func (m *Metrics) RecordTransaction(txType, status string) {
	m.transactions.WithLabelValues(txType, status).Inc()
}

// RecordGatewayCall записывает метрики вызова реестра счетов
func (m *Metrics) RecordGatewayCall(operation string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.gatewayCalls.WithLabelValues(operation, outcome).Inc()
	m.gatewayLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetBreakerState выставляет состояние автомата защиты
func (m *Metrics) SetBreakerState(name string, state int) {
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCompensation учитывает компенсирующую проводку
func (m *Metrics) RecordCompensation(success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.compensations.WithLabelValues(outcome).Inc()
}

// RecordRecovery учитывает действие задачи восстановления
func (m *Metrics) RecordRecovery(action string) {
	m.recoveries.WithLabelValues(action).Inc()
}

// RecordReplay учитывает ответ по существующему ключу идемпотентности
func (m *Metrics) RecordReplay() {
	m.replays.Inc()
}

package handlers

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/walidhousni/glavito-sub004/internal/analytics"
	"github.com/walidhousni/glavito-sub004/internal/wallet"
	"github.com/walidhousni/glavito-sub004/pkg/logging"
)

var (
	db          *sql.DB
	logger      logging.Logger
	metrics     *BursarMetrics
	walletSvc   *wallet.Service
	engine      *analytics.Engine
	checkoutSvc *CheckoutService
)

// BursarMetrics holds all Prometheus metrics for Bursar
type BursarMetrics struct {
	CreditOperations         *prometheus.CounterVec
	TokenOperations          *prometheus.CounterVec
	BalanceSyncs             *prometheus.CounterVec
	WebhookSignatureFailures *prometheus.CounterVec
	DBQueries                *prometheus.CounterVec
	DBDuration               *prometheus.HistogramVec
	DBConnections            *prometheus.GaugeVec
}

// Init initializes the handlers with database, logger, and services
func Init(database *sql.DB, log logging.Logger, bursarMetrics *BursarMetrics, walletService *wallet.Service, analyticsEngine *analytics.Engine) {
	db = database
	logger = log
	metrics = bursarMetrics
	walletSvc = walletService
	engine = analyticsEngine
	checkoutSvc = NewCheckoutService(database, log)
}

func recordCreditOperation(operation, status string) {
	if metrics == nil || metrics.CreditOperations == nil {
		return
	}
	metrics.CreditOperations.WithLabelValues(operation, status).Inc()
}

func recordTokenOperation(operation, status string) {
	if metrics == nil || metrics.TokenOperations == nil {
		return
	}
	metrics.TokenOperations.WithLabelValues(operation, status).Inc()
}

func recordBalanceSync(channel, status string) {
	if metrics == nil || metrics.BalanceSyncs == nil {
		return
	}
	metrics.BalanceSyncs.WithLabelValues(channel, status).Inc()
}

func recordWebhookSignatureFailure(provider string) {
	if metrics == nil || metrics.WebhookSignatureFailures == nil {
		return
	}
	metrics.WebhookSignatureFailures.WithLabelValues(provider).Inc()
}

package handlers

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/walidhousni/glavito-sub004/internal/analytics"
	"github.com/walidhousni/glavito-sub004/internal/pricing"
	"github.com/walidhousni/glavito-sub004/internal/providers"
	"github.com/walidhousni/glavito-sub004/internal/wallet"
	"github.com/walidhousni/glavito-sub004/pkg/logging"
)

const testTenantID = "11111111-2222-3333-4444-555555555555"

// setupTest wires the package globals against a sqlmock database and restores
// them when the test finishes.
func setupTest(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db = mockDB
	logger = logging.NewLogger()
	metrics = nil
	table := pricing.DefaultTable()
	walletSvc = wallet.NewService(mockDB, logger, table, providers.NewRegistry(), nil)
	engine = analytics.NewEngine(mockDB, table, logger)
	checkoutSvc = NewCheckoutService(mockDB, logger)

	t.Cleanup(func() {
		mockDB.Close()
		db = nil
		walletSvc = nil
		engine = nil
		checkoutSvc = nil
	})

	return mock
}

// newTenantRouter builds a router that injects the test tenant the way the
// JWT middleware would.
func newTenantRouter() *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("tenant_id", testTenantID)
	})
	return r
}

func newPlainRouter() *gin.Engine {
	return gin.New()
}

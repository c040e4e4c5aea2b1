package analytics

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/walidhousni/glavito-sub004/internal/pricing"
	"github.com/walidhousni/glavito-sub004/pkg/logging"
)

const eps = 1e-9

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return NewEngine(mockDB, pricing.DefaultTable(), logging.NewLogger()), mock
}

func TestGetUsageBreakdown(t *testing.T) {
	engine, mock := newTestEngine(t)
	tenantID := uuid.New().String()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	mock.ExpectQuery("SELECT w.channel_type, COALESCE").
		WithArgs(tenantID, start, end).
		WillReturnRows(sqlmock.NewRows([]string{"channel_type", "sum"}).
			AddRow("sms", 0.0255))

	mock.ExpectQuery("SELECT channel_type, message_type, sender_type, delivery_status, has_attachments").
		WithArgs(tenantID, start, end).
		WillReturnRows(sqlmock.NewRows([]string{"channel_type", "message_type", "sender_type", "delivery_status", "has_attachments"}).
			AddRow("sms", "text", "agent", "delivered", false).
			AddRow("sms", "text", "agent", "delivered", false).
			AddRow("sms", "text", "bot", "failed", false).
			AddRow("sms", "text", "customer", "delivered", false))

	breakdowns, err := engine.GetUsageBreakdown(context.Background(), tenantID, start, end)
	require.NoError(t, err)
	require.Len(t, breakdowns, 1)

	sms := breakdowns[0]
	require.Equal(t, "sms", sms.ChannelType)
	require.Equal(t, 3, sms.Outbound)
	require.Equal(t, 2, sms.Delivered)
	require.Equal(t, 1, sms.Failed)
	require.Equal(t, 1, sms.Inbound)

	// 3 billed sends at 0.0085, one failed and fully refunded
	require.InDelta(t, 0.0255-0.0085, sms.TotalCost, eps)

	text := sms.ByMessageType["text"]
	require.Equal(t, 3, text.Outbound)
	require.Equal(t, 1, text.Failed)
	require.InDelta(t, 3*0.0075, text.Cost, eps)
	require.InDelta(t, 3*0.001, text.CarrierFee, eps)
	require.InDelta(t, 3*0.0085-0.0085, text.TotalCost, eps)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUsageBreakdown_NoRefundChannels(t *testing.T) {
	engine, mock := newTestEngine(t)
	tenantID := uuid.New().String()
	start := time.Now().Add(-24 * time.Hour)
	end := time.Now()

	mock.ExpectQuery("SELECT w.channel_type, COALESCE").
		WithArgs(tenantID, start, end).
		WillReturnRows(sqlmock.NewRows([]string{"channel_type", "sum"}))

	mock.ExpectQuery("SELECT channel_type, message_type").
		WithArgs(tenantID, start, end).
		WillReturnRows(sqlmock.NewRows([]string{"channel_type", "message_type", "sender_type", "delivery_status", "has_attachments"}).
			AddRow("email", "text", "agent", "failed", false))

	breakdowns, err := engine.GetUsageBreakdown(context.Background(), tenantID, start, end)
	require.NoError(t, err)
	require.Len(t, breakdowns, 1)

	email := breakdowns[0]
	require.Equal(t, 1, email.Failed)
	// Email has no failed-delivery refund, so the failed send stays billed
	require.InDelta(t, -0.0, email.TotalCost, eps)
	require.InDelta(t, 0.0005, email.ByMessageType["text"].TotalCost, eps)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUsageBreakdown_CostOnlyChannelRowIsValid(t *testing.T) {
	engine, mock := newTestEngine(t)
	tenantID := uuid.New().String()
	start := time.Now().Add(-24 * time.Hour)
	end := time.Now()

	mock.ExpectQuery("SELECT w.channel_type, COALESCE").
		WithArgs(tenantID, start, end).
		WillReturnRows(sqlmock.NewRows([]string{"channel_type", "sum"}).AddRow("whatsapp", 0.05))

	mock.ExpectQuery("SELECT channel_type, message_type").
		WithArgs(tenantID, start, end).
		WillReturnRows(sqlmock.NewRows([]string{"channel_type", "message_type", "sender_type", "delivery_status", "has_attachments"}))

	breakdowns, err := engine.GetUsageBreakdown(context.Background(), tenantID, start, end)
	require.NoError(t, err)
	require.Len(t, breakdowns, 1)
	require.Equal(t, "whatsapp", breakdowns[0].ChannelType)
	require.Zero(t, breakdowns[0].Outbound)
	require.InDelta(t, 0.05, breakdowns[0].TotalCost, eps)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUsageBreakdown_CoercesNaN(t *testing.T) {
	engine, mock := newTestEngine(t)
	tenantID := uuid.New().String()
	start := time.Now().Add(-24 * time.Hour)
	end := time.Now()

	mock.ExpectQuery("SELECT w.channel_type, COALESCE").
		WithArgs(tenantID, start, end).
		WillReturnRows(sqlmock.NewRows([]string{"channel_type", "sum"}).AddRow("sms", math.NaN()))

	mock.ExpectQuery("SELECT channel_type, message_type").
		WithArgs(tenantID, start, end).
		WillReturnRows(sqlmock.NewRows([]string{"channel_type", "message_type", "sender_type", "delivery_status", "has_attachments"}))

	breakdowns, err := engine.GetUsageBreakdown(context.Background(), tenantID, start, end)
	require.NoError(t, err)
	require.Len(t, breakdowns, 1)
	require.Zero(t, breakdowns[0].TotalCost)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCreditsSummary(t *testing.T) {
	engine, mock := newTestEngine(t)
	tenantID := uuid.New().String()

	mock.ExpectQuery("SELECT w.channel_type, w.balance, w.low_balance_threshold").
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"channel_type", "balance", "low_balance_threshold", "purchased", "used", "refunded"}).
			AddRow("email", 200.0, 0.0, 500.0, 300.0, 0.0).
			AddRow("sms", 1.5, 5.0, 50.0, 48.5, 0.0))

	summaries, err := engine.GetCreditsSummary(context.Background(), tenantID)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	require.Equal(t, "email", summaries[0].ChannelType)
	require.False(t, summaries[0].LowBalance)

	require.Equal(t, "sms", summaries[1].ChannelType)
	require.True(t, summaries[1].LowBalance, "sms balance below its threshold")
	require.InDelta(t, 50.0, summaries[1].TotalPurchased, eps)
	require.InDelta(t, 48.5, summaries[1].TotalUsed, eps)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAITokenSummary(t *testing.T) {
	engine, mock := newTestEngine(t)
	tenantID := uuid.New().String()

	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(w.balance\\), 0\\)").
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"balance", "purchased", "used"}).AddRow(70.0, 100.0, 30.0))

	mock.ExpectQuery("SELECT t.operation_type, COUNT").
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"operation_type", "count", "tokens"}).
			AddRow("ai_analysis", 2, 25.0).
			AddRow("summarization", 1, 5.0))

	summary, err := engine.GetAITokenSummary(context.Background(), tenantID)
	require.NoError(t, err)
	require.EqualValues(t, 70, summary.CurrentBalance)
	require.EqualValues(t, 100, summary.TotalPurchased)
	require.EqualValues(t, 30, summary.TotalUsed)
	require.Len(t, summary.ByOperation, 2)
	require.Equal(t, "ai_analysis", summary.ByOperation[0].OperationType)
	require.EqualValues(t, 25, summary.ByOperation[0].TokensUsed)

	require.NoError(t, mock.ExpectationsWereMet())
}

package wallet

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/walidhousni/glavito-sub004/internal/pricing"
	"github.com/walidhousni/glavito-sub004/internal/providers"
	"github.com/walidhousni/glavito-sub004/pkg/logging"
	"github.com/walidhousni/glavito-sub004/pkg/models"
	"github.com/walidhousni/glavito-sub004/pkg/testutil"
)

type stubProvider struct {
	channel string
	balance models.ChannelBalance
	err     error
	calls   int
}

func (p *stubProvider) Channel() string { return p.channel }

func (p *stubProvider) GetBalance(ctx context.Context) (models.ChannelBalance, error) {
	p.calls++
	if p.err != nil {
		return models.ChannelBalance{}, p.err
	}
	return p.balance, nil
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *providers.Registry) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	registry := providers.NewRegistry()
	svc := NewService(mockDB, logging.NewLogger(), pricing.DefaultTable(), registry, nil)
	return svc, mock, registry
}

func walletColumnsList() []string {
	return []string{"id", "tenant_id", "channel_type", "balance", "currency", "is_active", "low_balance_threshold", "sync_status", "sync_error", "last_synced_at", "metadata", "created_at", "updated_at"}
}

func walletRow(id, tenantID, channel string, balance float64, syncStatus string, lastSyncedAt *time.Time) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(walletColumnsList()).
		AddRow(id, tenantID, channel, balance, "EUR", true, 0.0, syncStatus, nil, lastSyncedAt, []byte("{}"), now, now)
}

func TestWalletFreshness(t *testing.T) {
	svc, _, _ := newTestService(t)
	fixtures := testutil.NewDatabaseFixtures()

	if !svc.isFresh(fixtures.ChannelWalletSynced("sms")) {
		t.Fatal("recently synced wallet should be fresh")
	}
	if svc.isFresh(fixtures.ChannelWalletStale("sms")) {
		t.Fatal("wallet past the sync TTL should be stale")
	}
	if svc.isFresh(fixtures.ChannelWalletUnsynced("sms")) {
		t.Fatal("never-synced wallet should be stale")
	}
}

func TestDeductAITokens_Success(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenantID := uuid.New().String()
	walletID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE bursar.channel_wallets.*balance >= \$1.*RETURNING id, balance`).
		WithArgs(int64(30), tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow(walletID, 70.0))
	mock.ExpectExec("INSERT INTO bursar.wallet_transactions").
		WithArgs(walletID, tenantID, int64(-30), 70.0, "AI ai_analysis", "ai_analysis", "op-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.DeductAITokens(context.Background(), tenantID, 30, "ai_analysis", "op-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected deduction to succeed")
	}
	if result.Balance != 70 {
		t.Fatalf("expected balance 70, got %d", result.Balance)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeductAITokens_InsufficientBalance(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenantID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE bursar.channel_wallets.*balance >= \$1.*RETURNING id, balance`).
		WithArgs(int64(80), tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}))
	mock.ExpectQuery("SELECT balance FROM bursar.channel_wallets").
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(70.0))
	mock.ExpectRollback()

	result, err := svc.DeductAITokens(context.Background(), tenantID, 80, "ai_analysis", "op-2", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected deduction to fail")
	}
	if result.Error != "Insufficient AI tokens" {
		t.Fatalf("unexpected error message %q", result.Error)
	}
	if result.Balance != 70 {
		t.Fatalf("expected untouched balance 70, got %d", result.Balance)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeductAITokens_MissingWalletTreatedAsEmpty(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenantID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE bursar.channel_wallets.*RETURNING id, balance`).
		WithArgs(int64(10), tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}))
	mock.ExpectQuery("SELECT balance FROM bursar.channel_wallets").
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))
	mock.ExpectRollback()

	result, err := svc.DeductAITokens(context.Background(), tenantID, 10, "summarization", "op-3", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || result.Balance != 0 {
		t.Fatalf("expected failure with zero balance, got %+v", result)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeductAITokens_RejectsNonPositiveAmount(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.DeductAITokens(context.Background(), "t1", 0, "analysis", "", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestPurchaseCredits_AppliesAndLocksWallet(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenantID := uuid.New().String()
	walletID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, balance, currency.*FOR UPDATE`).
		WithArgs(tenantID, "sms").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "currency"}).AddRow(walletID, 10.0, "EUR"))
	mock.ExpectExec("INSERT INTO bursar.wallet_transactions").
		WithArgs(walletID, tenantID, 25.0, 35.0, "Monthly top-up", "cs_123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE bursar.channel_wallets").
		WithArgs(35.0, walletID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w, err := svc.PurchaseCredits(context.Background(), tenantID, "sms", 25.0, "cs_123", "Monthly top-up")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Balance != 35.0 {
		t.Fatalf("expected balance 35, got %f", w.Balance)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPurchaseCredits_DuplicateReferenceNoOp(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenantID := uuid.New().String()
	walletID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, balance, currency.*FOR UPDATE`).
		WithArgs(tenantID, "sms").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "currency"}).AddRow(walletID, 35.0, "EUR"))
	mock.ExpectExec("INSERT INTO bursar.wallet_transactions").
		WithArgs(walletID, tenantID, 25.0, 60.0, "Monthly top-up", "cs_123").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	w, err := svc.PurchaseCredits(context.Background(), tenantID, "sms", 25.0, "cs_123", "Monthly top-up")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Balance != 35.0 {
		t.Fatalf("expected balance to remain 35, got %f", w.Balance)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPurchaseCredits_UnknownWalletFailsClosed(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenantID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, balance, currency.*FOR UPDATE`).
		WithArgs(tenantID, "whatsapp").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "currency"}))
	mock.ExpectRollback()

	_, err := svc.PurchaseCredits(context.Background(), tenantID, "whatsapp", 10.0, "", "")
	if !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}

	// No transaction insert may have happened
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordUsage_DebitsWallet(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenantID := uuid.New().String()
	walletID := uuid.New().String()
	cost := 0.0085
	newBalance := 5.0 - cost

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, balance FROM bursar.channel_wallets.*FOR UPDATE`).
		WithArgs(tenantID, "sms").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow(walletID, 5.0))
	mock.ExpectExec("INSERT INTO bursar.wallet_transactions").
		WithArgs(walletID, tenantID, -cost, newBalance, "sms message sent", "msg-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE bursar.channel_wallets").
		WithArgs(newBalance, walletID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := svc.RecordUsage(context.Background(), tenantID, "sms", cost, "", "msg-1", "text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordUsage_UnknownWalletDropsCharge(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenantID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, balance FROM bursar.channel_wallets.*FOR UPDATE`).
		WithArgs(tenantID, "whatsapp").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}))
	mock.ExpectExec("INSERT INTO bursar.channel_wallets").
		WithArgs(tenantID, "whatsapp", "EUR").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := svc.RecordUsage(context.Background(), tenantID, "whatsapp", 0.005, "", "msg-2", "text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordUsage_AllowsOverdraft(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenantID := uuid.New().String()
	walletID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, balance FROM bursar.channel_wallets.*FOR UPDATE`).
		WithArgs(tenantID, "sms").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow(walletID, 0.001))
	mock.ExpectExec("INSERT INTO bursar.wallet_transactions").
		WithArgs(walletID, tenantID, -0.0085, 0.001-0.0085, "sms message sent", "msg-3", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE bursar.channel_wallets").
		WithArgs(0.001-0.0085, walletID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := svc.RecordUsage(context.Background(), tenantID, "sms", 0.0085, "", "msg-3", "text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordUsage_IgnoresNaN(t *testing.T) {
	svc, mock, _ := newTestService(t)

	nan := math.NaN()
	if err := svc.RecordUsage(context.Background(), "t1", "sms", nan, "", "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAddAITokens_CreatesWalletLazily(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenantID := uuid.New().String()
	walletID := uuid.New().String()
	txnID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bursar.channel_wallets").
		WithArgs(tenantID, "EUR").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, balance FROM bursar.channel_wallets.*FOR UPDATE`).
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow(walletID, 0.0))
	mock.ExpectQuery("INSERT INTO bursar.wallet_transactions").
		WithArgs(walletID, tenantID, int64(100), 100.0, "purchase", "AI token purchase", "cs_777").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(txnID))
	mock.ExpectExec("UPDATE bursar.channel_wallets").
		WithArgs(100.0, walletID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.AddAITokens(context.Background(), tenantID, 100, "purchase", "", "cs_777")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Balance != 100 || result.TransactionID != txnID {
		t.Fatalf("unexpected result %+v", result)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAddAITokens_DuplicateReferenceNoOp(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenantID := uuid.New().String()
	walletID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bursar.channel_wallets").
		WithArgs(tenantID, "EUR").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, balance FROM bursar.channel_wallets.*FOR UPDATE`).
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow(walletID, 100.0))
	mock.ExpectQuery("INSERT INTO bursar.wallet_transactions").
		WithArgs(walletID, tenantID, int64(100), 200.0, "purchase", "AI token purchase", "cs_777").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	result, err := svc.AddAITokens(context.Background(), tenantID, 100, "purchase", "", "cs_777")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Balance != 100 || result.TransactionID != "" {
		t.Fatalf("expected unchanged balance on duplicate, got %+v", result)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAddAITokens_RejectsUnknownType(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.AddAITokens(context.Background(), "t1", 10, "usage", "", ""); err == nil {
		t.Fatal("expected error for usage type credit")
	}
}

func TestGetBalances_CacheAndSyncPaths(t *testing.T) {
	svc, mock, registry := newTestService(t)
	tenantID := uuid.New().String()

	whatsapp := &stubProvider{channel: "whatsapp"}
	sms := &stubProvider{channel: "sms", balance: models.ChannelBalance{ChannelType: "sms", Balance: 42.0, Currency: "USD"}}
	instagram := &stubProvider{channel: "instagram", err: errors.New("graph api unreachable")}
	email := &stubProvider{channel: "email"}
	for _, p := range []*stubProvider{whatsapp, sms, instagram, email} {
		registry.Register(p)
	}

	fresh := time.Now().Add(-1 * time.Minute)
	stale := time.Now().Add(-30 * time.Minute)

	// whatsapp: fresh cache, no provider call
	mock.ExpectQuery("SELECT (.+) FROM bursar.channel_wallets").
		WithArgs(tenantID, "whatsapp").
		WillReturnRows(walletRow("w-1", tenantID, "whatsapp", 12.0, models.SyncSuccess, &fresh))

	// sms: stale cache, provider succeeds, balance overwritten
	mock.ExpectQuery("SELECT (.+) FROM bursar.channel_wallets").
		WithArgs(tenantID, "sms").
		WillReturnRows(walletRow("w-2", tenantID, "sms", 5.0, models.SyncSuccess, &stale))
	syncedAt := time.Now()
	mock.ExpectQuery("INSERT INTO bursar.channel_wallets").
		WithArgs(tenantID, "sms", 42.0, "USD").
		WillReturnRows(walletRow("w-2", tenantID, "sms", 42.0, models.SyncSuccess, &syncedAt))

	// instagram: no wallet yet, provider fails, error recorded with balance 0
	mock.ExpectQuery("SELECT (.+) FROM bursar.channel_wallets").
		WithArgs(tenantID, "instagram").
		WillReturnRows(sqlmock.NewRows(walletColumnsList()))
	mock.ExpectQuery("INSERT INTO bursar.channel_wallets").
		WithArgs(tenantID, "instagram", "EUR", "graph api unreachable").
		WillReturnRows(walletRow("w-3", tenantID, "instagram", 0.0, models.SyncError, nil))

	// email: fresh cache
	mock.ExpectQuery("SELECT (.+) FROM bursar.channel_wallets").
		WithArgs(tenantID, "email").
		WillReturnRows(walletRow("w-4", tenantID, "email", 200.0, models.SyncSuccess, &fresh))

	balances, err := svc.GetBalances(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(balances) != 4 {
		t.Fatalf("expected 4 balances, got %d", len(balances))
	}
	if whatsapp.calls != 0 || email.calls != 0 {
		t.Fatalf("fresh wallets must not hit the provider (whatsapp=%d email=%d)", whatsapp.calls, email.calls)
	}
	if sms.calls != 1 || instagram.calls != 1 {
		t.Fatalf("stale/missing wallets must sync exactly once (sms=%d instagram=%d)", sms.calls, instagram.calls)
	}
	if balances[1].Balance != 42.0 {
		t.Fatalf("expected provider balance to overwrite sms wallet, got %f", balances[1].Balance)
	}
	if balances[2].SyncStatus != models.SyncError || balances[2].Balance != 0 {
		t.Fatalf("expected instagram error state with zero balance, got %+v", balances[2])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSyncBalance_FailureKeepsStaleBalance(t *testing.T) {
	svc, mock, registry := newTestService(t)
	tenantID := uuid.New().String()
	registry.Register(&stubProvider{channel: "sms", err: errors.New("twilio timeout")})

	mock.ExpectQuery("INSERT INTO bursar.channel_wallets").
		WithArgs(tenantID, "sms", "EUR", "twilio timeout").
		WillReturnRows(walletRow("w-2", tenantID, "sms", 5.0, models.SyncError, nil))

	w, err := svc.SyncBalance(context.Background(), tenantID, "sms")
	if err != nil {
		t.Fatalf("provider failure must not surface: %v", err)
	}
	if w.SyncStatus != models.SyncError || w.Balance != 5.0 {
		t.Fatalf("expected stale balance with error status, got %+v", w)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	bursarapi "github.com/walidhousni/glavito-sub004/pkg/api/bursar"
)

func TestDeductTokensDerivesCostFromPricing(t *testing.T) {
	mock := setupTest(t)

	// analysis base 10 plus content surcharge floor(250/100) = 12 tokens
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bursar.channel_wallets").
		WithArgs(int64(12), testTenantID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow("wallet-tokens", 88.0))
	mock.ExpectExec("INSERT INTO bursar.wallet_transactions").
		WithArgs("wallet-tokens", testTenantID, int64(-12), 88.0, "AI ai_analysis", "ai_analysis", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	r := newTenantRouter()
	r.POST("/tokens/deduct", DeductTokens)

	body := `{"operation_type":"ai_analysis","content_length":250}`
	req := httptest.NewRequest(http.MethodPost, "/tokens/deduct", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	var resp bursarapi.DeductTokensResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
	if resp.TokensDeducted != 12 {
		t.Fatalf("expected 12 tokens deducted, got %d", resp.TokensDeducted)
	}
	if resp.RemainingBalance != 88 {
		t.Fatalf("expected remaining balance 88, got %d", resp.RemainingBalance)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeductTokensInsufficientBalance(t *testing.T) {
	mock := setupTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bursar.channel_wallets").
		WithArgs(int64(500), testTenantID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}))
	mock.ExpectQuery("SELECT balance FROM bursar.channel_wallets").
		WithArgs(testTenantID).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(5.0))
	mock.ExpectRollback()

	r := newTenantRouter()
	r.POST("/tokens/deduct", DeductTokens)

	body := `{"amount":500,"operation_type":"summarization"}`
	req := httptest.NewRequest(http.MethodPost, "/tokens/deduct", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	var resp bursarapi.DeductTokensResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Success {
		t.Fatal("expected deduction to be rejected")
	}
	if resp.Error != "Insufficient AI tokens" {
		t.Fatalf("unexpected error message %q", resp.Error)
	}
	if resp.RemainingBalance != 5 {
		t.Fatalf("expected remaining balance 5, got %d", resp.RemainingBalance)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeductTokensRequiresTenant(t *testing.T) {
	setupTest(t)

	plain := newPlainRouter()
	plain.POST("/tokens/deduct", DeductTokens)

	req := httptest.NewRequest(http.MethodPost, "/tokens/deduct", strings.NewReader(`{"amount":1}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	plain.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without tenant context, got %d", w.Code)
	}
}

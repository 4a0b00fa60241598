package oplog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/mcpledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerWritesStructuredFields(test *testing.T) {
	test.Parallel()
	core, recorded := observer.New(zapcore.InfoLevel)
	logger := NewZapLogger(zap.New(core))

	logger.LogOperation(context.Background(), ledger.OperationLog{
		Operation:     "fund_partner",
		MCPID:         3,
		PartnerID:     8,
		Amount:        decimal.RequireFromString("125.50"),
		TransactionID: 41,
		Status:        "ok",
	})
	logger.LogOperation(context.Background(), ledger.OperationLog{
		Operation: "withdraw",
		MCPID:     3,
		Status:    "error",
		Error:     ledger.ErrInsufficientFunds,
	})

	entries := recorded.All()
	if len(entries) != 2 {
		test.Fatalf("expected 2 entries, got %d", len(entries))
	}
	success := entries[0].ContextMap()
	if entries[0].Level != zapcore.InfoLevel || success["operation"] != "fund_partner" {
		test.Fatalf("unexpected success entry %+v", entries[0])
	}
	if success["mcp_id"] != uint64(3) || success["partner_id"] != uint64(8) || success["amount"] != "125.5" || success["transaction_id"] != uint64(41) {
		test.Fatalf("unexpected success fields %+v", success)
	}
	if _, ok := success["order_id"]; ok {
		test.Fatalf("expected zero order id to be omitted")
	}
	failure := entries[1].ContextMap()
	if entries[1].Level != zapcore.WarnLevel || failure["error"] != ledger.ErrInsufficientFunds.Error() {
		test.Fatalf("unexpected failure entry %+v", entries[1])
	}
}

func TestNewZapLoggerAcceptsNil(test *testing.T) {
	test.Parallel()
	logger := NewZapLogger(nil)
	logger.LogOperation(context.Background(), ledger.OperationLog{Operation: "deposit", Status: "ok"})
}

func TestMetricsCountOperationsAndRequests(test *testing.T) {
	test.Parallel()
	metrics := NewMetrics()
	fanout := NewFanout(metrics, nil)

	fanout.LogOperation(context.Background(), ledger.OperationLog{Operation: "deposit", Status: "ok"})
	fanout.LogOperation(context.Background(), ledger.OperationLog{Operation: "deposit", Status: "ok"})
	fanout.LogOperation(context.Background(), ledger.OperationLog{Operation: "withdraw", Status: "error", Error: errors.New("boom")})
	metrics.ObserveRequest(http.MethodPost, "/api/mcps/:mcpID/wallet/deposit", http.StatusOK, 12*time.Millisecond)
	metrics.ObserveCache(true)
	metrics.ObserveCache(false)
	metrics.ObserveCache(false)

	if got := testutil.ToFloat64(metrics.operations.WithLabelValues("deposit", "ok")); got != 2 {
		test.Fatalf("expected 2 deposits, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.operations.WithLabelValues("withdraw", "error")); got != 1 {
		test.Fatalf("expected 1 failed withdraw, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.httpRequests.WithLabelValues(http.MethodPost, "/api/mcps/:mcpID/wallet/deposit", "200")); got != 1 {
		test.Fatalf("expected 1 request, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.dashboardCaches.WithLabelValues("miss")); got != 2 {
		test.Fatalf("expected 2 cache misses, got %v", got)
	}

	recorder := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "mcpledger_ledger_operations_total") {
		test.Fatalf("expected operations counter in exposition")
	}
}

func TestFanoutPreservesOrder(test *testing.T) {
	test.Parallel()
	var calls []string
	first := loggerFunc(func(entry ledger.OperationLog) { calls = append(calls, "first:"+entry.Operation) })
	second := loggerFunc(func(entry ledger.OperationLog) { calls = append(calls, "second:"+entry.Operation) })

	NewFanout(first, second).LogOperation(context.Background(), ledger.OperationLog{Operation: "deposit"})

	if len(calls) != 2 || calls[0] != "first:deposit" || calls[1] != "second:deposit" {
		test.Fatalf("unexpected calls %v", calls)
	}
}

type loggerFunc func(entry ledger.OperationLog)

func (fn loggerFunc) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fn(entry)
}

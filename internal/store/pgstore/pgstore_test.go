package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/mcpledger/pkg/ledger"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const postgresURLEnv = "MCPLEDGER_TEST_POSTGRES_URL"

func TestTransactionWhereNumbersParameters(test *testing.T) {
	test.Parallel()
	from := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	testCases := []struct {
		name          string
		filter        ledger.TransactionFilter
		wantWhere     string
		wantArguments int
	}{
		{
			name:          "tenant only",
			filter:        ledger.TransactionFilter{MCPID: 7},
			wantWhere:     "mcp_id = $1",
			wantArguments: 1,
		},
		{
			name:          "kinds",
			filter:        ledger.TransactionFilter{MCPID: 7, Kinds: []ledger.TransactionKind{ledger.TransactionDeposit, ledger.TransactionWithdrawal}},
			wantWhere:     "mcp_id = $1 and kind = any($2)",
			wantArguments: 2,
		},
		{
			name:          "range",
			filter:        ledger.TransactionFilter{MCPID: 7, From: from, To: to},
			wantWhere:     "mcp_id = $1 and created_at >= $2 and created_at < $3",
			wantArguments: 3,
		},
		{
			name:          "everything",
			filter:        ledger.TransactionFilter{MCPID: 7, Kinds: []ledger.TransactionKind{ledger.TransactionOrderPayment}, From: from, To: to},
			wantWhere:     "mcp_id = $1 and kind = any($2) and created_at >= $3 and created_at < $4",
			wantArguments: 4,
		},
	}
	for _, testCase := range testCases {
		where, arguments := transactionWhere(testCase.filter)
		if where != testCase.wantWhere {
			test.Fatalf("%s: expected %q, got %q", testCase.name, testCase.wantWhere, where)
		}
		if len(arguments) != testCase.wantArguments {
			test.Fatalf("%s: expected %d arguments, got %d", testCase.name, testCase.wantArguments, len(arguments))
		}
	}
}

func TestAccountColumnsRoundTrip(test *testing.T) {
	test.Parallel()
	kind, id := accountColumns(nil)
	if kind != nil || id != nil {
		test.Fatalf("expected nil columns for a missing account")
	}
	ref := ledger.PartnerAccount(42)
	kind, id = accountColumns(&ref)
	restored, err := accountRef(kind, id)
	if err != nil {
		test.Fatalf("account ref: %v", err)
	}
	if restored == nil || *restored != ref {
		test.Fatalf("expected %s, got %v", ref, restored)
	}
	invalid := "vault"
	if _, err := accountRef(&invalid, id); !errors.Is(err, ledger.ErrInvalidAccountKind) {
		test.Fatalf("expected invalid account kind, got %v", err)
	}
	if accountTable(ref) != "partners" || accountTable(ledger.MCPAccount(1)) != "mcps" {
		test.Fatalf("unexpected account tables")
	}
}

func TestIsTransientConflict(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "serialization", err: fmt.Errorf("commit: %w", &pgconn.PgError{Code: pgSerializationFailureCode}), want: true},
		{name: "deadlock", err: &pgconn.PgError{Code: pgDeadlockDetectedCode}, want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, testCase := range testCases {
		if got := isTransientConflict(testCase.err); got != testCase.want {
			test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.want, got)
		}
	}
}

func TestStoreAgainstPostgres(test *testing.T) {
	store := newPostgresStore(test)
	ctx := context.Background()

	mcp, err := store.CreateMCP(ctx, "pg-"+test.Name(), time.Time{})
	if err != nil {
		test.Fatalf("create mcp: %v", err)
	}
	account := ledger.MCPAccount(mcp.ID)
	if _, err := store.AdjustBalance(ctx, account, decimal.RequireFromString("100.5")); err != nil {
		test.Fatalf("seed: %v", err)
	}
	err = store.WithTx(ctx, []ledger.AccountRef{account}, func(ctx context.Context, txStore ledger.Store) error {
		if _, err := txStore.AdjustBalance(ctx, account, decimal.NewFromInt(-50)); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		test.Fatalf("expected rollback error")
	}
	balance, err := store.GetBalance(ctx, account)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("100.5")) {
		test.Fatalf("expected rolled back balance, got %s", balance)
	}

	if _, err := store.GetMCP(ctx, mcp.ID+1_000_000); !errors.Is(err, ledger.ErrMCPNotFound) {
		test.Fatalf("expected mcp not found, got %v", err)
	}

	amount, err := ledger.ParsePositiveAmount("12.5")
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	order, err := store.CreateOrder(ctx, ledger.OrderInput{MCPID: mcp.ID, Amount: amount})
	if err != nil {
		test.Fatalf("create order: %v", err)
	}
	if order.Status != ledger.OrderStatusPending || order.PartnerID != nil {
		test.Fatalf("unexpected order %+v", order)
	}
	if err := store.UpdateOrderStatus(ctx, order.ID, ledger.OrderStatusPending, ledger.OrderStatusCancelled, nil, time.Time{}); err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if err := store.UpdateOrderStatus(ctx, order.ID, ledger.OrderStatusPending, ledger.OrderStatusCancelled, nil, time.Time{}); !errors.Is(err, ledger.ErrOrderStatusConflict) {
		test.Fatalf("expected status conflict, got %v", err)
	}

	metadata, err := ledger.NewMetadataJSON(`{"ref":"bank"}`)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	if _, err := store.AppendTransaction(ctx, ledger.TransactionInput{
		MCPID:    mcp.ID,
		Kind:     ledger.TransactionDeposit,
		Amount:   decimal.RequireFromString("100.5"),
		Target:   &account,
		Metadata: metadata,
	}); err != nil {
		test.Fatalf("append: %v", err)
	}
	transactions, err := store.ListTransactions(ctx, ledger.TransactionFilter{MCPID: mcp.ID, Kinds: []ledger.TransactionKind{ledger.TransactionDeposit}})
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(transactions) != 1 || !strings.Contains(transactions[0].Metadata.String(), "bank") {
		test.Fatalf("unexpected transactions %+v", transactions)
	}
	if transactions[0].Target == nil || *transactions[0].Target != account {
		test.Fatalf("expected target %s, got %v", account, transactions[0].Target)
	}
}

func TestServiceOverPostgres(test *testing.T) {
	store := newPostgresStore(test)
	service, err := ledger.NewService(store, func() time.Time { return time.Now().UTC() })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	ctx := context.Background()
	initial := mustAmount(test, "5000")
	mcp, err := service.CreateMCP(ctx, "pg-"+test.Name(), &initial)
	if err != nil {
		test.Fatalf("create mcp: %v", err)
	}
	partner, err := service.CreatePartner(ctx, mcp.ID, "Ravi", "", nil)
	if err != nil {
		test.Fatalf("create partner: %v", err)
	}
	if _, err := service.FundPartner(ctx, mcp.ID, partner.ID, mustAmount(test, "1000"), "", ledger.MetadataJSON{}); err != nil {
		test.Fatalf("fund: %v", err)
	}
	order, err := service.CreateOrder(ctx, mcp.ID, mustAmount(test, "600"), "", &partner.ID)
	if err != nil {
		test.Fatalf("create order: %v", err)
	}

	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		succeeded int
	)
	for index := 0; index < 4; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			if _, err := service.SettleOrderPayment(ctx, mcp.ID, order.ID); err == nil {
				mutex.Lock()
				succeeded++
				mutex.Unlock()
			}
		}()
	}
	waitGroup.Wait()
	if succeeded != 1 {
		test.Fatalf("expected one settlement, got %d", succeeded)
	}

	partnerBalance, err := service.Balance(ctx, ledger.PartnerAccount(partner.ID))
	if err != nil {
		test.Fatalf("partner balance: %v", err)
	}
	if !partnerBalance.Equal(decimal.NewFromInt(400)) {
		test.Fatalf("unexpected partner balance %s", partnerBalance)
	}
	updated, err := service.MarkAllNotificationsRead(ctx, mcp.ID)
	if err != nil {
		test.Fatalf("mark all read: %v", err)
	}
	if updated == 0 {
		test.Fatalf("expected unread notifications to be marked")
	}
	unread, err := service.Notifications(ctx, mcp.ID, true)
	if err != nil {
		test.Fatalf("notifications: %v", err)
	}
	if len(unread) != 0 {
		test.Fatalf("expected no unread notifications, got %d", len(unread))
	}
}

func newPostgresStore(test *testing.T) *Store {
	test.Helper()
	dsn := os.Getenv(postgresURLEnv)
	if dsn == "" {
		test.Skipf("%s not set", postgresURLEnv)
	}
	pool, err := Open(context.Background(), dsn)
	if err != nil {
		test.Fatalf("open postgres: %v", err)
	}
	test.Cleanup(pool.Close)
	return New(pool)
}

func mustAmount(test *testing.T, raw string) ledger.PositiveAmount {
	test.Helper()
	amount, err := ledger.ParsePositiveAmount(raw)
	if err != nil {
		test.Fatalf("amount %s: %v", raw, err)
	}
	return amount
}

package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/mcpledger/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/mcpledger/pkg/ledger"
)

func TestWrapErrorKeepsSentinelAndCodes(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		operation string
		subject   string
		code      string
		sentinel  error
		want      string
	}{
		{
			name:      "partner lookup",
			operation: "store",
			subject:   "partner",
			code:      "get",
			sentinel:  ledger.ErrPartnerNotFound,
			want:      "store.partner.get: partner not found",
		},
		{
			name:      "settlement",
			operation: "settle_order",
			subject:   "order",
			code:      "update_status",
			sentinel:  ledger.ErrOrderStatusConflict,
			want:      "settle_order.order.update_status: " + ledger.ErrOrderStatusConflict.Error(),
		},
	}
	for _, testCase := range testCases {
		wrapped := ledger.WrapError(testCase.operation, testCase.subject, testCase.code, testCase.sentinel)
		if wrapped.Error() != testCase.want {
			test.Fatalf("%s: expected %q, got %q", testCase.name, testCase.want, wrapped.Error())
		}
		if !errors.Is(wrapped, testCase.sentinel) {
			test.Fatalf("%s: expected sentinel to survive wrapping", testCase.name)
		}
		var operationError ledger.OperationError
		if !errors.As(wrapped, &operationError) {
			test.Fatalf("%s: expected OperationError, got %T", testCase.name, wrapped)
		}
		if operationError.Operation() != testCase.operation || operationError.Subject() != testCase.subject || operationError.Code() != testCase.code {
			test.Fatalf("%s: unexpected parts %s/%s/%s", testCase.name, operationError.Operation(), operationError.Subject(), operationError.Code())
		}
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if ledger.WrapError("store", "partner", "get", nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestStoreErrorsCarryOperationParts(test *testing.T) {
	test.Parallel()
	store := memstore.New()
	_, err := store.GetPartner(context.Background(), 404)
	if !errors.Is(err, ledger.ErrPartnerNotFound) {
		test.Fatalf("expected ErrPartnerNotFound, got %v", err)
	}
	var operationError ledger.OperationError
	if !errors.As(err, &operationError) {
		test.Fatalf("expected OperationError, got %T", err)
	}
	if operationError.Subject() != "partner" || operationError.Code() != "get" {
		test.Fatalf("unexpected subject/code %s/%s", operationError.Subject(), operationError.Code())
	}

	service := mustNewService(test, store)
	mcp := mustCreateMCP(test, service, nil)
	_, err = service.FundPartner(context.Background(), mcp.ID, 404, mustAmount(test, "10"), "", ledger.MetadataJSON{})
	if !errors.Is(err, ledger.ErrPartnerNotFound) {
		test.Fatalf("expected service to surface ErrPartnerNotFound, got %v", err)
	}
}

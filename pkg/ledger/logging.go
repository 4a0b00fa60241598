package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation     string
	MCPID         MCPID
	PartnerID     PartnerID
	OrderID       OrderID
	Amount        decimal.Decimal
	TransactionID TransactionID
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithLowBalanceThreshold overrides the partner wallet alert threshold.
func WithLowBalanceThreshold(threshold decimal.Decimal) ServiceOption {
	return func(service *Service) {
		service.lowBalanceThreshold = threshold
	}
}

// WithLocation sets the time zone that defines "today" for dashboard revenue.
func WithLocation(location *time.Location) ServiceOption {
	return func(service *Service) {
		if location != nil {
			service.location = location
		}
	}
}

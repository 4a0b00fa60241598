package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/mcpledger/pkg/ledger"
)

// Fanout forwards each entry to every wrapped logger in order.
type Fanout []ledger.OperationLogger

// NewFanout drops nil loggers.
func NewFanout(loggers ...ledger.OperationLogger) Fanout {
	fanout := make(Fanout, 0, len(loggers))
	for _, logger := range loggers {
		if logger != nil {
			fanout = append(fanout, logger)
		}
	}
	return fanout
}

// LogOperation implements ledger.OperationLogger.
func (fanout Fanout) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	for _, logger := range fanout {
		logger.LogOperation(ctx, entry)
	}
}

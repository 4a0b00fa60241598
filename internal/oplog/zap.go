// Package oplog turns ledger operation callbacks into structured logs and metrics.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/mcpledger/pkg/ledger"
	"go.uber.org/zap"
)

// ZapLogger writes one structured entry per ledger operation.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps logger; a nil logger becomes a no-op.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("ledger")}
}

// LogOperation implements ledger.OperationLogger.
func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.MCPID != 0 {
		fields = append(fields, zap.Uint64("mcp_id", uint64(entry.MCPID)))
	}
	if entry.PartnerID != 0 {
		fields = append(fields, zap.Uint64("partner_id", uint64(entry.PartnerID)))
	}
	if entry.OrderID != 0 {
		fields = append(fields, zap.Uint64("order_id", uint64(entry.OrderID)))
	}
	if !entry.Amount.IsZero() {
		fields = append(fields, zap.String("amount", entry.Amount.String()))
	}
	if entry.TransactionID != 0 {
		fields = append(fields, zap.Uint64("transaction_id", uint64(entry.TransactionID)))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		zapLogger.logger.Warn("ledger operation failed", fields...)
		return
	}
	zapLogger.logger.Info("ledger operation", fields...)
}

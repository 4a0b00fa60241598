package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStore holds wallet balances. Non-negativity is enforced by Service, not here.
type AccountStore interface {
	GetBalance(ctx context.Context, account AccountRef) (decimal.Decimal, error)
	AdjustBalance(ctx context.Context, account AccountRef, delta decimal.Decimal) (decimal.Decimal, error)
}

// TransactionLog is the append-only transaction record.
type TransactionLog interface {
	AppendTransaction(ctx context.Context, input TransactionInput) (Transaction, error)
	// ListTransactions returns matches ordered by created_at desc, id desc.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	CountTransactions(ctx context.Context, filter TransactionFilter) (int64, error)
}

// Directory exposes the mcp, partner, and order records the ledger depends on.
type Directory interface {
	CreateMCP(ctx context.Context, name string, createdAt time.Time) (MCP, error)
	GetMCP(ctx context.Context, mcpID MCPID) (MCP, error)
	CreatePartner(ctx context.Context, input PartnerInput) (Partner, error)
	GetPartner(ctx context.Context, partnerID PartnerID) (Partner, error)
	ListPartners(ctx context.Context, mcpID MCPID) ([]Partner, error)
	SetPartnerActive(ctx context.Context, partnerID PartnerID, active bool) error
	CreateOrder(ctx context.Context, input OrderInput) (Order, error)
	GetOrder(ctx context.Context, orderID OrderID) (Order, error)
	ListOrders(ctx context.Context, mcpID MCPID) ([]Order, error)
	AssignOrder(ctx context.Context, orderID OrderID, partnerID PartnerID, updatedAt time.Time) error
	// UpdateOrderStatus moves an order from one status to another, failing with
	// ErrOrderStatusConflict when the order is no longer in the from status or no
	// longer assigned to partnerID (nil meaning unassigned).
	UpdateOrderStatus(ctx context.Context, orderID OrderID, from OrderStatus, to OrderStatus, partnerID *PartnerID, updatedAt time.Time) error
}

// NotificationStore persists the mcp notification feed.
type NotificationStore interface {
	InsertNotification(ctx context.Context, input NotificationInput) (Notification, error)
	ListNotifications(ctx context.Context, mcpID MCPID, unreadOnly bool) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, mcpID MCPID, notificationID NotificationID) error
	MarkAllNotificationsRead(ctx context.Context, mcpID MCPID) (int64, error)
}

// Store is the persistence contract used by Service.
type Store interface {
	// WithTx runs fn as one all-or-nothing unit. Balance reads and writes on the
	// locked accounts are serialized against every other unit locking them.
	WithTx(ctx context.Context, locks []AccountRef, fn func(ctx context.Context, txStore Store) error) error
	AccountStore
	TransactionLog
	Directory
	NotificationStore
}

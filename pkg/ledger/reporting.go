package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// HistoryQuery narrows a transaction history request. Zero times leave the range open.
type HistoryQuery struct {
	Kinds    []TransactionKind
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// HistoryPage is one page of transaction history, newest first.
type HistoryPage struct {
	Transactions []Transaction
	Total        int64
	Page         int
	PageSize     int
}

// DashboardStats summarizes an mcp's wallet, partners, and orders.
type DashboardStats struct {
	WalletBalance    decimal.Decimal
	ActivePartners   int
	InactivePartners int
	OrdersByStatus   map[OrderStatus]int
	TodayRevenue     decimal.Decimal
}

// Balance returns the current balance of a wallet.
func (service *Service) Balance(ctx context.Context, account AccountRef) (decimal.Decimal, error) {
	return service.store.GetBalance(ctx, account)
}

// MCP returns the tenant record with its balance.
func (service *Service) MCP(ctx context.Context, mcpID MCPID) (MCP, error) {
	return service.store.GetMCP(ctx, mcpID)
}

// Partners lists the partners registered under an mcp.
func (service *Service) Partners(ctx context.Context, mcpID MCPID) ([]Partner, error) {
	if _, err := service.store.GetMCP(ctx, mcpID); err != nil {
		return nil, err
	}
	return service.store.ListPartners(ctx, mcpID)
}

// Orders lists the orders of an mcp.
func (service *Service) Orders(ctx context.Context, mcpID MCPID) ([]Order, error) {
	if _, err := service.store.GetMCP(ctx, mcpID); err != nil {
		return nil, err
	}
	return service.store.ListOrders(ctx, mcpID)
}

// TransactionHistory returns a page of the mcp's transactions ordered by created_at desc, id desc.
func (service *Service) TransactionHistory(ctx context.Context, mcpID MCPID, query HistoryQuery) (HistoryPage, error) {
	page, pageSize, err := normalizePaging(query.Page, query.PageSize)
	if err != nil {
		return HistoryPage{}, err
	}
	if !query.From.IsZero() && !query.To.IsZero() && !query.From.Before(query.To) {
		return HistoryPage{}, fmt.Errorf("%w: from must precede to", ErrInvalidDateRange)
	}
	if _, err := service.store.GetMCP(ctx, mcpID); err != nil {
		return HistoryPage{}, err
	}
	filter := TransactionFilter{
		MCPID:  mcpID,
		Kinds:  query.Kinds,
		From:   query.From,
		To:     query.To,
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	}
	total, err := service.store.CountTransactions(ctx, filter)
	if err != nil {
		return HistoryPage{}, err
	}
	transactions, err := service.store.ListTransactions(ctx, filter)
	if err != nil {
		return HistoryPage{}, err
	}
	return HistoryPage{Transactions: transactions, Total: total, Page: page, PageSize: pageSize}, nil
}

// DashboardStats aggregates the mcp's current figures.
func (service *Service) DashboardStats(ctx context.Context, mcpID MCPID) (DashboardStats, error) {
	mcp, err := service.store.GetMCP(ctx, mcpID)
	if err != nil {
		return DashboardStats{}, err
	}
	partners, err := service.store.ListPartners(ctx, mcpID)
	if err != nil {
		return DashboardStats{}, err
	}
	orders, err := service.store.ListOrders(ctx, mcpID)
	if err != nil {
		return DashboardStats{}, err
	}

	stats := DashboardStats{
		WalletBalance:  mcp.Balance,
		OrdersByStatus: make(map[OrderStatus]int, len(OrderStatuses)),
		TodayRevenue:   decimal.Zero,
	}
	for _, status := range OrderStatuses {
		stats.OrdersByStatus[status] = 0
	}
	for _, partner := range partners {
		if partner.Active {
			stats.ActivePartners++
		} else {
			stats.InactivePartners++
		}
	}
	dayStart, dayEnd := service.today()
	for _, order := range orders {
		stats.OrdersByStatus[order.Status]++
		if order.Status != OrderStatusCompleted {
			continue
		}
		if !order.CreatedAt.Before(dayStart) && order.CreatedAt.Before(dayEnd) {
			stats.TodayRevenue = stats.TodayRevenue.Add(order.Amount)
		}
	}
	return stats, nil
}

// Notifications returns the mcp's feed, newest first.
func (service *Service) Notifications(ctx context.Context, mcpID MCPID, unreadOnly bool) ([]Notification, error) {
	if _, err := service.store.GetMCP(ctx, mcpID); err != nil {
		return nil, err
	}
	return service.store.ListNotifications(ctx, mcpID, unreadOnly)
}

// MarkNotificationRead flags one notification as read.
func (service *Service) MarkNotificationRead(ctx context.Context, mcpID MCPID, notificationID NotificationID) error {
	return service.store.MarkNotificationRead(ctx, mcpID, notificationID)
}

// MarkAllNotificationsRead flags every unread notification of the mcp and returns how many changed.
func (service *Service) MarkAllNotificationsRead(ctx context.Context, mcpID MCPID) (int64, error) {
	if _, err := service.store.GetMCP(ctx, mcpID); err != nil {
		return 0, err
	}
	return service.store.MarkAllNotificationsRead(ctx, mcpID)
}

func (service *Service) today() (time.Time, time.Time) {
	now := service.now().In(service.location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, service.location)
	return start, start.AddDate(0, 0, 1)
}

func normalizePaging(page int, pageSize int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = defaultHistoryPageSize
	}
	if page < 1 {
		return 0, 0, fmt.Errorf("%w: page must be at least 1", ErrInvalidPage)
	}
	if pageSize < 1 || pageSize > maxHistoryPageSize {
		return 0, 0, fmt.Errorf("%w: page size must be between 1 and %d", ErrInvalidPage, maxHistoryPageSize)
	}
	return page, pageSize, nil
}

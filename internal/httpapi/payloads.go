package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/mcpledger/pkg/ledger"
	"github.com/shopspring/decimal"
)

// jsonAmount accepts either a decimal string or a JSON number.
type jsonAmount string

func (amount *jsonAmount) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*amount = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*amount = jsonAmount(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return fmt.Errorf("amount must be a string or number: %w", err)
	}
	*amount = jsonAmount(number.String())
	return nil
}

func (amount jsonAmount) positive() (ledger.PositiveAmount, error) {
	return ledger.ParsePositiveAmount(string(amount))
}

// optional returns nil when the amount was omitted.
func (amount jsonAmount) optional() (*ledger.PositiveAmount, error) {
	if amount == "" {
		return nil, nil
	}
	parsed, err := amount.positive()
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// parseMetadata accepts an object or nothing.
func parseMetadata(raw json.RawMessage) (ledger.MetadataJSON, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ledger.NewMetadataJSON("")
	}
	if trimmed[0] != '{' {
		return ledger.MetadataJSON{}, fmt.Errorf("%w: must be an object", ledger.ErrInvalidMetadataJSON)
	}
	return ledger.NewMetadataJSON(string(trimmed))
}

type createMCPRequest struct {
	Name           string     `json:"name"`
	InitialBalance jsonAmount `json:"initial_balance"`
}

type transferRequest struct {
	Amount      jsonAmount      `json:"amount"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata"`
}

type createPartnerRequest struct {
	Name        string     `json:"name"`
	Phone       string     `json:"phone"`
	InitialFund jsonAmount `json:"initial_fund"`
}

type partnerStatusRequest struct {
	Active *bool `json:"active"`
}

type createOrderRequest struct {
	Amount      jsonAmount `json:"amount"`
	Description string     `json:"description"`
	PartnerID   *uint64    `json:"partner_id"`
}

type assignOrderRequest struct {
	PartnerID uint64 `json:"partner_id"`
}

type mcpPayload struct {
	ID        uint64          `json:"id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

func newMCPPayload(mcp ledger.MCP) mcpPayload {
	return mcpPayload{
		ID:        uint64(mcp.ID),
		Name:      mcp.Name,
		Balance:   mcp.Balance,
		CreatedAt: mcp.CreatedAt,
	}
}

type partnerPayload struct {
	ID        uint64          `json:"id"`
	MCPID     uint64          `json:"mcp_id"`
	Name      string          `json:"name"`
	Phone     string          `json:"phone"`
	Active    bool            `json:"active"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

func newPartnerPayload(partner ledger.Partner) partnerPayload {
	return partnerPayload{
		ID:        uint64(partner.ID),
		MCPID:     uint64(partner.MCPID),
		Name:      partner.Name,
		Phone:     partner.Phone,
		Active:    partner.Active,
		Balance:   partner.Balance,
		CreatedAt: partner.CreatedAt,
	}
}

type orderPayload struct {
	ID          uint64          `json:"id"`
	MCPID       uint64          `json:"mcp_id"`
	PartnerID   *uint64         `json:"partner_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func newOrderPayload(order ledger.Order) orderPayload {
	payload := orderPayload{
		ID:          uint64(order.ID),
		MCPID:       uint64(order.MCPID),
		Amount:      order.Amount,
		Description: order.Description,
		Status:      string(order.Status),
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
	if order.PartnerID != nil {
		partnerID := uint64(*order.PartnerID)
		payload.PartnerID = &partnerID
	}
	return payload
}

type accountPayload struct {
	Kind string `json:"kind"`
	ID   uint64 `json:"id"`
}

func newAccountPayload(ref *ledger.AccountRef) *accountPayload {
	if ref == nil {
		return nil
	}
	return &accountPayload{Kind: string(ref.Kind), ID: ref.ID}
}

type transactionPayload struct {
	ID          uint64          `json:"id"`
	MCPID       uint64          `json:"mcp_id"`
	Kind        string          `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Source      *accountPayload `json:"source"`
	Target      *accountPayload `json:"target"`
	OrderID     *uint64         `json:"order_id"`
	Status      string          `json:"status"`
	Metadata    json.RawMessage `json:"metadata"`
	CreatedAt   time.Time       `json:"created_at"`
}

func newTransactionPayload(transaction ledger.Transaction) transactionPayload {
	payload := transactionPayload{
		ID:          uint64(transaction.ID),
		MCPID:       uint64(transaction.MCPID),
		Kind:        string(transaction.Kind),
		Amount:      transaction.Amount,
		Description: transaction.Description,
		Source:      newAccountPayload(transaction.Source),
		Target:      newAccountPayload(transaction.Target),
		Status:      transaction.Status,
		Metadata:    json.RawMessage(transaction.Metadata.String()),
		CreatedAt:   transaction.CreatedAt,
	}
	if transaction.OrderID != nil {
		orderID := uint64(*transaction.OrderID)
		payload.OrderID = &orderID
	}
	return payload
}

type transferPayload struct {
	Transaction transactionPayload `json:"transaction"`
	NewBalance  decimal.Decimal    `json:"new_balance"`
}

func newTransferPayload(result ledger.TransferResult) transferPayload {
	return transferPayload{
		Transaction: newTransactionPayload(result.Transaction),
		NewBalance:  result.NewBalance,
	}
}

type historyPayload struct {
	Transactions []transactionPayload `json:"transactions"`
	Total        int64                `json:"total"`
	Page         int                  `json:"page"`
	PageSize     int                  `json:"page_size"`
}

func newHistoryPayload(page ledger.HistoryPage) historyPayload {
	transactions := make([]transactionPayload, 0, len(page.Transactions))
	for _, transaction := range page.Transactions {
		transactions = append(transactions, newTransactionPayload(transaction))
	}
	return historyPayload{
		Transactions: transactions,
		Total:        page.Total,
		Page:         page.Page,
		PageSize:     page.PageSize,
	}
}

type dashboardPayload struct {
	WalletBalance       decimal.Decimal `json:"wallet_balance"`
	ActivePartners      int             `json:"active_partners"`
	InactivePartners    int             `json:"inactive_partners"`
	OrdersByStatus      map[string]int  `json:"orders_by_status"`
	TodayRevenue        decimal.Decimal `json:"today_revenue"`
	LowBalanceThreshold decimal.Decimal `json:"low_balance_threshold"`
}

func newDashboardPayload(stats ledger.DashboardStats, threshold decimal.Decimal) dashboardPayload {
	orders := make(map[string]int, len(ledger.OrderStatuses))
	for _, status := range ledger.OrderStatuses {
		orders[string(status)] = stats.OrdersByStatus[status]
	}
	return dashboardPayload{
		WalletBalance:       stats.WalletBalance,
		ActivePartners:      stats.ActivePartners,
		InactivePartners:    stats.InactivePartners,
		OrdersByStatus:      orders,
		TodayRevenue:        stats.TodayRevenue,
		LowBalanceThreshold: threshold,
	}
}

type notificationPayload struct {
	ID        uint64    `json:"id"`
	MCPID     uint64    `json:"mcp_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

func newNotificationPayloads(notifications []ledger.Notification) []notificationPayload {
	payloads := make([]notificationPayload, 0, len(notifications))
	for _, notification := range notifications {
		payloads = append(payloads, notificationPayload{
			ID:        uint64(notification.ID),
			MCPID:     uint64(notification.MCPID),
			Kind:      string(notification.Kind),
			Message:   notification.Message,
			Read:      notification.Read,
			CreatedAt: notification.CreatedAt,
		})
	}
	return payloads
}

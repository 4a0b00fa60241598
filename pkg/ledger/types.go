package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MCPID identifies a master collection partner (the tenant).
type MCPID uint64

// PartnerID identifies a pickup partner.
type PartnerID uint64

// OrderID identifies a pickup order.
type OrderID uint64

// TransactionID identifies a ledger transaction.
type TransactionID uint64

// NotificationID identifies a notification.
type NotificationID uint64

// NewMCPID validates a raw mcp id.
func NewMCPID(raw uint64) (MCPID, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidMCPID)
	}
	return MCPID(raw), nil
}

// ParseMCPID parses a decimal mcp id.
func ParseMCPID(raw string) (MCPID, error) {
	value, err := parseID(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidMCPID, err)
	}
	return NewMCPID(value)
}

// NewPartnerID validates a raw partner id.
func NewPartnerID(raw uint64) (PartnerID, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPartnerID)
	}
	return PartnerID(raw), nil
}

// ParsePartnerID parses a decimal partner id.
func ParsePartnerID(raw string) (PartnerID, error) {
	value, err := parseID(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPartnerID, err)
	}
	return NewPartnerID(value)
}

// NewOrderID validates a raw order id.
func NewOrderID(raw uint64) (OrderID, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidOrderID)
	}
	return OrderID(raw), nil
}

// ParseOrderID parses a decimal order id.
func ParseOrderID(raw string) (OrderID, error) {
	value, err := parseID(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidOrderID, err)
	}
	return NewOrderID(value)
}

// ParseNotificationID parses a decimal notification id.
func ParseNotificationID(raw string) (NotificationID, error) {
	value, err := parseID(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidNotificationID, err)
	}
	if value == 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidNotificationID)
	}
	return NotificationID(value), nil
}

func parseID(raw string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
}

// AccountKind distinguishes the two wallet owners.
type AccountKind string

const (
	AccountKindMCP     AccountKind = "mcp"
	AccountKindPartner AccountKind = "partner"
)

// ParseAccountKind validates a raw account kind.
func ParseAccountKind(raw string) (AccountKind, error) {
	switch AccountKind(raw) {
	case AccountKindMCP, AccountKindPartner:
		return AccountKind(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAccountKind, raw)
	}
}

// AccountRef addresses one wallet balance.
type AccountRef struct {
	Kind AccountKind
	ID   uint64
}

// MCPAccount returns the wallet reference of an mcp.
func MCPAccount(id MCPID) AccountRef {
	return AccountRef{Kind: AccountKindMCP, ID: uint64(id)}
}

// PartnerAccount returns the wallet reference of a partner.
func PartnerAccount(id PartnerID) AccountRef {
	return AccountRef{Kind: AccountKindPartner, ID: uint64(id)}
}

// String renders the reference as kind:id.
func (ref AccountRef) String() string {
	return fmt.Sprintf("%s:%d", ref.Kind, ref.ID)
}

// Less orders references by kind then id; lock acquisition follows this order.
func (ref AccountRef) Less(other AccountRef) bool {
	if ref.Kind != other.Kind {
		return ref.Kind < other.Kind
	}
	return ref.ID < other.ID
}

var maxAmountExclusive = decimal.New(1, amountIntegerDigits)

// PositiveAmount is a strictly positive monetary amount.
type PositiveAmount struct {
	value decimal.Decimal
}

// NewPositiveAmount validates that the amount is greater than zero.
func NewPositiveAmount(raw decimal.Decimal) (PositiveAmount, error) {
	if !raw.IsPositive() {
		return PositiveAmount{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if !raw.Equal(raw.Truncate(amountScale)) {
		return PositiveAmount{}, fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, amountScale)
	}
	if raw.GreaterThanOrEqual(maxAmountExclusive) {
		return PositiveAmount{}, fmt.Errorf("%w: must be below %s", ErrInvalidAmount, maxAmountExclusive)
	}
	return PositiveAmount{value: raw}, nil
}

// ParsePositiveAmount parses a decimal string into a positive amount.
func ParsePositiveAmount(raw string) (PositiveAmount, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return PositiveAmount{}, fmt.Errorf("%w: not a number", ErrInvalidAmount)
	}
	return NewPositiveAmount(parsed)
}

// Decimal returns the amount value.
func (amount PositiveAmount) Decimal() decimal.Decimal {
	return amount.value
}

// Negated returns the amount as a debit delta.
func (amount PositiveAmount) Negated() decimal.Decimal {
	return amount.value.Neg()
}

// String returns the decimal representation.
func (amount PositiveAmount) String() string {
	return amount.value.String()
}

// IsZero reports whether the amount was never set.
func (amount PositiveAmount) IsZero() bool {
	return amount.value.IsZero()
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// TransactionKind enumerates ledger transaction kinds.
type TransactionKind string

const (
	TransactionDeposit        TransactionKind = "deposit"
	TransactionWithdrawal     TransactionKind = "withdrawal"
	TransactionPartnerFunding TransactionKind = "partner_funding"
	TransactionOrderPayment   TransactionKind = "order_payment"
)

// ParseTransactionKind validates a raw transaction kind.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch TransactionKind(raw) {
	case TransactionDeposit, TransactionWithdrawal, TransactionPartnerFunding, TransactionOrderPayment:
		return TransactionKind(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransaction, raw)
	}
}

// TransactionStatusCompleted is the only status a recorded transaction carries.
const TransactionStatusCompleted = "completed"

// TransactionInput is what the service hands to the store for appending.
type TransactionInput struct {
	MCPID       MCPID
	Kind        TransactionKind
	Amount      decimal.Decimal
	Description string
	Source      *AccountRef
	Target      *AccountRef
	OrderID     *OrderID
	Metadata    MetadataJSON
	CreatedAt   time.Time
}

// Transaction is a single immutable line in the ledger.
type Transaction struct {
	ID          TransactionID
	MCPID       MCPID
	Kind        TransactionKind
	Amount      decimal.Decimal
	Description string
	Source      *AccountRef
	Target      *AccountRef
	OrderID     *OrderID
	Status      string
	Metadata    MetadataJSON
	CreatedAt   time.Time
}

// TransactionFilter selects a tenant's transactions. Zero times leave the range open.
type TransactionFilter struct {
	MCPID  MCPID
	Kinds  []TransactionKind
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Matches reports whether the transaction passes the filter (ignoring paging).
func (filter TransactionFilter) Matches(transaction Transaction) bool {
	if transaction.MCPID != filter.MCPID {
		return false
	}
	if len(filter.Kinds) > 0 {
		found := false
		for _, kind := range filter.Kinds {
			if kind == transaction.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !filter.From.IsZero() && transaction.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && !transaction.CreatedAt.Before(filter.To) {
		return false
	}
	return true
}

// MCP is the tenant account.
type MCP struct {
	ID        MCPID
	Name      string
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// PartnerInput describes a partner to register.
type PartnerInput struct {
	MCPID     MCPID
	Name      string
	Phone     string
	CreatedAt time.Time
}

// Partner is a pickup partner with its own wallet.
type Partner struct {
	ID        PartnerID
	MCPID     MCPID
	Name      string
	Phone     string
	Active    bool
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// OrderStatus defines the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusAssigned  OrderStatus = "assigned"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{OrderStatusPending, OrderStatusAssigned, OrderStatusCompleted, OrderStatusCancelled}

// ParseOrderStatus validates a raw order status.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	for _, status := range OrderStatuses {
		if string(status) == raw {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOrderStatus, raw)
}

// OrderInput describes an order to create.
type OrderInput struct {
	MCPID       MCPID
	PartnerID   *PartnerID
	Amount      PositiveAmount
	Description string
	Status      OrderStatus
	CreatedAt   time.Time
}

// Order is a pickup order; its amount is charged to the assigned partner on completion.
type Order struct {
	ID          OrderID
	MCPID       MCPID
	PartnerID   *PartnerID
	Amount      decimal.Decimal
	Description string
	Status      OrderStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NotificationKind enumerates feed entries.
type NotificationKind string

const (
	NotificationWalletAlert    NotificationKind = "wallet_alert"
	NotificationOrderCompleted NotificationKind = "order_completed"
	NotificationFundsAdded     NotificationKind = "funds_added"
	NotificationOrderCancelled NotificationKind = "order_cancelled"
	NotificationNewPartner     NotificationKind = "new_partner"
)

// ParseNotificationKind validates a raw notification kind.
func ParseNotificationKind(raw string) (NotificationKind, error) {
	switch NotificationKind(raw) {
	case NotificationWalletAlert, NotificationOrderCompleted, NotificationFundsAdded, NotificationOrderCancelled, NotificationNewPartner:
		return NotificationKind(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidNotification, raw)
	}
}

// NotificationInput is a notification awaiting insertion.
type NotificationInput struct {
	MCPID     MCPID
	Kind      NotificationKind
	Message   string
	CreatedAt time.Time
}

// Notification is an mcp-scoped feed entry.
type Notification struct {
	ID        NotificationID
	MCPID     MCPID
	Kind      NotificationKind
	Message   string
	Read      bool
	CreatedAt time.Time
}

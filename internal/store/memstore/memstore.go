// Package memstore keeps the ledger in process memory. Units of work hold
// per-account mutexes and roll back through an undo journal.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/mcpledger/pkg/ledger"
	"github.com/shopspring/decimal"
)

const (
	errorOperationStore       = "memstore"
	errorSubjectAccount       = "account"
	errorSubjectMCP           = "mcp"
	errorSubjectPartner       = "partner"
	errorSubjectOrder         = "order"
	errorSubjectNotification  = "notification"
	errorCodeGet              = "get"
	errorCodeUpdate           = "update"
	errorCodeUpdateStatus     = "update_status"
	errorCodeContextCancelled = "context"
)

// Store implements ledger.Store in memory.
type Store struct {
	state   *state
	journal *journal
}

type state struct {
	mu            sync.Mutex
	accountLocks  map[ledger.AccountRef]*sync.Mutex
	balances      map[ledger.AccountRef]decimal.Decimal
	mcps          map[ledger.MCPID]ledger.MCP
	partners      map[ledger.PartnerID]ledger.Partner
	orders        map[ledger.OrderID]ledger.Order
	transactions  []ledger.Transaction
	notifications []ledger.Notification

	lastMCPID          uint64
	lastPartnerID      uint64
	lastOrderID        uint64
	lastTransactionID  uint64
	lastNotificationID uint64
}

// journal collects the inverse of every mutation made inside a unit.
type journal struct {
	undo []func(*state)
}

func (journal *journal) record(undo func(*state)) {
	if journal != nil {
		journal.undo = append(journal.undo, undo)
	}
}

// New returns an empty Store.
func New() *Store {
	return &Store{state: &state{
		accountLocks: make(map[ledger.AccountRef]*sync.Mutex),
		balances:     make(map[ledger.AccountRef]decimal.Decimal),
		mcps:         make(map[ledger.MCPID]ledger.MCP),
		partners:     make(map[ledger.PartnerID]ledger.Partner),
		orders:       make(map[ledger.OrderID]ledger.Order),
	}}
}

// WithTx runs fn holding the account locks in a stable order. When fn fails
// every mutation it made is reverted before the locks are released. Nested
// calls join the enclosing unit.
func (store *Store) WithTx(ctx context.Context, locks []ledger.AccountRef, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.journal != nil {
		return fn(ctx, store)
	}
	if err := ctx.Err(); err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeContextCancelled, err)
	}

	mutexes := store.state.lockSet(locks)
	for _, mutex := range mutexes {
		mutex.Lock()
	}
	defer func() {
		for index := len(mutexes) - 1; index >= 0; index-- {
			mutexes[index].Unlock()
		}
	}()

	transaction := &Store{state: store.state, journal: &journal{}}
	err := fn(ctx, transaction)
	if err != nil {
		store.state.rollback(transaction.journal)
	}
	return err
}

func (state *state) lockSet(locks []ledger.AccountRef) []*sync.Mutex {
	ordered := make([]ledger.AccountRef, len(locks))
	copy(ordered, locks)
	sort.Slice(ordered, func(left, right int) bool {
		return ordered[left].Less(ordered[right])
	})

	state.mu.Lock()
	defer state.mu.Unlock()
	mutexes := make([]*sync.Mutex, 0, len(ordered))
	for index, account := range ordered {
		if index > 0 && ordered[index-1] == account {
			continue
		}
		mutex, ok := state.accountLocks[account]
		if !ok {
			mutex = &sync.Mutex{}
			state.accountLocks[account] = mutex
		}
		mutexes = append(mutexes, mutex)
	}
	return mutexes
}

func (state *state) rollback(journal *journal) {
	state.mu.Lock()
	defer state.mu.Unlock()
	for index := len(journal.undo) - 1; index >= 0; index-- {
		journal.undo[index](state)
	}
}

// GetBalance returns the balance of an existing wallet.
func (store *Store) GetBalance(ctx context.Context, account ledger.AccountRef) (decimal.Decimal, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	balance, ok := store.state.balances[account]
	if !ok {
		return decimal.Zero, wrapStoreError(errorSubjectAccount, errorCodeGet, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, account))
	}
	return balance, nil
}

// AdjustBalance adds delta to an existing wallet and returns the new balance.
func (store *Store) AdjustBalance(ctx context.Context, account ledger.AccountRef, delta decimal.Decimal) (decimal.Decimal, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	previous, ok := store.state.balances[account]
	if !ok {
		return decimal.Zero, wrapStoreError(errorSubjectAccount, errorCodeUpdate, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, account))
	}
	updated := previous.Add(delta)
	store.state.balances[account] = updated
	store.journal.record(func(state *state) {
		state.balances[account] = state.balances[account].Sub(delta)
	})
	return updated, nil
}

// AppendTransaction assigns the next transaction id and stores the record.
func (store *Store) AppendTransaction(ctx context.Context, input ledger.TransactionInput) (ledger.Transaction, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	store.state.lastTransactionID++
	transaction := ledger.Transaction{
		ID:          ledger.TransactionID(store.state.lastTransactionID),
		MCPID:       input.MCPID,
		Kind:        input.Kind,
		Amount:      input.Amount,
		Description: input.Description,
		Source:      copyAccountRef(input.Source),
		Target:      copyAccountRef(input.Target),
		OrderID:     copyOrderID(input.OrderID),
		Status:      ledger.TransactionStatusCompleted,
		Metadata:    input.Metadata,
		CreatedAt:   timeOrNow(input.CreatedAt),
	}
	store.state.transactions = append(store.state.transactions, transaction)
	store.journal.record(func(state *state) {
		state.transactions = removeTransaction(state.transactions, transaction.ID)
	})
	return transaction, nil
}

// ListTransactions returns matching transactions newest first.
func (store *Store) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	matches := store.matchingTransactions(filter)
	if filter.Offset > 0 {
		if filter.Offset >= len(matches) {
			return []ledger.Transaction{}, nil
		}
		matches = matches[filter.Offset:]
	}
	if filter.Limit > 0 && len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}
	return matches, nil
}

// CountTransactions counts matching transactions, ignoring paging.
func (store *Store) CountTransactions(ctx context.Context, filter ledger.TransactionFilter) (int64, error) {
	return int64(len(store.matchingTransactions(filter))), nil
}

func (store *Store) matchingTransactions(filter ledger.TransactionFilter) []ledger.Transaction {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	matches := make([]ledger.Transaction, 0)
	for _, transaction := range store.state.transactions {
		if filter.Matches(transaction) {
			matches = append(matches, transaction)
		}
	}
	sort.SliceStable(matches, func(left, right int) bool {
		if !matches[left].CreatedAt.Equal(matches[right].CreatedAt) {
			return matches[left].CreatedAt.After(matches[right].CreatedAt)
		}
		return matches[left].ID > matches[right].ID
	})
	return matches
}

// CreateMCP registers a tenant with a zero balance wallet.
func (store *Store) CreateMCP(ctx context.Context, name string, createdAt time.Time) (ledger.MCP, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	store.state.lastMCPID++
	mcp := ledger.MCP{
		ID:        ledger.MCPID(store.state.lastMCPID),
		Name:      name,
		Balance:   decimal.Zero,
		CreatedAt: timeOrNow(createdAt),
	}
	account := ledger.MCPAccount(mcp.ID)
	store.state.mcps[mcp.ID] = mcp
	store.state.balances[account] = decimal.Zero
	store.journal.record(func(state *state) {
		delete(state.mcps, mcp.ID)
		delete(state.balances, account)
	})
	return mcp, nil
}

// GetMCP returns the tenant with its current balance.
func (store *Store) GetMCP(ctx context.Context, mcpID ledger.MCPID) (ledger.MCP, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	mcp, ok := store.state.mcps[mcpID]
	if !ok {
		return ledger.MCP{}, wrapStoreError(errorSubjectMCP, errorCodeGet, fmt.Errorf("%w: %d", ledger.ErrMCPNotFound, mcpID))
	}
	mcp.Balance = store.state.balances[ledger.MCPAccount(mcpID)]
	return mcp, nil
}

// CreatePartner registers an active partner with a zero balance wallet.
func (store *Store) CreatePartner(ctx context.Context, input ledger.PartnerInput) (ledger.Partner, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	if _, ok := store.state.mcps[input.MCPID]; !ok {
		return ledger.Partner{}, wrapStoreError(errorSubjectMCP, errorCodeGet, fmt.Errorf("%w: %d", ledger.ErrMCPNotFound, input.MCPID))
	}
	store.state.lastPartnerID++
	partner := ledger.Partner{
		ID:        ledger.PartnerID(store.state.lastPartnerID),
		MCPID:     input.MCPID,
		Name:      input.Name,
		Phone:     input.Phone,
		Active:    true,
		Balance:   decimal.Zero,
		CreatedAt: timeOrNow(input.CreatedAt),
	}
	account := ledger.PartnerAccount(partner.ID)
	store.state.partners[partner.ID] = partner
	store.state.balances[account] = decimal.Zero
	store.journal.record(func(state *state) {
		delete(state.partners, partner.ID)
		delete(state.balances, account)
	})
	return partner, nil
}

// GetPartner returns the partner with its current balance.
func (store *Store) GetPartner(ctx context.Context, partnerID ledger.PartnerID) (ledger.Partner, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	partner, ok := store.state.partners[partnerID]
	if !ok {
		return ledger.Partner{}, wrapStoreError(errorSubjectPartner, errorCodeGet, fmt.Errorf("%w: %d", ledger.ErrPartnerNotFound, partnerID))
	}
	partner.Balance = store.state.balances[ledger.PartnerAccount(partnerID)]
	return partner, nil
}

// ListPartners returns the mcp's partners ordered by id.
func (store *Store) ListPartners(ctx context.Context, mcpID ledger.MCPID) ([]ledger.Partner, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	partners := make([]ledger.Partner, 0)
	for _, partner := range store.state.partners {
		if partner.MCPID != mcpID {
			continue
		}
		partner.Balance = store.state.balances[ledger.PartnerAccount(partner.ID)]
		partners = append(partners, partner)
	}
	sort.Slice(partners, func(left, right int) bool {
		return partners[left].ID < partners[right].ID
	})
	return partners, nil
}

// SetPartnerActive flips the partner's active flag.
func (store *Store) SetPartnerActive(ctx context.Context, partnerID ledger.PartnerID, active bool) error {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	partner, ok := store.state.partners[partnerID]
	if !ok {
		return wrapStoreError(errorSubjectPartner, errorCodeUpdate, fmt.Errorf("%w: %d", ledger.ErrPartnerNotFound, partnerID))
	}
	previous := partner.Active
	partner.Active = active
	store.state.partners[partnerID] = partner
	store.journal.record(func(state *state) {
		restored := state.partners[partnerID]
		restored.Active = previous
		state.partners[partnerID] = restored
	})
	return nil
}

// CreateOrder stores a new order.
func (store *Store) CreateOrder(ctx context.Context, input ledger.OrderInput) (ledger.Order, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	store.state.lastOrderID++
	createdAt := timeOrNow(input.CreatedAt)
	status := input.Status
	if status == "" {
		status = ledger.OrderStatusPending
	}
	order := ledger.Order{
		ID:          ledger.OrderID(store.state.lastOrderID),
		MCPID:       input.MCPID,
		PartnerID:   copyPartnerID(input.PartnerID),
		Amount:      input.Amount.Decimal(),
		Description: input.Description,
		Status:      status,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	store.state.orders[order.ID] = order
	store.journal.record(func(state *state) {
		delete(state.orders, order.ID)
	})
	return copyOrder(order), nil
}

// GetOrder returns one order.
func (store *Store) GetOrder(ctx context.Context, orderID ledger.OrderID) (ledger.Order, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	order, ok := store.state.orders[orderID]
	if !ok {
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, fmt.Errorf("%w: %d", ledger.ErrOrderNotFound, orderID))
	}
	return copyOrder(order), nil
}

// ListOrders returns the mcp's orders ordered by id.
func (store *Store) ListOrders(ctx context.Context, mcpID ledger.MCPID) ([]ledger.Order, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	orders := make([]ledger.Order, 0)
	for _, order := range store.state.orders {
		if order.MCPID == mcpID {
			orders = append(orders, copyOrder(order))
		}
	}
	sort.Slice(orders, func(left, right int) bool {
		return orders[left].ID < orders[right].ID
	})
	return orders, nil
}

// AssignOrder sets the order's partner and moves it to assigned.
func (store *Store) AssignOrder(ctx context.Context, orderID ledger.OrderID, partnerID ledger.PartnerID, updatedAt time.Time) error {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	previous, ok := store.state.orders[orderID]
	if !ok {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, fmt.Errorf("%w: %d", ledger.ErrOrderNotFound, orderID))
	}
	if previous.Status != ledger.OrderStatusPending && previous.Status != ledger.OrderStatusAssigned {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, fmt.Errorf("%w: order %d is %s", ledger.ErrOrderStatusConflict, orderID, previous.Status))
	}
	assigned := copyOrder(previous)
	assigned.PartnerID = copyPartnerID(&partnerID)
	assigned.Status = ledger.OrderStatusAssigned
	assigned.UpdatedAt = timeOrNow(updatedAt)
	store.state.orders[orderID] = assigned
	store.journal.record(func(state *state) {
		state.orders[orderID] = previous
	})
	return nil
}

// UpdateOrderStatus moves the order from one status to another while it is
// still held by partnerID.
func (store *Store) UpdateOrderStatus(ctx context.Context, orderID ledger.OrderID, from ledger.OrderStatus, to ledger.OrderStatus, partnerID *ledger.PartnerID, updatedAt time.Time) error {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	previous, ok := store.state.orders[orderID]
	if !ok {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, fmt.Errorf("%w: %d", ledger.ErrOrderNotFound, orderID))
	}
	if previous.Status != from {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, fmt.Errorf("%w: order %d is %s", ledger.ErrOrderStatusConflict, orderID, previous.Status))
	}
	if !samePartner(previous.PartnerID, partnerID) {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, fmt.Errorf("%w: order %d was reassigned", ledger.ErrOrderStatusConflict, orderID))
	}
	updated := copyOrder(previous)
	updated.Status = to
	updated.UpdatedAt = timeOrNow(updatedAt)
	store.state.orders[orderID] = updated
	store.journal.record(func(state *state) {
		state.orders[orderID] = previous
	})
	return nil
}

// InsertNotification stores an unread notification.
func (store *Store) InsertNotification(ctx context.Context, input ledger.NotificationInput) (ledger.Notification, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	store.state.lastNotificationID++
	notification := ledger.Notification{
		ID:        ledger.NotificationID(store.state.lastNotificationID),
		MCPID:     input.MCPID,
		Kind:      input.Kind,
		Message:   input.Message,
		CreatedAt: timeOrNow(input.CreatedAt),
	}
	store.state.notifications = append(store.state.notifications, notification)
	return notification, nil
}

// ListNotifications returns the mcp's notifications newest first.
func (store *Store) ListNotifications(ctx context.Context, mcpID ledger.MCPID, unreadOnly bool) ([]ledger.Notification, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	notifications := make([]ledger.Notification, 0)
	for index := len(store.state.notifications) - 1; index >= 0; index-- {
		notification := store.state.notifications[index]
		if notification.MCPID != mcpID || (unreadOnly && notification.Read) {
			continue
		}
		notifications = append(notifications, notification)
	}
	return notifications, nil
}

// MarkNotificationRead flags one of the mcp's notifications as read.
func (store *Store) MarkNotificationRead(ctx context.Context, mcpID ledger.MCPID, notificationID ledger.NotificationID) error {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	for index := range store.state.notifications {
		notification := &store.state.notifications[index]
		if notification.ID == notificationID && notification.MCPID == mcpID {
			notification.Read = true
			return nil
		}
	}
	return wrapStoreError(errorSubjectNotification, errorCodeUpdate, fmt.Errorf("%w: %d", ledger.ErrNotificationNotFound, notificationID))
}

// MarkAllNotificationsRead flags every unread notification of the mcp.
func (store *Store) MarkAllNotificationsRead(ctx context.Context, mcpID ledger.MCPID) (int64, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	var updated int64
	for index := range store.state.notifications {
		notification := &store.state.notifications[index]
		if notification.MCPID == mcpID && !notification.Read {
			notification.Read = true
			updated++
		}
	}
	return updated, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func removeTransaction(transactions []ledger.Transaction, transactionID ledger.TransactionID) []ledger.Transaction {
	for index := len(transactions) - 1; index >= 0; index-- {
		if transactions[index].ID == transactionID {
			return append(transactions[:index], transactions[index+1:]...)
		}
	}
	return transactions
}

func timeOrNow(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value
}

func copyAccountRef(account *ledger.AccountRef) *ledger.AccountRef {
	if account == nil {
		return nil
	}
	value := *account
	return &value
}

func copyOrderID(orderID *ledger.OrderID) *ledger.OrderID {
	if orderID == nil {
		return nil
	}
	value := *orderID
	return &value
}

func copyPartnerID(partnerID *ledger.PartnerID) *ledger.PartnerID {
	if partnerID == nil {
		return nil
	}
	value := *partnerID
	return &value
}

func copyOrder(order ledger.Order) ledger.Order {
	order.PartnerID = copyPartnerID(order.PartnerID)
	return order
}

func samePartner(left *ledger.PartnerID, right *ledger.PartnerID) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return *left == *right
}

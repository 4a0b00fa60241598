package pgstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/mcpledger/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgSerializationFailureCode = "40001"
	pgDeadlockDetectedCode     = "40P01"
	maxTransactionAttempts     = 3
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectMCP            = "mcp"
	errorSubjectPartner        = "partner"
	errorSubjectOrder          = "order"
	errorSubjectTransaction    = "transaction"
	errorSubjectNotification   = "notification"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
	errorCodeCount             = "count"
	errorCodeCreate            = "create"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLock              = "lock"
	errorCodeUpdate            = "update"
	errorCodeUpdateStatus      = "update_status"

	sqlInsertMCP = `
		insert into mcps(name, balance, created_at) values($1, 0, $2)
		returning id, name, balance::text, created_at
	`

	sqlSelectMCP = `
		select id, name, balance::text, created_at from mcps where id = $1
	`

	sqlInsertPartner = `
		insert into partners(mcp_id, name, phone, active, balance, created_at)
		values($1, $2, $3, true, 0, $4)
		returning id, mcp_id, name, phone, active, balance::text, created_at
	`

	sqlSelectPartner = `
		select id, mcp_id, name, phone, active, balance::text, created_at from partners where id = $1
	`

	sqlListPartners = `
		select id, mcp_id, name, phone, active, balance::text, created_at from partners
		where mcp_id = $1 order by id
	`

	sqlUpdatePartnerActive = `update partners set active = $2 where id = $1`

	sqlInsertOrder = `
		insert into orders(mcp_id, partner_id, amount, description, status, created_at, updated_at)
		values($1, $2, $3::numeric, $4, $5, $6, $6)
		returning id, mcp_id, partner_id, amount::text, description, status, created_at, updated_at
	`

	sqlSelectOrder = `
		select id, mcp_id, partner_id, amount::text, description, status, created_at, updated_at
		from orders where id = $1
	`

	sqlListOrders = `
		select id, mcp_id, partner_id, amount::text, description, status, created_at, updated_at
		from orders where mcp_id = $1 order by id
	`

	sqlAssignOrder = `
		update orders set partner_id = $2, status = 'assigned', updated_at = $3
		where id = $1 and status in ('pending', 'assigned')
	`

	sqlUpdateOrderStatus = `
		update orders set status = $3, updated_at = $4
		where id = $1 and status = $2 and partner_id is not distinct from $5::bigint
	`

	sqlOrderExists = `select exists(select 1 from orders where id = $1)`

	sqlInsertTransaction = `
		insert into transactions(
			mcp_id, kind, amount, description, source_kind, source_id, target_kind, target_id,
			order_id, status, metadata, created_at
		)
		values($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, coalesce(nullif($11,''),'{}')::jsonb, $12)
		returning id, created_at
	`

	sqlTransactionColumns = `
		id, mcp_id, kind, amount::text, description, source_kind, source_id, target_kind, target_id,
		order_id, status, coalesce(metadata::text,'{}'), created_at
	`

	sqlInsertNotification = `
		insert into notifications(mcp_id, kind, message, is_read, created_at)
		values($1, $2, $3, false, $4)
		returning id, mcp_id, kind, message, is_read, created_at
	`

	sqlListNotifications = `
		select id, mcp_id, kind, message, is_read, created_at from notifications
		where mcp_id = $1 and ($2 = false or is_read = false)
		order by created_at desc, id desc
	`

	sqlMarkNotificationRead = `
		update notifications set is_read = true where id = $1 and mcp_id = $2 returning id
	`

	sqlMarkAllNotificationsRead = `
		update notifications set is_read = true where mcp_id = $1 and is_read = false
	`
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool. Inside WithTx
// the same type runs against the open transaction.
type Store struct {
	pool *pgxpool.Pool
	db   querier
	inTx bool
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// WithTx runs fn inside a transaction after locking the listed account rows
// in a stable order. Serialization failures and deadlocks are retried.
func (store *Store) WithTx(ctx context.Context, locks []ledger.AccountRef, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.inTx {
		if err := lockAccounts(ctx, store.db, locks); err != nil {
			return err
		}
		return fn(ctx, store)
	}
	var err error
	for attempt := 0; attempt < maxTransactionAttempts; attempt++ {
		err = store.runTx(ctx, locks, fn)
		if !isTransientConflict(err) {
			return err
		}
	}
	return err
}

func (store *Store) runTx(ctx context.Context, locks []ledger.AccountRef, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := lockAccounts(ctx, tx, locks); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := fn(ctx, &Store{pool: store.pool, db: tx, inTx: true}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func lockAccounts(ctx context.Context, db querier, locks []ledger.AccountRef) error {
	ordered := make([]ledger.AccountRef, len(locks))
	copy(ordered, locks)
	sort.Slice(ordered, func(left, right int) bool {
		return ordered[left].Less(ordered[right])
	})
	for _, account := range ordered {
		var id int64
		err := db.QueryRow(ctx, fmt.Sprintf("select id from %s where id = $1 for update", accountTable(account)), account.ID).Scan(&id)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return wrapStoreError(errorSubjectAccount, errorCodeLock, err)
		}
	}
	return nil
}

// GetBalance returns the balance column of the wallet owner.
func (store *Store) GetBalance(ctx context.Context, account ledger.AccountRef) (decimal.Decimal, error) {
	balance, err := readBalance(ctx, store.db, account)
	if err != nil {
		return decimal.Zero, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return balance, nil
}

// AdjustBalance adds delta to the wallet owner's balance and returns the result.
func (store *Store) AdjustBalance(ctx context.Context, account ledger.AccountRef, delta decimal.Decimal) (decimal.Decimal, error) {
	var raw string
	err := store.db.QueryRow(ctx,
		fmt.Sprintf("update %s set balance = balance + $2::numeric where id = $1 returning balance::text", accountTable(account)),
		account.ID, delta.String(),
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, wrapStoreError(errorSubjectAccount, errorCodeUpdate, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, account))
	}
	if err != nil {
		return decimal.Zero, wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return balance, nil
}

func readBalance(ctx context.Context, db querier, account ledger.AccountRef) (decimal.Decimal, error) {
	var raw string
	err := db.QueryRow(ctx, fmt.Sprintf("select balance::text from %s where id = $1", accountTable(account)), account.ID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, account)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

// AppendTransaction inserts one immutable transaction row.
func (store *Store) AppendTransaction(ctx context.Context, input ledger.TransactionInput) (ledger.Transaction, error) {
	sourceKind, sourceID := accountColumns(input.Source)
	targetKind, targetID := accountColumns(input.Target)
	var orderID *int64
	if input.OrderID != nil {
		value := int64(*input.OrderID)
		orderID = &value
	}
	transaction := ledger.Transaction{
		MCPID:       input.MCPID,
		Kind:        input.Kind,
		Amount:      input.Amount,
		Description: input.Description,
		Source:      input.Source,
		Target:      input.Target,
		OrderID:     input.OrderID,
		Status:      ledger.TransactionStatusCompleted,
		Metadata:    input.Metadata,
	}
	var id int64
	err := store.db.QueryRow(ctx, sqlInsertTransaction,
		int64(input.MCPID), string(input.Kind), input.Amount.String(), input.Description,
		sourceKind, sourceID, targetKind, targetID, orderID,
		ledger.TransactionStatusCompleted, input.Metadata.String(), utcOrNow(input.CreatedAt),
	).Scan(&id, &transaction.CreatedAt)
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	transaction.ID = ledger.TransactionID(id)
	transaction.CreatedAt = transaction.CreatedAt.UTC()
	return transaction, nil
}

// ListTransactions returns matching rows ordered by created_at desc, id desc.
func (store *Store) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	where, arguments := transactionWhere(filter)
	query := "select " + sqlTransactionColumns + " from transactions where " + where + " order by created_at desc, id desc"
	if filter.Limit > 0 {
		arguments = append(arguments, filter.Limit)
		query += fmt.Sprintf(" limit $%d", len(arguments))
	}
	if filter.Offset > 0 {
		arguments = append(arguments, filter.Offset)
		query += fmt.Sprintf(" offset $%d", len(arguments))
	}
	rows, err := store.db.Query(ctx, query, arguments...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	transactions := make([]ledger.Transaction, 0)
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

// CountTransactions counts matching rows, ignoring paging.
func (store *Store) CountTransactions(ctx context.Context, filter ledger.TransactionFilter) (int64, error) {
	where, arguments := transactionWhere(filter)
	var count int64
	if err := store.db.QueryRow(ctx, "select count(*) from transactions where "+where, arguments...).Scan(&count); err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeCount, err)
	}
	return count, nil
}

// transactionWhere renders the filter as a parameterized where clause.
func transactionWhere(filter ledger.TransactionFilter) (string, []any) {
	clauses := []string{"mcp_id = $1"}
	arguments := []any{int64(filter.MCPID)}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, 0, len(filter.Kinds))
		for _, kind := range filter.Kinds {
			kinds = append(kinds, string(kind))
		}
		arguments = append(arguments, kinds)
		clauses = append(clauses, fmt.Sprintf("kind = any($%d)", len(arguments)))
	}
	if !filter.From.IsZero() {
		arguments = append(arguments, filter.From.UTC())
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(arguments)))
	}
	if !filter.To.IsZero() {
		arguments = append(arguments, filter.To.UTC())
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(arguments)))
	}
	return strings.Join(clauses, " and "), arguments
}

// CreateMCP inserts a tenant with a zero balance.
func (store *Store) CreateMCP(ctx context.Context, name string, createdAt time.Time) (ledger.MCP, error) {
	mcp, err := scanMCP(store.db.QueryRow(ctx, sqlInsertMCP, name, utcOrNow(createdAt)))
	if err != nil {
		return ledger.MCP{}, wrapStoreError(errorSubjectMCP, errorCodeCreate, err)
	}
	return mcp, nil
}

// GetMCP loads a tenant.
func (store *Store) GetMCP(ctx context.Context, mcpID ledger.MCPID) (ledger.MCP, error) {
	mcp, err := scanMCP(store.db.QueryRow(ctx, sqlSelectMCP, int64(mcpID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.MCP{}, wrapStoreError(errorSubjectMCP, errorCodeGet, fmt.Errorf("%w: %d", ledger.ErrMCPNotFound, mcpID))
	}
	if err != nil {
		return ledger.MCP{}, wrapStoreError(errorSubjectMCP, errorCodeGet, err)
	}
	return mcp, nil
}

// CreatePartner inserts an active partner with a zero balance.
func (store *Store) CreatePartner(ctx context.Context, input ledger.PartnerInput) (ledger.Partner, error) {
	partner, err := scanPartner(store.db.QueryRow(ctx, sqlInsertPartner, int64(input.MCPID), input.Name, input.Phone, utcOrNow(input.CreatedAt)))
	if err != nil {
		return ledger.Partner{}, wrapStoreError(errorSubjectPartner, errorCodeCreate, err)
	}
	return partner, nil
}

// GetPartner loads a partner.
func (store *Store) GetPartner(ctx context.Context, partnerID ledger.PartnerID) (ledger.Partner, error) {
	partner, err := scanPartner(store.db.QueryRow(ctx, sqlSelectPartner, int64(partnerID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Partner{}, wrapStoreError(errorSubjectPartner, errorCodeGet, fmt.Errorf("%w: %d", ledger.ErrPartnerNotFound, partnerID))
	}
	if err != nil {
		return ledger.Partner{}, wrapStoreError(errorSubjectPartner, errorCodeGet, err)
	}
	return partner, nil
}

// ListPartners returns the tenant's partners ordered by id.
func (store *Store) ListPartners(ctx context.Context, mcpID ledger.MCPID) ([]ledger.Partner, error) {
	rows, err := store.db.Query(ctx, sqlListPartners, int64(mcpID))
	if err != nil {
		return nil, wrapStoreError(errorSubjectPartner, errorCodeList, err)
	}
	defer rows.Close()
	partners := make([]ledger.Partner, 0)
	for rows.Next() {
		partner, err := scanPartner(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPartner, errorCodeInvalid, err)
		}
		partners = append(partners, partner)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectPartner, errorCodeList, err)
	}
	return partners, nil
}

// SetPartnerActive updates the active flag only.
func (store *Store) SetPartnerActive(ctx context.Context, partnerID ledger.PartnerID, active bool) error {
	tag, err := store.db.Exec(ctx, sqlUpdatePartnerActive, int64(partnerID), active)
	if err != nil {
		return wrapStoreError(errorSubjectPartner, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectPartner, errorCodeUpdate, fmt.Errorf("%w: %d", ledger.ErrPartnerNotFound, partnerID))
	}
	return nil
}

// CreateOrder inserts an order, pending unless the input says otherwise.
func (store *Store) CreateOrder(ctx context.Context, input ledger.OrderInput) (ledger.Order, error) {
	status := input.Status
	if status == "" {
		status = ledger.OrderStatusPending
	}
	var partnerID *int64
	if input.PartnerID != nil {
		value := int64(*input.PartnerID)
		partnerID = &value
	}
	order, err := scanOrder(store.db.QueryRow(ctx, sqlInsertOrder,
		int64(input.MCPID), partnerID, input.Amount.String(), input.Description, string(status), utcOrNow(input.CreatedAt),
	))
	if err != nil {
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
	}
	return order, nil
}

// GetOrder loads an order.
func (store *Store) GetOrder(ctx context.Context, orderID ledger.OrderID) (ledger.Order, error) {
	order, err := scanOrder(store.db.QueryRow(ctx, sqlSelectOrder, int64(orderID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, fmt.Errorf("%w: %d", ledger.ErrOrderNotFound, orderID))
	}
	if err != nil {
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	return order, nil
}

// ListOrders returns the tenant's orders ordered by id.
func (store *Store) ListOrders(ctx context.Context, mcpID ledger.MCPID) ([]ledger.Order, error) {
	rows, err := store.db.Query(ctx, sqlListOrders, int64(mcpID))
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	defer rows.Close()
	orders := make([]ledger.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	return orders, nil
}

// AssignOrder sets the partner of an open order and marks it assigned.
func (store *Store) AssignOrder(ctx context.Context, orderID ledger.OrderID, partnerID ledger.PartnerID, updatedAt time.Time) error {
	tag, err := store.db.Exec(ctx, sqlAssignOrder, int64(orderID), int64(partnerID), utcOrNow(updatedAt))
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, store.missingOrClosed(ctx, orderID))
	}
	return nil
}

// UpdateOrderStatus is a compare-and-set on the status and partner columns.
func (store *Store) UpdateOrderStatus(ctx context.Context, orderID ledger.OrderID, from ledger.OrderStatus, to ledger.OrderStatus, partnerID *ledger.PartnerID, updatedAt time.Time) error {
	var expectedPartner *int64
	if partnerID != nil {
		value := int64(*partnerID)
		expectedPartner = &value
	}
	tag, err := store.db.Exec(ctx, sqlUpdateOrderStatus, int64(orderID), string(from), string(to), utcOrNow(updatedAt), expectedPartner)
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, store.missingOrClosed(ctx, orderID))
	}
	return nil
}

func (store *Store) missingOrClosed(ctx context.Context, orderID ledger.OrderID) error {
	var exists bool
	if err := store.db.QueryRow(ctx, sqlOrderExists, int64(orderID)).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %d", ledger.ErrOrderNotFound, orderID)
	}
	return fmt.Errorf("%w: %d", ledger.ErrOrderStatusConflict, orderID)
}

// InsertNotification stores an unread notification.
func (store *Store) InsertNotification(ctx context.Context, input ledger.NotificationInput) (ledger.Notification, error) {
	notification, err := scanNotification(store.db.QueryRow(ctx, sqlInsertNotification,
		int64(input.MCPID), string(input.Kind), input.Message, utcOrNow(input.CreatedAt),
	))
	if err != nil {
		return ledger.Notification{}, wrapStoreError(errorSubjectNotification, errorCodeInsert, err)
	}
	return notification, nil
}

// ListNotifications returns the tenant's feed newest first.
func (store *Store) ListNotifications(ctx context.Context, mcpID ledger.MCPID, unreadOnly bool) ([]ledger.Notification, error) {
	rows, err := store.db.Query(ctx, sqlListNotifications, int64(mcpID), unreadOnly)
	if err != nil {
		return nil, wrapStoreError(errorSubjectNotification, errorCodeList, err)
	}
	defer rows.Close()
	notifications := make([]ledger.Notification, 0)
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectNotification, errorCodeInvalid, err)
		}
		notifications = append(notifications, notification)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectNotification, errorCodeList, err)
	}
	return notifications, nil
}

// MarkNotificationRead flags one of the tenant's notifications as read.
func (store *Store) MarkNotificationRead(ctx context.Context, mcpID ledger.MCPID, notificationID ledger.NotificationID) error {
	var id int64
	err := store.db.QueryRow(ctx, sqlMarkNotificationRead, int64(notificationID), int64(mcpID)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return wrapStoreError(errorSubjectNotification, errorCodeUpdate, fmt.Errorf("%w: %d", ledger.ErrNotificationNotFound, notificationID))
	}
	if err != nil {
		return wrapStoreError(errorSubjectNotification, errorCodeUpdate, err)
	}
	return nil
}

// MarkAllNotificationsRead flags every unread notification of the tenant.
func (store *Store) MarkAllNotificationsRead(ctx context.Context, mcpID ledger.MCPID) (int64, error) {
	tag, err := store.db.Exec(ctx, sqlMarkAllNotificationsRead, int64(mcpID))
	if err != nil {
		return 0, wrapStoreError(errorSubjectNotification, errorCodeUpdate, err)
	}
	return tag.RowsAffected(), nil
}

func scanMCP(row pgx.Row) (ledger.MCP, error) {
	var (
		id      int64
		mcp     ledger.MCP
		balance string
	)
	if err := row.Scan(&id, &mcp.Name, &balance, &mcp.CreatedAt); err != nil {
		return ledger.MCP{}, err
	}
	parsed, err := decimal.NewFromString(balance)
	if err != nil {
		return ledger.MCP{}, err
	}
	mcp.ID = ledger.MCPID(id)
	mcp.Balance = parsed
	return mcp, nil
}

func scanPartner(row pgx.Row) (ledger.Partner, error) {
	var (
		id      int64
		mcpID   int64
		partner ledger.Partner
		balance string
	)
	if err := row.Scan(&id, &mcpID, &partner.Name, &partner.Phone, &partner.Active, &balance, &partner.CreatedAt); err != nil {
		return ledger.Partner{}, err
	}
	parsed, err := decimal.NewFromString(balance)
	if err != nil {
		return ledger.Partner{}, err
	}
	partner.ID = ledger.PartnerID(id)
	partner.MCPID = ledger.MCPID(mcpID)
	partner.Balance = parsed
	return partner, nil
}

func scanOrder(row pgx.Row) (ledger.Order, error) {
	var (
		id        int64
		mcpID     int64
		partnerID *int64
		amount    string
		status    string
		order     ledger.Order
	)
	if err := row.Scan(&id, &mcpID, &partnerID, &amount, &order.Description, &status, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return ledger.Order{}, err
	}
	parsedStatus, err := ledger.ParseOrderStatus(status)
	if err != nil {
		return ledger.Order{}, err
	}
	parsedAmount, err := decimal.NewFromString(amount)
	if err != nil {
		return ledger.Order{}, err
	}
	order.ID = ledger.OrderID(id)
	order.MCPID = ledger.MCPID(mcpID)
	order.Amount = parsedAmount
	order.Status = parsedStatus
	if partnerID != nil {
		value := ledger.PartnerID(*partnerID)
		order.PartnerID = &value
	}
	return order, nil
}

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var (
		id          int64
		mcpID       int64
		kind        string
		amount      string
		sourceKind  *string
		sourceID    *int64
		targetKind  *string
		targetID    *int64
		orderID     *int64
		metadata    string
		transaction ledger.Transaction
	)
	err := row.Scan(&id, &mcpID, &kind, &amount, &transaction.Description,
		&sourceKind, &sourceID, &targetKind, &targetID, &orderID,
		&transaction.Status, &metadata, &transaction.CreatedAt,
	)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.Kind, err = ledger.ParseTransactionKind(kind); err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.Amount, err = decimal.NewFromString(amount); err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.Metadata, err = ledger.NewMetadataJSON(metadata); err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.Source, err = accountRef(sourceKind, sourceID); err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.Target, err = accountRef(targetKind, targetID); err != nil {
		return ledger.Transaction{}, err
	}
	transaction.ID = ledger.TransactionID(id)
	transaction.MCPID = ledger.MCPID(mcpID)
	if orderID != nil {
		value := ledger.OrderID(*orderID)
		transaction.OrderID = &value
	}
	return transaction, nil
}

func scanNotification(row pgx.Row) (ledger.Notification, error) {
	var (
		id           int64
		mcpID        int64
		kind         string
		notification ledger.Notification
	)
	if err := row.Scan(&id, &mcpID, &kind, &notification.Message, &notification.Read, &notification.CreatedAt); err != nil {
		return ledger.Notification{}, err
	}
	parsedKind, err := ledger.ParseNotificationKind(kind)
	if err != nil {
		return ledger.Notification{}, err
	}
	notification.ID = ledger.NotificationID(id)
	notification.MCPID = ledger.MCPID(mcpID)
	notification.Kind = parsedKind
	return notification, nil
}

func accountColumns(ref *ledger.AccountRef) (*string, *int64) {
	if ref == nil {
		return nil, nil
	}
	kind := string(ref.Kind)
	id := int64(ref.ID)
	return &kind, &id
}

func accountRef(kind *string, id *int64) (*ledger.AccountRef, error) {
	if kind == nil || id == nil {
		return nil, nil
	}
	parsedKind, err := ledger.ParseAccountKind(*kind)
	if err != nil {
		return nil, err
	}
	return &ledger.AccountRef{Kind: parsedKind, ID: uint64(*id)}, nil
}

func accountTable(account ledger.AccountRef) string {
	if account.Kind == ledger.AccountKindPartner {
		return "partners"
	}
	return "mcps"
}

func utcOrNow(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value.UTC()
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isTransientConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode || pgErr.Code == pgDeadlockDetectedCode
	}
	return false
}

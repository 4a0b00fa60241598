package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MarkoPoloResearchLab/mcpledger/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON        = "{}"
	pgSerializationFailureCode = "40001"
	pgDeadlockDetectedCode     = "40P01"
	sqliteBusyCode             = 5
	sqliteLockedCode           = 6
	maxTransactionAttempts     = 3
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectMCP            = "mcp"
	errorSubjectPartner        = "partner"
	errorSubjectOrder          = "order"
	errorSubjectTransaction    = "transaction"
	errorSubjectNotification   = "notification"
	errorCodeCount             = "count"
	errorCodeCreate            = "create"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLock              = "lock"
	errorCodeUpdate            = "update"
	errorCodeUpdateStatus      = "update_status"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db   *gorm.DB
	inTx bool
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a database transaction after row-locking the
// listed accounts in a stable order. Transactions aborted by lock contention
// are retried.
func (store *Store) WithTx(ctx context.Context, locks []ledger.AccountRef, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.inTx {
		if err := lockAccounts(ctx, store.db, locks); err != nil {
			return err
		}
		return fn(ctx, store)
	}
	var err error
	for attempt := 0; attempt < maxTransactionAttempts; attempt++ {
		err = store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
			if err := lockAccounts(ctx, transaction, locks); err != nil {
				return err
			}
			return fn(ctx, &Store{db: transaction, inTx: true})
		})
		if !isTransientConflict(err) {
			return err
		}
	}
	return err
}

func lockAccounts(ctx context.Context, db *gorm.DB, locks []ledger.AccountRef) error {
	ordered := make([]ledger.AccountRef, len(locks))
	copy(ordered, locks)
	sort.Slice(ordered, func(left, right int) bool {
		return ordered[left].Less(ordered[right])
	})
	for _, account := range ordered {
		var ids []uint64
		err := db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Model(accountModel(account)).
			Where("id = ?", account.ID).
			Pluck("id", &ids).Error
		if err != nil {
			return wrapStoreError(errorSubjectAccount, errorCodeLock, err)
		}
	}
	return nil
}

// GetBalance returns the balance column of the wallet owner.
func (store *Store) GetBalance(ctx context.Context, account ledger.AccountRef) (decimal.Decimal, error) {
	balance, err := store.readBalance(ctx, store.db, account)
	if err != nil {
		return decimal.Zero, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return balance, nil
}

// AdjustBalance adds delta to the wallet owner's balance under a row lock.
func (store *Store) AdjustBalance(ctx context.Context, account ledger.AccountRef, delta decimal.Decimal) (decimal.Decimal, error) {
	locked := store.db.Clauses(clause.Locking{Strength: "UPDATE"})
	current, err := store.readBalance(ctx, locked, account)
	if err != nil {
		return decimal.Zero, wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	updated := current.Add(delta)
	result := store.db.WithContext(ctx).
		Model(accountModel(account)).
		Where("id = ?", account.ID).
		Update("balance", updated)
	if result.Error != nil {
		return decimal.Zero, wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	return updated, nil
}

func (store *Store) readBalance(ctx context.Context, db *gorm.DB, account ledger.AccountRef) (decimal.Decimal, error) {
	var balances []decimal.Decimal
	err := db.WithContext(ctx).
		Model(accountModel(account)).
		Where("id = ?", account.ID).
		Pluck("balance", &balances).Error
	if err != nil {
		return decimal.Zero, err
	}
	if len(balances) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, account)
	}
	return balances[0], nil
}

// AppendTransaction inserts one immutable transaction row.
func (store *Store) AppendTransaction(ctx context.Context, input ledger.TransactionInput) (ledger.Transaction, error) {
	row := Transaction{
		MCPID:       uint64(input.MCPID),
		Kind:        string(input.Kind),
		Amount:      newAmount(input.Amount),
		Description: input.Description,
		Status:      ledger.TransactionStatusCompleted,
		Metadata:    datatypesJSON(input.Metadata.String()),
		CreatedAt:   utcOrNow(input.CreatedAt),
	}
	if input.Source != nil {
		kind := string(input.Source.Kind)
		id := input.Source.ID
		row.SourceKind, row.SourceID = &kind, &id
	}
	if input.Target != nil {
		kind := string(input.Target.Kind)
		id := input.Target.ID
		row.TargetKind, row.TargetID = &kind, &id
	}
	if input.OrderID != nil {
		orderID := uint64(*input.OrderID)
		row.OrderID = &orderID
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	transaction, err := mapTransaction(row)
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, nil
}

// ListTransactions returns matching rows ordered by created_at desc, id desc.
func (store *Store) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	query := store.transactionQuery(ctx, filter).Order("created_at DESC").Order("id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var rows []Transaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

// CountTransactions counts matching rows, ignoring paging.
func (store *Store) CountTransactions(ctx context.Context, filter ledger.TransactionFilter) (int64, error) {
	var count int64
	if err := store.transactionQuery(ctx, filter).Count(&count).Error; err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) transactionQuery(ctx context.Context, filter ledger.TransactionFilter) *gorm.DB {
	query := store.db.WithContext(ctx).Model(&Transaction{}).Where("mcp_id = ?", uint64(filter.MCPID))
	if len(filter.Kinds) > 0 {
		kinds := make([]string, 0, len(filter.Kinds))
		for _, kind := range filter.Kinds {
			kinds = append(kinds, string(kind))
		}
		query = query.Where("kind IN ?", kinds)
	}
	if !filter.From.IsZero() {
		query = query.Where("created_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query = query.Where("created_at < ?", filter.To.UTC())
	}
	return query
}

// CreateMCP inserts a tenant with a zero balance.
func (store *Store) CreateMCP(ctx context.Context, name string, createdAt time.Time) (ledger.MCP, error) {
	row := MCP{Name: name, Balance: newAmount(decimal.Zero), CreatedAt: utcOrNow(createdAt)}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ledger.MCP{}, wrapStoreError(errorSubjectMCP, errorCodeCreate, err)
	}
	return mapMCP(row), nil
}

// GetMCP loads a tenant.
func (store *Store) GetMCP(ctx context.Context, mcpID ledger.MCPID) (ledger.MCP, error) {
	var row MCP
	err := store.db.WithContext(ctx).Where("id = ?", uint64(mcpID)).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.MCP{}, wrapStoreError(errorSubjectMCP, errorCodeGet, fmt.Errorf("%w: %d", ledger.ErrMCPNotFound, mcpID))
		}
		return ledger.MCP{}, wrapStoreError(errorSubjectMCP, errorCodeGet, err)
	}
	return mapMCP(row), nil
}

// CreatePartner inserts an active partner with a zero balance.
func (store *Store) CreatePartner(ctx context.Context, input ledger.PartnerInput) (ledger.Partner, error) {
	row := Partner{
		MCPID:     uint64(input.MCPID),
		Name:      input.Name,
		Phone:     input.Phone,
		Active:    true,
		Balance:   newAmount(decimal.Zero),
		CreatedAt: utcOrNow(input.CreatedAt),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ledger.Partner{}, wrapStoreError(errorSubjectPartner, errorCodeCreate, err)
	}
	return mapPartner(row), nil
}

// GetPartner loads a partner.
func (store *Store) GetPartner(ctx context.Context, partnerID ledger.PartnerID) (ledger.Partner, error) {
	var row Partner
	err := store.db.WithContext(ctx).Where("id = ?", uint64(partnerID)).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Partner{}, wrapStoreError(errorSubjectPartner, errorCodeGet, fmt.Errorf("%w: %d", ledger.ErrPartnerNotFound, partnerID))
		}
		return ledger.Partner{}, wrapStoreError(errorSubjectPartner, errorCodeGet, err)
	}
	return mapPartner(row), nil
}

// ListPartners returns the tenant's partners ordered by id.
func (store *Store) ListPartners(ctx context.Context, mcpID ledger.MCPID) ([]ledger.Partner, error) {
	var rows []Partner
	if err := store.db.WithContext(ctx).Where("mcp_id = ?", uint64(mcpID)).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectPartner, errorCodeList, err)
	}
	partners := make([]ledger.Partner, 0, len(rows))
	for _, row := range rows {
		partners = append(partners, mapPartner(row))
	}
	return partners, nil
}

// SetPartnerActive updates the active flag only.
func (store *Store) SetPartnerActive(ctx context.Context, partnerID ledger.PartnerID, active bool) error {
	result := store.db.WithContext(ctx).
		Model(&Partner{}).
		Where("id = ?", uint64(partnerID)).
		Update("active", active)
	if result.Error != nil {
		return wrapStoreError(errorSubjectPartner, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPartner, errorCodeUpdate, fmt.Errorf("%w: %d", ledger.ErrPartnerNotFound, partnerID))
	}
	return nil
}

// CreateOrder inserts an order, pending unless the input says otherwise.
func (store *Store) CreateOrder(ctx context.Context, input ledger.OrderInput) (ledger.Order, error) {
	createdAt := utcOrNow(input.CreatedAt)
	status := input.Status
	if status == "" {
		status = ledger.OrderStatusPending
	}
	row := Order{
		MCPID:       uint64(input.MCPID),
		Amount:      newAmount(input.Amount.Decimal()),
		Description: input.Description,
		Status:      string(status),
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	if input.PartnerID != nil {
		partnerID := uint64(*input.PartnerID)
		row.PartnerID = &partnerID
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
	}
	order, err := mapOrder(row)
	if err != nil {
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return order, nil
}

// GetOrder loads an order.
func (store *Store) GetOrder(ctx context.Context, orderID ledger.OrderID) (ledger.Order, error) {
	var row Order
	err := store.db.WithContext(ctx).Where("id = ?", uint64(orderID)).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, fmt.Errorf("%w: %d", ledger.ErrOrderNotFound, orderID))
		}
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	order, err := mapOrder(row)
	if err != nil {
		return ledger.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return order, nil
}

// ListOrders returns the tenant's orders ordered by id.
func (store *Store) ListOrders(ctx context.Context, mcpID ledger.MCPID) ([]ledger.Order, error) {
	var rows []Order
	if err := store.db.WithContext(ctx).Where("mcp_id = ?", uint64(mcpID)).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	orders := make([]ledger.Order, 0, len(rows))
	for _, row := range rows {
		order, err := mapOrder(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// AssignOrder sets the partner of an open order and marks it assigned.
func (store *Store) AssignOrder(ctx context.Context, orderID ledger.OrderID, partnerID ledger.PartnerID, updatedAt time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("id = ? AND status IN ?", uint64(orderID), []string{string(ledger.OrderStatusPending), string(ledger.OrderStatusAssigned)}).
		Updates(map[string]interface{}{
			"partner_id": uint64(partnerID),
			"status":     string(ledger.OrderStatusAssigned),
			"updated_at": utcOrNow(updatedAt),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, store.missingOrClosed(ctx, orderID))
	}
	return nil
}

// UpdateOrderStatus is a compare-and-set on the status and partner columns.
func (store *Store) UpdateOrderStatus(ctx context.Context, orderID ledger.OrderID, from ledger.OrderStatus, to ledger.OrderStatus, partnerID *ledger.PartnerID, updatedAt time.Time) error {
	query := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("id = ? AND status = ?", uint64(orderID), string(from))
	if partnerID == nil {
		query = query.Where("partner_id IS NULL")
	} else {
		query = query.Where("partner_id = ?", uint64(*partnerID))
	}
	result := query.Updates(map[string]interface{}{
		"status":     string(to),
		"updated_at": utcOrNow(updatedAt),
	})
	if result.Error != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, store.missingOrClosed(ctx, orderID))
	}
	return nil
}

func (store *Store) missingOrClosed(ctx context.Context, orderID ledger.OrderID) error {
	var count int64
	if err := store.db.WithContext(ctx).Model(&Order{}).Where("id = ?", uint64(orderID)).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %d", ledger.ErrOrderNotFound, orderID)
	}
	return fmt.Errorf("%w: %d", ledger.ErrOrderStatusConflict, orderID)
}

// InsertNotification stores an unread notification.
func (store *Store) InsertNotification(ctx context.Context, input ledger.NotificationInput) (ledger.Notification, error) {
	row := Notification{
		MCPID:     uint64(input.MCPID),
		Kind:      string(input.Kind),
		Message:   input.Message,
		CreatedAt: utcOrNow(input.CreatedAt),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ledger.Notification{}, wrapStoreError(errorSubjectNotification, errorCodeInsert, err)
	}
	notification, err := mapNotification(row)
	if err != nil {
		return ledger.Notification{}, wrapStoreError(errorSubjectNotification, errorCodeInvalid, err)
	}
	return notification, nil
}

// ListNotifications returns the tenant's feed newest first.
func (store *Store) ListNotifications(ctx context.Context, mcpID ledger.MCPID, unreadOnly bool) ([]ledger.Notification, error) {
	query := store.db.WithContext(ctx).Where("mcp_id = ?", uint64(mcpID))
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	var rows []Notification
	if err := query.Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectNotification, errorCodeList, err)
	}
	notifications := make([]ledger.Notification, 0, len(rows))
	for _, row := range rows {
		notification, err := mapNotification(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectNotification, errorCodeInvalid, err)
		}
		notifications = append(notifications, notification)
	}
	return notifications, nil
}

// MarkNotificationRead flags one of the tenant's notifications as read.
func (store *Store) MarkNotificationRead(ctx context.Context, mcpID ledger.MCPID, notificationID ledger.NotificationID) error {
	var rows []Notification
	err := store.db.WithContext(ctx).
		Where("id = ? AND mcp_id = ?", uint64(notificationID), uint64(mcpID)).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return wrapStoreError(errorSubjectNotification, errorCodeUpdate, err)
	}
	if len(rows) == 0 {
		return wrapStoreError(errorSubjectNotification, errorCodeUpdate, fmt.Errorf("%w: %d", ledger.ErrNotificationNotFound, notificationID))
	}
	if rows[0].Read {
		return nil
	}
	err = store.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ?", uint64(notificationID)).
		Update("is_read", true).Error
	if err != nil {
		return wrapStoreError(errorSubjectNotification, errorCodeUpdate, err)
	}
	return nil
}

// MarkAllNotificationsRead flags every unread notification of the tenant.
func (store *Store) MarkAllNotificationsRead(ctx context.Context, mcpID ledger.MCPID) (int64, error) {
	result := store.db.WithContext(ctx).
		Model(&Notification{}).
		Where("mcp_id = ? AND is_read = ?", uint64(mcpID), false).
		Update("is_read", true)
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectNotification, errorCodeUpdate, result.Error)
	}
	return result.RowsAffected, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func accountModel(account ledger.AccountRef) interface{} {
	if account.Kind == ledger.AccountKindPartner {
		return &Partner{}
	}
	return &MCP{}
}

func mapMCP(row MCP) ledger.MCP {
	return ledger.MCP{
		ID:        ledger.MCPID(row.ID),
		Name:      row.Name,
		Balance:   row.Balance.Decimal,
		CreatedAt: row.CreatedAt,
	}
}

func mapPartner(row Partner) ledger.Partner {
	return ledger.Partner{
		ID:        ledger.PartnerID(row.ID),
		MCPID:     ledger.MCPID(row.MCPID),
		Name:      row.Name,
		Phone:     row.Phone,
		Active:    row.Active,
		Balance:   row.Balance.Decimal,
		CreatedAt: row.CreatedAt,
	}
}

func mapOrder(row Order) (ledger.Order, error) {
	status, err := ledger.ParseOrderStatus(row.Status)
	if err != nil {
		return ledger.Order{}, err
	}
	order := ledger.Order{
		ID:          ledger.OrderID(row.ID),
		MCPID:       ledger.MCPID(row.MCPID),
		Amount:      row.Amount.Decimal,
		Description: row.Description,
		Status:      status,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.PartnerID != nil {
		partnerID := ledger.PartnerID(*row.PartnerID)
		order.PartnerID = &partnerID
	}
	return order, nil
}

func mapTransaction(row Transaction) (ledger.Transaction, error) {
	kind, err := ledger.ParseTransactionKind(row.Kind)
	if err != nil {
		return ledger.Transaction{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Transaction{}, err
	}
	source, err := mapAccountRef(row.SourceKind, row.SourceID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	target, err := mapAccountRef(row.TargetKind, row.TargetID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	transaction := ledger.Transaction{
		ID:          ledger.TransactionID(row.ID),
		MCPID:       ledger.MCPID(row.MCPID),
		Kind:        kind,
		Amount:      row.Amount.Decimal,
		Description: row.Description,
		Source:      source,
		Target:      target,
		Status:      row.Status,
		Metadata:    metadata,
		CreatedAt:   row.CreatedAt,
	}
	if row.OrderID != nil {
		orderID := ledger.OrderID(*row.OrderID)
		transaction.OrderID = &orderID
	}
	return transaction, nil
}

func mapAccountRef(kind *string, id *uint64) (*ledger.AccountRef, error) {
	if kind == nil || id == nil {
		return nil, nil
	}
	parsedKind, err := ledger.ParseAccountKind(*kind)
	if err != nil {
		return nil, err
	}
	return &ledger.AccountRef{Kind: parsedKind, ID: *id}, nil
}

func mapNotification(row Notification) (ledger.Notification, error) {
	kind, err := ledger.ParseNotificationKind(row.Kind)
	if err != nil {
		return ledger.Notification{}, err
	}
	return ledger.Notification{
		ID:        ledger.NotificationID(row.ID),
		MCPID:     ledger.MCPID(row.MCPID),
		Kind:      kind,
		Message:   row.Message,
		Read:      row.Read,
		CreatedAt: row.CreatedAt,
	}, nil
}

func utcOrNow(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value.UTC()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isTransientConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode || pgErr.Code == pgDeadlockDetectedCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		primary := sqliteErr.Code() & 0xFF
		return primary == sqliteBusyCode || primary == sqliteLockedCode
	}
	return false
}

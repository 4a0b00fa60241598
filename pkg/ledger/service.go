package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	descriptionDeposit        = "Wallet deposit"
	descriptionOpeningBalance = "Opening balance"
	descriptionWithdrawal     = "Wallet withdrawal"
	descriptionPartnerFunding = "Transfer to %s"
	descriptionOrderPayment   = "Payment for order #%d"
)

// Service contains the ledger's transfer rules over a Store.
type Service struct {
	store               Store
	nowFn               func() time.Time
	logger              OperationLogger
	lowBalanceThreshold decimal.Decimal
	location            *time.Location
}

// TransferResult is the outcome of a balance-affecting operation.
type TransferResult struct {
	Transaction Transaction
	// NewBalance is the mcp balance for deposits and withdrawals and the partner
	// balance for partner funding and order settlement.
	NewBalance decimal.Decimal
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:               store,
		nowFn:               now,
		lowBalanceThreshold: decimal.NewFromInt(defaultLowBalanceThreshold),
		location:            time.Local,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.lowBalanceThreshold.IsNegative() {
		return nil, fmt.Errorf("%w: low balance threshold is negative", ErrInvalidServiceConfig)
	}
	return service, nil
}

// LowBalanceThreshold returns the partner wallet alert threshold in effect.
func (service *Service) LowBalanceThreshold() decimal.Decimal {
	return service.lowBalanceThreshold
}

// CreateMCP registers a tenant, optionally seeding its wallet with a deposit.
func (service *Service) CreateMCP(ctx context.Context, name string, initialBalance *PositiveAmount) (MCP, error) {
	var created MCP
	var amount decimal.Decimal
	operationError := validateName(name)
	if operationError == nil && initialBalance != nil {
		operationError = validateAmount(*initialBalance)
		amount = initialBalance.Decimal()
	}
	if operationError == nil {
		operationError = service.store.WithTx(ctx, nil, func(ctx context.Context, transactionStore Store) error {
			mcp, err := transactionStore.CreateMCP(ctx, strings.TrimSpace(name), service.now())
			if err != nil {
				return err
			}
			created = mcp
			if initialBalance == nil {
				return nil
			}
			account := MCPAccount(mcp.ID)
			newBalance, err := transactionStore.AdjustBalance(ctx, account, amount)
			if err != nil {
				return err
			}
			if _, err := transactionStore.AppendTransaction(ctx, TransactionInput{
				MCPID:       mcp.ID,
				Kind:        TransactionDeposit,
				Amount:      amount,
				Description: descriptionOpeningBalance,
				Target:      &account,
				CreatedAt:   service.now(),
			}); err != nil {
				return err
			}
			created.Balance = newBalance
			return nil
		})
	}
	if operationError == nil && initialBalance != nil {
		service.notify(ctx, NotificationEvent{Kind: EventDeposit, MCPID: created.ID, Amount: amount})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateMCP,
		MCPID:     created.ID,
		Amount:    amount,
		Error:     operationError,
	})
	return created, operationError
}

// Deposit credits the mcp wallet.
func (service *Service) Deposit(ctx context.Context, mcpID MCPID, amount PositiveAmount, description string, metadata MetadataJSON) (TransferResult, error) {
	var result TransferResult
	account := MCPAccount(mcpID)
	operationError := validateAmount(amount)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, []AccountRef{account}, func(ctx context.Context, transactionStore Store) error {
			if _, err := transactionStore.GetMCP(ctx, mcpID); err != nil {
				return err
			}
			newBalance, err := transactionStore.AdjustBalance(ctx, account, amount.Decimal())
			if err != nil {
				return err
			}
			transaction, err := transactionStore.AppendTransaction(ctx, TransactionInput{
				MCPID:       mcpID,
				Kind:        TransactionDeposit,
				Amount:      amount.Decimal(),
				Description: descriptionOrDefault(description, descriptionDeposit),
				Target:      &account,
				Metadata:    metadata,
				CreatedAt:   service.now(),
			})
			if err != nil {
				return err
			}
			result = TransferResult{Transaction: transaction, NewBalance: newBalance}
			return nil
		})
	}
	if operationError == nil {
		service.notify(ctx, NotificationEvent{Kind: EventDeposit, MCPID: mcpID, Amount: amount.Decimal()})
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationDeposit,
		MCPID:         mcpID,
		Amount:        amount.Decimal(),
		TransactionID: result.Transaction.ID,
		Error:         operationError,
	})
	return result, operationError
}

// Withdraw debits the mcp wallet when the balance covers the amount.
func (service *Service) Withdraw(ctx context.Context, mcpID MCPID, amount PositiveAmount, description string, metadata MetadataJSON) (TransferResult, error) {
	var result TransferResult
	account := MCPAccount(mcpID)
	operationError := validateAmount(amount)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, []AccountRef{account}, func(ctx context.Context, transactionStore Store) error {
			if _, err := transactionStore.GetMCP(ctx, mcpID); err != nil {
				return err
			}
			balance, err := transactionStore.GetBalance(ctx, account)
			if err != nil {
				return err
			}
			if balance.LessThan(amount.Decimal()) {
				return ErrInsufficientFunds
			}
			newBalance, err := transactionStore.AdjustBalance(ctx, account, amount.Negated())
			if err != nil {
				return err
			}
			transaction, err := transactionStore.AppendTransaction(ctx, TransactionInput{
				MCPID:       mcpID,
				Kind:        TransactionWithdrawal,
				Amount:      amount.Negated(),
				Description: descriptionOrDefault(description, descriptionWithdrawal),
				Source:      &account,
				Metadata:    metadata,
				CreatedAt:   service.now(),
			})
			if err != nil {
				return err
			}
			result = TransferResult{Transaction: transaction, NewBalance: newBalance}
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationWithdraw,
		MCPID:         mcpID,
		Amount:        amount.Decimal(),
		TransactionID: result.Transaction.ID,
		Error:         operationError,
	})
	return result, operationError
}

// FundPartner moves money from the mcp wallet to one of its partners.
func (service *Service) FundPartner(ctx context.Context, mcpID MCPID, partnerID PartnerID, amount PositiveAmount, description string, metadata MetadataJSON) (TransferResult, error) {
	var (
		result   TransferResult
		movement partnerMovement
	)
	operationError := validateAmount(amount)
	if operationError == nil {
		locks := []AccountRef{MCPAccount(mcpID), PartnerAccount(partnerID)}
		operationError = service.store.WithTx(ctx, locks, func(ctx context.Context, transactionStore Store) error {
			partner, err := requirePartner(ctx, transactionStore, mcpID, partnerID)
			if err != nil {
				return err
			}
			result, movement, err = service.fundPartner(ctx, transactionStore, partner, amount, description, metadata)
			return err
		})
	}
	if operationError == nil {
		service.notify(ctx, movement.event(EventPartnerFunding, mcpID, amount.Decimal(), 0))
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationFundPartner,
		MCPID:         mcpID,
		PartnerID:     partnerID,
		Amount:        amount.Decimal(),
		TransactionID: result.Transaction.ID,
		Error:         operationError,
	})
	return result, operationError
}

// CreatePartner registers a partner, optionally funding it from the mcp wallet in the same unit.
func (service *Service) CreatePartner(ctx context.Context, mcpID MCPID, name string, phone string, initialFund *PositiveAmount) (Partner, error) {
	var (
		created  Partner
		movement partnerMovement
		amount   decimal.Decimal
	)
	operationError := validateName(name)
	if operationError == nil && initialFund != nil {
		operationError = validateAmount(*initialFund)
		amount = initialFund.Decimal()
	}
	if operationError == nil {
		operationError = service.store.WithTx(ctx, []AccountRef{MCPAccount(mcpID)}, func(ctx context.Context, transactionStore Store) error {
			if _, err := transactionStore.GetMCP(ctx, mcpID); err != nil {
				return err
			}
			partner, err := transactionStore.CreatePartner(ctx, PartnerInput{
				MCPID:     mcpID,
				Name:      strings.TrimSpace(name),
				Phone:     strings.TrimSpace(phone),
				CreatedAt: service.now(),
			})
			if err != nil {
				return err
			}
			created = partner
			if initialFund == nil {
				return nil
			}
			result, funded, err := service.fundPartner(ctx, transactionStore, partner, *initialFund, "", MetadataJSON{})
			if err != nil {
				return err
			}
			movement = funded
			created.Balance = result.NewBalance
			return nil
		})
	}
	if operationError == nil {
		service.notify(ctx, NotificationEvent{Kind: EventPartnerCreated, MCPID: mcpID, PartnerName: created.Name})
		if initialFund != nil {
			service.notify(ctx, movement.event(EventPartnerFunding, mcpID, amount, 0))
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationCreatePartner,
		MCPID:     mcpID,
		PartnerID: created.ID,
		Amount:    amount,
		Error:     operationError,
	})
	return created, operationError
}

// SetPartnerActive activates or deactivates a partner. The wallet is left untouched.
func (service *Service) SetPartnerActive(ctx context.Context, mcpID MCPID, partnerID PartnerID, active bool) (Partner, error) {
	partner, operationError := requirePartner(ctx, service.store, mcpID, partnerID)
	if operationError == nil {
		operationError = service.store.SetPartnerActive(ctx, partnerID, active)
		partner.Active = active
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationSetPartnerActive,
		MCPID:     mcpID,
		PartnerID: partnerID,
		Error:     operationError,
	})
	return partner, operationError
}

// CreateOrder records a pickup order, assigned when a partner is supplied.
func (service *Service) CreateOrder(ctx context.Context, mcpID MCPID, amount PositiveAmount, description string, partnerID *PartnerID) (Order, error) {
	var created Order
	operationError := validateAmount(amount)
	if operationError == nil {
		_, operationError = service.store.GetMCP(ctx, mcpID)
	}
	if operationError == nil && partnerID != nil {
		_, operationError = requirePartner(ctx, service.store, mcpID, *partnerID)
	}
	if operationError == nil {
		status := OrderStatusPending
		if partnerID != nil {
			status = OrderStatusAssigned
		}
		created, operationError = service.store.CreateOrder(ctx, OrderInput{
			MCPID:       mcpID,
			PartnerID:   partnerID,
			Amount:      amount,
			Description: strings.TrimSpace(description),
			Status:      status,
			CreatedAt:   service.now(),
		})
	}
	logEntry := OperationLog{
		Operation: operationCreateOrder,
		MCPID:     mcpID,
		OrderID:   created.ID,
		Amount:    amount.Decimal(),
		Error:     operationError,
	}
	if partnerID != nil {
		logEntry.PartnerID = *partnerID
	}
	service.logOperation(ctx, logEntry)
	return created, operationError
}

// AssignOrder hands an open order to a partner.
func (service *Service) AssignOrder(ctx context.Context, mcpID MCPID, orderID OrderID, partnerID PartnerID) (Order, error) {
	var assigned Order
	operationError := service.store.WithTx(ctx, []AccountRef{PartnerAccount(partnerID)}, func(ctx context.Context, transactionStore Store) error {
		order, err := requireOrder(ctx, transactionStore, mcpID, orderID)
		if err != nil {
			return err
		}
		if err := requireOpen(order); err != nil {
			return err
		}
		if _, err := requirePartner(ctx, transactionStore, mcpID, partnerID); err != nil {
			return err
		}
		now := service.now()
		if err := transactionStore.AssignOrder(ctx, orderID, partnerID, now); err != nil {
			return err
		}
		assigned = order
		assigned.PartnerID = &partnerID
		assigned.Status = OrderStatusAssigned
		assigned.UpdatedAt = now
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationAssignOrder,
		MCPID:     mcpID,
		PartnerID: partnerID,
		OrderID:   orderID,
		Error:     operationError,
	})
	return assigned, operationError
}

// SettleOrderPayment completes an order and charges its amount to the assigned partner.
// The partner balance is allowed to go negative.
func (service *Service) SettleOrderPayment(ctx context.Context, mcpID MCPID, orderID OrderID) (TransferResult, error) {
	var (
		result    TransferResult
		movement  partnerMovement
		partnerID PartnerID
		amount    decimal.Decimal
	)
	order, operationError := requireOrder(ctx, service.store, mcpID, orderID)
	if operationError == nil {
		operationError = requireSettleable(order)
	}
	if operationError == nil {
		partnerID = *order.PartnerID
		partnerAccount := PartnerAccount(partnerID)
		operationError = service.store.WithTx(ctx, []AccountRef{partnerAccount}, func(ctx context.Context, transactionStore Store) error {
			current, err := requireOrder(ctx, transactionStore, mcpID, orderID)
			if err != nil {
				return err
			}
			if err := requireSettleable(current); err != nil {
				return err
			}
			if *current.PartnerID != partnerID {
				return fmt.Errorf("%w: order %d was reassigned", ErrOrderStatusConflict, orderID)
			}
			partner, err := requirePartner(ctx, transactionStore, mcpID, partnerID)
			if err != nil {
				return err
			}
			now := service.now()
			if err := transactionStore.UpdateOrderStatus(ctx, orderID, current.Status, OrderStatusCompleted, &partnerID, now); err != nil {
				return err
			}
			amount = current.Amount
			before, err := transactionStore.GetBalance(ctx, partnerAccount)
			if err != nil {
				return err
			}
			after, err := transactionStore.AdjustBalance(ctx, partnerAccount, amount.Neg())
			if err != nil {
				return err
			}
			transaction, err := transactionStore.AppendTransaction(ctx, TransactionInput{
				MCPID:       mcpID,
				Kind:        TransactionOrderPayment,
				Amount:      amount.Neg(),
				Description: fmt.Sprintf(descriptionOrderPayment, orderID),
				Source:      &partnerAccount,
				OrderID:     &orderID,
				CreatedAt:   now,
			})
			if err != nil {
				return err
			}
			movement = partnerMovement{partnerName: partner.Name, before: before, after: after}
			result = TransferResult{Transaction: transaction, NewBalance: after}
			return nil
		})
	}
	if operationError == nil {
		service.notify(ctx, movement.event(EventOrderCompleted, mcpID, amount, orderID))
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationSettleOrder,
		MCPID:         mcpID,
		PartnerID:     partnerID,
		OrderID:       orderID,
		Amount:        amount,
		TransactionID: result.Transaction.ID,
		Error:         operationError,
	})
	return result, operationError
}

// CancelOrder cancels an open order. No money moves.
func (service *Service) CancelOrder(ctx context.Context, mcpID MCPID, orderID OrderID) (Order, error) {
	var (
		cancelled   Order
		partnerName string
		locks       []AccountRef
	)
	order, operationError := requireOrder(ctx, service.store, mcpID, orderID)
	if operationError == nil {
		operationError = requireOpen(order)
	}
	if operationError == nil {
		if order.PartnerID != nil {
			locks = []AccountRef{PartnerAccount(*order.PartnerID)}
		}
		operationError = service.store.WithTx(ctx, locks, func(ctx context.Context, transactionStore Store) error {
			current, err := requireOrder(ctx, transactionStore, mcpID, orderID)
			if err != nil {
				return err
			}
			if err := requireOpen(current); err != nil {
				return err
			}
			now := service.now()
			if err := transactionStore.UpdateOrderStatus(ctx, orderID, current.Status, OrderStatusCancelled, current.PartnerID, now); err != nil {
				return err
			}
			if current.PartnerID != nil {
				partner, err := transactionStore.GetPartner(ctx, *current.PartnerID)
				if err != nil {
					return err
				}
				partnerName = partner.Name
			}
			cancelled = current
			cancelled.Status = OrderStatusCancelled
			cancelled.UpdatedAt = now
			return nil
		})
	}
	if operationError == nil && cancelled.PartnerID != nil {
		service.notify(ctx, NotificationEvent{Kind: EventOrderCancelled, MCPID: mcpID, PartnerName: partnerName, OrderID: orderID})
	}
	logEntry := OperationLog{
		Operation: operationCancelOrder,
		MCPID:     mcpID,
		OrderID:   orderID,
		Error:     operationError,
	}
	if cancelled.PartnerID != nil {
		logEntry.PartnerID = *cancelled.PartnerID
	}
	service.logOperation(ctx, logEntry)
	return cancelled, operationError
}

// partnerMovement captures a partner balance before and after a committed change.
type partnerMovement struct {
	partnerName string
	before      decimal.Decimal
	after       decimal.Decimal
}

func (movement partnerMovement) event(kind NotificationEventKind, mcpID MCPID, amount decimal.Decimal, orderID OrderID) NotificationEvent {
	return NotificationEvent{
		Kind:              kind,
		MCPID:             mcpID,
		PartnerName:       movement.partnerName,
		OrderID:           orderID,
		Amount:            amount,
		HasPartnerBalance: true,
		PartnerBefore:     movement.before,
		PartnerAfter:      movement.after,
	}
}

// fundPartner must run inside a unit holding the mcp and partner locks.
func (service *Service) fundPartner(ctx context.Context, transactionStore Store, partner Partner, amount PositiveAmount, description string, metadata MetadataJSON) (TransferResult, partnerMovement, error) {
	mcpAccount := MCPAccount(partner.MCPID)
	partnerAccount := PartnerAccount(partner.ID)
	mcpBalance, err := transactionStore.GetBalance(ctx, mcpAccount)
	if err != nil {
		return TransferResult{}, partnerMovement{}, err
	}
	if mcpBalance.LessThan(amount.Decimal()) {
		return TransferResult{}, partnerMovement{}, ErrInsufficientFunds
	}
	before, err := transactionStore.GetBalance(ctx, partnerAccount)
	if err != nil {
		return TransferResult{}, partnerMovement{}, err
	}
	if _, err := transactionStore.AdjustBalance(ctx, mcpAccount, amount.Negated()); err != nil {
		return TransferResult{}, partnerMovement{}, err
	}
	after, err := transactionStore.AdjustBalance(ctx, partnerAccount, amount.Decimal())
	if err != nil {
		return TransferResult{}, partnerMovement{}, err
	}
	transaction, err := transactionStore.AppendTransaction(ctx, TransactionInput{
		MCPID:       partner.MCPID,
		Kind:        TransactionPartnerFunding,
		Amount:      amount.Negated(),
		Description: descriptionOrDefault(description, fmt.Sprintf(descriptionPartnerFunding, partner.Name)),
		Source:      &mcpAccount,
		Target:      &partnerAccount,
		Metadata:    metadata,
		CreatedAt:   service.now(),
	})
	if err != nil {
		return TransferResult{}, partnerMovement{}, err
	}
	movement := partnerMovement{partnerName: partner.Name, before: before, after: after}
	return TransferResult{Transaction: transaction, NewBalance: after}, movement, nil
}

// notify inserts the event's notifications. Failures are logged and never returned.
func (service *Service) notify(ctx context.Context, event NotificationEvent) {
	for _, draft := range EvaluateNotifications(event, service.lowBalanceThreshold) {
		draft.CreatedAt = service.now()
		_, err := service.store.InsertNotification(ctx, draft)
		service.logOperation(ctx, OperationLog{
			Operation: operationNotify + "." + string(draft.Kind),
			MCPID:     event.MCPID,
			OrderID:   event.OrderID,
			Error:     err,
		})
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func (service *Service) now() time.Time {
	return service.nowFn()
}

func requirePartner(ctx context.Context, store Directory, mcpID MCPID, partnerID PartnerID) (Partner, error) {
	partner, err := store.GetPartner(ctx, partnerID)
	if err != nil {
		return Partner{}, err
	}
	if partner.MCPID != mcpID {
		return Partner{}, fmt.Errorf("%w: %d", ErrPartnerNotFound, partnerID)
	}
	return partner, nil
}

func requireOrder(ctx context.Context, store Directory, mcpID MCPID, orderID OrderID) (Order, error) {
	order, err := store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.MCPID != mcpID {
		return Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func requireOpen(order Order) error {
	switch order.Status {
	case OrderStatusCompleted:
		return fmt.Errorf("%w: %d", ErrAlreadySettled, order.ID)
	case OrderStatusCancelled:
		return fmt.Errorf("%w: %d", ErrOrderCancelled, order.ID)
	}
	return nil
}

func requireSettleable(order Order) error {
	if err := requireOpen(order); err != nil {
		return err
	}
	if order.PartnerID == nil {
		return fmt.Errorf("%w: order %d has no partner", ErrPartnerNotFound, order.ID)
	}
	return nil
}

func validateAmount(amount PositiveAmount) error {
	if !amount.Decimal().IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidName)
	}
	return nil
}

func descriptionOrDefault(description string, fallback string) string {
	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

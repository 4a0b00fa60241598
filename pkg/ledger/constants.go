package ledger

const (
	operationCreateMCP        = "create_mcp"
	operationDeposit          = "deposit"
	operationWithdraw         = "withdraw"
	operationFundPartner      = "fund_partner"
	operationCreatePartner    = "create_partner"
	operationSetPartnerActive = "set_partner_active"
	operationCreateOrder      = "create_order"
	operationAssignOrder      = "assign_order"
	operationSettleOrder      = "settle_order"
	operationCancelOrder      = "cancel_order"
	operationNotify           = "notify"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// Amounts are stored as numeric(20,8).
	amountScale         = 8
	amountIntegerDigits = 12

	defaultLowBalanceThreshold = 500
	defaultHistoryPageSize     = 20
	maxHistoryPageSize         = 100
)

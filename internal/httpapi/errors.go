package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/mcpledger/pkg/ledger"
	"github.com/gin-gonic/gin"
)

const (
	errorInvalidPayload       = "invalid_payload"
	errorInvalidAmount        = "invalid_amount"
	errorInvalidMCPID         = "invalid_mcp_id"
	errorInvalidPartnerID     = "invalid_partner_id"
	errorInvalidOrderID       = "invalid_order_id"
	errorInvalidNotification  = "invalid_notification_id"
	errorInvalidName          = "invalid_name"
	errorInvalidMetadata      = "invalid_metadata"
	errorInvalidKind          = "invalid_transaction_kind"
	errorInvalidPage          = "invalid_page"
	errorInvalidDateRange     = "invalid_date_range"
	errorMCPNotFound          = "mcp_not_found"
	errorPartnerNotFound      = "partner_not_found"
	errorOrderNotFound        = "order_not_found"
	errorNotificationNotFound = "notification_not_found"
	errorAccountNotFound      = "account_not_found"
	errorInsufficientFunds    = "insufficient_funds"
	errorAlreadySettled       = "order_already_settled"
	errorOrderCancelled       = "order_cancelled"
	errorOrderStatusConflict  = "order_status_conflict"
	errorInternal             = "internal_error"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{target: ledger.ErrInvalidAmount, status: http.StatusBadRequest, code: errorInvalidAmount},
	{target: ledger.ErrInvalidMCPID, status: http.StatusBadRequest, code: errorInvalidMCPID},
	{target: ledger.ErrInvalidPartnerID, status: http.StatusBadRequest, code: errorInvalidPartnerID},
	{target: ledger.ErrInvalidOrderID, status: http.StatusBadRequest, code: errorInvalidOrderID},
	{target: ledger.ErrInvalidNotificationID, status: http.StatusBadRequest, code: errorInvalidNotification},
	{target: ledger.ErrInvalidName, status: http.StatusBadRequest, code: errorInvalidName},
	{target: ledger.ErrInvalidMetadataJSON, status: http.StatusBadRequest, code: errorInvalidMetadata},
	{target: ledger.ErrInvalidTransaction, status: http.StatusBadRequest, code: errorInvalidKind},
	{target: ledger.ErrInvalidPage, status: http.StatusBadRequest, code: errorInvalidPage},
	{target: ledger.ErrInvalidDateRange, status: http.StatusBadRequest, code: errorInvalidDateRange},
	{target: ledger.ErrMCPNotFound, status: http.StatusNotFound, code: errorMCPNotFound},
	{target: ledger.ErrPartnerNotFound, status: http.StatusNotFound, code: errorPartnerNotFound},
	{target: ledger.ErrOrderNotFound, status: http.StatusNotFound, code: errorOrderNotFound},
	{target: ledger.ErrNotificationNotFound, status: http.StatusNotFound, code: errorNotificationNotFound},
	{target: ledger.ErrAccountNotFound, status: http.StatusNotFound, code: errorAccountNotFound},
	{target: ledger.ErrInsufficientFunds, status: http.StatusConflict, code: errorInsufficientFunds},
	{target: ledger.ErrAlreadySettled, status: http.StatusConflict, code: errorAlreadySettled},
	{target: ledger.ErrOrderCancelled, status: http.StatusConflict, code: errorOrderCancelled},
	{target: ledger.ErrOrderStatusConflict, status: http.StatusConflict, code: errorOrderStatusConflict},
}

// mapLedgerError picks the HTTP status and stable code for a ledger error.
// Unknown errors map to 500 without exposing their message.
func mapLedgerError(source error) (int, string, string) {
	for _, mapping := range errorMappings {
		if errors.Is(source, mapping.target) {
			return mapping.status, mapping.code, mapping.target.Error()
		}
	}
	return http.StatusInternalServerError, errorInternal, "internal error"
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/mcpledger/internal/cache"
	"github.com/MarkoPoloResearchLab/mcpledger/internal/oplog"
	"github.com/MarkoPoloResearchLab/mcpledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type httpHandler struct {
	service *ledger.Service
	cache   cache.DashboardCache
	metrics *oplog.Metrics
	logger  *zap.Logger
}

func (handler *httpHandler) handleCreateMCP(ctx *gin.Context) {
	var request createMCPRequest
	if !handler.bind(ctx, &request) {
		return
	}
	initial, err := request.InitialBalance.optional()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	mcp, err := handler.service.CreateMCP(ctx.Request.Context(), request.Name, initial)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"mcp": newMCPPayload(mcp)})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	mcpID, ok := handler.mcpID(ctx)
	if !ok {
		return
	}
	mcp, err := handler.service.MCP(ctx.Request.Context(), mcpID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"mcp": newMCPPayload(mcp)})
}

func (handler *httpHandler) handleDeposit(ctx *gin.Context) {
	handler.handleWalletTransfer(ctx, handler.service.Deposit)
}

func (handler *httpHandler) handleWithdraw(ctx *gin.Context) {
	handler.handleWalletTransfer(ctx, handler.service.Withdraw)
}

type walletTransfer func(ctx context.Context, mcpID ledger.MCPID, amount ledger.PositiveAmount, description string, metadata ledger.MetadataJSON) (ledger.TransferResult, error)

func (handler *httpHandler) handleWalletTransfer(ctx *gin.Context, transfer walletTransfer) {
	mcpID, ok := handler.mcpID(ctx)
	if !ok {
		return
	}
	var request transferRequest
	if !handler.bind(ctx, &request) {
		return
	}
	amount, metadata, err := request.parse()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	result, err := transfer(ctx.Request.Context(), mcpID, amount, request.Description, metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.invalidateDashboard(ctx, mcpID)
	ctx.JSON(http.StatusOK, newTransferPayload(result))
}

func (handler *httpHandler) handleListPartners(ctx *gin.Context) {
	mcpID, ok := handler.mcpID(ctx)
	if !ok {
		return
	}
	partners, err := handler.service.Partners(ctx.Request.Context(), mcpID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]partnerPayload, 0, len(partners))
	for _, partner := range partners {
		payloads = append(payloads, newPartnerPayload(partner))
	}
	ctx.JSON(http.StatusOK, gin.H{"partners": payloads})
}

func (handler *httpHandler) handleCreatePartner(ctx *gin.Context) {
	mcpID, ok := handler.mcpID(ctx)
	if !ok {
		return
	}
	var request createPartnerRequest
	if !handler.bind(ctx, &request) {
		return
	}
	initial, err := request.InitialFund.optional()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	partner, err := handler.service.CreatePartner(ctx.Request.Context(), mcpID, request.Name, request.Phone, initial)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.invalidateDashboard(ctx, mcpID)
	ctx.JSON(http.StatusCreated, gin.H{"partner": newPartnerPayload(partner)})
}

func (handler *httpHandler) handleFundPartner(ctx *gin.Context) {
	mcpID, ok := handler.mcpID(ctx)
	if !ok {
		return
	}
	partnerID, err := ledger.ParsePartnerID(ctx.Param("partnerID"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request transferRequest
	if !handler.bind(ctx, &request) {
		return
	}
	amount, metadata, err := request.parse()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	result, err := handler.service.FundPartner(ctx.Request.Context(), mcpID, partnerID, amount, request.Description, metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.invalidateDashboard(ctx, mcpID)
	ctx.JSON(http.StatusOK, newTransferPayload(result))
}

func (handler *httpHandler) handlePartnerStatus(ctx *gin.Context) {
	mcpID, ok := handler.mcpID(ctx)
	if !ok {
		return
	}
	partnerID, err := ledger.ParsePartnerID(ctx.Param("partnerID"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request partnerStatusRequest
	if !handler.bind(ctx, &request) {
		return
	}
	if request.Active == nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "active is required"))
		return
	}
	partner, err := handler.service.SetPartnerActive(ctx.Request.Context(), mcpID, partnerID, *request.Active)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.invalidateDashboard(ctx, mcpID)
	ctx.JSON(http.StatusOK, gin.H{"partner": newPartnerPayload(partner)})
}

func (handler *httpHandler) handleListOrders(ctx *gin.Context) {
	mcpID, ok := handler.mcpID(ctx)
	if !ok {
		return
	}
	orders, err := handler.service.Orders(ctx.Request.Context(), mcpID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		payloads = append(payloads, newOrderPayload(order))
	}
	ctx.JSON(http.StatusOK, gin.H{"orders": payloads})
}

func (handler *httpHandler) handleCreateOrder(ctx *gin.Context) {
	mcpID, ok := handler.mcpID(ctx)
	if !ok {
		return
	}
	var request createOrderRequest
	if !handler.bind(ctx, &request) {
		return
	}
	amount, err := request.Amount.positive()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var partnerID *ledger.PartnerID
	if request.PartnerID != nil {
		parsed, err := ledger.NewPartnerID(*request.PartnerID)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		partnerID = &parsed
	}
	order, err := handler.service.CreateOrder(ctx.Request.Context(), mcpID, amount, request.Description, partnerID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.invalidateDashboard(ctx, mcpID)
	ctx.JSON(http.StatusCreated, gin.H{"order": newOrderPayload(order)})
}

func (handler *httpHandler) handleAssignOrder(ctx *gin.Context) {
	mcpID, orderID, ok := handler.orderRoute(ctx)
	if !ok {
		return
	}
	var request assignOrderRequest
	if !handler.bind(ctx, &request) {
		return
	}
	partnerID, err := ledger.NewPartnerID(request.PartnerID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	order, err := handler.service.AssignOrder(ctx.Request.Context(), mcpID, orderID, partnerID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.invalidateDashboard(ctx, mcpID)
	ctx.JSON(http.StatusOK, gin.H{"order": newOrderPayload(order)})
}

func (handler *httpHandler) handleCompleteOrder(ctx *gin.Context) {
	mcpID, orderID, ok := handler.orderRoute(ctx)
	if !ok {
		return
	}
	result, err := handler.service.SettleOrderPayment(ctx.Request.Context(), mcpID, orderID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.invalidateDashboard(ctx, mcpID)
	ctx.JSON(http.StatusOK, newTransferPayload(result))
}

func (handler *httpHandler) handleCancelOrder(ctx *gin.Context) {
	mcpID, orderID, ok := handler.orderRoute(ctx)
	if !ok {
		return
	}
	order, err := handler.service.CancelOrder(ctx.Request.Context(), mcpID, orderID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.invalidateDashboard(ctx, mcpID)
	ctx.JSON(http.StatusOK, gin.H{"order": newOrderPayload(order)})
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	mcpID, ok := handler.mcpID(ctx)
	if !ok {
		return
	}
	query, err := parseHistoryQuery(ctx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	page, err := handler.service.TransactionHistory(ctx.Request.Context(), mcpID, query)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newHistoryPayload(page))
}

func (handler *httpHandler) handleDashboard(ctx *gin.Context) {
	mcpID, ok := handler.mcpID(ctx)
	if !ok {
		return
	}
	requestCtx := ctx.Request.Context()
	stats, found, err := handler.cache.Get(requestCtx, mcpID)
	if err != nil {
		handler.logger.Warn("dashboard cache read failed", zap.Uint64("mcp_id", uint64(mcpID)), zap.Error(err))
		found = false
	}
	if handler.metrics != nil {
		handler.metrics.ObserveCache(found)
	}
	if !found {
		stats, err = handler.service.DashboardStats(requestCtx, mcpID)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		if err := handler.cache.Set(requestCtx, mcpID, stats); err != nil {
			handler.logger.Warn("dashboard cache write failed", zap.Uint64("mcp_id", uint64(mcpID)), zap.Error(err))
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"dashboard": newDashboardPayload(stats, handler.service.LowBalanceThreshold())})
}

func (handler *httpHandler) handleNotifications(ctx *gin.Context) {
	mcpID, ok := handler.mcpID(ctx)
	if !ok {
		return
	}
	unreadOnly := false
	if raw := strings.TrimSpace(ctx.Query("unread")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "unread must be a boolean"))
			return
		}
		unreadOnly = parsed
	}
	notifications, err := handler.service.Notifications(ctx.Request.Context(), mcpID, unreadOnly)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"notifications": newNotificationPayloads(notifications)})
}

func (handler *httpHandler) handleMarkRead(ctx *gin.Context) {
	mcpID, ok := handler.mcpID(ctx)
	if !ok {
		return
	}
	notificationID, err := ledger.ParseNotificationID(ctx.Param("notificationID"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if err := handler.service.MarkNotificationRead(ctx.Request.Context(), mcpID, notificationID); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) handleMarkAllRead(ctx *gin.Context) {
	mcpID, ok := handler.mcpID(ctx)
	if !ok {
		return
	}
	updated, err := handler.service.MarkAllNotificationsRead(ctx.Request.Context(), mcpID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (handler *httpHandler) mcpID(ctx *gin.Context) (ledger.MCPID, bool) {
	mcpID, err := ledger.ParseMCPID(ctx.Param("mcpID"))
	if err != nil {
		handler.respondError(ctx, err)
		return 0, false
	}
	return mcpID, true
}

func (handler *httpHandler) orderRoute(ctx *gin.Context) (ledger.MCPID, ledger.OrderID, bool) {
	mcpID, ok := handler.mcpID(ctx)
	if !ok {
		return 0, 0, false
	}
	orderID, err := ledger.ParseOrderID(ctx.Param("orderID"))
	if err != nil {
		handler.respondError(ctx, err)
		return 0, 0, false
	}
	return mcpID, orderID, true
}

// bind decodes an optional JSON body; an empty body leaves target untouched.
func (handler *httpHandler) bind(ctx *gin.Context, target any) bool {
	if err := ctx.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "expected JSON body"))
		return false
	}
	return true
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status, code, message := mapLedgerError(err)
	if status == http.StatusInternalServerError {
		handler.logger.Error("request failed",
			zap.String("request_id", ctx.GetString(contextKeyRequestID)),
			zap.String("route", ctx.FullPath()),
			zap.Error(err),
		)
	}
	ctx.JSON(status, errorResponse(code, message))
}

func (handler *httpHandler) invalidateDashboard(ctx *gin.Context, mcpID ledger.MCPID) {
	if err := handler.cache.Invalidate(ctx.Request.Context(), mcpID); err != nil {
		handler.logger.Warn("dashboard cache invalidate failed", zap.Uint64("mcp_id", uint64(mcpID)), zap.Error(err))
	}
}

func (request transferRequest) parse() (ledger.PositiveAmount, ledger.MetadataJSON, error) {
	amount, err := request.Amount.positive()
	if err != nil {
		return ledger.PositiveAmount{}, ledger.MetadataJSON{}, err
	}
	metadata, err := parseMetadata(request.Metadata)
	if err != nil {
		return ledger.PositiveAmount{}, ledger.MetadataJSON{}, err
	}
	return amount, metadata, nil
}

func parseHistoryQuery(ctx *gin.Context) (ledger.HistoryQuery, error) {
	var query ledger.HistoryQuery
	for _, raw := range ctx.QueryArray("kind") {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			kind, err := ledger.ParseTransactionKind(trimmed)
			if err != nil {
				return ledger.HistoryQuery{}, err
			}
			query.Kinds = append(query.Kinds, kind)
		}
	}
	var err error
	if query.From, err = parseTimeParam(ctx.Query("from")); err != nil {
		return ledger.HistoryQuery{}, err
	}
	if query.To, err = parseTimeParam(ctx.Query("to")); err != nil {
		return ledger.HistoryQuery{}, err
	}
	if query.Page, err = parseIntParam(ctx.Query("page")); err != nil {
		return ledger.HistoryQuery{}, err
	}
	if query.PageSize, err = parseIntParam(ctx.Query("page_size")); err != nil {
		return ledger.HistoryQuery{}, err
	}
	return query, nil
}

// parseTimeParam accepts RFC 3339 timestamps or plain dates.
func parseTimeParam(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return parsed, nil
	}
	parsed, err := time.Parse(time.DateOnly, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a timestamp", ledger.ErrInvalidDateRange, raw)
	}
	return parsed, nil
}

func parseIntParam(raw string) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ledger.ErrInvalidPage, raw)
	}
	return value, nil
}

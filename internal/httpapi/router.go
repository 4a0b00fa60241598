// Package httpapi exposes the ledger service over JSON HTTP.
package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/mcpledger/internal/cache"
	"github.com/MarkoPoloResearchLab/mcpledger/internal/oplog"
	"github.com/MarkoPoloResearchLab/mcpledger/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// HeaderRequestID carries the per-request correlation id.
	HeaderRequestID = "X-Request-ID"

	contextKeyRequestID = "request_id"
	unmatchedRoute      = "unmatched"
	allOrigins          = "*"
)

var errMissingService = errors.New("httpapi: ledger service is required")

// Options wires the router's dependencies. Only Service is required.
type Options struct {
	Service        *ledger.Service
	Cache          cache.DashboardCache
	Metrics        *oplog.Metrics
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewRouter builds the gin engine serving the ledger API.
func NewRouter(options Options) (*gin.Engine, error) {
	if options.Service == nil {
		return nil, errMissingService
	}
	handler := &httpHandler{
		service: options.Service,
		cache:   options.Cache,
		metrics: options.Metrics,
		logger:  options.Logger,
	}
	if handler.cache == nil {
		handler.cache = cache.Nop{}
	}
	if handler.logger == nil {
		handler.logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	if options.Metrics != nil {
		router.Use(requestMetrics(options.Metrics))
	}
	if len(options.AllowedOrigins) > 0 {
		router.Use(cors.New(corsConfig(options.AllowedOrigins)))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if options.Metrics != nil {
		router.GET("/metrics", gin.WrapH(options.Metrics.Handler()))
	}

	api := router.Group("/api")
	api.POST("/mcps", handler.handleCreateMCP)

	tenant := api.Group("/mcps/:mcpID")
	tenant.GET("/wallet", handler.handleWallet)
	tenant.POST("/wallet/deposit", handler.handleDeposit)
	tenant.POST("/wallet/withdraw", handler.handleWithdraw)

	tenant.GET("/partners", handler.handleListPartners)
	tenant.POST("/partners", handler.handleCreatePartner)
	tenant.POST("/partners/:partnerID/fund", handler.handleFundPartner)
	tenant.POST("/partners/:partnerID/status", handler.handlePartnerStatus)

	tenant.GET("/orders", handler.handleListOrders)
	tenant.POST("/orders", handler.handleCreateOrder)
	tenant.POST("/orders/:orderID/assign", handler.handleAssignOrder)
	tenant.POST("/orders/:orderID/complete", handler.handleCompleteOrder)
	tenant.POST("/orders/:orderID/cancel", handler.handleCancelOrder)

	tenant.GET("/transactions", handler.handleTransactions)
	tenant.GET("/dashboard", handler.handleDashboard)

	tenant.GET("/notifications", handler.handleNotifications)
	tenant.POST("/notifications/read-all", handler.handleMarkAllRead)
	tenant.POST("/notifications/:notificationID/read", handler.handleMarkRead)

	return router, nil
}

func corsConfig(origins []string) cors.Config {
	config := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", HeaderRequestID},
		ExposeHeaders:    []string{HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == allOrigins {
			config.AllowAllOrigins = true
			config.AllowCredentials = false
			return config
		}
	}
	config.AllowOrigins = origins
	return config
}

func requestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := strings.TrimSpace(ctx.GetHeader(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		ctx.Set(contextKeyRequestID, id)
		ctx.Header(HeaderRequestID, id)
		ctx.Next()
	}
}

func requestMetrics(metrics *oplog.Metrics) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		ctx.Next()
		route := ctx.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metrics.ObserveRequest(ctx.Request.Method, route, ctx.Writer.Status(), time.Since(started))
	}
}

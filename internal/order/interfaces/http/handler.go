package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/fxsettlement/internal/order/application"
	"github.com/wyfcoding/fxsettlement/internal/order/domain"
	"github.com/wyfcoding/fxsettlement/pkg/logger"
	"github.com/wyfcoding/fxsettlement/pkg/middleware"
	"github.com/wyfcoding/fxsettlement/pkg/response"
)

// OrderHandler HTTP 处理器
// 负责处理与订单相关的 HTTP 请求，调用方身份由 middleware.RequireIdentity 注入
type OrderHandler struct {
	svc *application.OrderService
}

// 创建 HTTP 处理器实例
func NewOrderHandler(svc *application.OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// 注册路由
func (h *OrderHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/orders")
	{
		api.POST("", h.CreateOrder)                  // 创建订单
		api.GET("", h.ListPendingOrders)             // 待成交订单
		api.GET("/:id", h.GetOrder)                  // 订单详情
		api.POST("/:id/fulfill", h.FulfillOrder)     // 成交
		api.POST("/:id/cancel", h.CancelOrder)       // 撤单
		api.POST("/:id/reconcile", h.ReconcileOrder) // 续跑未决记账
	}
}

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	Direction     string `json:"direction" binding:"required,oneof=buy sell"`
	BaseCurrency  string `json:"base_currency" binding:"required,len=3"`
	QuoteCurrency string `json:"quote_currency" binding:"required,len=3"`
	// 十进制字符串，避免浮点误差
	Amount string `json:"amount" binding:"required"`
}

// CreateOrder 创建订单
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	dto, err := h.svc.CreateOrder(c.Request.Context(), &application.CreateOrderRequest{
		InitiatorID:   middleware.UserID(c),
		Direction:     req.Direction,
		BaseCurrency:  req.BaseCurrency,
		QuoteCurrency: req.QuoteCurrency,
		Amount:        req.Amount,
		Credential:    middleware.Credential(c),
	})
	if err != nil {
		h.fail(c, "failed to create order", err)
		return
	}
	response.Created(c, dto)
}

// ListPendingOrders 待成交订单列表
func (h *OrderHandler) ListPendingOrders(c *gin.Context) {
	orders, err := h.svc.ListPendingOrders(c.Request.Context())
	if err != nil {
		h.fail(c, "failed to list pending orders", err)
		return
	}
	response.Success(c, gin.H{"orders": orders, "total": len(orders)})
}

// GetOrder 获取订单
func (h *OrderHandler) GetOrder(c *gin.Context) {
	dto, err := h.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to get order", err)
		return
	}
	response.Success(c, dto)
}

// FulfillOrder 成交订单
func (h *OrderHandler) FulfillOrder(c *gin.Context) {
	dto, err := h.svc.FulfillOrder(c.Request.Context(), middleware.UserID(c), c.Param("id"), middleware.Credential(c))
	if err != nil {
		h.fail(c, "failed to fulfill order", err)
		return
	}
	response.Success(c, dto)
}

// CancelOrder 取消订单
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	dto, err := h.svc.CancelOrder(c.Request.Context(), middleware.UserID(c), c.Param("id"), middleware.Credential(c))
	if err != nil {
		h.fail(c, "failed to cancel order", err)
		return
	}
	response.Success(c, dto)
}

// ReconcileOrder 手动触发对账
func (h *OrderHandler) ReconcileOrder(c *gin.Context) {
	dto, err := h.svc.ReconcileOrder(c.Request.Context(), c.Param("id"), middleware.Credential(c))
	if err != nil {
		h.fail(c, "failed to reconcile order", err)
		return
	}
	response.Success(c, dto)
}

func (h *OrderHandler) fail(c *gin.Context, msg string, err error) {
	status := StatusOf(err)
	ctx := c.Request.Context()
	if status >= http.StatusInternalServerError {
		logger.Error(ctx, msg, "order_id", c.Param("id"), "error", err)
	} else {
		logger.Warn(ctx, msg, "order_id", c.Param("id"), "error", err)
	}
	response.ErrorWithStatus(c, status, string(domain.KindOf(err)), err.Error())
}

// StatusOf 错误类别到 HTTP 状态码
func StatusOf(err error) int {
	var de *domain.Error
	if !errors.As(err, &de) {
		return http.StatusInternalServerError
	}
	switch de.Kind {
	case domain.KindInvalid:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

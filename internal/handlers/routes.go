package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/imrishuroy/go-course-settlement/internal/logging"
	"github.com/imrishuroy/go-course-settlement/internal/orders"
	"github.com/imrishuroy/go-course-settlement/internal/settlement"
	"github.com/imrishuroy/go-course-settlement/internal/validation"
)

// Identity headers set by the upstream auth layer.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	RoleAdmin      = "admin"
)

// OrderService is the order ledger as seen by the HTTP layer.
type OrderService interface {
	CreateOrder(ctx context.Context, buyerID string, courseIDs []string) (orders.CreateResult, error)
	ListOrdersForInstructor(ctx context.Context, instructorID string) ([]orders.Sale, error)
	ListAllOrders(ctx context.Context) ([]orders.Order, error)
}

// Settler applies payment callbacks.
type Settler interface {
	Settle(ctx context.Context, cb settlement.Callback) (settlement.Result, error)
}

// HandlerConfig groups dependencies for the order and payment routes.
type HandlerConfig struct {
	Orders              OrderService
	Settlement          Settler
	GatewayKeyID        string
	StripeWebhookSecret string // empty disables the Stripe webhook route
	CallbackRateLimit   float64
	CallbackBurst       int
	Logger              *zap.Logger
}

type handler struct {
	orders        OrderService
	settler       Settler
	keyID         string
	webhookSecret string
	validate      *validatorv10.Validate
	logger        *zap.Logger
}

// RegisterRoutes registers the order, payment and reporting routes.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &handler{
		orders:        cfg.Orders,
		settler:       cfg.Settlement,
		keyID:         cfg.GatewayKeyID,
		webhookSecret: cfg.StripeWebhookSecret,
		validate:      validation.New(),
		logger:        cfg.Logger,
	}

	limit := rate.Inf
	if cfg.CallbackRateLimit > 0 {
		limit = rate.Limit(cfg.CallbackRateLimit)
	}
	burst := cfg.CallbackBurst
	if burst <= 0 {
		burst = 1
	}
	callbacks := NewRateLimiter(limit, burst, 10*time.Minute).Middleware()

	r.POST("/orders", h.requireUser, h.createOrder)
	r.POST("/payments/verify", callbacks, h.verifyPayment)
	if h.webhookSecret != "" {
		r.POST("/webhooks/stripe", callbacks, h.stripeWebhook)
	}
	r.GET("/instructor/sales", h.requireUser, h.instructorSales)
	r.GET("/admin/orders", h.requireUser, h.requireAdmin, h.allOrders)
}

func (h *handler) requireUser(c *gin.Context) {
	if strings.TrimSpace(c.GetHeader(HeaderUserID)) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing user identity", Code: "unauthenticated"})
		return
	}
	c.Next()
}

func (h *handler) requireAdmin(c *gin.Context) {
	if c.GetHeader(HeaderUserRole) != RoleAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: "admin role required", Code: "forbidden"})
		return
	}
	c.Next()
}

type createOrderResponse struct {
	OrderID          string   `json:"order_id"`
	GatewayReference string   `json:"gateway_reference"`
	Amount           int64    `json:"amount"`
	Currency         string   `json:"currency"`
	Status           string   `json:"status"`
	CourseIDs        []string `json:"course_ids"`
	KeyID            string   `json:"key_id,omitempty"`
	Created          bool     `json:"created"`
}

func (h *handler) createOrder(c *gin.Context) {
	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}

	res, err := h.orders.CreateOrder(c.Request.Context(), c.GetHeader(HeaderUserID), req.CourseIDs)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, createOrderResponse{
		OrderID:          res.Order.OrderID,
		GatewayReference: res.Order.GatewayReference,
		Amount:           res.Order.Amount,
		Currency:         res.Order.Currency,
		Status:           res.Order.Status,
		CourseIDs:        res.Order.CourseIDs,
		KeyID:            h.keyID,
		Created:          res.Created,
	})
}

type settleResponse struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	AlreadySettled bool   `json:"already_settled"`
	Reconciliation string `json:"reconciliation,omitempty"`
}

func (h *handler) verifyPayment(c *gin.Context) {
	var req validation.VerifyPaymentRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}

	res, err := h.settler.Settle(c.Request.Context(), settlement.Callback{
		GatewayReference: req.GatewayReference,
		OrderID:          req.OrderID,
		PaymentReference: req.PaymentID,
		Signature:        req.Signature,
	})
	h.writeSettlement(c, res, err)
}

// writeSettlement reports a paid order as success even when follow-up work is pending.
func (h *handler) writeSettlement(c *gin.Context, res settlement.Result, err error) {
	if err != nil && !errors.Is(err, settlement.ErrPartialSettlement) {
		h.writeError(c, err)
		return
	}
	body := settleResponse{Status: "paid", AlreadySettled: res.AlreadySettled}
	if res.Order != nil {
		body.OrderID = res.Order.OrderID
	}
	if err != nil {
		logging.FromContext(c, h.logger).Warn("payment accepted with reconciliation pending",
			zap.String("order_id", body.OrderID), zap.Error(err))
		body.Reconciliation = "pending"
	}
	c.JSON(http.StatusOK, body)
}

func (h *handler) instructorSales(c *gin.Context) {
	sales, err := h.orders.ListOrdersForInstructor(c.Request.Context(), c.GetHeader(HeaderUserID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if sales == nil {
		sales = []orders.Sale{}
	}
	c.JSON(http.StatusOK, gin.H{"sales": sales})
}

func (h *handler) allOrders(c *gin.Context) {
	list, err := h.orders.ListAllOrders(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

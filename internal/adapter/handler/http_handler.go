package handler

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/logger"
)

// SyncStatusSource reports the background reload state.
type SyncStatusSource interface {
	Status() service.SyncStatus
}

type HTTPOption func(*HTTPHandler)

func WithHTTPLogger(log *zap.Logger) HTTPOption {
	return func(h *HTTPHandler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithAdminToken enables the /admin routes behind a bearer token.
func WithAdminToken(token string) HTTPOption {
	return func(h *HTTPHandler) {
		h.adminToken = token
	}
}

func WithMetricsHandler(m http.Handler) HTTPOption {
	return func(h *HTTPHandler) {
		h.metrics = m
	}
}

func WithSyncStatus(s SyncStatusSource) HTTPOption {
	return func(h *HTTPHandler) {
		h.sync = s
	}
}

type HTTPHandler struct {
	shop       *service.Shop
	log        *zap.Logger
	adminToken string
	metrics    http.Handler
	sync       SyncStatusSource
}

type AddToCartRequest struct {
	ItemID int64 `json:"item_id" binding:"required"`
}

type CheckoutRequest struct {
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	RequestID string `json:"request_id"`
}

type ItemRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    string `json:"price"`
	Stock    int    `json:"stock"`
	ImageURL string `json:"image_url"`
}

type StockRequest struct {
	Delta int `json:"delta" binding:"required"`
}

func NewHTTPHandler(shop *service.Shop, opts ...HTTPOption) *HTTPHandler {
	h := &HTTPHandler{shop: shop, log: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the gin engine with every route registered.
func (h *HTTPHandler) Router() *gin.Engine {
	r := gin.New()
	r.Use(logger.GinMiddleware(h.log), logger.Recovery(h.log))

	r.GET("/health", h.HealthCheck)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := r.Group("/api")
	api.GET("/categories", h.ListCategories)
	api.GET("/categories/:category/items", h.ListItemsByCategory)
	api.GET("/items/:id", h.GetItem)
	api.GET("/search", h.SearchItems)

	carts := api.Group("/carts/:session")
	carts.GET("", h.ViewCart)
	carts.DELETE("", h.ClearCart)
	carts.POST("/items", h.AddToCart)
	carts.DELETE("/items/:id", h.RemoveFromCart)
	carts.POST("/checkout", h.Checkout)

	api.GET("/orders/:id", h.GetOrder)
	api.GET("/sessions/:session/orders", h.ListSessionOrders)

	if h.adminToken != "" {
		admin := r.Group("/admin", h.requireAdmin)
		admin.POST("/reload", h.ReloadCatalog)
		admin.GET("/sync", h.SyncStatus)
		admin.GET("/low-stock", h.LowStock)
		admin.PUT("/items/:id", h.UpsertItem)
		admin.DELETE("/items/:id", h.DeleteItem)
		admin.POST("/items/:id/stock", h.AdjustStock)
		admin.GET("/orders", h.ListOrders)
		admin.POST("/orders/:id/confirm", h.ConfirmOrder)
		admin.POST("/orders/:id/cancel", h.CancelOrder)
		admin.POST("/orders/:id/deliver", h.DeliverOrder)
	}
	return r
}

func (h *HTTPHandler) requireAdmin(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorView{Code: "UNAUTHORIZED", Message: "admin token required"})
		return
	}
	c.Next()
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	catalog := h.shop.Catalog()
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"catalog_version": catalog.Version(),
		"catalog_items":   catalog.Len(),
		"loaded_at":       catalog.LoadedAt(),
	})
}

func (h *HTTPHandler) ListCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": h.shop.ListCategories()})
}

func (h *HTTPHandler) ListItemsByCategory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": itemViews(h.shop.ListItemsByCategory(c.Param("category")))})
}

func (h *HTTPHandler) GetItem(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	it, err := h.shop.GetItem(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, itemView(it))
}

func (h *HTTPHandler) SearchItems(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": itemViews(h.shop.SearchItems(c.Query("q")))})
}

func (h *HTTPHandler) LowStock(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": itemViews(h.shop.LowStock())})
}

func (h *HTTPHandler) ViewCart(c *gin.Context) {
	view, err := h.shop.ViewCart(c.Param("session"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cartView(view))
}

func (h *HTTPHandler) ClearCart(c *gin.Context) {
	if err := h.shop.ClearCart(c.Param("session")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) AddToCart(c *gin.Context) {
	var req AddToCartRequest
	if !h.bind(c, &req) {
		return
	}
	view, err := h.shop.AddToCart(c.Param("session"), req.ItemID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cartView(view))
}

func (h *HTTPHandler) RemoveFromCart(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	view, err := h.shop.RemoveFromCart(c.Param("session"), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cartView(view))
}

// Checkout takes the request id from the body or the Idempotency-Key header.
func (h *HTTPHandler) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if !h.bind(c, &req) {
		return
	}
	if req.RequestID == "" {
		req.RequestID = c.GetHeader("Idempotency-Key")
	}
	contact := domain.Contact{Phone: req.Phone, Address: req.Address}
	order, err := h.shop.Checkout(c.Request.Context(), c.Param("session"), contact, req.RequestID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, orderView(order))
}

func (h *HTTPHandler) GetOrder(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	order, err := h.shop.GetOrder(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orderView(order))
}

func (h *HTTPHandler) ListSessionOrders(c *gin.Context) {
	session := strings.TrimSpace(c.Param("session"))
	if session == "" {
		h.fail(c, domain.ErrInvalidSession)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orderViews(h.shop.ListOrders(session))})
}

func (h *HTTPHandler) ListOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": orderViews(h.shop.ListOrders(c.Query("session")))})
}

func (h *HTTPHandler) ConfirmOrder(c *gin.Context) {
	h.transition(c, h.shop.ConfirmOrder)
}

func (h *HTTPHandler) CancelOrder(c *gin.Context) {
	h.transition(c, h.shop.CancelOrder)
}

func (h *HTTPHandler) DeliverOrder(c *gin.Context) {
	h.transition(c, h.shop.DeliverOrder)
}

func (h *HTTPHandler) ReloadCatalog(c *gin.Context) {
	stats, err := h.shop.ReloadCatalog(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loadStatsView(stats))
}

func (h *HTTPHandler) SyncStatus(c *gin.Context) {
	if h.sync == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	st := h.sync.Status()
	resp := gin.H{
		"enabled":  true,
		"runs":     st.Runs,
		"failures": st.Failures,
		"last":     loadStatsView(st.Last),
	}
	if !st.LastRun.IsZero() {
		resp["last_run"] = st.LastRun.Format(time.RFC3339)
	}
	if st.LastErr != nil {
		resp["last_error"] = st.LastErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HTTPHandler) UpsertItem(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	var req ItemRequest
	if !h.bind(c, &req) {
		return
	}
	price := decimal.Zero
	if strings.TrimSpace(req.Price) != "" {
		p, err := decimal.NewFromString(strings.TrimSpace(req.Price))
		if err != nil {
			h.fail(c, fmt.Errorf("%w: price %q", domain.ErrInvalidItem, req.Price))
			return
		}
		price = p
	}
	it, err := h.shop.UpsertItem(c.Request.Context(), domain.Item{
		ID:       id,
		Name:     req.Name,
		Category: req.Category,
		Price:    price,
		Stock:    req.Stock,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, itemView(it))
}

func (h *HTTPHandler) DeleteItem(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	if err := h.shop.DeleteItem(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) AdjustStock(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	var req StockRequest
	if !h.bind(c, &req) {
		return
	}
	it, err := h.shop.AdjustStock(c.Request.Context(), id, req.Delta)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, itemView(it))
}

type transitionFunc func(ctx context.Context, orderID int64) (domain.Order, error)

func (h *HTTPHandler) transition(c *gin.Context, fn transitionFunc) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	order, err := fn(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orderView(order))
}

func (h *HTTPHandler) idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorView{Code: "INVALID_ID", Message: "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func (h *HTTPHandler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorView{Code: "INVALID_BODY", Message: "invalid request body"})
		return false
	}
	return true
}

func (h *HTTPHandler) fail(c *gin.Context, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, errorView(err))
}

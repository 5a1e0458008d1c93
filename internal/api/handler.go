package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"support-service/internal/service"
	"support-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxEvidenceBytes = 10 << 20

// Options configures the HTTP layer
type Options struct {
	AdminJWTSecret    string
	DefaultCustomerID string
	// Ready reports whether backing services are reachable; nil means always ready
	Ready func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	support    *service.SupportService
	validation *service.ValidationService
	scheduler  *service.SubscriptionScheduler
	engine     *service.ResolutionEngine
	opts       Options
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	support *service.SupportService,
	validation *service.ValidationService,
	scheduler *service.SubscriptionScheduler,
	engine *service.ResolutionEngine,
	opts Options,
) *Handler {
	return &Handler{
		support:    support,
		validation: validation,
		scheduler:  scheduler,
		engine:     engine,
		opts:       opts,
		logger:     util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/customers", h.listCustomers)
		v1.GET("/customers/:id", h.getCustomer)
		v1.GET("/customers/:id/subscriptions", h.listSubscriptions)
		v1.GET("/customers/:id/notifications", h.listNotifications)

		v1.POST("/chat", h.chat)
		v1.POST("/evidence", h.submitEvidence)

		v1.POST("/subscriptions", h.createSubscription)
		v1.POST("/subscriptions/:id/cancel", h.cancelSubscription)
	}

	admin := v1.Group("/admin", AdminAuth(h.opts.AdminJWTSecret))
	{
		admin.POST("/cases", h.escalateCase)
		admin.GET("/cases/:id", h.getCase)
		admin.POST("/cases/:id/resolve", h.resolveCase)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.opts.Ready != nil {
		if err := h.opts.Ready(c.Request.Context()); err != nil {
			h.logger.Warn("Readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"time":   time.Now().Unix(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) listCustomers(c *gin.Context) {
	customers, err := h.support.ListCustomers(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers})
}

func (h *Handler) getCustomer(c *gin.Context) {
	overview, err := h.support.GetCustomerOverview(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// chat classifies a message, applies automatic resolutions and replies
func (h *Handler) chat(c *gin.Context) {
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.support.HandleMessage(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// submitEvidence validates a photo attached as multipart field "image"
func (h *Handler) submitEvidence(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": "image file is required",
		})
		return
	}
	if file.Size > maxEvidenceBytes {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": "image exceeds 10MB",
		})
		return
	}

	f, err := file.Open()
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer f.Close()

	img, err := io.ReadAll(io.LimitReader(f, maxEvidenceBytes))
	if err != nil {
		h.respondError(c, err)
		return
	}

	customerID := c.PostForm("customer_id")
	if customerID == "" {
		customerID = h.opts.DefaultCustomerID
	}

	resp := h.validation.ValidateEvidence(c.Request.Context(), img, c.PostForm("message"), customerID)
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) createSubscription(c *gin.Context) {
	var req service.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	sub, err := h.scheduler.Create(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":      "Subscription created successfully",
		"subscription": sub,
	})
}

func (h *Handler) listSubscriptions(c *gin.Context) {
	subs, err := h.scheduler.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

func (h *Handler) cancelSubscription(c *gin.Context) {
	id := c.Param("id")
	found, err := h.scheduler.Cancel(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not found",
			"details": "subscription " + id + " not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Subscription " + id + " cancelled"})
}

func (h *Handler) listNotifications(c *gin.Context) {
	reminders, err := h.scheduler.Notifications(c.Request.Context(), c.Param("id"), time.Now())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": reminders})
}

func (h *Handler) escalateCase(c *gin.Context) {
	var req service.EscalationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	// ids are always minted server-side for admin escalations
	req.CaseID = ""

	resp, err := h.engine.EscalateCase(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) getCase(c *gin.Context) {
	cs, err := h.engine.GetCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

type resolveRequest struct {
	Decision string `json:"decision" binding:"required"`
}

func (h *Handler) resolveCase(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.engine.ResolveEscalated(c.Request.Context(), c.Param("id"), req.Decision)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

// respondError maps service errors to status codes. Internal errors get a
// generic body; the detail is only logged.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found", "details": err.Error()})
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrLockBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "Conflict", "details": err.Error()})
	default:
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// requestLogger writes one structured line per request
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

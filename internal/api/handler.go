package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"enrollment-service/internal/service"
	"enrollment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// userHeader carries the authenticated username set by the upstream gateway
const userHeader = "X-User"

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders        *service.OrderService
	enrollments   *service.EnrollmentService
	catalog       *service.CatalogService
	payments      *service.PaymentEventHandler
	webhookSecret string
	readiness     map[string]Pinger
	logger        *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	enrollments *service.EnrollmentService,
	catalog *service.CatalogService,
	payments *service.PaymentEventHandler,
	webhookSecret string,
) *Handler {
	return &Handler{
		orders:        orders,
		enrollments:   enrollments,
		catalog:       catalog,
		payments:      payments,
		webhookSecret: webhookSecret,
		readiness:     map[string]Pinger{},
		logger:        util.GetLogger(),
	}
}

// AddReadinessCheck registers a dependency checked by /ready
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.readiness[name] = p
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/products/:id", h.getProduct)
		v1.POST("/webhooks/stripe", h.stripeWebhook)
	}

	authed := v1.Group("", requireUser())
	{
		authed.POST("/orders", h.createOrder)
		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.POST("/orders/:id/course-runs", h.selectCourseRun)
		authed.POST("/orders/:id/cancel", h.cancelOrder)
		authed.POST("/orders/:id/complete", h.completeOrder)
		authed.GET("/orders/:id/certificate", h.downloadOrderCertificate)

		authed.GET("/certificates", h.listCertificates)
		authed.GET("/certificates/:id", h.getCertificate)
		authed.GET("/certificates/:id/download", h.downloadCertificate)

		authed.POST("/enrollments", h.createEnrollment)
		authed.GET("/enrollments", h.listEnrollments)
		authed.PATCH("/enrollments/:id", h.updateEnrollment)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports not ready while any registered dependency is unreachable
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failures := gin.H{}
	for name, p := range h.readiness {
		if err := p.Ping(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "not ready",
			"failures": failures,
			"time":     time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(userHeader) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing " + userHeader + " header"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetHeader(userHeader)
}

// writeError maps service errors to HTTP responses
func (h *Handler) writeError(c *gin.Context, err error) {
	var invalidRuns *service.InvalidCourseRunsError
	var enrollErr *service.EnrollmentError
	var gradeErr *service.GradeError

	switch {
	case errors.As(err, &invalidRuns):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "Invalid course run selection",
			"problems": invalidRuns.Problems,
		})
	case errors.Is(err, service.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, service.ErrOrderExists):
		c.JSON(http.StatusConflict, gin.H{"error": "An order already exists for this product"})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "Operation not allowed in the current state", "details": err.Error()})
	case errors.Is(err, service.ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": "Certificate not issued yet"})
	case errors.As(err, &gradeErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "LMS grades are inconsistent", "details": err.Error()})
	case errors.As(err, &enrollErr) && errors.Is(err, service.ErrEnrollmentClosed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Course run is not open for enrollment"})
	case errors.Is(err, service.ErrLMSUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "LMS unavailable, retry later", "details": err.Error()})
	case errors.As(err, &enrollErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "LMS rejected the enrollment", "details": err.Error()})
	default:
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
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

package api

import (
	"errors"
	"fmt"
	"net/http"

	"enrollment-service/internal/models"
	"enrollment-service/internal/service"

	"github.com/gin-gonic/gin"
)

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	req.Owner = currentUser(c)

	order, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	detail, err := h.orders.GetOrder(c.Request.Context(), order.ID, order.Owner)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, detail)
}

// listOrders lists the orders of the caller, filtered by the repeated state query parameter
func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), currentUser(c), c.QueryArray("state"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	detail, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

type selectCourseRunRequest struct {
	CourseID    string `json:"course_id" binding:"required"`
	CourseRunID string `json:"course_run_id" binding:"required"`
}

// selectCourseRun changes the course run of one target course of an order
func (h *Handler) selectCourseRun(c *gin.Context) {
	var req selectCourseRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	orderID, owner := c.Param("id"), currentUser(c)
	if err := h.orders.SelectCourseRun(ctx, orderID, owner, req.CourseID, req.CourseRunID); err != nil {
		h.writeError(c, err)
		return
	}

	detail, err := h.orders.GetOrder(ctx, orderID, owner)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// cancelOrder abandons a pending order
func (h *Handler) cancelOrder(c *gin.Context) {
	if err := h.orders.CancelOrder(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// completeOrder tries to finish a paid order. 202 means the LMS has not
// graded every course yet.
func (h *Handler) completeOrder(c *gin.Context) {
	ctx := c.Request.Context()
	orderID, owner := c.Param("id"), currentUser(c)

	if _, err := h.orders.GetOrder(ctx, orderID, owner); err != nil {
		h.writeError(c, err)
		return
	}

	status, err := h.orders.Complete(ctx, orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	code := http.StatusOK
	if status == service.CompletionPending {
		code = http.StatusAccepted
	}
	c.JSON(code, gin.H{"order_id": orderID, "status": status})
}

// downloadOrderCertificate serves the certificate document of an order
func (h *Handler) downloadOrderCertificate(c *gin.Context) {
	cert, document, err := h.orders.GetCertificateDocument(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	writePDF(c, cert, document)
}

// listCertificates lists the certificates of the caller
func (h *Handler) listCertificates(c *gin.Context) {
	certs, err := h.orders.ListCertificates(c.Request.Context(), currentUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"certificates": certs})
}

// getCertificate returns the certificate metadata
func (h *Handler) getCertificate(c *gin.Context) {
	cert, _, err := h.orders.GetCertificate(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

// downloadCertificate serves a certificate document by certificate ID
func (h *Handler) downloadCertificate(c *gin.Context) {
	cert, document, err := h.orders.GetCertificate(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	writePDF(c, cert, document)
}

func writePDF(c *gin.Context, cert *models.Certificate, document []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pdf;", cert.ID))
	c.Data(http.StatusOK, "application/pdf", document)
}

type createEnrollmentRequest struct {
	CourseRunID string `json:"course_run_id" binding:"required"`
}

// createEnrollment enrolls the caller on a course run without an order
func (h *Handler) createEnrollment(c *gin.Context) {
	var req createEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	enrollment, err := h.enrollments.Enroll(c.Request.Context(), currentUser(c), req.CourseRunID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, enrollment)
}

// listEnrollments lists the enrollments of the caller
func (h *Handler) listEnrollments(c *gin.Context) {
	enrollments, err := h.enrollments.ListEnrollments(c.Request.Context(), currentUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrollments": enrollments})
}

type updateEnrollmentRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// updateEnrollment activates or deactivates an enrollment of the caller
func (h *Handler) updateEnrollment(c *gin.Context) {
	var req updateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	enrollment, err := h.enrollments.SetActive(c.Request.Context(), c.Param("id"), currentUser(c), *req.IsActive)
	var enrollErr *service.EnrollmentError
	if errors.As(err, &enrollErr) && enrollment != nil {
		// the local intent is kept, the LMS is out of sync
		c.JSON(http.StatusAccepted, gin.H{"enrollment": enrollment, "error": err.Error()})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, enrollment)
}

// getProduct returns a product with its target courses and selectable course runs
func (h *Handler) getProduct(c *gin.Context) {
	view, err := h.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

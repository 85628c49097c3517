package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of order state transitions",
	}, []string{"from", "to"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed orders",
	}, []string{"reason"})

	CourseRunSelectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "course_run_selections_rejected_total",
		Help: "Total number of rejected course run selections",
	})

	EnrollmentActivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_activations_total",
		Help: "Total number of enrollment activations",
	}, []string{"result"})

	EnrollmentDeactivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_deactivations_total",
		Help: "Total number of enrollment deactivations",
	}, []string{"result"})

	LMSRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lms_request_duration_seconds",
		Help:    "Latency of requests sent to the LMS",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "operation", "result"})

	GradeEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grade_evaluations_total",
		Help: "Total number of grade evaluations by outcome",
	}, []string{"outcome"})

	CertificatesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certificates_issued_total",
		Help: "Total number of certificates issued",
	})

	CertificateRenderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "certificate_render_latency_seconds",
		Help:    "Latency of certificate rendering",
		Buckets: prometheus.DefBuckets,
	})

	PaymentEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_total",
		Help: "Total number of payment events handled",
	}, []string{"type", "result"})

	CatalogCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_cache_total",
		Help: "Catalog cache lookups by result",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

// Package app assembles the services of the enrollment service from its configuration.
package app

import (
	"fmt"

	"enrollment-service/config"
	"enrollment-service/internal/certificate"
	"enrollment-service/internal/docstore"
	"enrollment-service/internal/lms"
	"enrollment-service/internal/service"
	"enrollment-service/internal/store"
)

// Options carries the optional collaborators of the services
type Options struct {
	Publisher service.EventPublisher
	Cache     service.Cache
}

// App holds the wired services
type App struct {
	Store       *store.Store
	Gateway     *lms.Registry
	Documents   docstore.Store
	Enrollments *service.EnrollmentService
	Grades      *service.GradeEvaluator
	Issuer      *service.CertificateIssuer
	Orders      *service.OrderService
	Catalog     *service.CatalogService
	Payments    *service.PaymentEventHandler
}

// New wires the services on top of an opened store
func New(cfg *config.Config, db *store.Store, opts Options) (*App, error) {
	gateway, err := NewGateway(cfg.LMS)
	if err != nil {
		return nil, err
	}
	docs, err := NewDocumentStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	enrollments := service.NewEnrollmentService(db, gateway, cfg.LMS.Timeout)
	grades := service.NewGradeEvaluator(gateway, cfg.Business.GradePassThreshold, cfg.LMS.Timeout)
	issuer := service.NewCertificateIssuer(docs, certificate.NewRenderer())
	orders := service.NewOrderService(db, enrollments, grades, issuer, opts.Publisher)

	return &App{
		Store:       db,
		Gateway:     gateway,
		Documents:   docs,
		Enrollments: enrollments,
		Grades:      grades,
		Issuer:      issuer,
		Orders:      orders,
		Catalog:     service.NewCatalogService(db, opts.Cache, cfg.Business.CatalogCacheTTL),
		Payments:    service.NewPaymentEventHandler(db, orders),
	}, nil
}

// NewGateway builds the LMS registry. Each OpenEdX backend gets its own rate limiter.
func NewGateway(cfg config.LMSConfig) (*lms.Registry, error) {
	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("no lms backend configured")
	}
	var opts []lms.OpenEdXOption
	if cfg.RatePerSecond > 0 {
		opts = append(opts, lms.WithRateLimit(cfg.RatePerSecond, cfg.RateBurst))
	}
	return lms.NewRegistryFromConfig(cfg.Backends, opts...)
}

// NewDocumentStore builds the certificate document store
func NewDocumentStore(cfg config.StorageConfig) (docstore.Store, error) {
	switch cfg.Backend {
	case "s3":
		s3, err := docstore.NewS3(docstore.S3Config{
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return s3, nil
	case "memory", "":
		return docstore.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

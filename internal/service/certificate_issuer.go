package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"enrollment-service/internal/certificate"
	"enrollment-service/internal/docstore"
	"enrollment-service/internal/models"
	"enrollment-service/internal/store"
	"enrollment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CertificateIssuer renders and persists the certificate of an order, exactly once
type CertificateIssuer struct {
	docs     docstore.Store
	renderer *certificate.Renderer
	now      func() time.Time
	logger   *zap.Logger
}

// NewCertificateIssuer creates a certificate issuer
func NewCertificateIssuer(docs docstore.Store, renderer *certificate.Renderer) *CertificateIssuer {
	return &CertificateIssuer{
		docs:     docs,
		renderer: renderer,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// Issue returns the certificate of the order, creating it on first call. The
// returned bytes are identical on every call. created is false when the
// certificate already existed.
func (ci *CertificateIssuer) Issue(ctx context.Context, q *store.Queries, order *models.Order, product *models.Product) (cert *models.Certificate, document []byte, created bool, err error) {
	ctx, span := util.StartSpan(ctx, "CertificateIssuer.Issue")
	defer span.End()

	existing, err := q.GetCertificateByOrderID(ctx, order.ID)
	if err == nil {
		document, err := ci.Document(ctx, existing)
		return existing, document, false, err
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, false, fmt.Errorf("failed to get certificate: %w", err)
	}

	if !models.IsCertifying(product.Type) || product.CertificateDefinitionID == nil {
		return nil, nil, false, fmt.Errorf("product %s does not deliver certificates: %w", product.ID, ErrInvalidTransition)
	}

	cert = &models.Certificate{
		ID:                      uuid.New().String(),
		OrderID:                 order.ID,
		CertificateDefinitionID: *product.CertificateDefinitionID,
		IssuedAt:                ci.now().UTC().Truncate(time.Second),
	}

	content, err := ci.snapshot(ctx, q, cert, order)
	if err != nil {
		return nil, nil, false, err
	}
	encoded, err := json.Marshal(content)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to encode certificate content: %w", err)
	}
	cert.Content = string(encoded)

	document, err = ci.render(content)
	if err != nil {
		return nil, nil, false, err
	}
	if err := ci.docs.Put(ctx, cert.ID, document); err != nil {
		return nil, nil, false, fmt.Errorf("failed to store certificate document: %w", err)
	}
	if err := q.CreateCertificate(ctx, cert); err != nil {
		return nil, nil, false, fmt.Errorf("failed to create certificate: %w", err)
	}

	util.CertificatesIssuedTotal.Inc()
	ci.logger.Info("Certificate issued",
		zap.String("certificate_id", cert.ID),
		zap.String("order_id", order.ID),
		zap.Int("size", len(document)))
	return cert, document, true, nil
}

// Document returns the stored bytes of an issued certificate. A lost document
// is rendered again from the content captured at issuance, never from the
// current catalog.
func (ci *CertificateIssuer) Document(ctx context.Context, cert *models.Certificate) ([]byte, error) {
	document, err := ci.docs.Get(ctx, cert.ID)
	if err == nil {
		return document, nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("failed to load certificate document: %w", err)
	}

	if cert.Content == "" {
		return nil, fmt.Errorf("certificate %s has no recorded content to render from", cert.ID)
	}
	var content certificateContent
	if err := json.Unmarshal([]byte(cert.Content), &content); err != nil {
		return nil, fmt.Errorf("failed to decode certificate content: %w", err)
	}

	ci.logger.Warn("Certificate document missing, rendering it again", zap.String("certificate_id", cert.ID))
	document, err = ci.render(&content)
	if err != nil {
		return nil, err
	}
	if err := ci.docs.Put(ctx, cert.ID, document); err != nil {
		return nil, fmt.Errorf("failed to store certificate document: %w", err)
	}
	return document, nil
}

// certificateContent is everything a certificate is rendered from
type certificateContent struct {
	Template string               `json:"template"`
	Document certificate.Document `json:"document"`
}

func (ci *CertificateIssuer) render(content *certificateContent) ([]byte, error) {
	start := time.Now()
	defer func() {
		util.CertificateRenderLatency.Observe(time.Since(start).Seconds())
	}()
	return ci.renderer.Render(content.Template, content.Document)
}

// snapshot collects the render input of a new certificate from the catalog
func (ci *CertificateIssuer) snapshot(ctx context.Context, q *store.Queries, cert *models.Certificate, order *models.Order) (*certificateContent, error) {
	def, err := q.GetCertificateDefinition(ctx, cert.CertificateDefinitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get certificate definition: %w", err)
	}

	owner, err := q.GetUser(ctx, order.Owner)
	if errors.Is(err, store.ErrNotFound) {
		owner, err = &models.User{Username: order.Owner}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order owner: %w", err)
	}

	product, err := q.GetProduct(ctx, order.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	relations, err := q.GetOrderCourseRelations(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order courses: %w", err)
	}
	courseIDs := make([]string, len(relations))
	for i, rel := range relations {
		courseIDs[i] = rel.CourseID
	}
	courses, err := q.GetCoursesByIDs(ctx, courseIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get courses: %w", err)
	}

	doc := certificate.Document{
		ID:          cert.ID,
		Title:       def.Title,
		Description: def.Description,
		Learner:     owner.FullName(),
		Product:     product.Title,
		IssuedAt:    cert.IssuedAt,
	}

	var orgIDs []string
	seen := make(map[string]bool)
	for _, rel := range relations {
		course := courses[rel.CourseID]
		doc.Courses = append(doc.Courses, course.Title)
		if !seen[course.OrganizationID] {
			seen[course.OrganizationID] = true
			orgIDs = append(orgIDs, course.OrganizationID)
		}
	}

	orgs, err := q.GetOrganizationsByIDs(ctx, orgIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get organizations: %w", err)
	}
	byID := make(map[string]models.Organization, len(orgs))
	for _, org := range orgs {
		byID[org.ID] = org
	}
	for _, id := range orgIDs {
		if org, ok := byID[id]; ok {
			doc.Signatures = append(doc.Signatures, certificate.Signature{Organization: org.Title, Signatory: org.Signatory})
		}
	}

	return &certificateContent{Template: def.Template, Document: doc}, nil
}

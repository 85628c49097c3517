package store

import (
	"context"
	"fmt"
	"time"

	"enrollment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, owner, product_id, course_id, price, state, created_at, updated_at`

// CreateOrder creates a new order together with its target course snapshot
func (q *Queries) CreateOrder(ctx context.Context, order *models.Order, relations []models.OrderCourseRelation) error {
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	_, err := q.exec(ctx, `
		INSERT INTO orders (id, owner, product_id, course_id, price, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.Owner, order.ProductID, order.CourseID, order.Price, order.State,
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range relations {
		rel := &relations[i]
		rel.OrderID = order.ID
		_, err := q.exec(ctx, `
			INSERT INTO order_course_relations (order_id, course_id, position, course_run_ids, course_run_id)
			VALUES (?, ?, ?, ?, ?)`,
			rel.OrderID, rel.CourseID, rel.Position, rel.CourseRunIDs, rel.CourseRunID)
		if err != nil {
			return fmt.Errorf("failed to insert order course relation: %w", err)
		}
	}

	return nil
}

// GetOrderByID retrieves an order by ID
func (q *Queries) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := q.get(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &order, nil
}

// LockOrder retrieves an order and holds a row lock on it until the
// surrounding transaction ends
func (q *Queries) LockOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := q.get(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = ?"+q.forUpdate(), id)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindLiveOrder retrieves the non failed order an owner holds on a product
func (q *Queries) FindLiveOrder(ctx context.Context, owner, productID string) (*models.Order, error) {
	var order models.Order
	err := q.get(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE owner = ? AND product_id = ? AND state <> ?",
		owner, productID, models.OrderStateFailed)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderState updates order state
func (q *Queries) UpdateOrderState(ctx context.Context, orderID, state string) error {
	return q.execOne(ctx,
		"UPDATE orders SET state = ?, updated_at = ? WHERE id = ?",
		state, time.Now().UTC(), orderID)
}

// GetOrderCourseRelations retrieves the target course snapshot of an order
func (q *Queries) GetOrderCourseRelations(ctx context.Context, orderID string) ([]models.OrderCourseRelation, error) {
	var relations []models.OrderCourseRelation
	err := q.selectAll(ctx, &relations, `
		SELECT order_id, course_id, position, course_run_ids, course_run_id
		FROM order_course_relations WHERE order_id = ? ORDER BY position`, orderID)
	return relations, err
}

// UpdateOrderCourseRun changes the course run selected for one target course of an order
func (q *Queries) UpdateOrderCourseRun(ctx context.Context, orderID, courseID, courseRunID string) error {
	return q.execOne(ctx,
		"UPDATE order_course_relations SET course_run_id = ? WHERE order_id = ? AND course_id = ?",
		courseRunID, orderID, courseID)
}

// ListOrders retrieves the orders of an owner, optionally restricted to some states
func (q *Queries) ListOrders(ctx context.Context, owner string, states []string) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE owner = ?"
	args := []interface{}{owner}

	if len(states) > 0 {
		inQuery, inArgs, err := sqlx.In(" AND state IN (?)", states)
		if err != nil {
			return nil, err
		}
		query += inQuery
		args = append(args, inArgs...)
	}
	query += " ORDER BY created_at DESC, id"

	orders := []models.Order{}
	err := q.selectAll(ctx, &orders, query, args...)
	return orders, err
}

// ListOrderIDsByState pages through the IDs of orders in a state, ordered by
// ID. Pass the last ID of the previous page as afterID, or "" for the first page.
func (q *Queries) ListOrderIDsByState(ctx context.Context, state, afterID string, limit int) ([]string, error) {
	var ids []string
	err := q.selectAll(ctx, &ids,
		"SELECT id FROM orders WHERE state = ? AND id > ? ORDER BY id LIMIT ?", state, afterID, limit)
	return ids, err
}

// CreateCertificate records an issued certificate
func (q *Queries) CreateCertificate(ctx context.Context, cert *models.Certificate) error {
	_, err := q.exec(ctx, `
		INSERT INTO certificates (id, order_id, certificate_definition_id, issued_at, content)
		VALUES (?, ?, ?, ?, ?)`,
		cert.ID, cert.OrderID, cert.CertificateDefinitionID, cert.IssuedAt.UTC(), cert.Content)
	return err
}

// GetCertificateByOrderID retrieves the certificate issued for an order
func (q *Queries) GetCertificateByOrderID(ctx context.Context, orderID string) (*models.Certificate, error) {
	var cert models.Certificate
	err := q.get(ctx, &cert,
		"SELECT id, order_id, certificate_definition_id, issued_at, content FROM certificates WHERE order_id = ?", orderID)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// GetCertificateByID retrieves a certificate by ID
func (q *Queries) GetCertificateByID(ctx context.Context, id string) (*models.Certificate, error) {
	var cert models.Certificate
	err := q.get(ctx, &cert,
		"SELECT id, order_id, certificate_definition_id, issued_at, content FROM certificates WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// ListCertificatesByOwner retrieves the certificates issued for the orders of an owner
func (q *Queries) ListCertificatesByOwner(ctx context.Context, owner string) ([]models.Certificate, error) {
	certs := []models.Certificate{}
	err := q.selectAll(ctx, &certs, `
		SELECT c.id, c.order_id, c.certificate_definition_id, c.issued_at
		FROM certificates c JOIN orders o ON o.id = c.order_id
		WHERE o.owner = ? ORDER BY c.issued_at DESC, c.id`, owner)
	return certs, err
}

// IsEventProcessed checks if an event has been processed
func (q *Queries) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int
	err := q.get(ctx, &count,
		"SELECT COUNT(*) FROM processed_events WHERE event_id = ?", eventID)
	return count > 0, err
}

// MarkEventProcessed marks an event as processed
func (q *Queries) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := q.exec(ctx,
		"INSERT INTO processed_events (event_id, event_type, processed_at) VALUES (?, ?, ?) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType, time.Now().UTC())
	return err
}

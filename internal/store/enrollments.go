package store

import (
	"context"
	"time"

	"enrollment-service/internal/models"
)

const enrollmentColumns = `id, order_id, course_run_id, username, is_active, state, created_at, updated_at`

// InsertEnrollmentIfAbsent creates the enrollment unless one already exists for
// the same (username, course run) pair. It reports whether a row was inserted.
func (q *Queries) InsertEnrollmentIfAbsent(ctx context.Context, e *models.Enrollment) (bool, error) {
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	res, err := q.exec(ctx, `
		INSERT INTO enrollments (id, order_id, course_run_id, username, is_active, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (username, course_run_id) DO NOTHING`,
		e.ID, e.OrderID, e.CourseRunID, e.Username, e.IsActive, e.State, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LockEnrollment retrieves the enrollment of a user on a course run and holds
// a row lock on it until the surrounding transaction ends
func (q *Queries) LockEnrollment(ctx context.Context, username, courseRunID string) (*models.Enrollment, error) {
	var e models.Enrollment
	err := q.get(ctx, &e,
		"SELECT "+enrollmentColumns+" FROM enrollments WHERE username = ? AND course_run_id = ?"+q.forUpdate(),
		username, courseRunID)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEnrollment retrieves the enrollment of a user on a course run
func (q *Queries) GetEnrollment(ctx context.Context, username, courseRunID string) (*models.Enrollment, error) {
	var e models.Enrollment
	err := q.get(ctx, &e,
		"SELECT "+enrollmentColumns+" FROM enrollments WHERE username = ? AND course_run_id = ?",
		username, courseRunID)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEnrollmentByID retrieves an enrollment by ID
func (q *Queries) GetEnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error) {
	var e models.Enrollment
	if err := q.get(ctx, &e, "SELECT "+enrollmentColumns+" FROM enrollments WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateEnrollment persists the mutable fields of an enrollment
func (q *Queries) UpdateEnrollment(ctx context.Context, e *models.Enrollment) error {
	e.UpdatedAt = time.Now().UTC()
	return q.execOne(ctx,
		"UPDATE enrollments SET order_id = ?, is_active = ?, state = ?, updated_at = ? WHERE id = ?",
		e.OrderID, e.IsActive, e.State, e.UpdatedAt, e.ID)
}

// GetEnrollmentsByOrderID retrieves all enrollments attached to an order
func (q *Queries) GetEnrollmentsByOrderID(ctx context.Context, orderID string) ([]models.Enrollment, error) {
	enrollments := []models.Enrollment{}
	err := q.selectAll(ctx, &enrollments,
		"SELECT "+enrollmentColumns+" FROM enrollments WHERE order_id = ? ORDER BY created_at, id", orderID)
	return enrollments, err
}

// GetEnrollmentsByUser retrieves all enrollments of a user
func (q *Queries) GetEnrollmentsByUser(ctx context.Context, username string) ([]models.Enrollment, error) {
	enrollments := []models.Enrollment{}
	err := q.selectAll(ctx, &enrollments,
		"SELECT "+enrollmentColumns+" FROM enrollments WHERE username = ? ORDER BY created_at, id", username)
	return enrollments, err
}

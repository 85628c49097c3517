package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"enrollment-service/internal/models"
	"enrollment-service/internal/store"
	"enrollment-service/internal/util"
)

// OrderDetail is the read model of one order
type OrderDetail struct {
	models.Order
	TargetCourses []OrderTargetCourse `json:"target_courses"`
	Enrollments   []EnrollmentDetail  `json:"enrollments"`
	CertificateID *string             `json:"certificate_id,omitempty"`
}

// OrderTargetCourse is one frozen target course of an order
type OrderTargetCourse struct {
	CourseID     string        `json:"course_id"`
	Code         string        `json:"code"`
	Title        string        `json:"title"`
	Position     int           `json:"position"`
	CourseRunIDs models.IDList `json:"course_run_ids"`
	CourseRunID  string        `json:"course_run_id"`
}

// EnrollmentDetail exposes an enrollment with the LMS facing data of its course run
type EnrollmentDetail struct {
	models.Enrollment
	ResourceLink    string    `json:"resource_link"`
	Title           string    `json:"title"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	EnrollmentStart time.Time `json:"enrollment_start"`
	EnrollmentEnd   time.Time `json:"enrollment_end"`
}

// GetOrder returns the read model of an order. A non empty owner restricts
// the lookup to the orders of that owner.
func (s *OrderService) GetOrder(ctx context.Context, orderID, owner string) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.getOwned(ctx, orderID, owner)
	if err != nil {
		return nil, err
	}

	relations, err := s.store.GetOrderCourseRelations(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order courses: %w", err)
	}
	courseIDs := make([]string, len(relations))
	for i, rel := range relations {
		courseIDs[i] = rel.CourseID
	}
	courses, err := s.store.GetCoursesByIDs(ctx, courseIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get courses: %w", err)
	}

	detail := &OrderDetail{
		Order:         *order,
		TargetCourses: make([]OrderTargetCourse, 0, len(relations)),
		Enrollments:   []EnrollmentDetail{},
	}
	for _, rel := range relations {
		course := courses[rel.CourseID]
		detail.TargetCourses = append(detail.TargetCourses, OrderTargetCourse{
			CourseID:     rel.CourseID,
			Code:         course.Code,
			Title:        course.Title,
			Position:     rel.Position,
			CourseRunIDs: rel.CourseRunIDs,
			CourseRunID:  rel.CourseRunID,
		})
	}

	enrollments, err := s.store.GetEnrollmentsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollments: %w", err)
	}
	runIDs := make([]string, len(enrollments))
	for i, e := range enrollments {
		runIDs[i] = e.CourseRunID
	}
	runs, err := s.store.GetCourseRunsByIDs(ctx, runIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get course runs: %w", err)
	}
	for _, e := range enrollments {
		run := runs[e.CourseRunID]
		detail.Enrollments = append(detail.Enrollments, EnrollmentDetail{
			Enrollment:      e,
			ResourceLink:    run.ResourceLink,
			Title:           run.Title,
			Start:           run.Start,
			End:             run.End,
			EnrollmentStart: run.EnrollmentStart,
			EnrollmentEnd:   run.EnrollmentEnd,
		})
	}

	cert, err := s.store.GetCertificateByOrderID(ctx, order.ID)
	switch {
	case err == nil:
		detail.CertificateID = &cert.ID
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to get certificate: %w", err)
	}

	return detail, nil
}

// ListOrders returns the orders of an owner, optionally restricted to some states
func (s *OrderService) ListOrders(ctx context.Context, owner string, states []string) ([]models.Order, error) {
	for _, state := range states {
		switch state {
		case models.OrderStatePending, models.OrderStatePaid, models.OrderStateFinished, models.OrderStateFailed:
		default:
			return nil, fmt.Errorf("%w: unknown order state %q", ErrInvalidRequest, state)
		}
	}
	return s.store.ListOrders(ctx, owner, states)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"enrollment-service/internal/lms"
	"enrollment-service/internal/models"
	"enrollment-service/internal/store"
	"enrollment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EnrollmentService keeps enrollments in sync with the LMS
type EnrollmentService struct {
	store   *store.Store
	lms     lms.Gateway
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewEnrollmentService creates a new enrollment service. Every LMS call is
// bounded by timeout.
func NewEnrollmentService(store *store.Store, gateway lms.Gateway, timeout time.Duration) *EnrollmentService {
	return &EnrollmentService{
		store:   store,
		lms:     gateway,
		timeout: timeout,
		now:     time.Now,
		logger:  util.GetLogger(),
	}
}

// Activation is the outcome of a successful activation
type Activation struct {
	Enrollment *models.Enrollment
	previous   models.Enrollment
}

// Changed reports whether the learner was not already enrolled before the activation
func (a *Activation) Changed() bool {
	return !a.previous.IsEnrolled()
}

// Activate enrolls the user on the course run, reusing the existing
// enrollment row if any. q must be bound to a transaction: the enrollment row
// stays locked until it ends. On LMS failure the enrollment is left in the
// failed state and an *EnrollmentError is returned.
func (s *EnrollmentService) Activate(ctx context.Context, q *store.Queries, username string, run *models.CourseRun, orderID *string) (*Activation, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.Activate")
	defer span.End()

	if !run.IsEnrollable(s.now()) {
		util.EnrollmentActivationsTotal.WithLabelValues("closed").Inc()
		return nil, &EnrollmentError{Op: "activate", Username: username, CourseRunID: run.ID, Err: ErrEnrollmentClosed}
	}

	_, err := q.InsertEnrollmentIfAbsent(ctx, &models.Enrollment{
		ID:          uuid.New().String(),
		CourseRunID: run.ID,
		Username:    username,
		State:       models.EnrollmentStateUnset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}

	e, err := q.LockEnrollment(ctx, username, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock enrollment: %w", err)
	}

	// an enrollment that is already set keeps its owner
	activation := &Activation{Enrollment: e, previous: *e}
	if orderID != nil && activation.Changed() {
		e.OrderID = orderID
	}
	e.IsActive = true

	if err := s.push(ctx, q, e, run, true); err != nil {
		return activation, err
	}
	return activation, nil
}

// Deactivate unenrolls the user from the course run of e. The local intent
// to be unenrolled is kept even when the LMS call fails, in which case the
// enrollment moves to the failed state and an *EnrollmentError is returned.
func (s *EnrollmentService) Deactivate(ctx context.Context, q *store.Queries, e *models.Enrollment) error {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.Deactivate")
	defer span.End()

	run, err := q.GetCourseRun(ctx, e.CourseRunID)
	if err != nil {
		return fmt.Errorf("failed to get course run: %w", err)
	}

	e.IsActive = false
	return s.push(ctx, q, e, run, false)
}

// Revert undoes an activation performed earlier in the same transaction
func (s *EnrollmentService) Revert(ctx context.Context, q *store.Queries, a *Activation) error {
	a.Enrollment.OrderID = a.previous.OrderID
	if a.Changed() {
		return s.Deactivate(ctx, q, a.Enrollment)
	}
	return q.UpdateEnrollment(ctx, a.Enrollment)
}

// Abandon puts back the enrollment of an activation that failed in the LMS.
// The failed state is kept unless the learner was already enrolled.
func (s *EnrollmentService) Abandon(ctx context.Context, q *store.Queries, a *Activation) error {
	e := a.Enrollment
	e.OrderID = a.previous.OrderID
	e.IsActive = a.previous.IsActive
	if a.previous.IsEnrolled() {
		e.State = a.previous.State
	}
	if err := q.UpdateEnrollment(ctx, e); err != nil {
		return fmt.Errorf("failed to restore enrollment: %w", err)
	}
	return nil
}

// push sends the wanted enrollment state to the LMS and records the outcome
func (s *EnrollmentService) push(ctx context.Context, q *store.Queries, e *models.Enrollment, run *models.CourseRun, active bool) error {
	op, counter := "deactivate", util.EnrollmentDeactivationsTotal
	if active {
		op, counter = "activate", util.EnrollmentActivationsTotal
	}

	lmsCtx, cancel := context.WithTimeout(ctx, s.timeout)
	var lmsErr error
	if active {
		lmsErr = s.lms.Enroll(lmsCtx, e.Username, run.ResourceLink)
	} else {
		lmsErr = s.lms.Unenroll(lmsCtx, e.Username, run.ResourceLink)
	}
	cancel()

	if lmsErr != nil {
		e.State = models.EnrollmentStateFailed
	} else {
		e.State = models.EnrollmentStateSet
	}

	if err := q.UpdateEnrollment(ctx, e); err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}

	if lmsErr != nil {
		lmsErr = lmsError(lmsErr)
		result := "failed"
		if errors.Is(lmsErr, ErrLMSUnavailable) {
			result = "unavailable"
		}
		counter.WithLabelValues(result).Inc()
		s.logger.Error("LMS enrollment sync failed",
			zap.String("op", op),
			zap.String("enrollment_id", e.ID),
			zap.String("username", e.Username),
			zap.String("course_run", run.ResourceLink),
			zap.Error(lmsErr))
		return &EnrollmentError{Op: op, Username: e.Username, CourseRunID: run.ID, Err: lmsErr}
	}

	counter.WithLabelValues("ok").Inc()
	s.logger.Info("Enrollment synchronized",
		zap.String("op", op),
		zap.String("enrollment_id", e.ID),
		zap.String("username", e.Username),
		zap.String("course_run", run.ResourceLink))
	return nil
}

// Enroll enrolls a user on a course run without an order
func (s *EnrollmentService) Enroll(ctx context.Context, username, courseRunID string) (*models.Enrollment, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.Enroll")
	defer span.End()

	var enrollment *models.Enrollment
	var syncErr error
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		run, err := q.GetCourseRun(ctx, courseRunID)
		if err != nil {
			return fmt.Errorf("course run %s: %w", courseRunID, err)
		}

		activation, err := s.Activate(ctx, q, username, run, nil)
		var enrollErr *EnrollmentError
		if errors.As(err, &enrollErr) && activation != nil {
			// keep the failed state
			enrollment, syncErr = activation.Enrollment, err
			return nil
		}
		if err != nil {
			return err
		}
		enrollment = activation.Enrollment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return enrollment, syncErr
}

// SetActive activates or deactivates an enrollment owned by username
func (s *EnrollmentService) SetActive(ctx context.Context, enrollmentID, username string, active bool) (*models.Enrollment, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.SetActive")
	defer span.End()

	var enrollment *models.Enrollment
	var syncErr error
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		existing, err := q.GetEnrollmentByID(ctx, enrollmentID)
		if err != nil {
			return fmt.Errorf("enrollment %s: %w", enrollmentID, err)
		}
		if existing.Username != username {
			return fmt.Errorf("enrollment %s: %w", enrollmentID, ErrNotFound)
		}

		if !active {
			e, err := q.LockEnrollment(ctx, existing.Username, existing.CourseRunID)
			if err != nil {
				return err
			}
			enrollment = e
			syncErr = s.Deactivate(ctx, q, e)
			if _, ok := syncErr.(*EnrollmentError); ok {
				return nil
			}
			return syncErr
		}

		run, err := q.GetCourseRun(ctx, existing.CourseRunID)
		if err != nil {
			return err
		}
		activation, err := s.Activate(ctx, q, username, run, nil)
		if activation != nil {
			enrollment = activation.Enrollment
		}
		var enrollErr *EnrollmentError
		if errors.As(err, &enrollErr) && activation != nil {
			syncErr = err
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return enrollment, syncErr
}

// ListEnrollments returns the enrollments of a user
func (s *EnrollmentService) ListEnrollments(ctx context.Context, username string) ([]models.Enrollment, error) {
	return s.store.GetEnrollmentsByUser(ctx, username)
}

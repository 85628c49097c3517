package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"enrollment-service/internal/lms"
	"enrollment-service/internal/store"
)

var (
	ErrNotFound          = store.ErrNotFound
	ErrLMSUnavailable    = lms.ErrUnavailable
	ErrNotReady          = errors.New("not ready")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrOrderExists       = errors.New("an order already exists for this product")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrEnrollmentClosed  = errors.New("course run is not open for enrollment")
)

// CourseRunProblem describes why one course run selection was rejected
type CourseRunProblem struct {
	CourseID    string `json:"course_id"`
	CourseRunID string `json:"course_run_id,omitempty"`
	Reason      string `json:"reason"`
}

// InvalidCourseRunsError is returned when course run selections do not fit
// the target courses of a product
type InvalidCourseRunsError struct {
	Problems []CourseRunProblem
}

func (e *InvalidCourseRunsError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		if p.CourseRunID != "" {
			parts[i] = fmt.Sprintf("course %s, run %s: %s", p.CourseID, p.CourseRunID, p.Reason)
		} else {
			parts[i] = fmt.Sprintf("course %s: %s", p.CourseID, p.Reason)
		}
	}
	return "invalid course runs: " + strings.Join(parts, "; ")
}

// EnrollmentError is returned when the LMS rejects or cannot be reached while
// changing an enrollment
type EnrollmentError struct {
	Op          string
	Username    string
	CourseRunID string
	Err         error
}

func (e *EnrollmentError) Error() string {
	return fmt.Sprintf("failed to %s %s on course run %s: %v", e.Op, e.Username, e.CourseRunID, e.Err)
}

func (e *EnrollmentError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure was transient
func (e *EnrollmentError) Retryable() bool {
	return errors.Is(e.Err, ErrLMSUnavailable)
}

// GradeError is returned when the LMS reports a grade that contradicts local records
type GradeError struct {
	Username    string
	CourseRunID string
	Reason      string
}

func (e *GradeError) Error() string {
	return fmt.Sprintf("grade error for %s on course run %s: %s", e.Username, e.CourseRunID, e.Reason)
}

// lmsError normalizes an LMS failure so that timeouts count as unavailability
func lmsError(err error) error {
	if err == nil || errors.Is(err, ErrLMSUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrLMSUnavailable, err)
	}
	return err
}

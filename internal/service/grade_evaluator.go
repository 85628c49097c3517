package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"enrollment-service/internal/lms"
	"enrollment-service/internal/models"
	"enrollment-service/internal/util"

	"go.uber.org/zap"
)

// GradeOutcome is the result of evaluating one course run
type GradeOutcome int

const (
	NotYetGradable GradeOutcome = iota
	Passed
)

func (o GradeOutcome) String() string {
	if o == Passed {
		return "passed"
	}
	return "not_yet_gradable"
}

// GradeEvaluator decides whether a learner passed a course run
type GradeEvaluator struct {
	lms       lms.Gateway
	threshold float64
	timeout   time.Duration
	logger    *zap.Logger
}

// NewGradeEvaluator creates a grade evaluator. A grade of at least threshold passes.
func NewGradeEvaluator(gateway lms.Gateway, threshold float64, timeout time.Duration) *GradeEvaluator {
	return &GradeEvaluator{
		lms:       gateway,
		threshold: threshold,
		timeout:   timeout,
		logger:    util.GetLogger(),
	}
}

// Evaluate fetches the grade of the user on the run. enrollment is the local
// enrollment of the user on the run, nil when there is none.
func (g *GradeEvaluator) Evaluate(ctx context.Context, username string, run *models.CourseRun, enrollment *models.Enrollment) (GradeOutcome, error) {
	ctx, span := util.StartSpan(ctx, "GradeEvaluator.Evaluate")
	defer span.End()

	lmsCtx, cancel := context.WithTimeout(ctx, g.timeout)
	grade, err := g.lms.GetGrade(lmsCtx, username, run.ResourceLink)
	cancel()

	if errors.Is(err, lms.ErrGradeNotAvailable) {
		util.GradeEvaluationsTotal.WithLabelValues("not_available").Inc()
		return NotYetGradable, nil
	}
	if errors.Is(err, lms.ErrMalformedGrade) {
		util.GradeEvaluationsTotal.WithLabelValues("grade_error").Inc()
		return NotYetGradable, &GradeError{
			Username:    username,
			CourseRunID: run.ID,
			Reason:      err.Error(),
		}
	}
	if err != nil {
		util.GradeEvaluationsTotal.WithLabelValues("error").Inc()
		return NotYetGradable, fmt.Errorf("failed to get grade on %s: %w", run.ResourceLink, lmsError(err))
	}

	if math.IsNaN(grade) || grade < 0 || grade > 1 {
		util.GradeEvaluationsTotal.WithLabelValues("grade_error").Inc()
		return NotYetGradable, &GradeError{
			Username:    username,
			CourseRunID: run.ID,
			Reason:      fmt.Sprintf("grade %v is outside [0, 1]", grade),
		}
	}
	if enrollment == nil || !enrollment.IsActive {
		util.GradeEvaluationsTotal.WithLabelValues("grade_error").Inc()
		g.logger.Warn("LMS graded a course run without local enrollment",
			zap.String("username", username),
			zap.String("course_run", run.ResourceLink),
			zap.Float64("grade", grade))
		return NotYetGradable, &GradeError{
			Username:    username,
			CourseRunID: run.ID,
			Reason:      "grade reported for a course run the user is not enrolled in",
		}
	}

	if grade < g.threshold {
		util.GradeEvaluationsTotal.WithLabelValues("below_threshold").Inc()
		return NotYetGradable, nil
	}

	util.GradeEvaluationsTotal.WithLabelValues("passed").Inc()
	return Passed, nil
}

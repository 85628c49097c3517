package service

import (
	"context"
	"sort"
	"time"

	"enrollment-service/internal/models"
	"enrollment-service/internal/store"
)

// ResolvedCourseRun is the course run an order enrolls the learner into for
// one target course
type ResolvedCourseRun struct {
	CourseID     string
	Position     int
	CourseRunIDs models.IDList
	CourseRun    models.CourseRun
}

// ResolveCourseRuns binds every target course to a course run. selections maps
// a course id to the chosen course run id; a target course without a
// selection falls back to its only allowed course run open for enrollment.
// runs must hold every course run of the target courses and every selected
// course run. All problems are reported at once, in position order.
func ResolveCourseRuns(
	targets []models.TargetCourseRelation,
	runs []models.CourseRun,
	selections map[string]string,
	now time.Time,
) ([]ResolvedCourseRun, error) {
	ordered := make([]models.TargetCourseRelation, len(targets))
	copy(ordered, targets)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	byID := make(map[string]models.CourseRun, len(runs))
	byCourse := make(map[string][]models.CourseRun)
	for _, run := range runs {
		byID[run.ID] = run
		byCourse[run.CourseID] = append(byCourse[run.CourseID], run)
	}

	var problems []CourseRunProblem
	isTarget := make(map[string]bool, len(ordered))
	resolved := make([]ResolvedCourseRun, 0, len(ordered))

	for _, target := range ordered {
		isTarget[target.CourseID] = true
		restricted := len(target.CourseRunIDs) > 0

		if runID, ok := selections[target.CourseID]; ok {
			run, found := byID[runID]
			switch {
			case !found:
				problems = append(problems, CourseRunProblem{target.CourseID, runID, "course run does not exist"})
			case run.CourseID != target.CourseID:
				problems = append(problems, CourseRunProblem{target.CourseID, runID, "course run does not belong to the course"})
			case restricted && !target.CourseRunIDs.Contains(runID):
				problems = append(problems, CourseRunProblem{target.CourseID, runID, "course run is not allowed by the product"})
			case !run.IsEnrollable(now):
				problems = append(problems, CourseRunProblem{target.CourseID, runID, "course run is not open for enrollment"})
			default:
				resolved = append(resolved, ResolvedCourseRun{
					CourseID:     target.CourseID,
					Position:     target.Position,
					CourseRunIDs: target.CourseRunIDs,
					CourseRun:    run,
				})
			}
			continue
		}

		var candidates []models.CourseRun
		for _, run := range byCourse[target.CourseID] {
			if restricted && !target.CourseRunIDs.Contains(run.ID) {
				continue
			}
			if run.IsEnrollable(now) {
				candidates = append(candidates, run)
			}
		}
		if len(candidates) != 1 {
			reason := "a course run must be selected"
			if len(candidates) == 0 {
				reason = "no course run is open for enrollment"
			}
			problems = append(problems, CourseRunProblem{CourseID: target.CourseID, Reason: reason})
			continue
		}
		resolved = append(resolved, ResolvedCourseRun{
			CourseID:     target.CourseID,
			Position:     target.Position,
			CourseRunIDs: target.CourseRunIDs,
			CourseRun:    candidates[0],
		})
	}

	var unknown []string
	for courseID := range selections {
		if !isTarget[courseID] {
			unknown = append(unknown, courseID)
		}
	}
	sort.Strings(unknown)
	for _, courseID := range unknown {
		problems = append(problems, CourseRunProblem{courseID, selections[courseID], "course is not a target course of the product"})
	}

	if len(problems) > 0 {
		return nil, &InvalidCourseRunsError{Problems: problems}
	}
	return resolved, nil
}

// snapshotTargets turns the frozen relations of an order back into target courses
func snapshotTargets(relations []models.OrderCourseRelation) []models.TargetCourseRelation {
	targets := make([]models.TargetCourseRelation, len(relations))
	for i, rel := range relations {
		targets[i] = models.TargetCourseRelation{
			CourseID:     rel.CourseID,
			Position:     rel.Position,
			CourseRunIDs: rel.CourseRunIDs,
		}
	}
	return targets
}

// loadCandidateRuns loads every course run the resolver may need
func loadCandidateRuns(ctx context.Context, q *store.Queries, targets []models.TargetCourseRelation, selections map[string]string) ([]models.CourseRun, error) {
	courseIDs := make([]string, len(targets))
	for i, t := range targets {
		courseIDs[i] = t.CourseID
	}

	runs, err := q.GetCourseRunsByCourseIDs(ctx, courseIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(runs))
	for _, run := range runs {
		seen[run.ID] = true
	}
	var extra []string
	for _, runID := range selections {
		if !seen[runID] {
			extra = append(extra, runID)
			seen[runID] = true
		}
	}
	if len(extra) > 0 {
		more, err := q.GetCourseRunsByIDs(ctx, extra)
		if err != nil {
			return nil, err
		}
		for _, id := range extra {
			if run, ok := more[id]; ok {
				runs = append(runs, run)
			}
		}
	}
	return runs, nil
}

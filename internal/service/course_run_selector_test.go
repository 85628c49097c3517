package service

import (
	"errors"
	"testing"
	"time"

	"enrollment-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var selectorNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRun(id, courseID string, open bool) models.CourseRun {
	start := selectorNow.Add(-24 * time.Hour)
	end := selectorNow.Add(24 * time.Hour)
	if !open {
		start, end = selectorNow.Add(-48*time.Hour), selectorNow.Add(-24*time.Hour)
	}
	return models.CourseRun{
		ID:              id,
		CourseID:        courseID,
		ResourceLink:    "http://lms.test/courses/" + id + "/course/",
		Start:           start,
		End:             end.Add(30 * 24 * time.Hour),
		EnrollmentStart: start,
		EnrollmentEnd:   end,
	}
}

func courseRunProblems(t *testing.T, err error) []CourseRunProblem {
	t.Helper()
	var invalid *InvalidCourseRunsError
	require.True(t, errors.As(err, &invalid), "expected InvalidCourseRunsError, got %v", err)
	return invalid.Problems
}

func TestResolveCourseRunsOrdersByPosition(t *testing.T) {
	targets := []models.TargetCourseRelation{
		{CourseID: "b", Position: 1},
		{CourseID: "a", Position: 0},
	}
	runs := []models.CourseRun{testRun("b1", "b", true), testRun("a1", "a", true)}

	resolved, err := ResolveCourseRuns(targets, runs, nil, selectorNow)
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	assert.Equal(t, "a", resolved[0].CourseID)
	assert.Equal(t, "a1", resolved[0].CourseRun.ID)
	assert.Equal(t, "b", resolved[1].CourseID)
	assert.Equal(t, "b1", resolved[1].CourseRun.ID)
}

func TestResolveCourseRunsSelectionChecks(t *testing.T) {
	targets := []models.TargetCourseRelation{
		{CourseID: "a", Position: 0, CourseRunIDs: models.IDList{"a1", "a2"}},
	}
	runs := []models.CourseRun{
		testRun("a1", "a", true),
		testRun("a2", "a", false),
		testRun("a3", "a", true),
		testRun("b1", "b", true),
	}

	cases := []struct {
		name   string
		runID  string
		reason string
	}{
		{"unknown run", "zz", "course run does not exist"},
		{"run of another course", "b1", "course run does not belong to the course"},
		{"run outside restriction", "a3", "course run is not allowed by the product"},
		{"closed run", "a2", "course run is not open for enrollment"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ResolveCourseRuns(targets, runs, map[string]string{"a": tc.runID}, selectorNow)
			got := courseRunProblems(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, CourseRunProblem{CourseID: "a", CourseRunID: tc.runID, Reason: tc.reason}, got[0])
		})
	}

	resolved, err := ResolveCourseRuns(targets, runs, map[string]string{"a": "a1"}, selectorNow)
	require.NoError(t, err)
	assert.Equal(t, "a1", resolved[0].CourseRun.ID)
	assert.Equal(t, models.IDList{"a1", "a2"}, resolved[0].CourseRunIDs)
}

func TestResolveCourseRunsDefaults(t *testing.T) {
	targets := []models.TargetCourseRelation{
		{CourseID: "single", Position: 0},
		{CourseID: "many", Position: 1},
		{CourseID: "none", Position: 2},
	}
	runs := []models.CourseRun{
		testRun("s1", "single", true),
		testRun("s2", "single", false),
		testRun("m1", "many", true),
		testRun("m2", "many", true),
		testRun("n1", "none", false),
	}

	_, err := ResolveCourseRuns(targets, runs, nil, selectorNow)
	assert.Equal(t, []CourseRunProblem{
		{CourseID: "many", Reason: "a course run must be selected"},
		{CourseID: "none", Reason: "no course run is open for enrollment"},
	}, courseRunProblems(t, err))

	resolved, err := ResolveCourseRuns(targets[:2], runs, map[string]string{"many": "m2"}, selectorNow)
	require.NoError(t, err)
	assert.Equal(t, "s1", resolved[0].CourseRun.ID)
	assert.Equal(t, "m2", resolved[1].CourseRun.ID)
}

func TestResolveCourseRunsUnknownCourses(t *testing.T) {
	targets := []models.TargetCourseRelation{{CourseID: "a", Position: 0}}
	runs := []models.CourseRun{testRun("a1", "a", true), testRun("x1", "x", true), testRun("y1", "y", true)}

	selections := map[string]string{"y": "y1", "a": "zz", "x": "x1"}
	for i := 0; i < 5; i++ {
		_, err := ResolveCourseRuns(targets, runs, selections, selectorNow)
		assert.Equal(t, []CourseRunProblem{
			{CourseID: "a", CourseRunID: "zz", Reason: "course run does not exist"},
			{CourseID: "x", CourseRunID: "x1", Reason: "course is not a target course of the product"},
			{CourseID: "y", CourseRunID: "y1", Reason: "course is not a target course of the product"},
		}, courseRunProblems(t, err))
	}
}

func TestResolveCourseRunsEnrollmentWindowBounds(t *testing.T) {
	r := testRun("a1", "a", true)
	r.EnrollmentEnd = selectorNow
	targets := []models.TargetCourseRelation{{CourseID: "a", Position: 0}}

	_, err := ResolveCourseRuns(targets, []models.CourseRun{r}, nil, selectorNow)
	assert.NoError(t, err)

	_, err = ResolveCourseRuns(targets, []models.CourseRun{r}, nil, selectorNow.Add(time.Nanosecond))
	assert.Error(t, err)
}

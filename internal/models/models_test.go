package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCourseRunValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	run := CourseRun{
		ID:              "run-1",
		ResourceLink:    "http://lms.test/courses/course-v1:a+b+c/course/",
		Start:           now,
		End:             now.Add(30 * 24 * time.Hour),
		EnrollmentStart: now.Add(-24 * time.Hour),
		EnrollmentEnd:   now.Add(7 * 24 * time.Hour),
	}
	require.NoError(t, run.Validate())

	bad := run
	bad.EnrollmentEnd = run.End.Add(time.Hour)
	assert.Error(t, bad.Validate())

	bad = run
	bad.Start = run.End.Add(time.Hour)
	assert.Error(t, bad.Validate())

	bad = run
	bad.EnrollmentStart = run.EnrollmentEnd.Add(time.Hour)
	assert.Error(t, bad.Validate())
}

func TestCourseRunIsEnrollable(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	run := CourseRun{EnrollmentStart: start, EnrollmentEnd: start.Add(48 * time.Hour)}

	assert.True(t, run.IsEnrollable(start))
	assert.True(t, run.IsEnrollable(start.Add(24*time.Hour)))
	assert.True(t, run.IsEnrollable(start.Add(48*time.Hour)))
	assert.False(t, run.IsEnrollable(start.Add(-time.Second)))
	assert.False(t, run.IsEnrollable(start.Add(49*time.Hour)))
}

func TestIDListScan(t *testing.T) {
	var ids IDList
	require.NoError(t, ids.Scan(`["a","b"]`))
	assert.Equal(t, IDList{"a", "b"}, ids)
	assert.True(t, ids.Contains("b"))
	assert.False(t, ids.Contains("c"))

	require.NoError(t, ids.Scan([]byte("[]")))
	assert.Empty(t, ids)

	require.NoError(t, ids.Scan(nil))
	assert.Nil(t, ids)

	assert.Error(t, ids.Scan(42))

	v, err := IDList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}

func TestUserFullName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", (&User{Username: "ada", FirstName: "Ada", LastName: "Lovelace"}).FullName())
	assert.Equal(t, "ada", (&User{Username: "ada"}).FullName())
}

func TestIsCertifying(t *testing.T) {
	assert.True(t, IsCertifying(ProductTypeCertificate))
	assert.True(t, IsCertifying(ProductTypeCredential))
	assert.False(t, IsCertifying(ProductTypeEnrollment))
}

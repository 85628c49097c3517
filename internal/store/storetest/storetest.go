// Package storetest provides an in-memory store and catalog fixtures for tests.
package storetest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"enrollment-service/internal/models"
	"enrollment-service/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// New returns a migrated store backed by an in-memory SQLite database.
// A single connection is used so that every query sees the same database.
func New(t testing.TB) *store.Store {
	t.Helper()

	db, err := sqlx.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	s := store.NewStoreWithDB(db)
	require.NoError(t, s.Migrate(context.Background()))

	t.Cleanup(func() { _ = s.Close() })
	return s
}

var seq int64

func next() int64 {
	return atomic.AddInt64(&seq, 1)
}

// Factory creates catalog rows with sensible defaults
type Factory struct {
	t     testing.TB
	store *store.Store
	Now   time.Time
}

// NewFactory creates a fixture factory whose course runs are open for enrollment at now
func NewFactory(t testing.TB, s *store.Store, now time.Time) *Factory {
	return &Factory{t: t, store: s, Now: now}
}

// User creates a learner
func (f *Factory) User(username, first, last string) *models.User {
	f.t.Helper()
	u := &models.User{Username: username, FirstName: first, LastName: last, Email: username + "@example.com"}
	require.NoError(f.t, f.store.CreateUser(context.Background(), u))
	return u
}

// Organization creates an organization
func (f *Factory) Organization() *models.Organization {
	f.t.Helper()
	n := next()
	org := &models.Organization{
		ID:        uuid.New().String(),
		Code:      fmt.Sprintf("ORG%04d", n),
		Title:     fmt.Sprintf("Organization %d", n),
		Signatory: fmt.Sprintf("Director %d", n),
	}
	require.NoError(f.t, f.store.CreateOrganization(context.Background(), org))
	return org
}

// Course creates a course in a new organization
func (f *Factory) Course() *models.Course {
	f.t.Helper()
	org := f.Organization()
	n := next()
	course := &models.Course{
		ID:             uuid.New().String(),
		Code:           fmt.Sprintf("C%05d", n),
		Title:          fmt.Sprintf("Course %d", n),
		OrganizationID: org.ID,
	}
	require.NoError(f.t, f.store.CreateCourse(context.Background(), course))
	return course
}

// CourseRun creates a course run of the course that is open for enrollment
func (f *Factory) CourseRun(course *models.Course) *models.CourseRun {
	f.t.Helper()
	return f.courseRun(course, f.Now.Add(-24*time.Hour), f.Now.Add(7*24*time.Hour))
}

// ClosedCourseRun creates a course run whose enrollment period is over
func (f *Factory) ClosedCourseRun(course *models.Course) *models.CourseRun {
	f.t.Helper()
	return f.courseRun(course, f.Now.Add(-30*24*time.Hour), f.Now.Add(-24*time.Hour))
}

func (f *Factory) courseRun(course *models.Course, enrollmentStart, enrollmentEnd time.Time) *models.CourseRun {
	n := next()
	run := &models.CourseRun{
		ID:              uuid.New().String(),
		CourseID:        course.ID,
		ResourceLink:    fmt.Sprintf("http://lms.test/courses/course-v1:org+%s+%d/course/", course.Code, n),
		Title:           fmt.Sprintf("Course run %d", n),
		Start:           enrollmentStart,
		End:             enrollmentEnd.Add(60 * 24 * time.Hour),
		EnrollmentStart: enrollmentStart,
		EnrollmentEnd:   enrollmentEnd,
	}
	require.NoError(f.t, f.store.CreateCourseRun(context.Background(), run))
	return run
}

// CertificateDefinition creates a certificate template
func (f *Factory) CertificateDefinition() *models.CertificateDefinition {
	f.t.Helper()
	n := next()
	def := &models.CertificateDefinition{
		ID:          uuid.New().String(),
		Name:        fmt.Sprintf("certificate-definition-%d", n),
		Title:       fmt.Sprintf("Certificate definition %d", n),
		Description: "Awarded on completion of every target course.",
		Template:    "certificate",
	}
	require.NoError(f.t, f.store.CreateCertificateDefinition(context.Background(), def))
	return def
}

// Target describes one target course of a product being built
type Target struct {
	Course     *models.Course
	Restricted []*models.CourseRun
}

// Product creates a product of the given type sold on a new course, with the
// target courses in the given order
func (f *Factory) Product(productType string, targets ...Target) *models.Product {
	f.t.Helper()
	n := next()
	product := &models.Product{
		ID:        uuid.New().String(),
		Type:      productType,
		Title:     fmt.Sprintf("Product %d", n),
		Price:     decimal.RequireFromString("149.90"),
		CourseIDs: []string{f.Course().ID},
	}
	if models.IsCertifying(productType) {
		id := f.CertificateDefinition().ID
		product.CertificateDefinitionID = &id
	}
	for i, target := range targets {
		rel := models.TargetCourseRelation{CourseID: target.Course.ID, Position: i}
		for _, run := range target.Restricted {
			rel.CourseRunIDs = append(rel.CourseRunIDs, run.ID)
		}
		product.TargetCourses = append(product.TargetCourses, rel)
	}
	require.NoError(f.t, f.store.CreateProduct(context.Background(), product))
	return product
}

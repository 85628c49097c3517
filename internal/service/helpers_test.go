package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"enrollment-service/internal/certificate"
	"enrollment-service/internal/docstore"
	"enrollment-service/internal/lms"
	"enrollment-service/internal/models"
	"enrollment-service/internal/store"
	"enrollment-service/internal/store/storetest"

	"github.com/stretchr/testify/require"
)

// fakeLMS is a dummy LMS whose calls can be made to fail per resource link
type fakeLMS struct {
	*lms.Dummy

	mu               sync.Mutex
	enrollFailures   map[string]error
	unenrollFailures map[string]error
	gradeFailures    map[string]error
	hang             map[string]bool
	enrollCalls      int
	unenrollCalls    int
}

func newFakeLMS() *fakeLMS {
	return &fakeLMS{
		Dummy:            lms.NewDummy(),
		enrollFailures:   map[string]error{},
		unenrollFailures: map[string]error{},
		gradeFailures:    map[string]error{},
		hang:             map[string]bool{},
	}
}

func (f *fakeLMS) FailEnroll(link string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrollFailures[link] = err
}

func (f *fakeLMS) FailUnenroll(link string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unenrollFailures[link] = err
}

func (f *fakeLMS) FailGrade(link string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gradeFailures[link] = err
}

func (f *fakeLMS) Hang(link string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang[link] = true
}

func (f *fakeLMS) EnrollCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enrollCalls
}

func (f *fakeLMS) Enroll(ctx context.Context, username, link string) error {
	f.mu.Lock()
	f.enrollCalls++
	err, hang := f.enrollFailures[link], f.hang[link]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	return f.Dummy.Enroll(ctx, username, link)
}

func (f *fakeLMS) Unenroll(ctx context.Context, username, link string) error {
	f.mu.Lock()
	f.unenrollCalls++
	err := f.unenrollFailures[link]
	f.mu.Unlock()

	if err != nil {
		return err
	}
	return f.Dummy.Unenroll(ctx, username, link)
}

func (f *fakeLMS) GetGrade(ctx context.Context, username, link string) (float64, error) {
	f.mu.Lock()
	err := f.gradeFailures[link]
	f.mu.Unlock()

	if err != nil {
		return 0, err
	}
	return f.Dummy.GetGrade(ctx, username, link)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event *models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.EventType)
	return nil
}

func (p *recordingPublisher) PublishCertificateIssued(_ context.Context, event *models.CertificateIssuedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.EventType)
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type testEnv struct {
	t           *testing.T
	store       *store.Store
	f           *storetest.Factory
	lms         *fakeLMS
	docs        *docstore.Memory
	events      *recordingPublisher
	enrollments *EnrollmentService
	grades      *GradeEvaluator
	issuer      *CertificateIssuer
	orders      *OrderService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s := storetest.New(t)
	gateway := newFakeLMS()
	docs := docstore.NewMemory()
	events := &recordingPublisher{}

	enrollments := NewEnrollmentService(s, gateway, 200*time.Millisecond)
	grades := NewGradeEvaluator(gateway, 0.5, 200*time.Millisecond)
	issuer := NewCertificateIssuer(docs, certificate.NewRenderer())

	return &testEnv{
		t:           t,
		store:       s,
		f:           storetest.NewFactory(t, s, time.Now()),
		lms:         gateway,
		docs:        docs,
		events:      events,
		enrollments: enrollments,
		grades:      grades,
		issuer:      issuer,
		orders:      NewOrderService(s, enrollments, grades, issuer, events),
	}
}

// twoCourseProduct creates a product of the given type with two target
// courses, each with two open course runs so that a selection is required
type twoCourseProduct struct {
	product *models.Product
	courses [2]*models.Course
	runs    [2][2]*models.CourseRun
}

func (e *testEnv) twoCourseProduct(productType string) *twoCourseProduct {
	e.t.Helper()
	p := &twoCourseProduct{}
	for i := range p.courses {
		p.courses[i] = e.f.Course()
		p.runs[i][0] = e.f.CourseRun(p.courses[i])
		p.runs[i][1] = e.f.CourseRun(p.courses[i])
	}
	p.product = e.f.Product(productType,
		storetest.Target{Course: p.courses[0]},
		storetest.Target{Course: p.courses[1]})
	return p
}

func (p *twoCourseProduct) request(owner string) *CreateOrderRequest {
	return &CreateOrderRequest{
		Owner:     owner,
		ProductID: p.product.ID,
		CourseID:  p.product.CourseIDs[0],
		CourseRuns: map[string]string{
			p.courses[0].ID: p.runs[0][0].ID,
			p.courses[1].ID: p.runs[1][0].ID,
		},
	}
}

func (e *testEnv) createOrder(req *CreateOrderRequest) *models.Order {
	e.t.Helper()
	order, err := e.orders.CreateOrder(context.Background(), req)
	require.NoError(e.t, err)
	return order
}

func (e *testEnv) paidOrder(p *twoCourseProduct, owner string) *models.Order {
	e.t.Helper()
	order := e.createOrder(p.request(owner))
	require.NoError(e.t, e.orders.ConfirmPayment(context.Background(), order.ID))
	return order
}

func (e *testEnv) orderState(orderID string) string {
	e.t.Helper()
	order, err := e.store.GetOrderByID(context.Background(), orderID)
	require.NoError(e.t, err)
	return order.State
}

func (e *testEnv) enrollment(username string, run *models.CourseRun) *models.Enrollment {
	e.t.Helper()
	enrollment, err := e.store.GetEnrollment(context.Background(), username, run.ID)
	require.NoError(e.t, err)
	return enrollment
}

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"enrollment-service/internal/models"
	"enrollment-service/internal/store"
	"enrollment-service/internal/store/storetest"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(owner string, product *models.Product) *models.Order {
	return &models.Order{
		ID:        uuid.New().String(),
		Owner:     owner,
		ProductID: product.ID,
		CourseID:  product.CourseIDs[0],
		Price:     product.Price,
		State:     models.OrderStatePending,
	}
}

func TestCreateOrder(t *testing.T) {
	s := storetest.New(t)
	f := storetest.NewFactory(t, s, time.Now())
	ctx := context.Background()

	course := f.Course()
	run := f.CourseRun(course)
	product := f.Product(models.ProductTypeCredential, storetest.Target{Course: course})

	order := newOrder("learner", product)
	relations := []models.OrderCourseRelation{{CourseID: course.ID, Position: 0, CourseRunID: run.ID}}
	require.NoError(t, s.CreateOrder(ctx, order, relations))

	retrieved, err := s.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Owner, retrieved.Owner)
	assert.True(t, order.Price.Equal(retrieved.Price))
	assert.Equal(t, models.OrderStatePending, retrieved.State)

	rels, err := s.GetOrderCourseRelations(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, run.ID, rels[0].CourseRunID)
}

func TestGetOrderNotFound(t *testing.T) {
	s := storetest.New(t)

	_, err := s.GetOrderByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	err = s.UpdateOrderState(context.Background(), "missing", models.OrderStatePaid)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestProductTargetCoursesOrderedByPosition(t *testing.T) {
	s := storetest.New(t)
	f := storetest.NewFactory(t, s, time.Now())
	ctx := context.Background()

	first, second, third := f.Course(), f.Course(), f.Course()
	restricted := f.CourseRun(second)
	product := f.Product(models.ProductTypeEnrollment,
		storetest.Target{Course: first},
		storetest.Target{Course: second, Restricted: []*models.CourseRun{restricted}},
		storetest.Target{Course: third})

	loaded, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, loaded.TargetCourses, 3)
	assert.Equal(t, first.ID, loaded.TargetCourses[0].CourseID)
	assert.Equal(t, second.ID, loaded.TargetCourses[1].CourseID)
	assert.Equal(t, models.IDList{restricted.ID}, loaded.TargetCourses[1].CourseRunIDs)
	assert.Equal(t, third.ID, loaded.TargetCourses[2].CourseID)
	assert.Equal(t, product.CourseIDs, loaded.CourseIDs)
	assert.True(t, decimal.RequireFromString("149.90").Equal(loaded.Price))
}

func TestCreateProductRejectsDuplicatePositions(t *testing.T) {
	s := storetest.New(t)
	f := storetest.NewFactory(t, s, time.Now())

	course := f.Course()
	product := &models.Product{
		ID:    uuid.New().String(),
		Type:  models.ProductTypeEnrollment,
		Title: "dup",
		Price: decimal.NewFromInt(10),
		TargetCourses: []models.TargetCourseRelation{
			{CourseID: course.ID, Position: 1},
			{CourseID: f.Course().ID, Position: 1},
		},
	}
	assert.Error(t, s.CreateProduct(context.Background(), product))
}

func TestCreateProductRequiresCertificateDefinitionForCertifyingTypes(t *testing.T) {
	s := storetest.New(t)

	product := &models.Product{
		ID:    uuid.New().String(),
		Type:  models.ProductTypeCertificate,
		Title: "no definition",
		Price: decimal.NewFromInt(10),
	}
	assert.Error(t, s.CreateProduct(context.Background(), product))
}

func TestFindLiveOrderIgnoresFailedOrders(t *testing.T) {
	s := storetest.New(t)
	f := storetest.NewFactory(t, s, time.Now())
	ctx := context.Background()

	product := f.Product(models.ProductTypeEnrollment)

	failed := newOrder("learner", product)
	require.NoError(t, s.CreateOrder(ctx, failed, nil))
	require.NoError(t, s.UpdateOrderState(ctx, failed.ID, models.OrderStateFailed))

	_, err := s.FindLiveOrder(ctx, "learner", product.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	live := newOrder("learner", product)
	require.NoError(t, s.CreateOrder(ctx, live, nil))

	found, err := s.FindLiveOrder(ctx, "learner", product.ID)
	require.NoError(t, err)
	assert.Equal(t, live.ID, found.ID)

	// the partial unique index forbids a second live order
	assert.Error(t, s.CreateOrder(ctx, newOrder("learner", product), nil))
}

func TestListOrdersByOwnerAndStates(t *testing.T) {
	s := storetest.New(t)
	f := storetest.NewFactory(t, s, time.Now())
	ctx := context.Background()

	pending := newOrder("learner", f.Product(models.ProductTypeEnrollment))
	require.NoError(t, s.CreateOrder(ctx, pending, nil))
	paid := newOrder("learner", f.Product(models.ProductTypeEnrollment))
	paid.State = models.OrderStatePaid
	require.NoError(t, s.CreateOrder(ctx, paid, nil))
	require.NoError(t, s.CreateOrder(ctx, newOrder("someone-else", f.Product(models.ProductTypeEnrollment)), nil))

	all, err := s.ListOrders(ctx, "learner", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyPaid, err := s.ListOrders(ctx, "learner", []string{models.OrderStatePaid})
	require.NoError(t, err)
	require.Len(t, onlyPaid, 1)
	assert.Equal(t, paid.ID, onlyPaid[0].ID)

	ids, err := s.ListOrderIDsByState(ctx, models.OrderStatePaid, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{paid.ID}, ids)

	ids, err = s.ListOrderIDsByState(ctx, models.OrderStatePaid, paid.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestInsertEnrollmentIfAbsent(t *testing.T) {
	s := storetest.New(t)
	f := storetest.NewFactory(t, s, time.Now())
	ctx := context.Background()

	run := f.CourseRun(f.Course())

	first := &models.Enrollment{ID: uuid.New().String(), CourseRunID: run.ID, Username: "learner", IsActive: true}
	inserted, err := s.InsertEnrollmentIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	duplicate := &models.Enrollment{ID: uuid.New().String(), CourseRunID: run.ID, Username: "learner", IsActive: true}
	inserted, err = s.InsertEnrollmentIfAbsent(ctx, duplicate)
	require.NoError(t, err)
	assert.False(t, inserted)

	err = s.WithTx(ctx, func(q *store.Queries) error {
		e, err := q.LockEnrollment(ctx, "learner", run.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, first.ID, e.ID)
		e.IsActive = false
		e.State = models.EnrollmentStateSet
		return q.UpdateEnrollment(ctx, e)
	})
	require.NoError(t, err)

	reloaded, err := s.GetEnrollmentByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsActive)
	assert.Equal(t, models.EnrollmentStateSet, reloaded.State)
	assert.Nil(t, reloaded.OrderID)

	all, err := s.GetEnrollmentsByUser(ctx, "learner")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := storetest.New(t)
	f := storetest.NewFactory(t, s, time.Now())
	ctx := context.Background()

	product := f.Product(models.ProductTypeEnrollment)
	order := newOrder("learner", product)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(q *store.Queries) error {
		if err := q.CreateOrder(ctx, order, nil); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetOrderByID(ctx, order.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessedEvents(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	processed, err := s.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, s.MarkEventProcessed(ctx, "evt-1", models.EventTypePaymentSucceeded))
	require.NoError(t, s.MarkEventProcessed(ctx, "evt-1", models.EventTypePaymentSucceeded))

	processed, err = s.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestProductVersionChangesOnUpdate(t *testing.T) {
	s := storetest.New(t)
	f := storetest.NewFactory(t, s, time.Now())
	ctx := context.Background()

	product := f.Product(models.ProductTypeEnrollment)
	before, err := s.GetProductVersion(ctx, product.ID)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	product.Price = decimal.NewFromInt(300)
	require.NoError(t, s.UpdateProduct(ctx, product))

	after, err := s.GetProductVersion(ctx, product.ID)
	require.NoError(t, err)
	assert.True(t, after.After(before))
}

func TestReplaceTargetCoursesFrozenOnceOrdered(t *testing.T) {
	s := storetest.New(t)
	f := storetest.NewFactory(t, s, time.Now())
	ctx := context.Background()

	first, second := f.Course(), f.Course()
	product := f.Product(models.ProductTypeEnrollment, storetest.Target{Course: first})

	require.NoError(t, s.ReplaceTargetCourses(ctx, product.ID, []models.TargetCourseRelation{
		{CourseID: second.ID, Position: 0},
		{CourseID: first.ID, Position: 1},
	}))
	loaded, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, loaded.TargetCourses, 2)
	assert.Equal(t, second.ID, loaded.TargetCourses[0].CourseID)

	require.NoError(t, s.CreateOrder(ctx, newOrder("learner", loaded), nil))

	err = s.ReplaceTargetCourses(ctx, product.ID, []models.TargetCourseRelation{{CourseID: first.ID, Position: 0}})
	assert.ErrorIs(t, err, store.ErrProductInUse)

	loaded, err = s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.TargetCourses, 2)
}

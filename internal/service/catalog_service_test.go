package service

import (
	"context"
	"testing"
	"time"

	"enrollment-service/internal/models"
	"enrollment-service/internal/redisclient"
	"enrollment-service/internal/store/storetest"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogProductView(t *testing.T) {
	env := newTestEnv(t)
	course := env.f.Course()
	allowed := env.f.CourseRun(course)
	env.f.CourseRun(course)
	product := env.f.Product(models.ProductTypeEnrollment,
		storetest.Target{Course: course, Restricted: []*models.CourseRun{allowed}})

	catalog := NewCatalogService(env.store, nil, time.Minute)
	view, err := catalog.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	require.Len(t, view.Targets, 1)
	assert.Equal(t, course.Code, view.Targets[0].Code)
	require.Len(t, view.Targets[0].CourseRuns, 1)
	assert.Equal(t, allowed.ID, view.Targets[0].CourseRuns[0].ID)

	_, err = catalog.GetProduct(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalogReadThroughCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cache := redisclient.NewClientWithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	catalog := NewCatalogService(env.store, cache, time.Minute)

	course := env.f.Course()
	env.f.CourseRun(course)
	product := env.f.Product(models.ProductTypeEnrollment, storetest.Target{Course: course})

	first, err := catalog.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Len(t, mr.Keys(), 1)

	// course titles do not bump the product version, the cached view is served
	_, err = env.store.GetDB().ExecContext(ctx, "UPDATE courses SET title = ? WHERE id = ?", "Renamed", course.ID)
	require.NoError(t, err)
	cached, err := catalog.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Targets[0].Title, cached.Targets[0].Title)
	assert.True(t, first.Price.Equal(cached.Price))

	edited := *product
	edited.Title = "Edited product"
	require.NoError(t, env.store.UpdateProduct(ctx, &edited))

	fresh, err := catalog.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, "Edited product", fresh.Title)
	assert.Equal(t, "Renamed", fresh.Targets[0].Title)
	assert.Len(t, mr.Keys(), 2)
}

func TestCatalogSurvivesCacheOutage(t *testing.T) {
	env := newTestEnv(t)
	mr := miniredis.RunT(t)
	cache := redisclient.NewClientWithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	catalog := NewCatalogService(env.store, cache, time.Minute)
	product := env.f.Product(models.ProductTypeEnrollment, storetest.Target{Course: env.f.Course()})

	mr.Close()
	view, err := catalog.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, product.ID, view.ID)
}

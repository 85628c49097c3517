package service

import (
	"context"
	"fmt"
	"time"

	"enrollment-service/internal/models"
	"enrollment-service/internal/store"
	"enrollment-service/internal/util"

	"go.uber.org/zap"
)

// Cache stores JSON encoded values with a TTL
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ProductView is the public representation of a product
type ProductView struct {
	models.Product
	Targets []TargetCourseView `json:"targets"`
}

// TargetCourseView is a target course with the course runs a learner may pick
type TargetCourseView struct {
	CourseID   string             `json:"course_id"`
	Code       string             `json:"code"`
	Title      string             `json:"title"`
	Position   int                `json:"position"`
	CourseRuns []models.CourseRun `json:"course_runs"`
}

// CatalogService serves read only product representations through a
// read-through cache. Entries are keyed by product ID and last modification
// time so that an edit is never served stale.
type CatalogService struct {
	store  *store.Store
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCatalogService creates a catalog service. cache may be nil.
func NewCatalogService(store *store.Store, cache Cache, ttl time.Duration) *CatalogService {
	return &CatalogService{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// GetProduct returns the view of a product
func (s *CatalogService) GetProduct(ctx context.Context, productID string) (*ProductView, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetProduct")
	defer span.End()

	version, err := s.store.GetProductVersion(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", productID, err)
	}
	key := fmt.Sprintf("product:%s:%d", productID, version.UnixNano())

	if s.cache != nil {
		var cached ProductView
		found, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("Catalog cache read failed", zap.String("key", key), zap.Error(err))
		}
		if found {
			util.CatalogCacheTotal.WithLabelValues("hit").Inc()
			return &cached, nil
		}
		util.CatalogCacheTotal.WithLabelValues("miss").Inc()
	}

	view, err := s.buildProductView(ctx, productID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, view, s.ttl); err != nil {
			s.logger.Warn("Catalog cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return view, nil
}

func (s *CatalogService) buildProductView(ctx context.Context, productID string) (*ProductView, error) {
	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", productID, err)
	}

	courseIDs := make([]string, len(product.TargetCourses))
	for i, t := range product.TargetCourses {
		courseIDs[i] = t.CourseID
	}
	courses, err := s.store.GetCoursesByIDs(ctx, courseIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get courses: %w", err)
	}
	runs, err := s.store.GetCourseRunsByCourseIDs(ctx, courseIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get course runs: %w", err)
	}

	view := &ProductView{Product: *product, Targets: make([]TargetCourseView, 0, len(product.TargetCourses))}
	for _, t := range product.TargetCourses {
		course := courses[t.CourseID]
		target := TargetCourseView{
			CourseID:   t.CourseID,
			Code:       course.Code,
			Title:      course.Title,
			Position:   t.Position,
			CourseRuns: []models.CourseRun{},
		}
		for _, run := range runs {
			if run.CourseID != t.CourseID {
				continue
			}
			if len(t.CourseRunIDs) > 0 && !t.CourseRunIDs.Contains(run.ID) {
				continue
			}
			target.CourseRuns = append(target.CourseRuns, run)
		}
		view.Targets = append(view.Targets, target)
	}
	return view, nil
}

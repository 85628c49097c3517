package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"enrollment-service/internal/models"
	"enrollment-service/internal/store"
	"enrollment-service/internal/util"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService handles the order lifecycle
type OrderService struct {
	store          *store.Store
	enrollments    *EnrollmentService
	grades         *GradeEvaluator
	issuer         *CertificateIssuer
	eventPublisher EventPublisher
	validate       *validator.Validate
	now            func() time.Time
	logger         *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	store *store.Store,
	enrollments *EnrollmentService,
	grades *GradeEvaluator,
	issuer *CertificateIssuer,
	eventPublisher EventPublisher,
) *OrderService {
	if eventPublisher == nil {
		eventPublisher = NopPublisher{}
	}
	return &OrderService{
		store:          store,
		enrollments:    enrollments,
		grades:         grades,
		issuer:         issuer,
		eventPublisher: eventPublisher,
		validate:       validator.New(),
		now:            time.Now,
		logger:         util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Owner      string            `json:"-" validate:"required,max=255"`
	ProductID  string            `json:"product_id" validate:"required"`
	CourseID   string            `json:"course_id" validate:"required"`
	CourseRuns map[string]string `json:"course_runs" validate:"omitempty,dive,keys,required,endkeys,required"`
}

// CompletionStatus is the result of a completion attempt
type CompletionStatus string

const (
	CompletionFinished CompletionStatus = "finished"
	// CompletionPending means at least one target course is not gradable
	// yet. The order stays paid and completion may be retried later.
	CompletionPending CompletionStatus = "pending"
)

// CreateOrder validates the course run selections against the product and
// persists a pending order with a snapshot of the product target courses.
// Nothing is persisted on failure.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := s.validate.Struct(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var order *models.Order
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		product, err := q.GetProduct(ctx, req.ProductID)
		if err != nil {
			return fmt.Errorf("product %s: %w", req.ProductID, err)
		}
		if !product.SoldOn(req.CourseID) {
			return fmt.Errorf("%w: product %s is not sold on course %s", ErrInvalidRequest, product.ID, req.CourseID)
		}

		_, err = q.FindLiveOrder(ctx, req.Owner, product.ID)
		if err == nil {
			return ErrOrderExists
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to check existing orders: %w", err)
		}

		runs, err := loadCandidateRuns(ctx, q, product.TargetCourses, req.CourseRuns)
		if err != nil {
			return fmt.Errorf("failed to load course runs: %w", err)
		}
		resolved, err := ResolveCourseRuns(product.TargetCourses, runs, req.CourseRuns, s.now())
		if err != nil {
			util.CourseRunSelectionsRejected.Inc()
			return err
		}

		order = &models.Order{
			ID:        uuid.New().String(),
			Owner:     req.Owner,
			ProductID: product.ID,
			CourseID:  req.CourseID,
			Price:     product.Price,
			State:     models.OrderStatePending,
		}
		relations := make([]models.OrderCourseRelation, len(resolved))
		for i, r := range resolved {
			relations[i] = models.OrderCourseRelation{
				CourseID:     r.CourseID,
				Position:     r.Position,
				CourseRunIDs: r.CourseRunIDs,
				CourseRunID:  r.CourseRun.ID,
			}
		}

		if err := q.CreateOrder(ctx, order, relations); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrOrderExists
			}
			return fmt.Errorf("failed to create order: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Info("Order rejected",
			zap.String("owner", req.Owner),
			zap.String("product_id", req.ProductID),
			zap.Error(err))
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("owner", order.Owner),
		zap.String("product_id", order.ProductID))
	s.publish(ctx, newOrderEvent(models.EventTypeOrderCreated, order, ""))

	return order, nil
}

// ConfirmPayment activates the enrollments of a pending order. Either every
// selected course run is activated and the order becomes paid, or the
// enrollments activated here are reverted, the order fails and the
// *EnrollmentError is returned.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.ConfirmPayment")
	defer span.End()

	var order *models.Order
	var activationErr error
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		order, err = q.LockOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("order %s: %w", orderID, err)
		}
		if order.State != models.OrderStatePending {
			return fmt.Errorf("%w: cannot confirm payment of a %s order", ErrInvalidTransition, order.State)
		}

		relations, err := q.GetOrderCourseRelations(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to get order courses: %w", err)
		}
		runIDs := make([]string, len(relations))
		for i, rel := range relations {
			runIDs[i] = rel.CourseRunID
		}
		runs, err := q.GetCourseRunsByIDs(ctx, runIDs)
		if err != nil {
			return fmt.Errorf("failed to get course runs: %w", err)
		}

		var activations []*Activation
		for _, rel := range relations {
			run, ok := runs[rel.CourseRunID]
			if !ok {
				return fmt.Errorf("course run %s: %w", rel.CourseRunID, store.ErrNotFound)
			}
			activation, err := s.enrollments.Activate(ctx, q, order.Owner, &run, &order.ID)
			if err != nil {
				var enrollErr *EnrollmentError
				if !errors.As(err, &enrollErr) {
					return err
				}
				if activation != nil {
					if err := s.enrollments.Abandon(ctx, q, activation); err != nil {
						return err
					}
				}
				activationErr = err
				break
			}
			activations = append(activations, activation)
		}

		if activationErr != nil {
			for i := len(activations) - 1; i >= 0; i-- {
				if err := s.enrollments.Revert(ctx, q, activations[i]); err != nil {
					var enrollErr *EnrollmentError
					if !errors.As(err, &enrollErr) {
						return err
					}
				}
			}
			return s.transition(ctx, q, order, models.OrderStateFailed)
		}
		return s.transition(ctx, q, order, models.OrderStatePaid)
	})
	if err != nil {
		return err
	}

	if activationErr != nil {
		util.OrdersFailedTotal.WithLabelValues("enrollment_failed").Inc()
		s.logger.Warn("Order failed during enrollment activation",
			zap.String("order_id", order.ID),
			zap.Error(activationErr))
		s.publish(ctx, newOrderEvent(models.EventTypeOrderFailed, order, activationErr.Error()))
		return activationErr
	}

	s.logger.Info("Order paid", zap.String("order_id", order.ID))
	s.publish(ctx, newOrderEvent(models.EventTypeOrderPaid, order, ""))
	return nil
}

// FailPayment fails a pending order
func (s *OrderService) FailPayment(ctx context.Context, orderID, reason string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.FailPayment")
	defer span.End()

	order, err := s.failPending(ctx, orderID, "")
	if err != nil {
		return err
	}

	util.OrdersFailedTotal.WithLabelValues("payment_failed").Inc()
	s.logger.Info("Order payment failed",
		zap.String("order_id", order.ID),
		zap.String("reason", reason))
	s.publish(ctx, newOrderEvent(models.EventTypeOrderFailed, order, reason))
	return nil
}

// CancelOrder lets the owner abandon a pending order. A paid order cannot be
// cancelled, its enrollments have to be deactivated one by one.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, owner string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	order, err := s.failPending(ctx, orderID, owner)
	if err != nil {
		return err
	}

	util.OrdersFailedTotal.WithLabelValues("cancelled").Inc()
	s.logger.Info("Order cancelled", zap.String("order_id", order.ID))
	s.publish(ctx, newOrderEvent(models.EventTypeOrderFailed, order, "cancelled"))
	return nil
}

func (s *OrderService) failPending(ctx context.Context, orderID, owner string) (*models.Order, error) {
	var order *models.Order
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		order, err = s.lockOwned(ctx, q, orderID, owner)
		if err != nil {
			return err
		}
		if order.State != models.OrderStatePending {
			return fmt.Errorf("%w: cannot fail a %s order", ErrInvalidTransition, order.State)
		}
		return s.transition(ctx, q, order, models.OrderStateFailed)
	})
	return order, err
}

// SelectCourseRun changes the course run of one target course of an order.
// On a paid order the new run is activated first; if that fails nothing
// changes. The previous run is then deactivated, a failure there is logged
// and left for out of band recovery.
func (s *OrderService) SelectCourseRun(ctx context.Context, orderID, owner, courseID, courseRunID string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.SelectCourseRun")
	defer span.End()

	return s.store.WithTx(ctx, func(q *store.Queries) error {
		order, err := s.lockOwned(ctx, q, orderID, owner)
		if err != nil {
			return err
		}
		if order.State != models.OrderStatePending && order.State != models.OrderStatePaid {
			return fmt.Errorf("%w: cannot change course runs of a %s order", ErrInvalidTransition, order.State)
		}

		relations, err := q.GetOrderCourseRelations(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to get order courses: %w", err)
		}
		var current *models.OrderCourseRelation
		for i := range relations {
			if relations[i].CourseID == courseID {
				current = &relations[i]
			}
		}

		var targets []models.TargetCourseRelation
		if current != nil {
			targets = snapshotTargets([]models.OrderCourseRelation{*current})
		}
		selection := map[string]string{courseID: courseRunID}
		runs, err := loadCandidateRuns(ctx, q, targets, selection)
		if err != nil {
			return fmt.Errorf("failed to load course runs: %w", err)
		}
		resolved, err := ResolveCourseRuns(targets, runs, selection, s.now())
		if err != nil {
			util.CourseRunSelectionsRejected.Inc()
			return err
		}
		if current.CourseRunID == courseRunID {
			return nil
		}

		if order.State == models.OrderStatePaid {
			newRun := resolved[0].CourseRun
			if _, err := s.enrollments.Activate(ctx, q, order.Owner, &newRun, &order.ID); err != nil {
				return err
			}
		}

		if err := q.UpdateOrderCourseRun(ctx, order.ID, courseID, courseRunID); err != nil {
			return fmt.Errorf("failed to update course run selection: %w", err)
		}

		if order.State == models.OrderStatePaid {
			previous, err := q.LockEnrollment(ctx, order.Owner, current.CourseRunID)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return fmt.Errorf("failed to lock previous enrollment: %w", err)
			case previous.OrderID == nil || *previous.OrderID != order.ID:
				// enrolled on its own or through another order
			default:
				if err := s.enrollments.Deactivate(ctx, q, previous); err != nil {
					var enrollErr *EnrollmentError
					if !errors.As(err, &enrollErr) {
						return err
					}
					s.logger.Error("Previous course run could not be deactivated",
						zap.String("order_id", order.ID),
						zap.String("enrollment_id", previous.ID),
						zap.Error(err))
				}
			}
		}

		s.logger.Info("Course run selected",
			zap.String("order_id", order.ID),
			zap.String("course_id", courseID),
			zap.String("previous_course_run_id", current.CourseRunID),
			zap.String("course_run_id", courseRunID))
		return nil
	})
}

// Complete finishes a paid order. Certifying products need every target
// course to be passed; the certificate is then issued with the transition.
func (s *OrderService) Complete(ctx context.Context, orderID string) (CompletionStatus, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Complete")
	defer span.End()

	var order *models.Order
	var cert *models.Certificate
	status := CompletionPending
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		order, err = q.LockOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("order %s: %w", orderID, err)
		}
		if order.State != models.OrderStatePaid {
			return fmt.Errorf("%w: cannot complete a %s order", ErrInvalidTransition, order.State)
		}

		product, err := q.GetProduct(ctx, order.ProductID)
		if err != nil {
			return fmt.Errorf("failed to get product: %w", err)
		}

		if models.IsCertifying(product.Type) {
			passed, err := s.evaluate(ctx, q, order)
			if err != nil || !passed {
				return err
			}
			cert, _, _, err = s.issuer.Issue(ctx, q, order, product)
			if err != nil {
				return err
			}
		}

		status = CompletionFinished
		return s.transition(ctx, q, order, models.OrderStateFinished)
	})
	if err != nil {
		return status, err
	}
	if status == CompletionPending {
		s.logger.Info("Order completion pending", zap.String("order_id", order.ID))
		return status, nil
	}

	s.logger.Info("Order finished", zap.String("order_id", order.ID))
	s.publish(ctx, newOrderEvent(models.EventTypeOrderFinished, order, ""))
	if cert != nil {
		event := &models.CertificateIssuedEvent{
			BaseEvent:     newBaseEvent(models.EventTypeCertificateIssued),
			OrderID:       order.ID,
			CertificateID: cert.ID,
			Owner:         order.Owner,
		}
		if err := s.eventPublisher.PublishCertificateIssued(ctx, event); err != nil {
			s.logger.Error("Failed to publish CertificateIssued event", zap.Error(err))
		}
	}
	return status, nil
}

// evaluate grades every target course of the order. A GradeError wins over
// any other failure so that divergence with the LMS is always surfaced.
func (s *OrderService) evaluate(ctx context.Context, q *store.Queries, order *models.Order) (bool, error) {
	relations, err := q.GetOrderCourseRelations(ctx, order.ID)
	if err != nil {
		return false, fmt.Errorf("failed to get order courses: %w", err)
	}
	runIDs := make([]string, len(relations))
	for i, rel := range relations {
		runIDs[i] = rel.CourseRunID
	}
	runs, err := q.GetCourseRunsByIDs(ctx, runIDs)
	if err != nil {
		return false, fmt.Errorf("failed to get course runs: %w", err)
	}

	passed := true
	var gradeErr, otherErr error
	for _, rel := range relations {
		run, ok := runs[rel.CourseRunID]
		if !ok {
			return false, fmt.Errorf("course run %s: %w", rel.CourseRunID, store.ErrNotFound)
		}

		enrollment, err := q.GetEnrollment(ctx, order.Owner, run.ID)
		if errors.Is(err, store.ErrNotFound) {
			enrollment, err = nil, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to get enrollment: %w", err)
		}

		outcome, err := s.grades.Evaluate(ctx, order.Owner, &run, enrollment)
		var ge *GradeError
		switch {
		case errors.As(err, &ge):
			if gradeErr == nil {
				gradeErr = err
			}
		case err != nil:
			if otherErr == nil {
				otherErr = err
			}
		case outcome != Passed:
			passed = false
		}
	}

	if gradeErr != nil {
		s.logger.Error("Grades diverge from local enrollments",
			zap.String("order_id", order.ID),
			zap.Error(gradeErr))
		return false, gradeErr
	}
	if otherErr != nil {
		return false, otherErr
	}
	return passed, nil
}

// GetCertificateDocument returns the certificate document of an order owned by owner
func (s *OrderService) GetCertificateDocument(ctx context.Context, orderID, owner string) (*models.Certificate, []byte, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetCertificateDocument")
	defer span.End()

	order, err := s.getOwned(ctx, orderID, owner)
	if err != nil {
		return nil, nil, err
	}
	product, err := s.store.GetProduct(ctx, order.ProductID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get product: %w", err)
	}
	if !models.IsCertifying(product.Type) {
		return nil, nil, fmt.Errorf("order %s has no certificate: %w", order.ID, ErrNotFound)
	}

	cert, err := s.store.GetCertificateByOrderID(ctx, order.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("certificate of order %s: %w", order.ID, ErrNotReady)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get certificate: %w", err)
	}

	document, err := s.issuer.Document(ctx, cert)
	if err != nil {
		return nil, nil, err
	}
	return cert, document, nil
}

// GetCertificate returns a certificate and its document by certificate ID
func (s *OrderService) GetCertificate(ctx context.Context, certificateID, owner string) (*models.Certificate, []byte, error) {
	cert, err := s.store.GetCertificateByID(ctx, certificateID)
	if err != nil {
		return nil, nil, fmt.Errorf("certificate %s: %w", certificateID, err)
	}
	if _, err := s.getOwned(ctx, cert.OrderID, owner); err != nil {
		return nil, nil, fmt.Errorf("certificate %s: %w", certificateID, ErrNotFound)
	}
	document, err := s.issuer.Document(ctx, cert)
	if err != nil {
		return nil, nil, err
	}
	return cert, document, nil
}

// ListCertificates returns the certificates of an owner
func (s *OrderService) ListCertificates(ctx context.Context, owner string) ([]models.Certificate, error) {
	return s.store.ListCertificatesByOwner(ctx, owner)
}

func (s *OrderService) lockOwned(ctx context.Context, q *store.Queries, orderID, owner string) (*models.Order, error) {
	order, err := q.LockOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", orderID, err)
	}
	if owner != "" && order.Owner != owner {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return order, nil
}

func (s *OrderService) getOwned(ctx context.Context, orderID, owner string) (*models.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", orderID, err)
	}
	if owner != "" && order.Owner != owner {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return order, nil
}

func (s *OrderService) transition(ctx context.Context, q *store.Queries, order *models.Order, state string) error {
	from := order.State
	if err := q.UpdateOrderState(ctx, order.ID, state); err != nil {
		return fmt.Errorf("failed to update order state: %w", err)
	}
	order.State = state
	util.OrderTransitionsTotal.WithLabelValues(from, state).Inc()
	return nil
}

func (s *OrderService) publish(ctx context.Context, event *models.OrderEvent) {
	if err := s.eventPublisher.PublishOrderEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish order event",
			zap.String("event_type", event.EventType),
			zap.String("order_id", event.OrderID),
			zap.Error(err))
	}
}

package store

import (
	"context"
	"fmt"
	"time"

	"enrollment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const productColumns = `id, product_type, title, price, certificate_definition_id, created_at, updated_at`

const courseRunColumns = `id, course_id, resource_link, title, start_at, end_at, enrollment_start, enrollment_end`

// CreateUser inserts or refreshes a learner identity
func (q *Queries) CreateUser(ctx context.Context, user *models.User) error {
	_, err := q.exec(ctx, `
		INSERT INTO users (username, first_name, last_name, email)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET first_name = excluded.first_name,
			last_name = excluded.last_name, email = excluded.email`,
		user.Username, user.FirstName, user.LastName, user.Email)
	return err
}

// GetUser retrieves a learner by username
func (q *Queries) GetUser(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := q.get(ctx, &user,
		"SELECT username, first_name, last_name, email FROM users WHERE username = ?", username)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateOrganization creates a new organization
func (q *Queries) CreateOrganization(ctx context.Context, org *models.Organization) error {
	_, err := q.exec(ctx,
		"INSERT INTO organizations (id, code, title, signatory) VALUES (?, ?, ?, ?)",
		org.ID, org.Code, org.Title, org.Signatory)
	return err
}

// GetOrganizationsByIDs retrieves organizations by IDs
func (q *Queries) GetOrganizationsByIDs(ctx context.Context, ids []string) ([]models.Organization, error) {
	if len(ids) == 0 {
		return []models.Organization{}, nil
	}

	query, args, err := sqlx.In("SELECT id, code, title, signatory FROM organizations WHERE id IN (?) ORDER BY code", ids)
	if err != nil {
		return nil, err
	}

	var orgs []models.Organization
	err = q.selectAll(ctx, &orgs, query, args...)
	return orgs, err
}

// CreateCourse creates a new course
func (q *Queries) CreateCourse(ctx context.Context, course *models.Course) error {
	_, err := q.exec(ctx,
		"INSERT INTO courses (id, code, title, organization_id) VALUES (?, ?, ?, ?)",
		course.ID, course.Code, course.Title, course.OrganizationID)
	return err
}

// GetCourse retrieves a course by ID
func (q *Queries) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	var course models.Course
	err := q.get(ctx, &course,
		"SELECT id, code, title, organization_id FROM courses WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// GetCoursesByIDs retrieves courses keyed by ID
func (q *Queries) GetCoursesByIDs(ctx context.Context, ids []string) (map[string]models.Course, error) {
	result := make(map[string]models.Course, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In("SELECT id, code, title, organization_id FROM courses WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}

	var courses []models.Course
	if err := q.selectAll(ctx, &courses, query, args...); err != nil {
		return nil, err
	}
	for _, c := range courses {
		result[c.ID] = c
	}
	return result, nil
}

// CreateCourseRun creates a new course run after checking its dates
func (q *Queries) CreateCourseRun(ctx context.Context, run *models.CourseRun) error {
	if err := run.Validate(); err != nil {
		return err
	}
	_, err := q.exec(ctx, `
		INSERT INTO course_runs (id, course_id, resource_link, title, start_at, end_at, enrollment_start, enrollment_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CourseID, run.ResourceLink, run.Title,
		run.Start.UTC(), run.End.UTC(), run.EnrollmentStart.UTC(), run.EnrollmentEnd.UTC())
	return err
}

// GetCourseRun retrieves a course run by ID
func (q *Queries) GetCourseRun(ctx context.Context, id string) (*models.CourseRun, error) {
	var run models.CourseRun
	err := q.get(ctx, &run, "SELECT "+courseRunColumns+" FROM course_runs WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetCourseRunsByIDs retrieves course runs keyed by ID
func (q *Queries) GetCourseRunsByIDs(ctx context.Context, ids []string) (map[string]models.CourseRun, error) {
	result := make(map[string]models.CourseRun, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In("SELECT "+courseRunColumns+" FROM course_runs WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}

	var runs []models.CourseRun
	if err := q.selectAll(ctx, &runs, query, args...); err != nil {
		return nil, err
	}
	for _, r := range runs {
		result[r.ID] = r
	}
	return result, nil
}

// GetCourseRunsByCourseIDs retrieves every run of the given courses ordered by start date
func (q *Queries) GetCourseRunsByCourseIDs(ctx context.Context, courseIDs []string) ([]models.CourseRun, error) {
	if len(courseIDs) == 0 {
		return []models.CourseRun{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT "+courseRunColumns+" FROM course_runs WHERE course_id IN (?) ORDER BY start_at, id", courseIDs)
	if err != nil {
		return nil, err
	}

	var runs []models.CourseRun
	err = q.selectAll(ctx, &runs, query, args...)
	return runs, err
}

// CreateCertificateDefinition creates a new certificate template
func (q *Queries) CreateCertificateDefinition(ctx context.Context, def *models.CertificateDefinition) error {
	_, err := q.exec(ctx,
		"INSERT INTO certificate_definitions (id, name, title, description, template) VALUES (?, ?, ?, ?, ?)",
		def.ID, def.Name, def.Title, def.Description, def.Template)
	return err
}

// GetCertificateDefinition retrieves a certificate definition by ID
func (q *Queries) GetCertificateDefinition(ctx context.Context, id string) (*models.CertificateDefinition, error) {
	var def models.CertificateDefinition
	err := q.get(ctx, &def,
		"SELECT id, name, title, description, template FROM certificate_definitions WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// CreateProduct creates a product along with the courses it is sold on and its target courses
func (q *Queries) CreateProduct(ctx context.Context, product *models.Product) error {
	if !models.IsValidProductType(product.Type) {
		return fmt.Errorf("invalid product type %q", product.Type)
	}
	if models.IsCertifying(product.Type) != (product.CertificateDefinitionID != nil) {
		return fmt.Errorf("product type %q and certificate definition mismatch", product.Type)
	}

	positions := make(map[int]bool, len(product.TargetCourses))
	for _, tc := range product.TargetCourses {
		if positions[tc.Position] {
			return fmt.Errorf("duplicate target course position %d", tc.Position)
		}
		positions[tc.Position] = true
	}

	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := q.exec(ctx, `
		INSERT INTO products (id, product_type, title, price, certificate_definition_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		product.ID, product.Type, product.Title, product.Price, product.CertificateDefinitionID,
		product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}

	for _, courseID := range product.CourseIDs {
		if _, err := q.exec(ctx,
			"INSERT INTO product_courses (product_id, course_id) VALUES (?, ?)",
			product.ID, courseID); err != nil {
			return fmt.Errorf("failed to link product course: %w", err)
		}
	}

	for i := range product.TargetCourses {
		tc := &product.TargetCourses[i]
		tc.ProductID = product.ID
		if _, err := q.exec(ctx,
			"INSERT INTO product_target_courses (product_id, course_id, position, course_run_ids) VALUES (?, ?, ?, ?)",
			tc.ProductID, tc.CourseID, tc.Position, tc.CourseRunIDs); err != nil {
			return fmt.Errorf("failed to create target course: %w", err)
		}
	}

	return nil
}

// UpdateProduct changes the title and price of a product and bumps its version stamp
func (q *Queries) UpdateProduct(ctx context.Context, product *models.Product) error {
	product.UpdatedAt = time.Now().UTC()
	return q.execOne(ctx,
		"UPDATE products SET price = ?, title = ?, updated_at = ? WHERE id = ?",
		product.Price, product.Title, product.UpdatedAt, product.ID)
}

// ReplaceTargetCourses rewrites the target course list of a product. Positions
// are frozen once an order references the product.
func (q *Queries) ReplaceTargetCourses(ctx context.Context, productID string, targets []models.TargetCourseRelation) error {
	var orders int
	if err := q.get(ctx, &orders, "SELECT COUNT(*) FROM orders WHERE product_id = ?", productID); err != nil {
		return fmt.Errorf("failed to count product orders: %w", err)
	}
	if orders > 0 {
		return fmt.Errorf("product %s: %w", productID, ErrProductInUse)
	}

	if _, err := q.exec(ctx, "DELETE FROM product_target_courses WHERE product_id = ?", productID); err != nil {
		return err
	}
	for _, tc := range targets {
		if _, err := q.exec(ctx,
			"INSERT INTO product_target_courses (product_id, course_id, position, course_run_ids) VALUES (?, ?, ?, ?)",
			productID, tc.CourseID, tc.Position, tc.CourseRunIDs); err != nil {
			return err
		}
	}
	return q.execOne(ctx, "UPDATE products SET updated_at = ? WHERE id = ?", time.Now().UTC(), productID)
}

// GetProduct retrieves a product with its courses and ordered target courses
func (q *Queries) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	if err := q.get(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = ?", id); err != nil {
		return nil, err
	}

	if err := q.selectAll(ctx, &product.CourseIDs,
		"SELECT course_id FROM product_courses WHERE product_id = ? ORDER BY course_id", id); err != nil {
		return nil, fmt.Errorf("failed to load product courses: %w", err)
	}

	if err := q.selectAll(ctx, &product.TargetCourses, `
		SELECT product_id, course_id, position, course_run_ids
		FROM product_target_courses WHERE product_id = ? ORDER BY position`, id); err != nil {
		return nil, fmt.Errorf("failed to load target courses: %w", err)
	}

	return &product, nil
}

// GetProductVersion returns the last modification stamp of a product
func (q *Queries) GetProductVersion(ctx context.Context, id string) (time.Time, error) {
	var updatedAt time.Time
	if err := q.get(ctx, &updatedAt, "SELECT updated_at FROM products WHERE id = ?", id); err != nil {
		return time.Time{}, err
	}
	return updatedAt, nil
}

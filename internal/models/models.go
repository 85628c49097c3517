package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Product types
const (
	ProductTypeEnrollment  = "enrollment"
	ProductTypeCertificate = "certificate"
	ProductTypeCredential  = "credential"
)

// Order states
const (
	OrderStatePending  = "pending"
	OrderStatePaid     = "paid"
	OrderStateFinished = "finished"
	OrderStateFailed   = "failed"
)

// Enrollment states. An empty state means the enrollment was never pushed to the LMS.
const (
	EnrollmentStateUnset  = ""
	EnrollmentStateSet    = "set"
	EnrollmentStateFailed = "failed"
)

// IsCertifying reports whether products of the given type lead to a certificate.
func IsCertifying(productType string) bool {
	return productType == ProductTypeCertificate || productType == ProductTypeCredential
}

// IsValidProductType reports whether t is a known product type.
func IsValidProductType(t string) bool {
	switch t {
	case ProductTypeEnrollment, ProductTypeCertificate, ProductTypeCredential:
		return true
	}
	return false
}

// IDList is a list of identifiers stored as a JSON array column.
type IDList []string

// Value implements driver.Valuer
func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (l *IDList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into IDList", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("failed to decode id list: %w", err)
	}
	*l = ids
	return nil
}

// Contains reports whether id is in the list
func (l IDList) Contains(id string) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

// User is the learner identity used for rendering
type User struct {
	Username  string `db:"username" json:"username"`
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
	Email     string `db:"email" json:"email"`
}

// FullName returns the printable name of the user, falling back to the username.
func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.Username
}

// Organization delivers courses and signs certificates
type Organization struct {
	ID        string `db:"id" json:"id"`
	Code      string `db:"code" json:"code"`
	Title     string `db:"title" json:"title"`
	Signatory string `db:"signatory" json:"signatory"`
}

// Course represents a course in the catalog
type Course struct {
	ID             string `db:"id" json:"id"`
	Code           string `db:"code" json:"code"`
	Title          string `db:"title" json:"title"`
	OrganizationID string `db:"organization_id" json:"organization_id"`
}

// CourseRun is one scheduled offering of a course
type CourseRun struct {
	ID              string    `db:"id" json:"id"`
	CourseID        string    `db:"course_id" json:"course_id"`
	ResourceLink    string    `db:"resource_link" json:"resource_link"`
	Title           string    `db:"title" json:"title"`
	Start           time.Time `db:"start_at" json:"start"`
	End             time.Time `db:"end_at" json:"end"`
	EnrollmentStart time.Time `db:"enrollment_start" json:"enrollment_start"`
	EnrollmentEnd   time.Time `db:"enrollment_end" json:"enrollment_end"`
}

// Validate checks the date ordering of a course run
func (r *CourseRun) Validate() error {
	if r.ResourceLink == "" {
		return fmt.Errorf("course run %s has no resource link", r.ID)
	}
	if r.Start.After(r.End) {
		return fmt.Errorf("course run %s starts after it ends", r.ID)
	}
	if r.EnrollmentStart.After(r.EnrollmentEnd) {
		return fmt.Errorf("course run %s enrollment starts after it ends", r.ID)
	}
	if r.EnrollmentEnd.After(r.End) {
		return fmt.Errorf("course run %s enrollment ends after the course run", r.ID)
	}
	return nil
}

// IsEnrollable reports whether enrollment is open at the given instant
func (r *CourseRun) IsEnrollable(now time.Time) bool {
	return !now.Before(r.EnrollmentStart) && !now.After(r.EnrollmentEnd)
}

// CertificateDefinition is the template used to render certificates
type CertificateDefinition struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description"`
	Template    string `db:"template" json:"template"`
}

// TargetCourseRelation links a product to a course it commits the learner to
type TargetCourseRelation struct {
	ProductID    string `db:"product_id" json:"-"`
	CourseID     string `db:"course_id" json:"course_id"`
	Position     int    `db:"position" json:"position"`
	CourseRunIDs IDList `db:"course_run_ids" json:"course_run_ids"`
}

// Product is a purchasable bundle of target courses
type Product struct {
	ID                      string          `db:"id" json:"id"`
	Type                    string          `db:"product_type" json:"type"`
	Title                   string          `db:"title" json:"title"`
	Price                   decimal.Decimal `db:"price" json:"price"`
	CertificateDefinitionID *string         `db:"certificate_definition_id" json:"certificate_definition_id,omitempty"`
	CreatedAt               time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time       `db:"updated_at" json:"updated_at"`

	CourseIDs     []string               `db:"-" json:"course_ids"`
	TargetCourses []TargetCourseRelation `db:"-" json:"target_courses"`
}

// SoldOn reports whether the product is offered on the given course
func (p *Product) SoldOn(courseID string) bool {
	for _, id := range p.CourseIDs {
		if id == courseID {
			return true
		}
	}
	return false
}

// Order represents a learner's purchase of a product
type Order struct {
	ID        string          `db:"id" json:"id"`
	Owner     string          `db:"owner" json:"owner"`
	ProductID string          `db:"product_id" json:"product_id"`
	CourseID  string          `db:"course_id" json:"course_id"`
	Price     decimal.Decimal `db:"price" json:"price"`
	State     string          `db:"state" json:"state"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderCourseRelation is the frozen copy of a product target course taken at purchase time,
// along with the course run currently selected for it.
type OrderCourseRelation struct {
	OrderID      string `db:"order_id" json:"-"`
	CourseID     string `db:"course_id" json:"course_id"`
	Position     int    `db:"position" json:"position"`
	CourseRunIDs IDList `db:"course_run_ids" json:"course_run_ids"`
	CourseRunID  string `db:"course_run_id" json:"course_run_id"`
}

// Enrollment binds a user to a course run in the LMS
type Enrollment struct {
	ID          string    `db:"id" json:"id"`
	OrderID     *string   `db:"order_id" json:"order_id,omitempty"`
	CourseRunID string    `db:"course_run_id" json:"course_run_id"`
	Username    string    `db:"username" json:"user"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	State       string    `db:"state" json:"state"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// IsEnrolled reports whether the enrollment is active and synchronized with the LMS
func (e *Enrollment) IsEnrolled() bool {
	return e.IsActive && e.State == EnrollmentStateSet
}

// Certificate is issued once for a certifying order
type Certificate struct {
	ID                      string    `db:"id" json:"id"`
	OrderID                 string    `db:"order_id" json:"order_id"`
	CertificateDefinitionID string    `db:"certificate_definition_id" json:"certificate_definition_id"`
	IssuedAt                time.Time `db:"issued_at" json:"issued_at"`
	// Content is the encoded render input captured at issuance
	Content string `db:"content" json:"-"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

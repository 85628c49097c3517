package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"enrollment-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultCourseRegex = `^.*/courses/(?P<course_id>[^/]+)/course/?$`

// OpenEdX is a Gateway backed by the OpenEdX enrollment and grades REST APIs
type OpenEdX struct {
	name        string
	baseURL     string
	apiToken    string
	courseRegex *regexp.Regexp
	client      *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// OpenEdXOption customizes an OpenEdX gateway
type OpenEdXOption func(*OpenEdX)

// WithHTTPClient sets the HTTP client used to reach the LMS
func WithHTTPClient(client *http.Client) OpenEdXOption {
	return func(o *OpenEdX) { o.client = client }
}

// WithRateLimit bounds the number of requests per second sent to the LMS
func WithRateLimit(perSecond float64, burst int) OpenEdXOption {
	return func(o *OpenEdX) { o.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewOpenEdX creates an OpenEdX gateway
func NewOpenEdX(cfg BackendConfig, opts ...OpenEdXOption) (*OpenEdX, error) {
	pattern := cfg.CourseRegex
	if pattern == "" {
		pattern = defaultCourseRegex
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid course regex for lms backend %s: %w", cfg.Name, err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("course regex for lms backend %s must capture the course id", cfg.Name)
	}

	o := &OpenEdX{
		name:        cfg.Name,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiToken:    cfg.APIToken,
		courseRegex: re,
		client:      &http.Client{Timeout: 10 * time.Second},
		limiter:     rate.NewLimiter(rate.Inf, 1),
		logger:      util.GetLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// CourseID extracts the LMS course identifier from a resource link
func (o *OpenEdX) CourseID(resourceLink string) (string, error) {
	m := o.courseRegex.FindStringSubmatch(resourceLink)
	if len(m) < 2 || m[1] == "" {
		return "", fmt.Errorf("resource link %q does not match course regex", resourceLink)
	}
	return m[1], nil
}

type enrollmentPayload struct {
	User          string        `json:"user"`
	IsActive      bool          `json:"is_active"`
	Mode          string        `json:"mode"`
	CourseDetails courseDetails `json:"course_details"`
}

type courseDetails struct {
	CourseID string `json:"course_id"`
}

// Enroll implements Gateway
func (o *OpenEdX) Enroll(ctx context.Context, username, resourceLink string) error {
	return o.setEnrollment(ctx, username, resourceLink, true)
}

// Unenroll implements Gateway
func (o *OpenEdX) Unenroll(ctx context.Context, username, resourceLink string) error {
	return o.setEnrollment(ctx, username, resourceLink, false)
}

func (o *OpenEdX) setEnrollment(ctx context.Context, username, resourceLink string, active bool) error {
	operation := "unenroll"
	if active {
		operation = "enroll"
	}
	ctx, span := util.StartSpan(ctx, "OpenEdX."+operation)
	defer span.End()

	courseID, err := o.CourseID(resourceLink)
	if err != nil {
		return err
	}

	body, err := json.Marshal(enrollmentPayload{
		User:          username,
		IsActive:      active,
		Mode:          "audit",
		CourseDetails: courseDetails{CourseID: courseID},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal enrollment: %w", err)
	}

	resp, err := o.do(ctx, operation, http.MethodPost, o.baseURL+"/api/enrollment/v1/enrollment", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		o.logger.Warn("LMS refused enrollment change",
			zap.String("backend", o.name),
			zap.String("username", username),
			zap.String("course_id", courseID),
			zap.Bool("is_active", active),
			zap.Error(err))
		return err
	}
	return nil
}

type gradeResponse struct {
	Username string  `json:"username"`
	Percent  float64 `json:"percent"`
	Passed   bool    `json:"passed"`
}

// GetGrade implements Gateway
func (o *OpenEdX) GetGrade(ctx context.Context, username, resourceLink string) (float64, error) {
	ctx, span := util.StartSpan(ctx, "OpenEdX.GetGrade")
	defer span.End()

	courseID, err := o.CourseID(resourceLink)
	if err != nil {
		return 0, err
	}

	endpoint := fmt.Sprintf("%s/api/grades/v1/courses/%s/?username=%s",
		o.baseURL, url.PathEscape(courseID), url.QueryEscape(username))

	resp, err := o.do(ctx, "get_grade", http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrGradeNotAvailable
	}
	if err := checkStatus(resp); err != nil {
		return 0, err
	}

	var grades []gradeResponse
	if err := json.NewDecoder(resp.Body).Decode(&grades); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedGrade, err)
	}
	for _, g := range grades {
		if g.Username == username {
			return g.Percent, nil
		}
	}
	return 0, ErrGradeNotAvailable
}

func (o *OpenEdX) do(ctx context.Context, operation, method, endpoint string, body []byte) (*http.Response, error) {
	start := time.Now()
	result := "ok"
	defer func() {
		util.LMSRequestDuration.WithLabelValues(o.name, operation, result).Observe(time.Since(start).Seconds())
	}()

	if err := o.limiter.Wait(ctx); err != nil {
		result = "unavailable"
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		result = "error"
		return nil, fmt.Errorf("failed to build lms request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Edx-Api-Key", o.apiToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		result = "unavailable"
		if isTransient(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("lms request failed: %w", err)
	}
	if resp.StatusCode >= 500 {
		result = "unavailable"
	} else if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		result = "rejected"
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return fmt.Errorf("lms rejected request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

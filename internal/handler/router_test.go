package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"policy-core/internal/apperrors"
	"policy-core/internal/archive"
	"policy-core/internal/config"
	"policy-core/internal/lockout"
	"policy-core/internal/metrics"
	"policy-core/internal/models"
	"policy-core/internal/securitylog"
	"policy-core/internal/service"
	"policy-core/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret   = "test-signing-secret"
	testInternal = "internal-secret"
	testCron     = "cron-secret"
)

type memPolicies struct {
	mu    sync.Mutex
	cfg   *models.PolicyConfig
	audit []models.AuditEntry
}

func (m *memPolicies) Get(context.Context) (*models.PolicyConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Clone(), nil
}

func (m *memPolicies) Save(_ context.Context, cfg *models.PolicyConfig, e models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.Clone()
	m.audit = append(m.audit, e)
	return nil
}

type memIdentities struct {
	mu   sync.Mutex
	byID map[string]*models.Identity
}

func (m *memIdentities) add(id, email string, role models.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id] = &models.Identity{ID: id, Email: email, Role: role}
}

func (m *memIdentities) GetByID(_ context.Context, id string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (m *memIdentities) TouchLastActive(context.Context, string, time.Time) error { return nil }

func (m *memIdentities) find(email string) *models.Identity {
	for _, ident := range m.byID {
		if strings.EqualFold(ident.Email, email) {
			return ident
		}
	}
	return nil
}

func (m *memIdentities) GetByEmail(_ context.Context, email string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident := m.find(email)
	if ident == nil {
		return nil, apperrors.ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (m *memIdentities) IncrementFailedAttempts(_ context.Context, email string, max int, now time.Time) (lockout.Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident := m.find(email)
	if ident == nil {
		return lockout.Counter{}, apperrors.ErrNotFound
	}
	ident.FailedLoginAttempts++
	newly := false
	switch {
	case ident.FailedLoginAttempts < max:
		ident.LockedAt = nil
	case ident.LockedAt == nil:
		ident.LockedAt = &now
		newly = true
	}
	return lockout.Counter{IdentityID: ident.ID, Attempts: ident.FailedLoginAttempts, LockedAt: ident.LockedAt, NewlyLocked: newly}, nil
}

func (m *memIdentities) ResetFailedAttempts(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident := m.find(email)
	if ident == nil {
		return apperrors.ErrNotFound
	}
	ident.FailedLoginAttempts = 0
	ident.LockedAt = nil
	return nil
}

type memReports struct {
	mu   sync.Mutex
	rows map[string]models.Report
}

func (m *memReports) Create(_ context.Context, r models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[r.ID] = r
	return nil
}

func (m *memReports) Get(_ context.Context, _ models.ReporterType, id string) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &r, nil
}

func (m *memReports) ApplyUpdate(_ context.Context, _ models.ReporterType, id string, u models.ReportUpdate) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	old := r
	if u.Status != nil {
		r.Status = *u.Status
	}
	m.rows[id] = r
	return &old, nil
}

type memNotes struct {
	mu    sync.Mutex
	notes []models.Notification
}

func (m *memNotes) InsertNotification(_ context.Context, n models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, n)
	return nil
}

type emptyArchive struct{}

func (emptyArchive) InTx(_ context.Context, fn func(tx archive.Tx) error) error {
	return fn(emptyTx{})
}

type emptyTx struct{}

func (emptyTx) SelectExpired(context.Context, models.ReporterType, time.Time) ([]models.Report, error) {
	return nil, nil
}
func (emptyTx) InsertArchived(context.Context, models.ArchivedReport) error { return nil }
func (emptyTx) DeleteReport(context.Context, models.ReporterType, string) error {
	return errors.New("nothing to delete")
}
func (emptyTx) InsertAudit(context.Context, models.AuditEntry) error           { return nil }
func (emptyTx) InsertNotification(context.Context, models.Notification) error { return nil }

type testEnv struct {
	router     chi.Router
	policies   *memPolicies
	identities *memIdentities
	reports    *memReports
	notes      *memNotes
}

func newTestEnv(t *testing.T, checks map[string]HealthCheck) *testEnv {
	t.Helper()
	return newTestEnvWithEvents(t, checks, nil)
}

func newTestEnvWithEvents(t *testing.T, checks map[string]HealthCheck, events securitylog.Source) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{AllowedOrigins: []string{"https://*"}},
		Auth: config.AuthConfig{
			JWTSecret:      testSecret,
			CronSecret:     testCron,
			InternalSecret: testInternal,
			FingerprintKey: "fp-key",
		},
		RateLimit: config.RateLimitConfig{Limit: 2, Window: time.Minute},
		Bucketing: config.BucketingConfig{LimiterShards: 4, EventBuckets: 4},
	}
	env := &testEnv{
		policies:   &memPolicies{cfg: models.DefaultPolicyConfig()},
		identities: &memIdentities{byID: make(map[string]*models.Identity)},
		reports:    &memReports{rows: make(map[string]models.Report)},
		notes:      &memNotes{},
	}
	env.identities.add("viewer-1", "viewer@example.com", models.RoleViewer)
	env.identities.add("admin-1", "admin@example.com", models.RoleAdmin)
	env.identities.add("root-1", "root@example.com", models.RoleSuperAdmin)

	services := service.NewServiceFactory(cfg, service.Dependencies{
		Policies:      env.policies,
		Identities:    env.identities,
		Reports:       env.reports,
		Notifications: env.notes,
		Archive:       emptyArchive{},
		EventSource:   events,
	}, metrics.NewCollector(prometheus.NewRegistry()), zap.NewNop())
	t.Cleanup(services.Cleanup)

	env.router = NewRouter(cfg, services, metrics.NewCollector(prometheus.NewRegistry()), checks, zap.NewNop())
	return env
}

func token(t *testing.T, subject string) string {
	t.Helper()
	now := time.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, session.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp Response
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	rec, _ := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)

	env = newTestEnv(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
	})
	rec, _ = env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "refused")
}

func TestPolicyEndpointsEnforceTiers(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/admin/policy", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(apperrors.ReasonUnauthenticated), resp.Reason)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec, resp = env.do(t, http.MethodGet, "/api/v1/admin/policy", nil, map[string]string{"Authorization": token(t, "viewer-1")})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, resp = env.do(t, http.MethodPut, "/api/v1/admin/policy", map[string]interface{}{"maxLoginAttempts": 3},
		map[string]string{"Authorization": token(t, "admin-1")})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(apperrors.ReasonForbiddenRole), resp.Reason)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/admin/policy", nil, map[string]string{"Authorization": token(t, "ghost")})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPolicyUpdateAuditsAndEntersMaintenance(t *testing.T) {
	env := newTestEnv(t, nil)
	root := map[string]string{"Authorization": token(t, "root-1")}

	rec, _ := env.do(t, http.MethodPut, "/api/v1/admin/policy", map[string]interface{}{"maxLoginAttempts": 0}, root)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp := env.do(t, http.MethodPut, "/api/v1/admin/policy", map[string]interface{}{"maintenanceMode": true}, root)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	require.Len(t, env.policies.audit, 1)
	assert.Equal(t, "root@example.com", env.policies.audit[0].ChangedBy)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/admin/policy", nil, root)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(apperrors.ReasonMaintenance), resp.Reason)
}

func TestLockoutEndpointsRequireInternalSecret(t *testing.T) {
	env := newTestEnv(t, nil)
	body := map[string]string{"email": "Admin@Example.com"}

	rec, _ := env.do(t, http.MethodPost, "/api/v1/auth/lockout/failure", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/auth/lockout/failure", body, map[string]string{internalSecretHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	secret := map[string]string{internalSecretHeader: testInternal}
	for i := 0; i < 5; i++ {
		rec, _ = env.do(t, http.MethodPost, "/api/v1/auth/lockout/failure", body, secret)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/v1/auth/lockout/check", body, secret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"locked":true`)
	assert.Contains(t, rec.Body.String(), `"remainingAttempts":0`)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/auth/lockout/success", body, secret)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/auth/lockout/check", body, secret)
	assert.Contains(t, rec.Body.String(), `"locked":false`)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/auth/lockout/check", map[string]string{}, secret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportSubmissionIsRateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	report := map[string]interface{}{
		"reporterType": "patient",
		"products":     []map[string]string{{"name": "Examplumab"}},
		"symptoms":     []map[string]string{{"name": "Rash", "seriousness": "hospitalization"}},
	}

	for i := 0; i < 2; i++ {
		rec, resp := env.do(t, http.MethodPost, "/api/v1/reports/classify", report, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.True(t, resp.Success)
	}

	rec, _ := env.do(t, http.MethodPost, "/api/v1/reports/classify", report, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec, _ = env.do(t, http.MethodPost, "/api/v1/reports/classify", report, map[string]string{"X-Client-ID": "another-device"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestReportTextIsStoredRawAndEscapedInResponses(t *testing.T) {
	env := newTestEnv(t, nil)
	report := map[string]interface{}{
		"reporterType": "patient",
		"products":     []map[string]string{{"name": "<b>A & B</b>"}},
	}

	rec, _ := env.do(t, http.MethodPost, "/api/v1/reports/classify", report, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `\u003cb\u003eA \u0026 B\u003c/b\u003e`)
	assert.NotContains(t, rec.Body.String(), "&amp;")

	require.Len(t, env.reports.rows, 1)
	for _, r := range env.reports.rows {
		assert.Equal(t, "<b>A & B</b>", r.Products[0].Name)
	}
	env.notes.mu.Lock()
	defer env.notes.mu.Unlock()
	require.Len(t, env.notes.notes, 1)
	assert.Equal(t, "New Patient Report — <b>A & B</b>", env.notes.notes[0].Title)
}

func TestReportReviewRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, resp := env.do(t, http.MethodPost, "/api/v1/reports/classify", map[string]interface{}{"reporterType": "family"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var sub service.Submission
	require.NoError(t, json.Unmarshal(data, &sub))

	review := map[string]interface{}{"reporterType": "family", "reportId": sub.Report.ID, "status": "approved"}

	rec, _ = env.do(t, http.MethodPost, "/api/v1/reports/classify-update", review, map[string]string{"Authorization": token(t, "viewer-1")})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/reports/classify-update", review, map[string]string{"Authorization": token(t, "admin-1")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"approved"`)

	review["reportId"] = "missing"
	rec, _ = env.do(t, http.MethodPost, "/api/v1/reports/classify-update", review, map[string]string{"Authorization": token(t, "admin-1")})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArchivalTriggers(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/cron/archival", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/cron/archival", nil, map[string]string{cronSecretHeader: testCron})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/admin/archival/run", nil, map[string]string{"Authorization": token(t, "viewer-1")})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/admin/archival/run", nil, map[string]string{"Authorization": token(t, "admin-1")})
	assert.Equal(t, http.StatusOK, rec.Code)
}

type memEvents struct {
	byBucket map[int][]models.SecurityEvent
}

func (m *memEvents) ListSecurityEvents(_ context.Context, bucket int, date string, limit int) ([]models.SecurityEvent, error) {
	var out []models.SecurityEvent
	for _, evt := range m.byBucket[bucket] {
		if evt.EventDate == date && len(out) < limit {
			out = append(out, evt)
		}
	}
	return out, nil
}

func TestSecurityEventsListing(t *testing.T) {
	at := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	events := &memEvents{byBucket: map[int][]models.SecurityEvent{
		1: {{EventBucket: 1, EventDate: "2024-05-06", EventTime: at, EventID: "e-1", EventType: models.EventAccountLocked, Email: "user@example.com"}},
		3: {{EventBucket: 3, EventDate: "2024-05-06", EventTime: at.Add(time.Minute), EventID: "e-2", EventType: models.EventRateLimited}},
	}}
	env := newTestEnvWithEvents(t, nil, events)
	admin := map[string]string{"Authorization": token(t, "admin-1")}

	rec, _ := env.do(t, http.MethodGet, "/api/v1/admin/security-events?date=2024-05-06", nil, map[string]string{"Authorization": token(t, "viewer-1")})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/admin/security-events?date=2024-05-06", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	body := rec.Body.String()
	assert.Less(t, strings.Index(body, `"eventId":"e-2"`), strings.Index(body, `"eventId":"e-1"`))
	assert.Contains(t, body, `"eventType":"account_locked"`)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/admin/security-events?date=2024-05-06&limit=1", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 1)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/admin/security-events?date=06/05/2024", nil, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = env.do(t, http.MethodGet, "/api/v1/admin/security-events?limit=-1", nil, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSecurityEventsUnavailableWithoutStore(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, resp := env.do(t, http.MethodGet, "/api/v1/admin/security-events", nil, map[string]string{"Authorization": token(t, "admin-1")})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, resp.Success)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, _ := env.do(t, http.MethodGet, "/api/v1/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

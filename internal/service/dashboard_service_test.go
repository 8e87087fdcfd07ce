package service

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
	"github.com/noah-isme/campus-invoicing-api/internal/repository"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (m *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = raw
	return nil
}

func (m *memoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.entries, key)
		}
	}
	return nil
}

type stubAggregates struct {
	status       []repository.StatusTotal
	campuses     []repository.CampusTotal
	teachers     int
	calls        int
	lastFilter   models.InvoiceFilter
	teacherScope *string
}

func (s *stubAggregates) StatusTotals(_ context.Context, filter models.InvoiceFilter) ([]repository.StatusTotal, error) {
	s.calls++
	s.lastFilter = filter
	return s.status, nil
}

func (s *stubAggregates) CampusTotals(context.Context, models.InvoiceFilter) ([]repository.CampusTotal, error) {
	return s.campuses, nil
}

func (s *stubAggregates) CountActiveTeachers(_ context.Context, campusID *string) (int, error) {
	s.teacherScope = campusID
	return s.teachers, nil
}

type stubMissingCount int

func (s stubMissingCount) CountMissingBankDetails(context.Context) (int, error) {
	return int(s), nil
}

type stubUnread map[string]int

func (s stubUnread) UnreadCount(_ context.Context, userID string) (int, error) {
	return s[userID], nil
}

func newDashboardFixture(cache *CacheService) (*DashboardService, *stubAggregates) {
	aggregates := &stubAggregates{
		status: []repository.StatusTotal{
			{Status: models.InvoiceStatusPending, Count: 2, Hours: 6, Amount: 270},
			{Status: models.InvoiceStatusValidated, Count: 1, Hours: 3, Amount: 135},
			{Status: models.InvoiceStatusPaid, Count: 1, Hours: 2, Amount: 90},
			{Status: models.InvoiceStatusRejected, Count: 1, Hours: 4, Amount: 180},
		},
		campuses: []repository.CampusTotal{
			{CampusID: campusNorth, CampusName: "Roquette", Status: models.InvoiceStatusPending, Count: 2, Amount: 270},
			{CampusID: campusNorth, CampusName: "Roquette", Status: models.InvoiceStatusRejected, Count: 1, Amount: 180},
			{CampusID: campusSouth, CampusName: "Nice", Status: models.InvoiceStatusPaid, Count: 1, Amount: 90},
		},
		teachers: 12,
	}
	svc := NewDashboardService(DashboardServiceParams{
		Aggregates:    aggregates,
		BankDetails:   stubMissingCount(4),
		Notifications: stubUnread{"accountant": 3},
		Cache:         cache,
		Logger:        zap.NewNop(),
	})
	svc.now = func() time.Time { return time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC) }
	return svc, aggregates
}

func TestDashboardTotalsExcludeRejected(t *testing.T) {
	svc, _ := newDashboardFixture(nil)

	summary, hit, err := svc.ForActor(context.Background(), accountant, 0, 0)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 3, summary.Month)
	assert.Equal(t, 2025, summary.Year)
	assert.Equal(t, "all", summary.Scope)
	assert.Equal(t, 5, summary.Totals.Invoices)
	assert.Equal(t, 11.0, summary.Totals.Hours)
	assert.Equal(t, 495.0, summary.Totals.Amount)
	assert.Equal(t, 90.0, summary.Totals.PaidAmount)
	assert.Equal(t, 135.0, summary.Totals.AwaitingPay)
	assert.Len(t, summary.ByStatus, 4)
	require.Len(t, summary.ByCampus, 2)
	assert.Equal(t, 3, summary.ByCampus[0].Count)
	assert.Equal(t, 270.0, summary.ByCampus[0].Amount)
	assert.Equal(t, 1, summary.ByCampus[0].ByStatus[models.InvoiceStatusRejected])
	assert.Equal(t, 12, summary.ActiveTeachers)
	assert.Equal(t, 4, summary.MissingBankDetails)
	assert.Equal(t, 3, summary.UnreadNotifications)
}

func TestDashboardScopesDirectorAndTeacher(t *testing.T) {
	svc, aggregates := newDashboardFixture(nil)

	summary, _, err := svc.ForActor(context.Background(), director(campusNorth), 3, 2025)
	require.NoError(t, err)
	assert.Equal(t, "campus", summary.Scope)
	require.NotNil(t, aggregates.lastFilter.CampusID)
	assert.Equal(t, campusNorth, *aggregates.lastFilter.CampusID)
	require.NotNil(t, aggregates.teacherScope)
	assert.Equal(t, campusNorth, *aggregates.teacherScope)
	assert.Zero(t, summary.MissingBankDetails)

	teacher := models.Actor{ID: "teacher-1", Role: models.RoleTeacher}
	summary, _, err = svc.ForActor(context.Background(), teacher, 3, 2025)
	require.NoError(t, err)
	assert.Equal(t, "teacher", summary.Scope)
	require.NotNil(t, aggregates.lastFilter.TeacherID)
	assert.Equal(t, "teacher-1", *aggregates.lastFilter.TeacherID)
	assert.Nil(t, summary.ByCampus)
	assert.Zero(t, summary.ActiveTeachers)
}

func TestDashboardServesFromCacheUntilInvalidated(t *testing.T) {
	cache := NewCacheService(newMemoryCache(), NewMetricsService(), time.Minute, zap.NewNop(), true)
	svc, aggregates := newDashboardFixture(cache)
	ctx := context.Background()

	_, hit, err := svc.ForActor(ctx, accountant, 3, 2025)
	require.NoError(t, err)
	assert.False(t, hit)

	summary, hit, err := svc.ForActor(ctx, accountant, 3, 2025)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 495.0, summary.Totals.Amount)
	assert.Equal(t, 3, summary.UnreadNotifications)
	assert.Equal(t, 1, aggregates.calls)

	require.NoError(t, cache.Invalidate(ctx, DashboardCachePattern))
	_, hit, err = svc.ForActor(ctx, accountant, 3, 2025)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, aggregates.calls)
}

func TestDashboardRejectsInvalidPeriodAndRoles(t *testing.T) {
	svc, _ := newDashboardFixture(nil)

	_, _, err := svc.ForActor(context.Background(), accountant, 13, 2025)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, _, err = svc.ForActor(context.Background(), models.Actor{ID: "x", Role: models.UserRole("GUEST")}, 3, 2025)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

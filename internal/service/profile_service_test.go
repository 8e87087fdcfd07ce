package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
)

type stubProfileRepo struct {
	profiles   map[string]*models.Profile
	lastFilter models.ProfileFilter
}

func (s *stubProfileRepo) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	if p, ok := s.profiles[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubProfileRepo) List(ctx context.Context, filter models.ProfileFilter) ([]models.Profile, int, error) {
	s.lastFilter = filter
	var out []models.Profile
	for _, p := range s.profiles {
		if filter.CampusID != nil && (p.CampusID == nil || *p.CampusID != *filter.CampusID) {
			continue
		}
		out = append(out, *p)
	}
	return out, len(out), nil
}

func (s *stubProfileRepo) Update(ctx context.Context, profile *models.Profile) error {
	if _, ok := s.profiles[profile.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *profile
	s.profiles[profile.ID] = &cp
	return nil
}

func (s *stubProfileRepo) SetActive(ctx context.Context, id string, active bool) error {
	p, ok := s.profiles[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.Active = active
	return nil
}

type stubTeacherRepo struct {
	details map[string]models.BankDetails
}

func (s *stubTeacherRepo) FindByUserID(ctx context.Context, userID string) (*models.TeacherProfile, error) {
	d, ok := s.details[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.TeacherProfile{UserID: userID, IBAN: &d.IBAN, BIC: &d.BIC, AccountHolder: &d.AccountHolder, BankName: &d.BankName}, nil
}

func (s *stubTeacherRepo) UpdateBankDetails(ctx context.Context, userID string, details models.BankDetails) error {
	if s.details == nil {
		s.details = make(map[string]models.BankDetails)
	}
	s.details[userID] = details
	return nil
}

func newProfileFixture() (*ProfileService, *stubProfileRepo, *stubTeacherRepo, *memoryAudit) {
	north, south := "campus-north", "campus-south"
	repo := &stubProfileRepo{profiles: map[string]*models.Profile{
		"admin":   {ID: "admin", FirstName: "Ada", LastName: "Admin", Role: models.RoleSuperAdmin, Active: true},
		"teacher": {ID: "teacher", FirstName: "Tom", LastName: "Teach", Role: models.RoleTeacher, CampusID: &north, Active: true},
		"other":   {ID: "other", FirstName: "Ola", LastName: "Other", Role: models.RoleTeacher, CampusID: &south, Active: true},
		"account": {ID: "account", FirstName: "Cécile", LastName: "Compta", Role: models.RoleAccountant, Active: true},
	}}
	teachers := &stubTeacherRepo{}
	audit := &memoryAudit{}
	return NewProfileService(repo, teachers, audit, nil, nil), repo, teachers, audit
}

func TestProfileListScopesDirectorToCampus(t *testing.T) {
	svc, repo, _, _ := newProfileFixture()
	campus := "campus-north"
	director := models.Actor{ID: "dir", Role: models.RoleCampusDirector, CampusID: &campus}

	profiles, page, err := svc.List(context.Background(), director, models.ProfileFilter{})
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "teacher", profiles[0].ID)
	assert.Equal(t, 20, page.PageSize)
	assert.Equal(t, &campus, repo.lastFilter.CampusID)

	_, _, err = svc.List(context.Background(), models.Actor{ID: "teacher", Role: models.RoleTeacher}, models.ProfileFilter{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestProfileGetAllowsSelfOnly(t *testing.T) {
	svc, _, _, _ := newProfileFixture()
	self := models.Actor{ID: "teacher", Role: models.RoleTeacher}

	resp, err := svc.Get(context.Background(), self, "teacher")
	require.NoError(t, err)
	assert.Nil(t, resp.Teacher)

	_, err = svc.Get(context.Background(), self, "other")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.Get(context.Background(), models.Actor{ID: "admin", Role: models.RoleSuperAdmin}, "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestProfileUpdateRequiresAdminAndValidatesDirectorCampus(t *testing.T) {
	svc, repo, _, audit := newProfileFixture()
	admin := models.Actor{ID: "admin", Role: models.RoleSuperAdmin}
	director := models.RoleCampusDirector

	_, err := svc.Update(context.Background(), models.Actor{ID: "account", Role: models.RoleAccountant}, "teacher", dto.UpdateProfileRequest{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.Update(context.Background(), admin, "account", dto.UpdateProfileRequest{Role: &director})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	phone := " 0611223344 "
	updated, err := svc.Update(context.Background(), admin, "teacher", dto.UpdateProfileRequest{Phone: &phone})
	require.NoError(t, err)
	require.NotNil(t, updated.Phone)
	assert.Equal(t, "0611223344", *updated.Phone)
	assert.Equal(t, "0611223344", *repo.profiles["teacher"].Phone)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionProfileUpdate, audit.logs[0].Action)
}

func TestProfileDeactivate(t *testing.T) {
	svc, repo, _, _ := newProfileFixture()
	admin := models.Actor{ID: "admin", Role: models.RoleSuperAdmin}

	require.NoError(t, svc.Deactivate(context.Background(), admin, "teacher"))
	assert.False(t, repo.profiles["teacher"].Active)

	assert.ErrorIs(t, svc.Deactivate(context.Background(), admin, "admin"), appErrors.ErrValidation)
	assert.ErrorIs(t, svc.Deactivate(context.Background(), admin, "ghost"), appErrors.ErrNotFound)
}

func TestUpdateBankDetailsPermissions(t *testing.T) {
	svc, _, teachers, _ := newProfileFixture()
	details := models.BankDetails{IBAN: "fr76 3000 6000 0112 3456 7890 189", BIC: "agrifrpp", AccountHolder: "Tom Teach", BankName: "Banque"}

	_, err := svc.UpdateBankDetails(context.Background(), models.Actor{ID: "other", Role: models.RoleTeacher}, "teacher", details)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	tp, err := svc.UpdateBankDetails(context.Background(), models.Actor{ID: "teacher", Role: models.RoleTeacher}, "teacher", details)
	require.NoError(t, err)
	assert.True(t, tp.HasCompleteBankDetails())
	assert.Equal(t, "FR7630006000011234567890189", teachers.details["teacher"].IBAN)
	assert.Equal(t, "AGRIFRPP", teachers.details["teacher"].BIC)

	_, err = svc.UpdateBankDetails(context.Background(), models.Actor{ID: "account", Role: models.RoleAccountant}, "admin", details)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	bad := details
	bad.IBAN = "FR76"
	_, err = svc.UpdateBankDetails(context.Background(), models.Actor{ID: "account", Role: models.RoleAccountant}, "teacher", bad)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
)

type profileRepository interface {
	FindByID(ctx context.Context, id string) (*models.Profile, error)
	List(ctx context.Context, filter models.ProfileFilter) ([]models.Profile, int, error)
	Update(ctx context.Context, profile *models.Profile) error
	SetActive(ctx context.Context, id string, active bool) error
}

type teacherProfileRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.TeacherProfile, error)
	UpdateBankDetails(ctx context.Context, userID string, details models.BankDetails) error
}

// ProfileService manages user profiles and teacher banking details.
type ProfileService struct {
	profiles  profileRepository
	teachers  teacherProfileRepository
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewProfileService constructs a ProfileService.
func NewProfileService(profiles profileRepository, teachers teacherProfileRepository, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *ProfileService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileService{profiles: profiles, teachers: teachers, audit: audit, validator: validate, logger: logger}
}

// List returns profiles visible to actor. Directors only see their own campus.
func (s *ProfileService) List(ctx context.Context, actor models.Actor, filter models.ProfileFilter) ([]models.Profile, *models.Pagination, error) {
	switch actor.Role {
	case models.RoleSuperAdmin, models.RoleAccountant:
	case models.RoleCampusDirector:
		if actor.CampusID == nil {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "director has no campus")
		}
		filter.CampusID = actor.CampusID
	default:
		return nil, nil, appErrors.ErrForbidden
	}
	if filter.Role != nil && !filter.Role.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}

	profiles, total, err := s.profiles.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list profiles")
	}
	page, size := filter.Page, filter.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return profiles, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one profile. Users may always read their own.
func (s *ProfileService) Get(ctx context.Context, actor models.Actor, id string) (*dto.ProfileResponse, error) {
	profile, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canReadProfile(actor, profile) {
		return nil, appErrors.ErrForbidden
	}
	resp := &dto.ProfileResponse{Profile: *profile}
	if profile.Role == models.RoleTeacher {
		teacher, err := s.teachers.FindByUserID(ctx, id)
		switch {
		case err == nil:
			resp.Teacher = teacher
		case !errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Internal(err, "failed to load teacher profile")
		}
	}
	return resp, nil
}

func canReadProfile(actor models.Actor, profile *models.Profile) bool {
	switch {
	case actor.ID == profile.ID:
		return true
	case actor.Role == models.RoleSuperAdmin, actor.Role == models.RoleAccountant:
		return true
	case actor.Role == models.RoleCampusDirector:
		return profile.CampusID != nil && actor.InCampus(*profile.CampusID)
	}
	return false
}

// Update applies the non-nil fields of req. Only SUPER_ADMIN may update profiles.
func (s *ProfileService) Update(ctx context.Context, actor models.Actor, id string, req dto.UpdateProfileRequest) (*models.Profile, error) {
	if actor.Role != models.RoleSuperAdmin {
		return nil, appErrors.ErrForbidden
	}
	profile, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *profile

	if req.FirstName != nil {
		profile.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		profile.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		profile.Phone = &phone
		if phone == "" {
			profile.Phone = nil
		}
	}
	if req.Role != nil {
		if !req.Role.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
		}
		profile.Role = *req.Role
	}
	if req.CampusID != nil {
		campus := strings.TrimSpace(*req.CampusID)
		profile.CampusID = &campus
		if campus == "" {
			profile.CampusID = nil
		}
	}
	if req.IsNewTeacher != nil {
		profile.IsNewTeacher = *req.IsNewTeacher
	}
	if req.Active != nil {
		if !*req.Active && actor.ID == id {
			return nil, appErrors.Clone(appErrors.ErrValidation, "cannot deactivate your own account")
		}
		profile.Active = *req.Active
	}
	if profile.FirstName == "" || profile.LastName == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "first and last name are required")
	}
	if profile.Role == models.RoleCampusDirector && profile.CampusID == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a campus director needs a campus")
	}

	if err := s.profiles.Update(ctx, profile); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Internal(err, "failed to update profile")
	}
	s.record(ctx, actor, models.AuditActionProfileUpdate, id,
		fmt.Sprintf(`{"role":%q,"active":%t}`, before.Role, before.Active),
		fmt.Sprintf(`{"role":%q,"active":%t}`, profile.Role, profile.Active))
	return profile, nil
}

// Deactivate disables an account. Profiles are never deleted since invoices reference them.
func (s *ProfileService) Deactivate(ctx context.Context, actor models.Actor, id string) error {
	if actor.Role != models.RoleSuperAdmin {
		return appErrors.ErrForbidden
	}
	if actor.ID == id {
		return appErrors.Clone(appErrors.ErrValidation, "cannot deactivate your own account")
	}
	if err := s.profiles.SetActive(ctx, id, false); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Internal(err, "failed to deactivate profile")
	}
	s.record(ctx, actor, models.AuditActionProfileDeactivate, id, `{"active":true}`, `{"active":false}`)
	return nil
}

// UpdateBankDetails stores the RIB of a teacher. The teacher, a SUPER_ADMIN or a COMPTABLE may do so.
func (s *ProfileService) UpdateBankDetails(ctx context.Context, actor models.Actor, userID string, details models.BankDetails) (*models.TeacherProfile, error) {
	if actor.ID != userID && actor.Role != models.RoleSuperAdmin && actor.Role != models.RoleAccountant {
		return nil, appErrors.ErrForbidden
	}
	details.IBAN = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(details.IBAN), " ", ""))
	details.BIC = strings.ToUpper(strings.TrimSpace(details.BIC))
	details.AccountHolder = strings.TrimSpace(details.AccountHolder)
	details.BankName = strings.TrimSpace(details.BankName)
	if err := s.validator.Struct(details); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bank details")
	}

	profile, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrValidation, "bank details only apply to teachers")
	}
	if err := s.teachers.UpdateBankDetails(ctx, userID, details); err != nil {
		return nil, appErrors.Internal(err, "failed to update bank details")
	}
	s.logger.Info("bank details updated", zap.String("user_id", userID), zap.String("actor_id", actor.ID))

	teacher, err := s.teachers.FindByUserID(ctx, userID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to reload teacher profile")
	}
	return teacher, nil
}

func (s *ProfileService) load(ctx context.Context, id string) (*models.Profile, error) {
	profile, err := s.profiles.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Internal(err, "failed to load profile")
	}
	return profile, nil
}

func (s *ProfileService) record(ctx context.Context, actor models.Actor, action, id, oldValues, newValues string) {
	if s.audit == nil {
		return
	}
	actorID := actor.ID
	resourceID := id
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "profiles",
		ResourceID: &resourceID,
		OldValues:  []byte(oldValues),
		NewValues:  []byte(newValues),
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

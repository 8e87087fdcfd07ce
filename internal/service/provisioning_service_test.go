package service

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
	"github.com/noah-isme/campus-invoicing-api/pkg/jobs"
	pkgmail "github.com/noah-isme/campus-invoicing-api/pkg/mail"
	"github.com/noah-isme/campus-invoicing-api/pkg/storage"
)

type memoryProfiles struct {
	byID      map[string]*models.Profile
	upsertErr error
}

func newMemoryProfiles() *memoryProfiles {
	return &memoryProfiles{byID: make(map[string]*models.Profile)}
}

func (m *memoryProfiles) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	if p, ok := m.byID[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memoryProfiles) FindByEmail(ctx context.Context, email string) (*models.Profile, error) {
	for _, p := range m.byID {
		if p.Email == strings.ToLower(email) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryProfiles) Upsert(ctx context.Context, profile *models.Profile) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	cp := *profile
	m.byID[profile.ID] = &cp
	return nil
}

func (m *memoryProfiles) ExistingEmails(ctx context.Context, candidates []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, c := range candidates {
		if p, err := m.FindByEmail(ctx, c); err == nil {
			out[c] = p.ID
		}
	}
	return out, nil
}

func (m *memoryProfiles) ListAll(ctx context.Context, filter models.ProfileFilter) ([]models.Profile, error) {
	var out []models.Profile
	for _, p := range m.byID {
		if filter.Role != nil && p.Role != *filter.Role {
			continue
		}
		if filter.IsNewTeacher != nil && p.IsNewTeacher != *filter.IsNewTeacher {
			continue
		}
		if filter.Active != nil && p.Active != *filter.Active {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryProfiles) SetMustChangePassword(ctx context.Context, id string, value bool) error {
	if p, ok := m.byID[id]; ok {
		p.MustChangePassword = value
	}
	return nil
}

type memoryCredentials struct {
	rows      []*models.TempAccessCredential
	exported  []string
	createErr error
}

func (m *memoryCredentials) Create(ctx context.Context, cred *models.TempAccessCredential) error {
	if m.createErr != nil {
		return m.createErr
	}
	cred.ID = "cred-" + string(rune('a'+len(m.rows)))
	cp := *cred
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memoryCredentials) LatestForUser(ctx context.Context, userID string) (*models.TempAccessCredential, error) {
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].UserID == userID {
			return m.rows[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryCredentials) ListForExport(ctx context.Context, filter models.CredentialFilter) ([]models.CredentialExportRow, error) {
	var out []models.CredentialExportRow
	for _, c := range m.rows {
		if c.RedactedAt != nil || !c.ExpiresAt.After(filter.Now) || (filter.OnlyNew && c.Exported) {
			continue
		}
		out = append(out, models.CredentialExportRow{
			ID: c.ID, Email: c.Email, TempPassword: c.TempPassword, Role: models.RoleTeacher, CreatedAt: c.CreatedAt,
		})
	}
	return out, nil
}

func (m *memoryCredentials) MarkExported(ctx context.Context, ids []string, at time.Time) error {
	m.exported = append(m.exported, ids...)
	for _, c := range m.rows {
		for _, id := range ids {
			if c.ID == id {
				c.Exported = true
			}
		}
	}
	return nil
}

func (m *memoryCredentials) countFor(userID string) int {
	n := 0
	for _, c := range m.rows {
		if c.UserID == userID {
			n++
		}
	}
	return n
}

type memoryTeacherProfiles struct {
	created map[string][2]float64
}

func (m *memoryTeacherProfiles) CreateDefault(ctx context.Context, userID string, rateMin, rateMax float64) error {
	if m.created == nil {
		m.created = make(map[string][2]float64)
	}
	m.created[userID] = [2]float64{rateMin, rateMax}
	return nil
}

type passThroughTx struct{}

func (passThroughTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type staticCampusIndex map[string]models.Campus

func (s staticCampusIndex) CampusIndex(ctx context.Context) (map[string]models.Campus, error) {
	return s, nil
}

type memoryStore struct {
	files map[string][]byte
}

func (m *memoryStore) Save(filename string, data []byte) (string, error) {
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.files[filename] = data
	return filename, nil
}

type memoryNotifications struct {
	items []models.Notification
}

func (m *memoryNotifications) CreateBatch(ctx context.Context, items []models.Notification) error {
	m.items = append(m.items, items...)
	return nil
}

func (m *memoryNotifications) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	var out []models.Notification
	for _, n := range m.items {
		if n.UserID == filter.UserID && (!filter.UnreadOnly || !n.Read) {
			out = append(out, n)
		}
	}
	return out, len(out), nil
}

func (m *memoryNotifications) CountUnread(ctx context.Context, userID string) (int, error) {
	items, _, _ := m.List(ctx, models.NotificationFilter{UserID: userID, UnreadOnly: true})
	return len(items), nil
}

func (m *memoryNotifications) MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	for i := range m.items {
		if m.items[i].ID == id && m.items[i].UserID == userID {
			m.items[i].Read = true
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryNotifications) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	var n int64
	for i := range m.items {
		if m.items[i].UserID == userID && !m.items[i].Read {
			m.items[i].Read = true
			n++
		}
	}
	return n, nil
}

type provisioningFixture struct {
	svc      *ProvisioningService
	users    *memoryUsers
	profiles *memoryProfiles
	creds    *memoryCredentials
	teachers *memoryTeacherProfiles
	store    *memoryStore
	notes    *memoryNotifications
	mailer   *pkgmail.LogMailer
	signer   *storage.SignedURLSigner
	metrics  *MetricsService
	audit    *memoryAudit
}

func newProvisioningFixture(t *testing.T) *provisioningFixture {
	t.Helper()
	f := &provisioningFixture{
		users:    newMemoryUsers(),
		profiles: newMemoryProfiles(),
		creds:    &memoryCredentials{},
		teachers: &memoryTeacherProfiles{},
		store:    &memoryStore{},
		notes:    &memoryNotifications{},
		mailer:   pkgmail.NewLogMailer(mail.Address{Name: "Campus", Address: "noreply@campus.test"}, nil),
		signer:   storage.NewSignedURLSigner("test-secret", time.Hour),
		metrics:  NewMetricsService(),
		audit:    &memoryAudit{},
	}
	mux := jobs.NewMux()
	f.svc = NewProvisioningService(ProvisioningServiceParams{
		Identities:    NewUserIdentityProvider(f.users),
		Profiles:      f.profiles,
		Credentials:   f.creds,
		Teachers:      f.teachers,
		Tx:            passThroughTx{},
		Campuses:      staticCampusIndex{CampusRoquette: {ID: "c-roq", Name: CampusRoquette}, CampusNice: {ID: "c-nic", Name: CampusNice}},
		Notifications: NewNotificationService(f.notes, nil, nil, nil),
		Mailer:        f.mailer,
		Jobs:          &jobs.Inline{Mux: mux, MaxRetries: 1},
		Store:         f.store,
		Signer:        f.signer,
		Audit:         f.audit,
		Metrics:       f.metrics,
		Config: ProvisioningConfig{
			DefaultRateMin:      40,
			DefaultRateMax:      60,
			CompensationRetries: 3,
			LoginURL:            "https://portal.test/login",
			DownloadBaseURL:     "https://api.test/api/v1/",
		},
	})
	f.svc.RegisterJobs(mux)
	return f
}

func TestCreateAccountProvisionsTeacher(t *testing.T) {
	f := newProvisioningFixture(t)
	ctx := context.Background()
	campus := "c-roq"

	res, err := f.svc.CreateAccount(ctx, dto.CreateAccountRequest{
		Email: " Jean.Dupont@Test.com ", FirstName: "Jean", LastName: "Dupont",
		Role: models.RoleTeacher, CampusID: &campus, IsNewTeacher: true,
	})
	require.NoError(t, err)
	assert.False(t, res.AlreadyExists)
	assert.Len(t, res.TempPassword, 12)

	profile := f.profiles.byID[res.UserID]
	require.NotNil(t, profile)
	assert.Equal(t, "jean.dupont@test.com", profile.Email)
	assert.True(t, profile.MustChangePassword)
	assert.True(t, profile.Active)
	assert.Equal(t, [2]float64{40, 60}, f.teachers.created[res.UserID])
	assert.Equal(t, 1, f.creds.countFor(res.UserID))

	again, err := f.svc.CreateAccount(ctx, dto.CreateAccountRequest{
		Email: "jean.dupont@test.com", FirstName: "Jean", LastName: "Dupont", Role: models.RoleTeacher,
	})
	require.NoError(t, err)
	assert.True(t, again.AlreadyExists)
	assert.Equal(t, res.UserID, again.UserID)
	assert.Len(t, f.users.byID, 1)
}

func TestCreateAccountRejectsDirectorWithoutCampus(t *testing.T) {
	f := newProvisioningFixture(t)
	_, err := f.svc.CreateAccount(context.Background(), dto.CreateAccountRequest{
		Email: "dir@test.com", FirstName: "D", LastName: "R", Role: models.RoleCampusDirector,
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Empty(t, f.users.byID)
}

func TestCreateAccountCompensatesIdentity(t *testing.T) {
	f := newProvisioningFixture(t)
	f.profiles.upsertErr = errors.New("profiles unavailable")

	_, err := f.svc.CreateAccount(context.Background(), dto.CreateAccountRequest{
		Email: "orphan@test.com", FirstName: "O", LastName: "P", Role: models.RoleAccountant,
	})
	require.Error(t, err)
	assert.Empty(t, f.users.byID)
	assert.Equal(t, 1, f.users.deletes)
	assert.Zero(t, f.metrics.Snapshot().CompensationFailures)
}

func TestCreateAccountCompensationRetriesThenAlerts(t *testing.T) {
	f := newProvisioningFixture(t)
	f.profiles.upsertErr = errors.New("profiles unavailable")
	f.users.deleteErr = errors.New("identity store down")

	_, err := f.svc.CreateAccount(context.Background(), dto.CreateAccountRequest{
		Email: "orphan@test.com", FirstName: "O", LastName: "P", Role: models.RoleAccountant,
	})
	require.Error(t, err)
	// one inline attempt plus three queued retries
	assert.Equal(t, 4, f.users.deletes)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().CompensationFailures)
}

func TestImportTeachersCreatesAccount(t *testing.T) {
	f := newProvisioningFixture(t)
	csv := "Nouveau prof ?,Prénom,NOM,MAIL,TEL,CAMPUS\n" +
		"Oui,Jean,Dupont,jean.dupont@test.com,0600000000,Roquette\n"

	res, err := f.svc.ImportTeachers(context.Background(), models.Actor{ID: "admin"}, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalTeachers)
	assert.Equal(t, 1, res.ProcessedTeachers)
	assert.Empty(t, res.UnknownCampuses)
	assert.Empty(t, res.Errors)

	require.Len(t, res.Rows, 1)
	profile := f.profiles.byID[res.Rows[0].UserID]
	require.NotNil(t, profile)
	assert.Equal(t, models.RoleTeacher, profile.Role)
	assert.True(t, profile.IsNewTeacher)
	require.NotNil(t, profile.CampusID)
	assert.Equal(t, "c-roq", *profile.CampusID)
}

func TestImportTeachersPrimaryCampusIsFirstListed(t *testing.T) {
	tests := []struct {
		name     string
		campuses string
		primary  string
		listed   []string
	}{
		{name: "first known", campuses: "Nice, Roquette", primary: "c-nic", listed: []string{CampusNice, CampusRoquette}},
		{name: "first unknown", campuses: "Lyon, Nice", listed: []string{CampusNice}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProvisioningFixture(t)
			csv := "Nouveau prof ?,Prénom,NOM,MAIL,TEL,CAMPUS\n" +
				"Oui,Jean,Dupont,jean.dupont@test.com,,\"" + tt.campuses + "\"\n"

			res, err := f.svc.ImportTeachers(context.Background(), models.Actor{ID: "admin"}, strings.NewReader(csv))
			require.NoError(t, err)
			require.Len(t, res.Rows, 1)
			assert.Equal(t, tt.listed, res.Rows[0].Campuses)

			profile := f.profiles.byID[res.Rows[0].UserID]
			require.NotNil(t, profile)
			if tt.primary == "" {
				assert.Nil(t, profile.CampusID)
				return
			}
			require.NotNil(t, profile.CampusID)
			assert.Equal(t, tt.primary, *profile.CampusID)
		})
	}
}

func TestImportTeachersRejectsInvalidEmail(t *testing.T) {
	f := newProvisioningFixture(t)
	csv := "Nouveau prof ?,Prénom,NOM,MAIL,TEL,CAMPUS\n" +
		"Non,A,B,invalid-email,,Nice\n"

	res, err := f.svc.ImportTeachers(context.Background(), models.Actor{ID: "admin"}, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalTeachers)
	assert.Equal(t, 0, res.ProcessedTeachers)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "A B")
	assert.Contains(t, res.Errors[0], "invalid-email")
	assert.Empty(t, f.users.byID)
}

func TestImportTeachersReimportReportsExisting(t *testing.T) {
	f := newProvisioningFixture(t)
	csv := "Nouveau prof ?,Prénom,NOM,MAIL,TEL,CAMPUS\n" +
		"Oui,Jean,Dupont,jean.dupont@test.com,0600000000,Roquette\n"
	_, err := f.svc.ImportTeachers(context.Background(), models.Actor{ID: "admin"}, strings.NewReader(csv))
	require.NoError(t, err)

	res, err := f.svc.ImportTeachers(context.Background(), models.Actor{ID: "admin"}, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalTeachers)
	assert.Equal(t, 0, res.ProcessedTeachers)
	assert.Equal(t, 1, res.AlreadyExisting)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, dto.ImportRowExists, res.Rows[0].Status)
	assert.Len(t, f.users.byID, 1)
}

func TestImportTeachersToleratesBOMAndCollectsWarnings(t *testing.T) {
	f := newProvisioningFixture(t)
	csv := "\ufeff Nouveau prof ? , Prénom ,NOM,MAIL,TEL,CAMPUS\n" +
		"Non,Marie,Curie,marie@test.com,,\"PARIS ROQUETTE, Lyon\"\n" +
		"Oui,Court\n" +
		"x,Paul,Martin,PAUL@test.com,,Nice\n" +
		"Yes,Paul,Martin,paul@test.com,,Nice\n"

	res, err := f.svc.ImportTeachers(context.Background(), models.Actor{ID: "admin"}, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalTeachers)
	assert.Equal(t, 2, res.ProcessedTeachers)
	assert.Equal(t, 1, res.AlreadyExisting)
	assert.Equal(t, []string{"Lyon"}, res.UnknownCampuses)
	assert.Len(t, res.Warnings, 2)
	assert.Equal(t, []string{CampusRoquette}, res.Rows[0].Campuses)
}

func TestImportTeachersRejectsWrongHeader(t *testing.T) {
	f := newProvisioningFixture(t)
	_, err := f.svc.ImportTeachers(context.Background(), models.Actor{ID: "admin"}, strings.NewReader("Email,Name\nx@test.com,X\n"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestResetPasswordsAppendsCredentialHistory(t *testing.T) {
	f := newProvisioningFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateAccount(ctx, dto.CreateAccountRequest{
		Email: "prof@test.com", FirstName: "P", LastName: "R", Role: models.RoleTeacher, IsNewTeacher: true,
	})
	require.NoError(t, err)
	admin := models.Actor{ID: "admin", Role: models.RoleSuperAdmin}

	first, err := f.svc.ResetPasswords(ctx, admin, dto.ResetPasswordsRequest{UserIDs: []string{created.UserID}})
	require.NoError(t, err)
	second, err := f.svc.ResetPasswords(ctx, admin, dto.ResetPasswordsRequest{UserIDs: []string{created.UserID}})
	require.NoError(t, err)
	require.Equal(t, 1, first.Succeeded)
	require.Equal(t, 1, second.Succeeded)

	assert.Equal(t, 3, f.creds.countFor(created.UserID))
	latest, err := f.creds.LatestForUser(ctx, created.UserID)
	require.NoError(t, err)
	assert.Equal(t, second.Rows[0].TempPassword, latest.TempPassword)

	idp := NewUserIdentityProvider(f.users)
	_, err = idp.Verify(ctx, "prof@test.com", first.Rows[0].TempPassword)
	assert.Error(t, err)
	_, err = idp.Verify(ctx, "prof@test.com", second.Rows[0].TempPassword)
	assert.NoError(t, err)
}

func TestResetPasswordsKeepsPasswordWhenCredentialNotRecorded(t *testing.T) {
	f := newProvisioningFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateAccount(ctx, dto.CreateAccountRequest{
		Email: "prof@test.com", FirstName: "P", LastName: "R", Role: models.RoleTeacher, IsNewTeacher: true,
	})
	require.NoError(t, err)
	f.creds.createErr = errors.New("insert failed")

	res, err := f.svc.ResetPasswords(ctx, models.Actor{ID: "admin", Role: models.RoleSuperAdmin},
		dto.ResetPasswordsRequest{UserIDs: []string{created.UserID}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Succeeded)
	assert.Empty(t, res.Rows[0].TempPassword)

	latest, err := f.creds.LatestForUser(ctx, created.UserID)
	require.NoError(t, err)
	assert.Equal(t, created.TempPassword, latest.TempPassword)
	_, err = NewUserIdentityProvider(f.users).Verify(ctx, "prof@test.com", latest.TempPassword)
	assert.NoError(t, err)
}

func TestResetPasswordsScopeSkipsActorAndSendsEmail(t *testing.T) {
	f := newProvisioningFixture(t)
	ctx := context.Background()
	for _, email := range []string{"a@test.com", "b@test.com"} {
		_, err := f.svc.CreateAccount(ctx, dto.CreateAccountRequest{
			Email: email, FirstName: "F", LastName: "L", Role: models.RoleTeacher, IsNewTeacher: true,
		})
		require.NoError(t, err)
	}
	actor := models.Actor{ID: "user-a@test.com", Role: models.RoleSuperAdmin}

	res, err := f.svc.ResetPasswords(ctx, actor, dto.ResetPasswordsRequest{Scope: dto.ResetScopeNewTeachers, SendEmail: true})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "user-b@test.com", res.Rows[0].UserID)

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "b@test.com", sent[0].To.Address)
	assert.Contains(t, sent[0].Text, res.Rows[0].TempPassword)
	require.Len(t, f.notes.items, 1)
	assert.Equal(t, models.NotificationInfo, f.notes.items[0].Type)
}

func TestExportCredentialsStoresCSVAndSignsLink(t *testing.T) {
	f := newProvisioningFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateAccount(ctx, dto.CreateAccountRequest{
		Email: "prof@test.com", FirstName: "P", LastName: "R", Role: models.RoleTeacher,
	})
	require.NoError(t, err)

	link, err := f.svc.ExportCredentials(ctx, models.Actor{ID: "admin"}, dto.CredentialExportRequest{OnlyNew: true})
	require.NoError(t, err)
	assert.Equal(t, 1, link.Rows)
	assert.True(t, strings.HasPrefix(link.URL, "https://api.test/api/v1/downloads/"))
	assert.Equal(t, []string{"cred-a"}, f.creds.exported)

	require.Len(t, f.store.files, 1)
	for name, content := range f.store.files {
		assert.True(t, strings.HasSuffix(name, link.Filename))
		assert.Contains(t, string(content), "Email,Mot de passe temporaire,Prénom,Nom,Rôle,Campus,Date de création,Exporté")
		assert.Contains(t, string(content), "prof@test.com")

		token := strings.TrimPrefix(link.URL, "https://api.test/api/v1/downloads/")
		owner, path, _, err := f.signer.Parse(token)
		require.NoError(t, err)
		assert.Equal(t, "admin", owner)
		assert.Equal(t, name, path)
	}

	again, err := f.svc.ExportCredentials(ctx, models.Actor{ID: "admin"}, dto.CredentialExportRequest{OnlyNew: true})
	require.NoError(t, err)
	assert.Zero(t, again.Rows)
}

func TestSendAccessEmailsSkipsUnknownUsers(t *testing.T) {
	f := newProvisioningFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateAccount(ctx, dto.CreateAccountRequest{
		Email: "prof@test.com", FirstName: "P", LastName: "R", Role: models.RoleTeacher,
	})
	require.NoError(t, err)

	res, err := f.svc.SendAccessEmails(ctx, models.Actor{ID: "admin"}, dto.AccessEmailsRequest{UserIDs: []string{created.UserID, "ghost"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Queued)
	assert.Equal(t, []string{"ghost"}, res.Skipped)
	require.Len(t, f.mailer.Sent(), 1)
}

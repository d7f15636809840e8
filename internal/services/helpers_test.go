package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/huangang/contractorhub/backend/internal/config"
	"github.com/huangang/contractorhub/backend/internal/models"
	"github.com/huangang/contractorhub/backend/internal/policy"
	"github.com/huangang/contractorhub/backend/internal/utils"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testPassword = "password123"

// newTestDB opens a private in-memory SQLite database. A single connection
// keeps transactions serialized the way a row lock would.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := models.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name), "")
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.Migrate(db))
	require.NoError(t, models.Seed(db))
	InitSystemLogger(db)
	return db
}

func createUser(t *testing.T, db *gorm.DB, username, email string) *models.User {
	t.Helper()
	hashed, err := utils.HashPassword(testPassword)
	require.NoError(t, err)
	user := &models.User{
		Username:  username,
		Password:  hashed,
		Email:     email,
		FirstName: username,
		Role:      "user",
		IsActive:  true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func addMember(t *testing.T, db *gorm.DB, companyID, userID uint, role policy.Role, level policy.PermissionLevel) *models.TeamMember {
	t.Helper()
	m := &models.TeamMember{
		CompanyID:       companyID,
		UserID:          userID,
		Role:            string(role),
		PermissionLevel: string(level),
		IsActive:        true,
	}
	require.NoError(t, db.Create(m).Error)
	return m
}

// teamFixture is a business company with one member per role.
type teamFixture struct {
	db      *gorm.DB
	company *models.Company
	owner   *models.User
	manager *models.User
	editor  *models.User
	viewer  *models.User
}

func newTeamFixture(t *testing.T) *teamFixture {
	t.Helper()
	db := newTestDB(t)
	f := &teamFixture{db: db}

	f.owner = createUser(t, db, "olivia", "olivia@acme.test")
	f.manager = createUser(t, db, "marco", "marco@acme.test")
	f.editor = createUser(t, db, "erin", "erin@acme.test")
	f.viewer = createUser(t, db, "victor", "victor@acme.test")

	f.company = &models.Company{Name: "Acme Builders", Kind: models.CompanyKindBusiness, OwnerUserID: f.owner.ID}
	require.NoError(t, db.Create(f.company).Error)

	addMember(t, db, f.company.ID, f.owner.ID, policy.RoleAccountOwner, policy.LevelManager)
	addMember(t, db, f.company.ID, f.manager.ID, policy.RoleManager, policy.LevelManager)
	addMember(t, db, f.company.ID, f.editor.ID, policy.RoleTeamMember, policy.LevelEditor)
	addMember(t, db, f.company.ID, f.viewer.ID, policy.RoleTeamMember, policy.LevelViewer)
	return f
}

func (f *teamFixture) member(t *testing.T, userID uint) models.TeamMember {
	t.Helper()
	var m models.TeamMember
	require.NoError(t, f.db.Where("company_id = ? AND user_id = ?", f.company.ID, userID).First(&m).Error)
	return m
}

// recordingQueue captures enqueued e-mails.
type recordingQueue struct {
	tasks []*InvitationEmailTask
	err   error
}

func (q *recordingQueue) Enqueue(task *InvitationEmailTask) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) IsAsync() bool { return true }
func (q *recordingQueue) Close() error  { return nil }

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newInvitationService(db *gorm.DB, mode string, smtpEnabled bool, queue TaskQueue) *InvitationService {
	cfg := &config.InvitationConfig{Mode: mode, TTLHours: 168, AcceptURLBase: "https://portal.test/accept-invite"}
	email := NewEmailService(&config.SMTPConfig{Enabled: smtpEnabled, Host: "smtp.test", Port: 587})
	return NewInvitationService(db, cfg, email, queue)
}

// tokenFromURL extracts the raw token from an accept link.
func tokenFromURL(url string) string {
	return url[strings.LastIndex(url, "/")+1:]
}

var bg = context.Background()

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/huangang/contractorhub/backend/internal/config"
	"github.com/huangang/contractorhub/backend/internal/middleware"
	"github.com/huangang/contractorhub/backend/internal/models"
	"github.com/huangang/contractorhub/backend/internal/policy"
	"github.com/huangang/contractorhub/backend/internal/services"
	"github.com/huangang/contractorhub/backend/internal/storage"
	"github.com/huangang/contractorhub/backend/internal/utils"
	"github.com/huangang/contractorhub/backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testPassword = "password123"

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("test-secret-for-handler-testing")
}

type testEnv struct {
	db      *gorm.DB
	files   *storage.FileStorage
	router  *gin.Engine
	company *models.Company
	owner   *models.User
	viewer  *models.User
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Retryable bool            `json:"retryable"`
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := models.Open("sqlite", fmt.Sprintf("file:h_%s?mode=memory&cache=shared", name), "")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, models.Migrate(db))
	require.NoError(t, models.Seed(db))
	services.InitSystemLogger(db)

	storageCfg := config.DefaultConfig().Storage
	files := storage.NewFileStorage(storage.NewMemoryStore("http://files.test/storage/v1", "test-secret"), &storageCfg)
	require.NoError(t, files.EnsureBucketExists(context.Background()))

	env := &testEnv{db: db, files: files}
	env.owner = env.createUser(t, "olivia", "olivia@acme.test")
	env.viewer = env.createUser(t, "victor", "victor@acme.test")
	env.company = &models.Company{Name: "Acme Builders", Kind: models.CompanyKindBusiness, OwnerUserID: env.owner.ID}
	require.NoError(t, db.Create(env.company).Error)
	env.addMember(t, env.owner.ID, policy.RoleAccountOwner, policy.LevelManager)
	env.addMember(t, env.viewer.ID, policy.RoleTeamMember, policy.LevelViewer)

	invitations := services.NewInvitationService(db,
		&config.InvitationConfig{Mode: config.InvitationModeToken, TTLHours: 168, AcceptURLBase: "https://portal.test/accept-invite"},
		services.NewEmailService(&config.SMTPConfig{}), nil)
	authHandler := NewAuthHandler(services.NewAuthService(db, &config.JWTConfig{ExpireHour: 24}, invitations))
	teamHandler := NewTeamHandler(services.NewTeamService(db), invitations)
	joinRequestHandler := NewJoinRequestHandler(services.NewJoinRequestService(db))
	documentHandler := NewDocumentHandler(services.NewDocumentService(db, files))
	applicationHandler := NewApplicationHandler(services.NewApplicationService(db, files), storageCfg.MaxFileSize)
	healthHandler := NewHealthHandler(db, services.NewSyncQueue(), files)

	r := gin.New()
	r.Use(logger.GinLogger(), middleware.RequestContext())
	r.GET("/health", healthHandler.CheckHealth)
	api := r.Group("/api")
	api.POST("/auth/login", authHandler.Login)
	api.GET("/team/invitations/:token", teamHandler.PreviewInvitation)
	api.POST("/team/accept-invitation/:token", middleware.OptionalAuth(), teamHandler.AcceptInvitation)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired())
	protected.GET("/auth/me", authHandler.Me)
	protected.POST("/contractor/invite-team-member", teamHandler.Invite)
	protected.DELETE("/contractor/delete-member", teamHandler.DeleteMember)
	protected.PATCH("/contractor/update-permissions", teamHandler.UpdatePermissions)
	protected.PATCH("/contractor/transfer-ownership", teamHandler.TransferOwnership)
	protected.POST("/contractor/join-requests/:id/approve", joinRequestHandler.Approve)
	protected.POST("/contractor/join-requests/:id/reject", joinRequestHandler.Reject)
	protected.POST("/join-requests", joinRequestHandler.Submit)
	protected.POST("/applications", applicationHandler.Create)
	protected.GET("/applications/:id", applicationHandler.Get)
	protected.GET("/documents/:id/download", documentHandler.Download)
	protected.GET("/documents/:id/url", documentHandler.SignedURL)
	env.router = r
	return env
}

func (e *testEnv) createUser(t *testing.T, username, email string) *models.User {
	t.Helper()
	hashed, err := utils.HashPassword(testPassword)
	require.NoError(t, err)
	u := &models.User{Username: username, Password: hashed, Email: email, FirstName: username, Role: "user", IsActive: true}
	require.NoError(t, e.db.Create(u).Error)
	return u
}

func (e *testEnv) addMember(t *testing.T, userID uint, role policy.Role, level policy.PermissionLevel) {
	t.Helper()
	require.NoError(t, e.db.Create(&models.TeamMember{
		CompanyID: e.company.ID, UserID: userID, Role: string(role), PermissionLevel: string(level), IsActive: true,
	}).Error)
}

func (e *testEnv) token(t *testing.T, u *models.User) string {
	t.Helper()
	token, err := utils.GenerateToken(u.ID, u.Username, u.Role, 1)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

// storeDocument uploads a PDF and records it as a document of the test company.
func (e *testEnv) storeDocument(t *testing.T) *models.Document {
	t.Helper()
	sf, err := e.files.UploadFile(context.Background(), &storage.FileUpload{
		FieldName:   "permit",
		FileName:    "site plan.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4 test document"),
	}, fmt.Sprintf("applications/%d", e.company.ID))
	require.NoError(t, err)
	doc := &models.Document{
		CompanyID:    e.company.ID,
		FieldName:    "permit",
		OriginalName: sf.OriginalName,
		Path:         sf.Path,
		ContentType:  sf.ContentType,
		Size:         sf.Size,
		UploadedBy:   e.owner.ID,
	}
	require.NoError(t, e.db.Create(doc).Error)
	return doc
}

func TestDocumentDownload_Disposition(t *testing.T) {
	env := newTestEnv(t)
	doc := env.storeDocument(t)
	token := env.token(t, env.viewer)

	tests := []struct {
		name   string
		query  string
		prefix string
	}{
		{"preview renders inline", "?preview=true", "inline"},
		{"default is attachment", "", "attachment"},
		{"preview false is attachment", "?preview=false", "attachment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "GET", fmt.Sprintf("/api/documents/%d/download%s", doc.ID, tt.query), token, nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
			disposition := w.Header().Get("Content-Disposition")
			assert.True(t, strings.HasPrefix(disposition, tt.prefix), disposition)
			assert.Contains(t, disposition, `filename="site plan.pdf"`)
			assert.Equal(t, "%PDF-1.4 test document", w.Body.String())
		})
	}
}

func TestDocumentDownload_Errors(t *testing.T) {
	env := newTestEnv(t)
	doc := env.storeDocument(t)

	outsider := env.createUser(t, "otto", "otto@elsewhere.test")

	w := env.do(t, "GET", fmt.Sprintf("/api/documents/%d/download", doc.ID), env.token(t, outsider), nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "a user without a company is refused")

	w = env.do(t, "GET", "/api/documents/9999/download", env.token(t, outsider), nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "missing and existing ids look the same to outsiders")

	w = env.do(t, "GET", "/api/documents/abc/download", env.token(t, env.viewer), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "GET", "/api/documents/9999/download", env.token(t, env.viewer), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "GET", fmt.Sprintf("/api/documents/%d/download", doc.ID), "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDocumentSignedURL(t *testing.T) {
	env := newTestEnv(t)
	doc := env.storeDocument(t)

	w := env.do(t, "GET", fmt.Sprintf("/api/documents/%d/url", doc.ID), env.token(t, env.viewer), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result services.SignedURLResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &result))
	assert.True(t, strings.HasPrefix(result.URL, "http://files.test/storage/v1/object/sign/"), result.URL)
}

func TestLoginAndMe(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/auth/login", "", gin.H{"username": "olivia@acme.test", "password": testPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login services.LoginResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &login))
	require.NotEmpty(t, login.AccessToken)
	require.NotEmpty(t, login.RefreshToken)

	w = env.do(t, "GET", "/api/auth/me", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := w.Body.String()
	assert.Contains(t, body, `"can_transfer_ownership":true`)
	assert.Contains(t, body, `"Acme Builders"`)
	assert.NotContains(t, body, testPassword)
}

func TestLogin_Failures(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/auth/login", "", gin.H{"username": "olivia", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 401, decode(t, w).Code)

	w = env.do(t, "POST", "/api/auth/login", "", gin.H{"username": "olivia"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInviteAndAcceptOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	ownerToken := env.token(t, env.owner)

	w := env.do(t, "POST", "/api/contractor/invite-team-member", env.token(t, env.viewer),
		gin.H{"email": "new@acme.test", "firstName": "Nina", "permissionLevel": "editor"})
	assert.Equal(t, http.StatusForbidden, w.Code, "viewers cannot invite")

	w = env.do(t, "POST", "/api/contractor/invite-team-member", ownerToken,
		gin.H{"email": "new@acme.test", "firstName": "Nina", "permissionLevel": "editor"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var invite services.InviteResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &invite))
	require.NotEmpty(t, invite.AcceptURL, "link is handed back when no e-mail is sent")
	token := invite.AcceptURL[strings.LastIndex(invite.AcceptURL, "/")+1:]

	w = env.do(t, "POST", "/api/contractor/invite-team-member", ownerToken,
		gin.H{"email": "NEW@acme.test", "firstName": "Nina", "permissionLevel": "editor"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "GET", "/api/team/invitations/"+token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"company_name":"Acme Builders"`)

	w = env.do(t, "POST", "/api/team/accept-invitation/"+token, "",
		gin.H{"password": "longenough", "confirmPassword": "different"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/team/accept-invitation/"+token, "",
		gin.H{"password": "longenough"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"success":true`)

	w = env.do(t, "POST", "/api/team/accept-invitation/"+token, "",
		gin.H{"password": "longenough"})
	assert.Equal(t, http.StatusConflict, w.Code, "tokens are single use")

	w = env.do(t, "GET", "/api/team/invitations/unknown-token", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteMember_QueryParameter(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "DELETE", fmt.Sprintf("/api/contractor/delete-member?userId=%d", env.viewer.ID), env.token(t, env.owner), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var m models.TeamMember
	require.NoError(t, env.db.Where("user_id = ?", env.viewer.ID).First(&m).Error)
	assert.False(t, m.IsActive)

	w = env.do(t, "DELETE", "/api/contractor/delete-member", env.token(t, env.owner), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateApplication_Multipart(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("facility_name", "North Yard"))
	require.NoError(t, mw.WriteField("activity_type", "excavation"))
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="site_plan"; filename="plan.pdf"`)
	header.Set("Content-Type", "application/pdf")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 plan"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest("POST", "/api/applications", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+env.token(t, env.owner))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var app models.Application
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &app))
	assert.Equal(t, "North Yard", app.FacilityName)
	require.Len(t, app.Documents, 1)
	assert.Equal(t, "site_plan", app.Documents[0].FieldName)
	assert.True(t, strings.HasPrefix(app.Documents[0].Path, fmt.Sprintf("applications/%d/site_plan-", env.company.ID)))

	w = env.do(t, "GET", fmt.Sprintf("/api/applications/%d", app.ID), env.token(t, env.viewer), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"status":"healthy"`)
	assert.Contains(t, body, `"queue_mode":"sync"`)
	assert.Contains(t, body, `"bucket":"application-documents"`)
}

// submitJoinRequest files a viewer-level request from a new user and returns its id.
func (e *testEnv) submitJoinRequest(t *testing.T, username string) uint {
	t.Helper()
	applicant := e.createUser(t, username, username+"@elsewhere.test")
	w := e.do(t, "POST", "/api/join-requests", e.token(t, applicant),
		gin.H{"companyId": e.company.ID, "permissionLevel": "viewer", "message": "crew lead"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var jr models.JoinRequest
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &jr))
	return jr.ID
}

func TestApproveJoinRequest_AssignedLevel(t *testing.T) {
	env := newTestEnv(t)
	id := env.submitJoinRequest(t, "jules")

	w := env.do(t, "POST", fmt.Sprintf("/api/contractor/join-requests/%d/approve", id), env.token(t, env.owner),
		gin.H{"assignedPermissionLevel": "manager"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var jr models.JoinRequest
	require.NoError(t, env.db.First(&jr, id).Error)
	assert.Equal(t, models.JoinRequestStatusApproved, jr.Status)
	assert.Equal(t, "manager", jr.AssignedPermissionLevel)

	var m models.TeamMember
	require.NoError(t, env.db.Where("company_id = ? AND user_id = ?", env.company.ID, jr.UserID).First(&m).Error)
	assert.Equal(t, "manager", m.PermissionLevel)

	w = env.do(t, "POST", fmt.Sprintf("/api/contractor/join-requests/%d/approve", id), env.token(t, env.owner), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestApproveJoinRequest_ChunkedBody(t *testing.T) {
	env := newTestEnv(t)
	id := env.submitJoinRequest(t, "kit")

	req, _ := http.NewRequest("POST", fmt.Sprintf("/api/contractor/join-requests/%d/approve", id),
		strings.NewReader(`{"assignedPermissionLevel":"editor"}`))
	req.ContentLength = -1
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+env.token(t, env.owner))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var jr models.JoinRequest
	require.NoError(t, env.db.First(&jr, id).Error)
	assert.Equal(t, "editor", jr.AssignedPermissionLevel)
}

func TestApproveJoinRequest_EmptyBodyGrantsRequestedLevel(t *testing.T) {
	env := newTestEnv(t)
	id := env.submitJoinRequest(t, "lena")

	w := env.do(t, "POST", fmt.Sprintf("/api/contractor/join-requests/%d/approve", id), env.token(t, env.owner), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var jr models.JoinRequest
	require.NoError(t, env.db.First(&jr, id).Error)
	assert.Equal(t, "viewer", jr.AssignedPermissionLevel)
}

func TestRejectJoinRequest_ReviewNotes(t *testing.T) {
	env := newTestEnv(t)
	id := env.submitJoinRequest(t, "milo")

	w := env.do(t, "POST", fmt.Sprintf("/api/contractor/join-requests/%d/reject", id), env.token(t, env.owner),
		gin.H{"reviewNotes": "not on the roster"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var jr models.JoinRequest
	require.NoError(t, env.db.First(&jr, id).Error)
	assert.Equal(t, models.JoinRequestStatusRejected, jr.Status)
	assert.Equal(t, "not on the roster", jr.ReviewNotes)

	w = env.do(t, "POST", fmt.Sprintf("/api/contractor/join-requests/%d/reject", id), env.token(t, env.owner), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUpdatePermissionsAndTransferOwnership(t *testing.T) {
	env := newTestEnv(t)
	ownerToken := env.token(t, env.owner)

	w := env.do(t, "PATCH", "/api/contractor/update-permissions", ownerToken,
		gin.H{"userId": env.viewer.ID, "permissionLevel": "editor"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var m models.TeamMember
	require.NoError(t, env.db.Where("company_id = ? AND user_id = ?", env.company.ID, env.viewer.ID).First(&m).Error)
	assert.Equal(t, "editor", m.PermissionLevel)

	w = env.do(t, "PATCH", "/api/contractor/update-permissions", ownerToken, gin.H{"permissionLevel": "editor"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "userId is required")

	w = env.do(t, "PATCH", "/api/contractor/transfer-ownership", ownerToken, gin.H{"newOwnerId": env.viewer.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var company models.Company
	require.NoError(t, env.db.First(&company, env.company.ID).Error)
	assert.Equal(t, env.viewer.ID, company.OwnerUserID)

	var previous models.TeamMember
	require.NoError(t, env.db.Where("company_id = ? AND user_id = ?", env.company.ID, env.owner.ID).First(&previous).Error)
	assert.Equal(t, string(policy.RoleManager), previous.Role)
}

func TestDeleteMember_JSONBody(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "DELETE", "/api/contractor/delete-member", env.token(t, env.owner), gin.H{"userId": env.viewer.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var m models.TeamMember
	require.NoError(t, env.db.Where("user_id = ?", env.viewer.ID).First(&m).Error)
	assert.False(t, m.IsActive)
}

func TestAcceptInvitation_ExistingAccountMustSignIn(t *testing.T) {
	env := newTestEnv(t)
	wendy := env.createUser(t, "wendy", "wendy@freelance.test")

	w := env.do(t, "POST", "/api/contractor/invite-team-member", env.token(t, env.owner),
		gin.H{"email": "wendy@freelance.test", "firstName": "Wendy", "lastName": "Ng", "permissionLevel": "viewer"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var invite services.InviteResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &invite))
	token := invite.AcceptURL[strings.LastIndex(invite.AcceptURL, "/")+1:]

	w = env.do(t, "POST", "/api/team/accept-invitation/"+token, "", gin.H{"password": "chosen-by-someone-else"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "POST", "/api/team/accept-invitation/"+token, "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, "POST", "/api/team/accept-invitation/"+token, env.token(t, wendy), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var u models.User
	require.NoError(t, env.db.First(&u, wendy.ID).Error)
	assert.True(t, utils.CheckPassword(testPassword, u.Password))

	var m models.TeamMember
	require.NoError(t, env.db.Where("company_id = ? AND user_id = ?", env.company.ID, wendy.ID).First(&m).Error)
	assert.True(t, m.IsActive)
	assert.Equal(t, "viewer", m.PermissionLevel)
}

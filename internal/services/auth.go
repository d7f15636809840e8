package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/contractorhub/backend/internal/config"
	"github.com/huangang/contractorhub/backend/internal/models"
	"github.com/huangang/contractorhub/backend/internal/policy"
	"github.com/huangang/contractorhub/backend/internal/utils"
	"github.com/huangang/contractorhub/backend/pkg/response"
	"gorm.io/gorm"
)

type AuthService struct {
	db          *gorm.DB
	jwtConfig   *config.JWTConfig
	configSvc   *SystemConfigService
	invitations *InvitationService
	now         func() time.Time
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig, invitations *InvitationService) *AuthService {
	return &AuthService{
		db:          db,
		jwtConfig:   jwtCfg,
		configSvc:   NewSystemConfigService(db),
		invitations: invitations,
		now:         time.Now,
	}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"` // username or e-mail
	Password string `json:"password" binding:"required"`
}

type LoginResult struct {
	AccessToken     string       `json:"token"`
	AccessExpireAt  time.Time    `json:"expire_at"`
	RefreshToken    string       `json:"refresh_token"`
	RefreshExpireAt time.Time    `json:"refresh_expire_at"`
	User            *models.User `json:"user"`
}

type RefreshResult struct {
	AccessToken     string    `json:"token"`
	AccessExpireAt  time.Time `json:"expire_at"`
	RefreshToken    string    `json:"refresh_token"`
	RefreshExpireAt time.Time `json:"refresh_expire_at"`
}

var errBadCredentials = response.NewUnauthorized("invalid username or password")

// Login authenticates by username or e-mail. Accounts created by a
// credentials invitation join their company on the first successful login.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	user, err := s.localAuth(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}

	if s.invitations != nil && user.Role != "admin" {
		if err := s.invitations.ConsumeCredentials(ctx, user.ID); err != nil {
			return nil, err
		}
	}

	access, accessExpireAt, err := s.issueAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, record, err := s.issueRefreshToken(ctx, s.db, user.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user.LastLogin = &now
	s.db.WithContext(ctx).Model(user).Update("last_login", now)

	audit(ctx, "Auth", "Login", fmt.Sprintf("%s signed in", user.Username), user.ID, 0, nil)

	return &LoginResult{
		AccessToken:     access,
		AccessExpireAt:  accessExpireAt,
		RefreshToken:    refresh,
		RefreshExpireAt: record.ExpiresAt,
		User:            user,
	}, nil
}

func (s *AuthService) localAuth(ctx context.Context, login, password string) (*models.User, error) {
	login = strings.TrimSpace(login)
	var user models.User
	query := s.db.WithContext(ctx)
	if strings.Contains(login, "@") {
		query = query.Where("email = ?", normalizeEmail(login))
	} else {
		query = query.Where("username = ?", login)
	}
	if err := query.Order("id").First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errBadCredentials
		}
		return nil, err
	}

	if !utils.CheckPassword(password, user.Password) {
		return nil, errBadCredentials
	}
	if !user.IsActive {
		return nil, response.NewForbidden("user is disabled")
	}
	return &user, nil
}

// accessTokenHours prefers a runtime override and falls back to jwt.expire_hour.
func (s *AuthService) accessTokenHours() int {
	return s.configSvc.GetInt("auth_access_token_expire_hours", s.jwtConfig.ExpireHour)
}

func (s *AuthService) issueAccessToken(user *models.User) (string, time.Time, error) {
	hours := s.accessTokenHours()
	token, err := utils.GenerateToken(user.ID, user.Username, user.Role, hours)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, s.now().Add(time.Duration(hours) * time.Hour), nil
}

func (s *AuthService) issueRefreshToken(ctx context.Context, db *gorm.DB, userID uint) (string, *models.RefreshToken, error) {
	token, err := utils.GenerateURLToken(32)
	if err != nil {
		return "", nil, err
	}
	meta := requestMetaFrom(ctx)
	hours := s.configSvc.GetInt("auth_refresh_token_expire_hours", 720)
	record := &models.RefreshToken{
		UserID:      userID,
		TokenHash:   utils.HashToken(token),
		ExpiresAt:   s.now().Add(time.Duration(hours) * time.Hour),
		CreatedByIP: meta.IP,
		UserAgent:   meta.UserAgent,
	}
	if err := db.WithContext(ctx).Create(record).Error; err != nil {
		return "", nil, fmt.Errorf("store refresh token: %w", err)
	}
	return token, record, nil
}

// Refresh rotates a refresh token. The presented token is revoked and linked
// to its replacement; revoking is conditional so a token is used only once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, response.NewBadRequest("refresh token required")
	}
	db := s.db.WithContext(ctx)

	var stored models.RefreshToken
	if err := db.Where("token_hash = ?", utils.HashToken(refreshToken)).First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewUnauthorized("invalid refresh token")
		}
		return nil, err
	}
	if !stored.Usable(s.now()) {
		return nil, response.NewUnauthorized("refresh token expired or revoked")
	}

	var user models.User
	if err := db.First(&user, stored.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewUnauthorized("user not found")
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, response.NewForbidden("user is disabled")
	}

	access, accessExpireAt, err := s.issueAccessToken(&user)
	if err != nil {
		return nil, err
	}

	var newToken string
	var record *models.RefreshToken
	err = db.Transaction(func(tx *gorm.DB) error {
		newToken, record, err = s.issueRefreshToken(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		res := tx.Model(&models.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", stored.ID).
			Updates(map[string]interface{}{
				"revoked_at":           s.now(),
				"replaced_by_token_id": record.ID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return response.NewUnauthorized("refresh token expired or revoked")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &RefreshResult{
		AccessToken:     access,
		AccessExpireAt:  accessExpireAt,
		RefreshToken:    newToken,
		RefreshExpireAt: record.ExpiresAt,
	}, nil
}

// RevokeRefreshToken ends a session. Unknown tokens are ignored.
func (s *AuthService) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", utils.HashToken(refreshToken)).
		Update("revoked_at", s.now()).Error
}

func (s *AuthService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("user not found")
		}
		return nil, err
	}
	return &user, nil
}

type MeResponse struct {
	User         *models.User         `json:"user"`
	Company      *CompanySummary      `json:"company,omitempty"`
	Membership   *MemberView          `json:"membership,omitempty"`
	Capabilities *policy.Capabilities `json:"capabilities,omitempty"`
}

// Me describes the caller. Users outside any company get only their account.
func (s *AuthService) Me(ctx context.Context, userID uint) (*MeResponse, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := &MeResponse{User: user}

	m, err := loadMembership(ctx, s.db, userID)
	if err != nil {
		if errors.Is(err, response.ErrForbidden) {
			return resp, nil
		}
		return nil, err
	}
	view := newMemberView(&m.Member, &m.User)
	caps := policy.CapabilitiesOf(m.Actor)
	resp.Company = &CompanySummary{ID: m.Company.ID, Name: m.Company.Name}
	resp.Membership = &view
	resp.Capabilities = &caps
	return resp, nil
}

// CreateAdminIfNotExists creates the default system administrator.
func (s *AuthService) CreateAdminIfNotExists() error {
	var count int64
	if err := s.db.Model(&models.User{}).Where("role = ?", "admin").Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashedPassword, err := utils.HashPassword("admin")
	if err != nil {
		return err
	}
	admin := models.User{
		Username:           "admin",
		Password:           hashedPassword,
		FirstName:          "System",
		LastName:           "Administrator",
		Role:               "admin",
		IsActive:           true,
		MustChangePassword: true,
	}
	return s.db.Create(&admin).Error
}

type ChangePasswordRequest struct {
	OldPassword     string `json:"old_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

func (s *AuthService) ChangePassword(ctx context.Context, userID uint, req *ChangePasswordRequest) error {
	if err := validateNewPassword(req.NewPassword, req.ConfirmPassword); err != nil {
		return err
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return response.NewBadRequest("incorrect old password")
	}

	hashedPassword, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(user).Updates(map[string]interface{}{
		"password":             hashedPassword,
		"must_change_password": false,
	}).Error; err != nil {
		return err
	}

	audit(ctx, "Auth", "ChangePassword", fmt.Sprintf("%s changed password", user.Username), user.ID, 0, nil)
	return nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/huangang/contractorhub/backend/internal/config"
	"github.com/huangang/contractorhub/backend/internal/metrics"
	"github.com/huangang/contractorhub/backend/internal/models"
	"github.com/huangang/contractorhub/backend/internal/policy"
	"github.com/huangang/contractorhub/backend/internal/utils"
	"github.com/huangang/contractorhub/backend/pkg/logger"
	"github.com/huangang/contractorhub/backend/pkg/response"
	"gorm.io/gorm"
)

// InvitationService issues, accepts and retires team invitations.
type InvitationService struct {
	db        *gorm.DB
	cfg       *config.InvitationConfig
	configSvc *SystemConfigService
	email     *EmailService
	queue     TaskQueue
	now       func() time.Time
}

func NewInvitationService(db *gorm.DB, cfg *config.InvitationConfig, email *EmailService, queue TaskQueue) *InvitationService {
	return &InvitationService{
		db:        db,
		cfg:       cfg,
		configSvc: NewSystemConfigService(db),
		email:     email,
		queue:     queue,
		now:       time.Now,
	}
}

func (s *InvitationService) ttl() time.Duration {
	hours := s.configSvc.GetInt("invitation_ttl_hours", s.cfg.TTLHours)
	return time.Duration(hours) * time.Hour
}

func (s *InvitationService) acceptURL(token string) string {
	return strings.TrimRight(s.cfg.AcceptURLBase, "/") + "/" + token
}

type InviteRequest struct {
	Email           string `json:"email" binding:"required"`
	FirstName       string `json:"firstName" binding:"required"`
	LastName        string `json:"lastName"`
	PermissionLevel string `json:"permissionLevel" binding:"required"`
}

// InvitationView hides token material.
type InvitationView struct {
	ID              uint       `json:"id"`
	Email           string     `json:"email"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	PermissionLevel string     `json:"permission_level"`
	Status          string     `json:"status"`
	Mode            string     `json:"mode"`
	InvitedBy       uint       `json:"invited_by"`
	ExpiresAt       time.Time  `json:"expires_at"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func newInvitationView(inv *models.Invitation) *InvitationView {
	return &InvitationView{
		ID:              inv.ID,
		Email:           inv.Email,
		FirstName:       inv.FirstName,
		LastName:        inv.LastName,
		PermissionLevel: inv.PermissionLevel,
		Status:          inv.Status,
		Mode:            inv.Mode,
		InvitedBy:       inv.InvitedBy,
		ExpiresAt:       inv.ExpiresAt,
		AcceptedAt:      inv.AcceptedAt,
		CreatedAt:       inv.CreatedAt,
	}
}

type InviteResult struct {
	Invitation  *InvitationView `json:"invitation"`
	Credentials *Credentials    `json:"credentials,omitempty"`
	AcceptURL   string          `json:"accept_url,omitempty"`
	EmailQueued bool            `json:"email_queued"`
}

// Invite creates a pending invitation in the configured mode.
func (s *InvitationService) Invite(ctx context.Context, callerID uint, req *InviteRequest) (*InviteResult, error) {
	m, err := authorize(ctx, s.db, callerID, policy.ActionInviteMembers)
	if err != nil {
		return nil, err
	}

	email := normalizeEmail(req.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, response.NewBadRequest("email is not a valid email address")
	}
	firstName := strings.TrimSpace(req.FirstName)
	if firstName == "" {
		return nil, response.NewBadRequest("firstName is required")
	}
	level, err := policy.ParsePermissionLevel(req.PermissionLevel)
	if err != nil {
		return nil, response.NewBadRequest("permissionLevel must be one of viewer, editor, manager")
	}

	db := s.db.WithContext(ctx)
	now := s.now()

	if _, err := s.expireWhere(db.Where("company_id = ? AND email = ?", m.Company.ID, email), now); err != nil {
		return nil, err
	}

	var activeCount int64
	if err := db.Model(&models.TeamMember{}).
		Joins("JOIN users ON users.id = team_members.user_id").
		Where("team_members.company_id = ? AND team_members.is_active = ? AND users.email = ?", m.Company.ID, true, email).
		Count(&activeCount).Error; err != nil {
		return nil, fmt.Errorf("check members: %w", err)
	}
	if activeCount > 0 {
		return nil, response.NewConflict("this email already belongs to an active team member")
	}

	var pendingCount int64
	if err := db.Model(&models.Invitation{}).
		Where("company_id = ? AND email = ? AND status = ?", m.Company.ID, email, models.InvitationStatusPending).
		Count(&pendingCount).Error; err != nil {
		return nil, fmt.Errorf("check invitations: %w", err)
	}
	if pendingCount > 0 {
		return nil, response.NewConflict("a pending invitation already exists for this email")
	}

	inv := &models.Invitation{
		CompanyID:       m.Company.ID,
		Email:           email,
		FirstName:       firstName,
		LastName:        strings.TrimSpace(req.LastName),
		PermissionLevel: string(level),
		Status:          models.InvitationStatusPending,
		Mode:            s.cfg.Mode,
		InvitedBy:       callerID,
		ExpiresAt:       now.Add(s.ttl()),
		PendingKey:      strPtr(models.InvitationPendingKey(m.Company.ID, email)),
	}

	result := &InviteResult{}
	var token string

	err = db.Transaction(func(tx *gorm.DB) error {
		if s.cfg.Mode == config.InvitationModeCredentials {
			var existing int64
			if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				return response.NewConflict("an account with this email already exists; ask the user to submit a join request")
			}
			creds, user, err := createGeneratedUser(tx, email, firstName, inv.LastName)
			if err != nil {
				return err
			}
			inv.UserID = &user.ID
			result.Credentials = creds
		} else {
			token, err = utils.GenerateURLToken(32)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			inv.TokenHash = strPtr(utils.HashToken(token))
		}

		if err := tx.Create(inv).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return response.NewConflict("a pending invitation already exists for this email")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Invitation = newInvitationView(inv)

	if token != "" {
		url := s.acceptURL(token)
		result.EmailQueued = s.dispatchEmail(inv, m, url)
		if !result.EmailQueued {
			result.AcceptURL = url
		}
	}

	metrics.RecordInvitation("created")
	audit(ctx, "Invitations", "Create",
		fmt.Sprintf("invited %s as %s (%s mode)", email, level, inv.Mode),
		callerID, m.Company.ID,
		map[string]interface{}{"invitation_id": inv.ID, "permission_level": level, "mode": inv.Mode})

	return result, nil
}

// dispatchEmail queues the invitation e-mail. It returns false when the link
// has to be handed over manually.
func (s *InvitationService) dispatchEmail(inv *models.Invitation, m *Membership, url string) bool {
	if s.email == nil || !s.email.Enabled() || s.queue == nil {
		return false
	}
	err := s.queue.Enqueue(&InvitationEmailTask{
		InvitationID:  inv.ID,
		Email:         inv.Email,
		RecipientName: strings.TrimSpace(inv.FirstName + " " + inv.LastName),
		CompanyName:   m.Company.Name,
		InviterName:   m.User.DisplayName(),
		AcceptURL:     url,
		ExpiresAt:     inv.ExpiresAt,
	})
	if err != nil {
		logger.Error().Err(err).Uint("invitation_id", inv.ID).Msg("failed to enqueue invitation email")
		return false
	}
	return true
}

// findByToken resolves a raw token and applies the status rules shared by
// preview and accept: revoked is reported as not found, accepted as a
// conflict, expired as expired.
func (s *InvitationService) findByToken(db *gorm.DB, token string) (*models.Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, response.NewNotFound("invitation not found")
	}

	var inv models.Invitation
	err := db.Preload("Company").Where("token_hash = ?", utils.HashToken(token)).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, response.NewNotFound("invitation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load invitation: %w", err)
	}

	switch inv.Status {
	case models.InvitationStatusRevoked:
		return nil, response.NewNotFound("invitation not found")
	case models.InvitationStatusAccepted:
		return nil, response.NewConflict("invitation has already been used")
	}
	if inv.IsExpired(s.now()) {
		if inv.Status == models.InvitationStatusPending {
			if _, err := s.expireWhere(db.Where("id = ?", inv.ID), s.now()); err != nil {
				logger.Warn().Err(err).Uint("invitation_id", inv.ID).Msg("failed to mark invitation expired")
			}
		}
		return nil, response.NewExpired("invitation has expired")
	}
	return &inv, nil
}

type InvitationPreview struct {
	Email           string    `json:"email"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	CompanyName     string    `json:"company_name"`
	PermissionLevel string    `json:"permission_level"`
	ExpiresAt       time.Time `json:"expires_at"`
	AccountExists   bool      `json:"account_exists"`
}

// Preview lets the accept page show who is invited where.
func (s *InvitationService) Preview(ctx context.Context, token string) (*InvitationPreview, error) {
	db := s.db.WithContext(ctx)
	inv, err := s.findByToken(db, token)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", inv.Email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check account: %w", err)
	}

	p := &InvitationPreview{
		Email:           inv.Email,
		FirstName:       inv.FirstName,
		LastName:        inv.LastName,
		PermissionLevel: inv.PermissionLevel,
		ExpiresAt:       inv.ExpiresAt,
		AccountExists:   count > 0,
	}
	if inv.Company != nil {
		p.CompanyName = inv.Company.Name
	}
	return p, nil
}

type AcceptInvitationRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"` // optional; checked when present
}

type AcceptResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Username string `json:"username"`
}

func validateNewPassword(password, confirm string) error {
	if len(password) < utils.MinPasswordLength {
		return response.NewBadRequest(fmt.Sprintf("password must be at least %d characters", utils.MinPasswordLength))
	}
	if password != confirm {
		return response.NewBadRequest("passwords do not match")
	}
	return nil
}

// Accept consumes a token invitation for a new account. The status flip is
// conditional on pending, so of two concurrent accepts exactly one succeeds.
// An e-mail that already has an account is refused: its owner must sign in
// and use AcceptAsUser, so holding the link never grants a password reset.
func (s *InvitationService) Accept(ctx context.Context, token string, req *AcceptInvitationRequest) (*AcceptResult, error) {
	confirm := req.ConfirmPassword
	if confirm == "" {
		confirm = req.Password
	}
	if err := validateNewPassword(req.Password, confirm); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	inv, err := s.findByToken(db, token)
	if err != nil {
		return nil, err
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var user models.User
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := s.markAccepted(tx, inv.ID); err != nil {
			return err
		}

		err := tx.Where("email = ?", inv.Email).First(&user).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			username, err := allocateUsername(tx, inv.Email)
			if err != nil {
				return err
			}
			user = models.User{
				Username:  username,
				Password:  hashed,
				Email:     inv.Email,
				FirstName: inv.FirstName,
				LastName:  inv.LastName,
				Role:      "user",
				IsActive:  true,
			}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			return response.NewConflict("an account already exists for this email, sign in to accept the invitation")
		}

		inviter := inv.InvitedBy
		_, err = activateMember(tx, inv.CompanyID, user.ID, policy.PermissionLevel(inv.PermissionLevel), &inviter)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordInvitation("accepted")
	audit(ctx, "Invitations", "Accept",
		fmt.Sprintf("%s accepted invitation %d", inv.Email, inv.ID),
		user.ID, inv.CompanyID, map[string]interface{}{"invitation_id": inv.ID})

	return &AcceptResult{
		Success:  true,
		Message:  "Invitation accepted. You can now sign in.",
		Username: user.Username,
	}, nil
}

// AcceptAsUser consumes a token invitation on behalf of a signed-in user whose
// e-mail matches the invitation. Only the membership is materialized.
func (s *InvitationService) AcceptAsUser(ctx context.Context, userID uint, token string) (*AcceptResult, error) {
	db := s.db.WithContext(ctx)

	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewUnauthorized("user not found")
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, response.NewForbidden("account is disabled")
	}

	inv, err := s.findByToken(db, token)
	if err != nil {
		return nil, err
	}
	if normalizeEmail(user.Email) != inv.Email {
		return nil, response.NewForbidden("this invitation was sent to a different email address")
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := s.markAccepted(tx, inv.ID); err != nil {
			return err
		}
		inviter := inv.InvitedBy
		_, err := activateMember(tx, inv.CompanyID, user.ID, policy.PermissionLevel(inv.PermissionLevel), &inviter)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordInvitation("accepted")
	audit(ctx, "Invitations", "Accept",
		fmt.Sprintf("%s accepted invitation %d while signed in", inv.Email, inv.ID),
		user.ID, inv.CompanyID, map[string]interface{}{"invitation_id": inv.ID})

	return &AcceptResult{
		Success:  true,
		Message:  "Invitation accepted.",
		Username: user.Username,
	}, nil
}

func (s *InvitationService) markAccepted(tx *gorm.DB, id uint) error {
	now := s.now()
	res := tx.Model(&models.Invitation{}).
		Where("id = ? AND status = ?", id, models.InvitationStatusPending).
		Updates(map[string]interface{}{
			"status":      models.InvitationStatusAccepted,
			"accepted_at": now,
			"pending_key": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("accept invitation: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return response.NewConflict("invitation has already been used")
	}
	return nil
}

// ConsumeCredentials materializes the membership for a credentials-mode
// account on its first login. Accounts without an outstanding invitation
// are left alone.
func (s *InvitationService) ConsumeCredentials(ctx context.Context, userID uint) error {
	var inv models.Invitation
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND mode = ?", userID, config.InvitationModeCredentials).
		Order("id DESC").
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load invitation: %w", err)
	}
	if inv.Status == models.InvitationStatusAccepted {
		return nil
	}
	return s.consumeCredentialInvitation(ctx, &inv)
}

// consumeCredentialInvitation follows the same expiry and single-use rules
// as token acceptance.
func (s *InvitationService) consumeCredentialInvitation(ctx context.Context, inv *models.Invitation) error {
	db := s.db.WithContext(ctx)

	switch inv.Status {
	case models.InvitationStatusRevoked:
		return response.NewForbidden("invitation has been revoked")
	case models.InvitationStatusAccepted:
		return response.NewConflict("invitation has already been used")
	}
	if inv.IsExpired(s.now()) {
		if _, err := s.expireWhere(db.Where("id = ?", inv.ID), s.now()); err != nil {
			logger.Warn().Err(err).Uint("invitation_id", inv.ID).Msg("failed to mark invitation expired")
		}
		return response.NewExpired("invitation has expired, ask for a new one")
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := s.markAccepted(tx, inv.ID); err != nil {
			return err
		}
		inviter := inv.InvitedBy
		_, err := activateMember(tx, inv.CompanyID, *inv.UserID, policy.PermissionLevel(inv.PermissionLevel), &inviter)
		return err
	})
	if err != nil {
		return err
	}

	metrics.RecordInvitation("accepted")
	audit(ctx, "Invitations", "Accept",
		fmt.Sprintf("%s signed in with issued credentials", inv.Email),
		*inv.UserID, inv.CompanyID, map[string]interface{}{"invitation_id": inv.ID, "mode": inv.Mode})
	return nil
}

type InvitationListRequest struct {
	Status string `form:"status"`
}

// List returns the invitations of the caller's company, newest first.
func (s *InvitationService) List(ctx context.Context, callerID uint, req *InvitationListRequest) ([]*InvitationView, error) {
	m, err := authorize(ctx, s.db, callerID, policy.ActionInviteMembers)
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	if _, err := s.expireWhere(db.Where("company_id = ?", m.Company.ID), s.now()); err != nil {
		return nil, err
	}

	query := db.Where("company_id = ?", m.Company.ID)
	if req != nil && req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	var invitations []models.Invitation
	if err := query.Order("created_at DESC, id DESC").Find(&invitations).Error; err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}

	views := make([]*InvitationView, 0, len(invitations))
	for i := range invitations {
		views = append(views, newInvitationView(&invitations[i]))
	}
	return views, nil
}

func (s *InvitationService) loadForCompany(db *gorm.DB, companyID, id uint) (*models.Invitation, error) {
	var inv models.Invitation
	err := db.Where("id = ? AND company_id = ?", id, companyID).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, response.NewNotFound("invitation not found")
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Revoke withdraws a pending invitation. An account created for a
// credentials invitation is disabled unless it already belongs to a company.
func (s *InvitationService) Revoke(ctx context.Context, callerID, id uint) error {
	m, err := authorize(ctx, s.db, callerID, policy.ActionInviteMembers)
	if err != nil {
		return err
	}
	db := s.db.WithContext(ctx)
	inv, err := s.loadForCompany(db, m.Company.ID, id)
	if err != nil {
		return err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Invitation{}).
			Where("id = ? AND status = ?", inv.ID, models.InvitationStatusPending).
			Updates(map[string]interface{}{
				"status":      models.InvitationStatusRevoked,
				"pending_key": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return response.NewConflict("only pending invitations can be revoked")
		}

		if inv.UserID != nil {
			busy, err := activeMembershipElsewhere(tx, *inv.UserID, 0)
			if err != nil {
				return err
			}
			if !busy {
				return tx.Model(&models.User{}).Where("id = ?", *inv.UserID).Update("is_active", false).Error
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.RecordInvitation("revoked")
	audit(ctx, "Invitations", "Revoke",
		fmt.Sprintf("invitation %d for %s revoked", inv.ID, inv.Email),
		callerID, m.Company.ID, map[string]interface{}{"invitation_id": inv.ID})
	return nil
}

// Resend rotates the token of a pending token-mode invitation, extends its
// expiry and sends the e-mail again. The old link stops working.
func (s *InvitationService) Resend(ctx context.Context, callerID, id uint) (*InviteResult, error) {
	m, err := authorize(ctx, s.db, callerID, policy.ActionInviteMembers)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	inv, err := s.loadForCompany(db, m.Company.ID, id)
	if err != nil {
		return nil, err
	}
	if inv.Mode != config.InvitationModeToken {
		return nil, response.NewBadRequest("credentials invitations cannot be resent")
	}

	token, err := utils.GenerateURLToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	expiresAt := s.now().Add(s.ttl())

	res := db.Model(&models.Invitation{}).
		Where("id = ? AND status = ?", inv.ID, models.InvitationStatusPending).
		Updates(map[string]interface{}{
			"token_hash": utils.HashToken(token),
			"expires_at": expiresAt,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("rotate token: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, response.NewConflict("only pending invitations can be resent")
	}
	inv.ExpiresAt = expiresAt

	url := s.acceptURL(token)
	result := &InviteResult{Invitation: newInvitationView(inv)}
	result.EmailQueued = s.dispatchEmail(inv, m, url)
	if !result.EmailQueued {
		result.AcceptURL = url
	}

	metrics.RecordInvitation("resent")
	audit(ctx, "Invitations", "Resend",
		fmt.Sprintf("invitation %d for %s resent", inv.ID, inv.Email),
		callerID, m.Company.ID, map[string]interface{}{"invitation_id": inv.ID})
	return result, nil
}

// ExpireStale marks every overdue pending invitation expired.
func (s *InvitationService) ExpireStale(ctx context.Context) (int64, error) {
	return s.expireWhere(s.db.WithContext(ctx), s.now())
}

// expireWhere flips pending invitations matching scope whose expiry has
// passed. pending_key is cleared so the address can be invited again.
func (s *InvitationService) expireWhere(scope *gorm.DB, now time.Time) (int64, error) {
	res := scope.Model(&models.Invitation{}).
		Where("status = ? AND expires_at <= ?", models.InvitationStatusPending, now).
		Updates(map[string]interface{}{
			"status":      models.InvitationStatusExpired,
			"pending_key": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("expire invitations: %w", res.Error)
	}
	metrics.RecordInvitationsExpired(res.RowsAffected)
	return res.RowsAffected, nil
}

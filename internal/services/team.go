package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/contractorhub/backend/internal/models"
	"github.com/huangang/contractorhub/backend/internal/policy"
	"github.com/huangang/contractorhub/backend/pkg/response"
	"gorm.io/gorm"
)

type TeamService struct {
	db *gorm.DB
}

func NewTeamService(db *gorm.DB) *TeamService {
	return &TeamService{db: db}
}

// MemberView is a team member as shown to clients. Owners carry no
// permission level.
type MemberView struct {
	UserID          uint      `json:"user_id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Role            string    `json:"role"`
	PermissionLevel string    `json:"permission_level,omitempty"`
	IsActive        bool      `json:"is_active"`
	JoinedAt        time.Time `json:"joined_at"`
}

func newMemberView(m *models.TeamMember, u *models.User) MemberView {
	v := MemberView{
		UserID:          m.UserID,
		Role:            m.Role,
		PermissionLevel: policy.DisplayLevel(policy.Role(m.Role), policy.PermissionLevel(m.PermissionLevel)),
		IsActive:        m.IsActive,
		JoinedAt:        m.CreatedAt,
	}
	if u != nil {
		v.Username = u.Username
		v.Email = u.Email
		v.FirstName = u.FirstName
		v.LastName = u.LastName
	}
	return v
}

type TeamListResponse struct {
	Company      CompanySummary      `json:"company"`
	Members      []MemberView        `json:"members"`
	Capabilities policy.Capabilities `json:"capabilities"`
}

// ListMembers returns the active members of the caller's company.
func (s *TeamService) ListMembers(ctx context.Context, callerID uint) (*TeamListResponse, error) {
	m, err := authorize(ctx, s.db, callerID, policy.ActionViewTeam)
	if err != nil {
		return nil, err
	}

	var members []models.TeamMember
	if err := s.db.WithContext(ctx).
		Preload("User").
		Where("company_id = ? AND is_active = ?", m.Company.ID, true).
		Order("id").
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	views := make([]MemberView, 0, len(members))
	for i := range members {
		views = append(views, newMemberView(&members[i], members[i].User))
	}

	return &TeamListResponse{
		Company:      CompanySummary{ID: m.Company.ID, Name: m.Company.Name},
		Members:      views,
		Capabilities: policy.CapabilitiesOf(m.Actor),
	}, nil
}

// loadTarget finds an active member of companyID by user id.
func loadTarget(tx *gorm.DB, companyID, userID uint) (*models.TeamMember, error) {
	var target models.TeamMember
	err := tx.Preload("User").
		Where("company_id = ? AND user_id = ? AND is_active = ?", companyID, userID, true).
		First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, response.NewNotFound("team member not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load team member: %w", err)
	}
	return &target, nil
}

type UpdatePermissionsRequest struct {
	UserID          uint   `json:"userId" binding:"required"`
	PermissionLevel string `json:"permissionLevel" binding:"required"`
}

// UpdatePermissions changes a non-owner member's permission level. A manager
// moved below manager level becomes a plain team member.
func (s *TeamService) UpdatePermissions(ctx context.Context, callerID uint, req *UpdatePermissionsRequest) (*MemberView, error) {
	level, err := policy.ParsePermissionLevel(req.PermissionLevel)
	if err != nil {
		return nil, response.NewBadRequest("permissionLevel must be one of viewer, editor, manager")
	}

	m, err := authorize(ctx, s.db, callerID, policy.ActionManagePermissions)
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	target, err := loadTarget(db, m.Company.ID, req.UserID)
	if err != nil {
		return nil, err
	}
	targetRole := policy.Role(target.Role)
	if targetRole.IsOwner() {
		return nil, response.NewForbidden("the company owner's permissions cannot be changed")
	}

	newRole := targetRole
	if targetRole == policy.RoleManager && level != policy.LevelManager {
		newRole = policy.RoleTeamMember
	}

	res := db.Model(&models.TeamMember{}).
		Where("id = ? AND role = ? AND is_active = ?", target.ID, target.Role, true).
		Updates(map[string]interface{}{
			"role":             string(newRole),
			"permission_level": string(level),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update permissions: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, response.NewConflict("team member changed concurrently, please retry")
	}

	oldLevel := target.PermissionLevel
	target.Role = string(newRole)
	target.PermissionLevel = string(level)

	audit(ctx, "Team", "UpdatePermissions",
		fmt.Sprintf("user %d permission %s -> %s", target.UserID, oldLevel, level),
		callerID, m.Company.ID,
		map[string]interface{}{"target_user_id": target.UserID, "from": oldLevel, "to": level, "role": newRole})

	view := newMemberView(target, target.User)
	return &view, nil
}

type TransferOwnershipRequest struct {
	NewOwnerID uint `json:"newOwnerId" binding:"required"`
}

type TransferOwnershipResult struct {
	PreviousOwner MemberView `json:"previous_owner"`
	NewOwner      MemberView `json:"new_owner"`
}

// TransferOwnership hands the owner role to another active member. The
// caller becomes a manager. All three writes are conditional and happen in
// one transaction, so no reader ever sees two owners or none.
func (s *TeamService) TransferOwnership(ctx context.Context, callerID uint, req *TransferOwnershipRequest) (*TransferOwnershipResult, error) {
	if req.NewOwnerID == callerID {
		return nil, response.NewBadRequest("you already own this company")
	}

	m, err := authorize(ctx, s.db, callerID, policy.ActionTransferOwnership)
	if err != nil {
		return nil, err
	}
	ownerRole := m.Member.Role

	var result TransferOwnershipResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		target, err := loadTarget(tx, m.Company.ID, req.NewOwnerID)
		if err != nil {
			return err
		}

		res := tx.Model(&models.TeamMember{}).
			Where("id = ? AND role = ? AND is_active = ?", m.Member.ID, ownerRole, true).
			Updates(map[string]interface{}{
				"role":             string(policy.RoleManager),
				"permission_level": string(policy.LevelManager),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return response.NewConflict("ownership changed concurrently")
		}

		res = tx.Model(&models.TeamMember{}).
			Where("id = ? AND role = ? AND is_active = ?", target.ID, target.Role, true).
			Updates(map[string]interface{}{
				"role":             ownerRole,
				"permission_level": string(policy.LevelManager),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return response.NewConflict("team member changed concurrently")
		}

		res = tx.Model(&models.Company{}).
			Where("id = ? AND owner_user_id = ?", m.Company.ID, callerID).
			Update("owner_user_id", target.UserID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return response.NewConflict("ownership changed concurrently")
		}

		prev := m.Member
		prev.Role = string(policy.RoleManager)
		prev.PermissionLevel = string(policy.LevelManager)
		target.Role = ownerRole
		target.PermissionLevel = string(policy.LevelManager)

		result.PreviousOwner = newMemberView(&prev, &m.User)
		result.NewOwner = newMemberView(target, target.User)
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit(ctx, "Team", "TransferOwnership",
		fmt.Sprintf("ownership of company %d transferred from user %d to user %d", m.Company.ID, callerID, req.NewOwnerID),
		callerID, m.Company.ID,
		map[string]interface{}{"new_owner_id": req.NewOwnerID})

	return &result, nil
}

type DeleteMemberRequest struct {
	UserID uint `json:"userId" form:"userId" binding:"required"`
}

// DeleteMember deactivates a membership. Invitation and join-request history
// is left untouched.
func (s *TeamService) DeleteMember(ctx context.Context, callerID uint, req *DeleteMemberRequest) error {
	m, err := authorize(ctx, s.db, callerID, policy.ActionDeleteMembers)
	if err != nil {
		return err
	}

	db := s.db.WithContext(ctx)
	target, err := loadTarget(db, m.Company.ID, req.UserID)
	if err != nil {
		return err
	}

	t := policy.Target{
		UserID:          target.UserID,
		Role:            policy.Role(target.Role),
		PermissionLevel: policy.PermissionLevel(target.PermissionLevel),
	}
	switch {
	case t.Role.IsOwner():
		return response.NewForbidden("the company owner cannot be removed")
	case t.UserID == callerID:
		return response.NewForbidden("you cannot remove yourself")
	case !policy.CanRemove(m.Actor, t):
		return response.NewForbidden("only the company owner can remove a manager")
	}

	now := time.Now()
	res := db.Model(&models.TeamMember{}).
		Where("id = ? AND is_active = ?", target.ID, true).
		Updates(map[string]interface{}{
			"is_active":      false,
			"deactivated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("deactivate member: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return response.NewNotFound("team member not found")
	}

	audit(ctx, "Team", "DeleteMember",
		fmt.Sprintf("user %d removed from company %d", target.UserID, m.Company.ID),
		callerID, m.Company.ID,
		map[string]interface{}{"target_user_id": target.UserID, "role": target.Role})
	return nil
}

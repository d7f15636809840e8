package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/huangang/contractorhub/backend/internal/models"
	"github.com/huangang/contractorhub/backend/internal/policy"
	"github.com/huangang/contractorhub/backend/pkg/response"
	"gorm.io/gorm"
)

// Membership is the caller's company context, re-read on every call so that
// a role change or deactivation takes effect on the next request.
type Membership struct {
	User    models.User
	Member  models.TeamMember
	Company models.Company
	Actor   policy.Actor
}

var errNoMembership = response.NewForbidden("you are not an active member of a contractor company")

func loadMembership(ctx context.Context, db *gorm.DB, userID uint) (*Membership, error) {
	db = db.WithContext(ctx)

	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewUnauthorized("user not found")
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, response.NewForbidden("user is disabled")
	}

	var member models.TeamMember
	if err := db.Where("user_id = ? AND is_active = ?", userID, true).First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errNoMembership
		}
		return nil, fmt.Errorf("load membership: %w", err)
	}

	var company models.Company
	if err := db.First(&company, member.CompanyID).Error; err != nil {
		return nil, fmt.Errorf("load company: %w", err)
	}

	return &Membership{
		User:    user,
		Member:  member,
		Company: company,
		Actor: policy.Actor{
			UserID:          userID,
			Role:            policy.Role(member.Role),
			PermissionLevel: policy.PermissionLevel(member.PermissionLevel),
			IsActive:        member.IsActive && user.IsActive,
		},
	}, nil
}

// authorize loads the caller's membership and checks one action.
func authorize(ctx context.Context, db *gorm.DB, userID uint, action policy.Action) (*Membership, error) {
	m, err := loadMembership(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	if !policy.Allow(m.Actor, action) {
		return nil, response.NewForbidden("you do not have permission to perform this action")
	}
	return m, nil
}

// activeMembershipElsewhere reports whether the user is active in a company
// other than companyID.
func activeMembershipElsewhere(tx *gorm.DB, userID, companyID uint) (bool, error) {
	var count int64
	err := tx.Model(&models.TeamMember{}).
		Where("user_id = ? AND company_id <> ? AND is_active = ?", userID, companyID, true).
		Count(&count).Error
	return count > 0, err
}

// activateMember creates or reactivates the (company, user) membership as a
// team member with the given level. An already active row is a conflict.
func activateMember(tx *gorm.DB, companyID, userID uint, level policy.PermissionLevel, invitedBy *uint) (*models.TeamMember, error) {
	elsewhere, err := activeMembershipElsewhere(tx, userID, companyID)
	if err != nil {
		return nil, err
	}
	if elsewhere {
		return nil, response.NewConflict("user already belongs to another contractor company")
	}

	var member models.TeamMember
	err = tx.Where("company_id = ? AND user_id = ?", companyID, userID).First(&member).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		member = models.TeamMember{
			CompanyID:       companyID,
			UserID:          userID,
			Role:            string(policy.RoleTeamMember),
			PermissionLevel: string(level),
			IsActive:        true,
			InvitedBy:       invitedBy,
		}
		if err := tx.Create(&member).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, response.NewConflict("user is already a member of this company")
			}
			return nil, err
		}
		return &member, nil
	case err != nil:
		return nil, err
	}

	res := tx.Model(&models.TeamMember{}).
		Where("id = ? AND is_active = ?", member.ID, false).
		Updates(map[string]interface{}{
			"role":             string(policy.RoleTeamMember),
			"permission_level": string(level),
			"is_active":        true,
			"deactivated_at":   nil,
			"invited_by":       invitedBy,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		return nil, response.NewConflict("user is already a member of this company")
	}
	if err := tx.First(&member, member.ID).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func strPtr(s string) *string { return &s }

package models

import "time"

// TeamMember links a user to a company with a role and permission level.
// Owners store permission level "manager" but it is never evaluated for them.
type TeamMember struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	CompanyID       uint       `gorm:"uniqueIndex:idx_team_member_company_user;not null" json:"company_id"`
	UserID          uint       `gorm:"uniqueIndex:idx_team_member_company_user;not null;index" json:"user_id"`
	User            *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role            string     `gorm:"size:30;not null" json:"role"`
	PermissionLevel string     `gorm:"size:20;not null;default:viewer" json:"permission_level"`
	IsActive        bool       `gorm:"default:true;index" json:"is_active"`
	InvitedBy       *uint      `json:"invited_by,omitempty"`
	DeactivatedAt   *time.Time `json:"deactivated_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (TeamMember) TableName() string { return "team_members" }

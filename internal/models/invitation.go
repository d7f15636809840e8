package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	InvitationStatusPending  = "pending"
	InvitationStatusAccepted = "accepted"
	InvitationStatusExpired  = "expired"
	InvitationStatusRevoked  = "revoked"
)

// Invitation is an offer for an e-mail address to join a company.
// PendingKey is set only while the invitation is pending; its unique index
// allows at most one pending invitation per (company, email).
type Invitation struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	CompanyID       uint       `gorm:"index;not null" json:"company_id"`
	Company         *Company   `gorm:"foreignKey:CompanyID" json:"company,omitempty"`
	Email           string     `gorm:"size:255;not null;index" json:"email"`
	FirstName       string     `gorm:"size:100" json:"first_name"`
	LastName        string     `gorm:"size:100" json:"last_name"`
	PermissionLevel string     `gorm:"size:20;not null" json:"permission_level"`
	Status          string     `gorm:"size:20;not null;default:pending;index" json:"status"`
	Mode            string     `gorm:"size:20;not null" json:"mode"` // credentials, token
	TokenHash       *string    `gorm:"uniqueIndex;size:64" json:"-"`
	UserID          *uint      `gorm:"index" json:"user_id,omitempty"`
	InvitedBy       uint       `json:"invited_by"`
	ExpiresAt       time.Time  `gorm:"index;not null" json:"expires_at"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	PendingKey      *string    `gorm:"uniqueIndex;size:300" json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Invitation) TableName() string { return "invitations" }

// IsExpired reports whether a pending invitation is past its expiry.
func (i *Invitation) IsExpired(now time.Time) bool {
	return i.Status == InvitationStatusExpired ||
		(i.Status == InvitationStatusPending && !now.Before(i.ExpiresAt))
}

// InvitationPendingKey builds the uniqueness key for a pending invitation.
func InvitationPendingKey(companyID uint, email string) string {
	return fmt.Sprintf("%d:%s", companyID, strings.ToLower(strings.TrimSpace(email)))
}

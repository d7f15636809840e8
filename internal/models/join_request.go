package models

import (
	"fmt"
	"time"
)

const (
	JoinRequestStatusPending  = "pending"
	JoinRequestStatusApproved = "approved"
	JoinRequestStatusRejected = "rejected"
)

// JoinRequest is a user-initiated request to join a company.
// PendingKey holds "<company>:<user>" while pending.
type JoinRequest struct {
	ID                       uint       `gorm:"primaryKey" json:"id"`
	CompanyID                uint       `gorm:"index;not null" json:"company_id"`
	Company                  *Company   `gorm:"foreignKey:CompanyID" json:"company,omitempty"`
	UserID                   uint       `gorm:"index;not null" json:"user_id"`
	Name                     string     `gorm:"size:200" json:"name"`
	Email                    string     `gorm:"size:255" json:"email"`
	RequestedPermissionLevel string     `gorm:"size:20;not null" json:"requested_permission_level"`
	AssignedPermissionLevel  string     `gorm:"size:20" json:"assigned_permission_level,omitempty"`
	Message                  string     `gorm:"type:text" json:"message"`
	Status                   string     `gorm:"size:20;not null;default:pending;index" json:"status"`
	ReviewerID               *uint      `json:"reviewer_id,omitempty"`
	ReviewedAt               *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes              string     `gorm:"type:text" json:"review_notes,omitempty"`
	PendingKey               *string    `gorm:"uniqueIndex;size:64" json:"-"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

func (JoinRequest) TableName() string { return "join_requests" }

func JoinRequestPendingKey(companyID, userID uint) string {
	return fmt.Sprintf("%d:%d", companyID, userID)
}

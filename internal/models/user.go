package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a login account. Role is the system role (admin, user);
// company roles live on TeamMember.
type User struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	Username           string         `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Password           string         `gorm:"size:255" json:"-"`
	Email              string         `gorm:"size:255;index" json:"email"`
	FirstName          string         `gorm:"size:100" json:"first_name"`
	LastName           string         `gorm:"size:100" json:"last_name"`
	Role               string         `gorm:"size:50;default:user" json:"role"` // admin, user
	IsActive           bool           `gorm:"default:true" json:"is_active"`
	MustChangePassword bool           `gorm:"default:false" json:"must_change_password"`
	LastLogin          *time.Time     `json:"last_login"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "users" }

// DisplayName joins first and last name, falling back to the username.
func (u *User) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return u.Username
	}
	return name
}

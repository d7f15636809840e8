package models

import "time"

const (
	CompanyKindIndividual = "individual"
	CompanyKindBusiness   = "business"
)

// Company is a contractor company. Individual companies are owned by an
// individual_owner, business companies by an account_owner.
type Company struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:200;not null;index" json:"name"`
	Kind        string    `gorm:"size:20;not null;default:business" json:"kind"`
	OwnerUserID uint      `gorm:"index" json:"owner_user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Company) TableName() string { return "companies" }

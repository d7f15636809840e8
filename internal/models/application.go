package models

import "time"

const ApplicationStatusSubmitted = "submitted"

// Application is a permit application filed by a contractor company.
type Application struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	CompanyID    uint       `gorm:"index;not null" json:"company_id"`
	FacilityName string     `gorm:"size:200;not null" json:"facility_name"`
	ActivityType string     `gorm:"size:100" json:"activity_type"`
	Description  string     `gorm:"type:text" json:"description"`
	Status       string     `gorm:"size:20;not null;default:submitted" json:"status"`
	SubmittedBy  uint       `json:"submitted_by"`
	Documents    []Document `gorm:"foreignKey:ApplicationID" json:"documents,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Application) TableName() string { return "applications" }

// Document is a stored attachment. Path is the object key inside the bucket.
type Document struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	CompanyID          uint       `gorm:"index;not null" json:"company_id"`
	ApplicationID      *uint      `gorm:"index" json:"application_id,omitempty"`
	FieldName          string     `gorm:"size:100" json:"field_name"`
	OriginalName       string     `gorm:"size:255" json:"original_name"`
	Path               string     `gorm:"uniqueIndex;size:500;not null" json:"path"`
	ContentType        string     `gorm:"size:150" json:"content_type"`
	Size               int64      `json:"size"`
	SignedURL          string     `gorm:"type:text" json:"signed_url,omitempty"`
	SignedURLExpiresAt *time.Time `json:"signed_url_expires_at,omitempty"`
	UploadedBy         uint       `json:"uploaded_by"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (Document) TableName() string { return "documents" }

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/huangang/contractorhub/backend/internal/models"
	"github.com/huangang/contractorhub/backend/internal/policy"
	"github.com/huangang/contractorhub/backend/internal/storage"
	"github.com/huangang/contractorhub/backend/pkg/logger"
	"github.com/huangang/contractorhub/backend/pkg/response"
	"gorm.io/gorm"
)

type ApplicationService struct {
	db    *gorm.DB
	files *storage.FileStorage
}

func NewApplicationService(db *gorm.DB, files *storage.FileStorage) *ApplicationService {
	return &ApplicationService{db: db, files: files}
}

type CreateApplicationRequest struct {
	FacilityName string `form:"facility_name"`
	ActivityType string `form:"activity_type"`
	Description  string `form:"description"`
}

// Create stores every attachment and then records the application with its
// documents in one transaction. Uploaded objects are removed again when the
// transaction fails.
func (s *ApplicationService) Create(ctx context.Context, callerID uint, req *CreateApplicationRequest, uploads []*storage.FileUpload) (*models.Application, error) {
	m, err := authorize(ctx, s.db, callerID, policy.ActionUploadDocuments)
	if err != nil {
		return nil, err
	}
	facility := strings.TrimSpace(req.FacilityName)
	if facility == "" {
		return nil, response.NewBadRequest("facility_name is required")
	}

	folder := fmt.Sprintf("applications/%d", m.Company.ID)
	stored := make([]*storage.StoredFile, 0, len(uploads))
	fields := make([]string, 0, len(uploads))
	for _, up := range uploads {
		sf, err := s.files.UploadFile(ctx, up, folder)
		if err != nil {
			s.discard(stored)
			return nil, err
		}
		stored = append(stored, sf)
		fields = append(fields, up.FieldName)
	}

	app := &models.Application{
		CompanyID:    m.Company.ID,
		FacilityName: facility,
		ActivityType: strings.TrimSpace(req.ActivityType),
		Description:  strings.TrimSpace(req.Description),
		Status:       models.ApplicationStatusSubmitted,
		SubmittedBy:  callerID,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(app).Error; err != nil {
			return err
		}
		for i, sf := range stored {
			expiresAt := sf.ExpiresAt
			doc := models.Document{
				CompanyID:          m.Company.ID,
				ApplicationID:      &app.ID,
				FieldName:          fields[i],
				OriginalName:       sf.OriginalName,
				Path:               sf.Path,
				ContentType:        sf.ContentType,
				Size:               sf.Size,
				SignedURL:          sf.SignedURL,
				SignedURLExpiresAt: &expiresAt,
				UploadedBy:         callerID,
			}
			if err := tx.Create(&doc).Error; err != nil {
				return err
			}
			app.Documents = append(app.Documents, doc)
		}
		return nil
	})
	if err != nil {
		s.discard(stored)
		return nil, fmt.Errorf("save application: %w", err)
	}

	audit(ctx, "Applications", "Create",
		fmt.Sprintf("application for %q submitted with %d document(s)", facility, len(stored)),
		callerID, m.Company.ID, map[string]interface{}{"application_id": app.ID})
	return app, nil
}

// discard deletes objects uploaded for a request that did not complete.
// The request context may already be done, so cleanup gets its own.
func (s *ApplicationService) discard(files []*storage.StoredFile) {
	for _, sf := range files {
		if err := s.files.DeleteFile(context.Background(), sf.Path); err != nil {
			logger.Error().Err(err).Str("path", sf.Path).Msg("failed to remove orphaned upload")
		}
	}
}

// scope limits a query to the caller's company unless the caller is a
// system administrator.
func (s *ApplicationService) scope(ctx context.Context, callerID uint) (*gorm.DB, error) {
	db := s.db.WithContext(ctx)
	admin, err := isSystemAdmin(ctx, s.db, callerID)
	if err != nil {
		return nil, err
	}
	if admin {
		return db, nil
	}
	m, err := authorize(ctx, s.db, callerID, policy.ActionViewDocuments)
	if err != nil {
		return nil, err
	}
	return db.Where("company_id = ?", m.Company.ID), nil
}

func (s *ApplicationService) List(ctx context.Context, callerID uint) ([]models.Application, error) {
	query, err := s.scope(ctx, callerID)
	if err != nil {
		return nil, err
	}
	var apps []models.Application
	if err := query.Preload("Documents").Order("created_at DESC, id DESC").Find(&apps).Error; err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return apps, nil
}

func (s *ApplicationService) Get(ctx context.Context, callerID, id uint) (*models.Application, error) {
	query, err := s.scope(ctx, callerID)
	if err != nil {
		return nil, err
	}
	var app models.Application
	if err := query.Preload("Documents").First(&app, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("application not found")
		}
		return nil, err
	}
	return &app, nil
}

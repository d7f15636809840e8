package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/contractorhub/backend/internal/models"
	"github.com/huangang/contractorhub/backend/internal/policy"
	"github.com/huangang/contractorhub/backend/internal/storage"
	"github.com/huangang/contractorhub/backend/pkg/logger"
	"github.com/huangang/contractorhub/backend/pkg/response"
	"gorm.io/gorm"
)

// DocumentService serves stored attachments to members of the owning
// company and to system administrators.
type DocumentService struct {
	db        *gorm.DB
	files     *storage.FileStorage
	configSvc *SystemConfigService
	now       func() time.Time
}

func NewDocumentService(db *gorm.DB, files *storage.FileStorage) *DocumentService {
	return &DocumentService{
		db:        db,
		files:     files,
		configSvc: NewSystemConfigService(db),
		now:       time.Now,
	}
}

func isSystemAdmin(ctx context.Context, db *gorm.DB, userID uint) (bool, error) {
	var user models.User
	if err := db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, response.NewUnauthorized("user not found")
		}
		return false, err
	}
	return user.IsActive && user.Role == "admin", nil
}

// loadDocument resolves a document visible to the caller. Non-admin callers
// are authorized before the lookup, and documents of other companies are
// reported as missing, so the answer never reveals whether an id exists.
func (s *DocumentService) loadDocument(ctx context.Context, callerID, docID uint, action policy.Action) (*models.Document, error) {
	admin, err := isSystemAdmin(ctx, s.db, callerID)
	if err != nil {
		return nil, err
	}

	var companyID uint
	if !admin {
		m, err := authorize(ctx, s.db, callerID, action)
		if err != nil {
			return nil, err
		}
		companyID = m.Company.ID
	}

	var doc models.Document
	if err := s.db.WithContext(ctx).First(&doc, docID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("document not found")
		}
		return nil, err
	}
	if !admin && doc.CompanyID != companyID {
		return nil, response.NewNotFound("document not found")
	}
	return &doc, nil
}

type DocumentContent struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Download fetches a document's bytes from the bucket.
func (s *DocumentService) Download(ctx context.Context, callerID, docID uint) (*DocumentContent, error) {
	doc, err := s.loadDocument(ctx, callerID, docID, policy.ActionViewDocuments)
	if err != nil {
		return nil, err
	}
	data, contentType, err := s.files.DownloadFile(ctx, doc.Path)
	if err != nil {
		return nil, err
	}
	if doc.ContentType != "" {
		contentType = doc.ContentType
	}
	return &DocumentContent{FileName: doc.OriginalName, ContentType: contentType, Data: data}, nil
}

type SignedURLResult struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SignedURL issues a fresh short-lived link for a document.
func (s *DocumentService) SignedURL(ctx context.Context, callerID, docID uint) (*SignedURLResult, error) {
	doc, err := s.loadDocument(ctx, callerID, docID, policy.ActionViewDocuments)
	if err != nil {
		return nil, err
	}
	expiresIn := s.configSvc.GetInt("signed_url_expire_seconds", storage.DefaultSignedURLSeconds)
	url, err := s.files.GetSignedURL(ctx, doc.Path, expiresIn)
	if err != nil {
		return nil, err
	}
	return &SignedURLResult{URL: url, ExpiresAt: s.now().Add(time.Duration(expiresIn) * time.Second)}, nil
}

// Delete removes the object and then the row. An object already gone from
// the bucket does not block removing the row.
func (s *DocumentService) Delete(ctx context.Context, callerID, docID uint) error {
	doc, err := s.loadDocument(ctx, callerID, docID, policy.ActionDeleteDocuments)
	if err != nil {
		return err
	}

	if err := s.files.DeleteFile(ctx, doc.Path); err != nil {
		if !errors.Is(err, response.ErrNotFound) {
			return err
		}
		logger.Warn().Str("path", doc.Path).Uint("document_id", doc.ID).Msg("document object already missing from bucket")
	}

	if err := s.db.WithContext(ctx).Delete(&models.Document{}, doc.ID).Error; err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	audit(ctx, "Documents", "Delete",
		fmt.Sprintf("document %q deleted", doc.OriginalName),
		callerID, doc.CompanyID, map[string]interface{}{"document_id": doc.ID, "path": doc.Path})
	return nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/contractorhub/backend/internal/metrics"
	"github.com/huangang/contractorhub/backend/internal/models"
	"github.com/huangang/contractorhub/backend/internal/policy"
	"github.com/huangang/contractorhub/backend/pkg/response"
	"gorm.io/gorm"
)

type JoinRequestService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewJoinRequestService(db *gorm.DB) *JoinRequestService {
	return &JoinRequestService{db: db, now: time.Now}
}

type SubmitJoinRequest struct {
	CompanyID       uint   `json:"companyId" binding:"required"`
	PermissionLevel string `json:"permissionLevel"`
	Message         string `json:"message"`
}

// Submit files a request by userID to join a company. The requested level
// defaults to viewer.
func (s *JoinRequestService) Submit(ctx context.Context, userID uint, req *SubmitJoinRequest) (*models.JoinRequest, error) {
	level := policy.LevelViewer
	if strings.TrimSpace(req.PermissionLevel) != "" {
		parsed, err := policy.ParsePermissionLevel(req.PermissionLevel)
		if err != nil {
			return nil, response.NewBadRequest("permissionLevel must be one of viewer, editor, manager")
		}
		level = parsed
	}

	db := s.db.WithContext(ctx)

	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewUnauthorized("user not found")
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, response.NewForbidden("user is disabled")
	}

	var company models.Company
	if err := db.First(&company, req.CompanyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("company not found")
		}
		return nil, err
	}

	busy, err := activeMembershipElsewhere(db, userID, 0)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, response.NewConflict("you are already an active member of a contractor company")
	}

	jr := &models.JoinRequest{
		CompanyID:                company.ID,
		UserID:                   userID,
		Name:                     user.DisplayName(),
		Email:                    user.Email,
		RequestedPermissionLevel: string(level),
		Message:                  strings.TrimSpace(req.Message),
		Status:                   models.JoinRequestStatusPending,
		PendingKey:               strPtr(models.JoinRequestPendingKey(company.ID, userID)),
	}
	if err := db.Create(jr).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, response.NewConflict("you already have a pending request for this company")
		}
		return nil, fmt.Errorf("create join request: %w", err)
	}

	metrics.RecordJoinRequest("submitted")
	audit(ctx, "JoinRequests", "Submit",
		fmt.Sprintf("%s asked to join %s", user.Username, company.Name),
		userID, company.ID, map[string]interface{}{"join_request_id": jr.ID, "requested_level": level})

	jr.Company = &company
	return jr, nil
}

// loadForReview authorizes the reviewer and loads a request of the
// reviewer's company. Requests of other companies are reported as missing.
func (s *JoinRequestService) loadForReview(ctx context.Context, reviewerID, requestID uint) (*Membership, *models.JoinRequest, error) {
	m, err := authorize(ctx, s.db, reviewerID, policy.ActionReviewJoinRequests)
	if err != nil {
		return nil, nil, err
	}
	var jr models.JoinRequest
	err = s.db.WithContext(ctx).Where("id = ? AND company_id = ?", requestID, m.Company.ID).First(&jr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, response.NewNotFound("join request not found")
	}
	if err != nil {
		return nil, nil, err
	}
	return m, &jr, nil
}

type ApproveJoinRequest struct {
	PermissionLevel string `json:"assignedPermissionLevel"`
	Notes           string `json:"reviewNotes"`
}

// Approve accepts a pending request and activates the requester with the
// assigned level, or the requested one when none is given.
func (s *JoinRequestService) Approve(ctx context.Context, reviewerID, requestID uint, req *ApproveJoinRequest) (*models.JoinRequest, error) {
	m, jr, err := s.loadForReview(ctx, reviewerID, requestID)
	if err != nil {
		return nil, err
	}

	level := policy.PermissionLevel(jr.RequestedPermissionLevel)
	if req != nil && strings.TrimSpace(req.PermissionLevel) != "" {
		level, err = policy.ParsePermissionLevel(req.PermissionLevel)
		if err != nil {
			return nil, response.NewBadRequest("assignedPermissionLevel must be one of viewer, editor, manager")
		}
	}
	notes := ""
	if req != nil {
		notes = strings.TrimSpace(req.Notes)
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.JoinRequest{}).
			Where("id = ? AND status = ?", jr.ID, models.JoinRequestStatusPending).
			Updates(map[string]interface{}{
				"status":                    models.JoinRequestStatusApproved,
				"assigned_permission_level": string(level),
				"reviewer_id":               reviewerID,
				"reviewed_at":               now,
				"review_notes":              notes,
				"pending_key":               nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return response.NewConflict("join request has already been reviewed")
		}
		_, err := activateMember(tx, jr.CompanyID, jr.UserID, level, &reviewerID)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordJoinRequest("approved")
	audit(ctx, "JoinRequests", "Approve",
		fmt.Sprintf("join request %d from %s approved as %s", jr.ID, jr.Email, level),
		reviewerID, m.Company.ID, map[string]interface{}{"join_request_id": jr.ID, "user_id": jr.UserID, "assigned_level": level})

	jr.Status = models.JoinRequestStatusApproved
	jr.AssignedPermissionLevel = string(level)
	jr.ReviewerID = &reviewerID
	jr.ReviewedAt = &now
	jr.ReviewNotes = notes
	jr.PendingKey = nil
	return jr, nil
}

type RejectJoinRequest struct {
	Notes string `json:"reviewNotes"`
}

func (s *JoinRequestService) Reject(ctx context.Context, reviewerID, requestID uint, req *RejectJoinRequest) (*models.JoinRequest, error) {
	m, jr, err := s.loadForReview(ctx, reviewerID, requestID)
	if err != nil {
		return nil, err
	}
	notes := ""
	if req != nil {
		notes = strings.TrimSpace(req.Notes)
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.JoinRequest{}).
		Where("id = ? AND status = ?", jr.ID, models.JoinRequestStatusPending).
		Updates(map[string]interface{}{
			"status":       models.JoinRequestStatusRejected,
			"reviewer_id":  reviewerID,
			"reviewed_at":  now,
			"review_notes": notes,
			"pending_key":  nil,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("reject join request: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, response.NewConflict("join request has already been reviewed")
	}

	metrics.RecordJoinRequest("rejected")
	audit(ctx, "JoinRequests", "Reject",
		fmt.Sprintf("join request %d from %s rejected", jr.ID, jr.Email),
		reviewerID, m.Company.ID, map[string]interface{}{"join_request_id": jr.ID, "user_id": jr.UserID})

	jr.Status = models.JoinRequestStatusRejected
	jr.ReviewerID = &reviewerID
	jr.ReviewedAt = &now
	jr.ReviewNotes = notes
	jr.PendingKey = nil
	return jr, nil
}

type JoinRequestListRequest struct {
	Status string `form:"status"`
}

// List returns the requests addressed to the reviewer's company.
func (s *JoinRequestService) List(ctx context.Context, reviewerID uint, req *JoinRequestListRequest) ([]models.JoinRequest, error) {
	m, err := authorize(ctx, s.db, reviewerID, policy.ActionReviewJoinRequests)
	if err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Where("company_id = ?", m.Company.ID)
	if req != nil && req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	var requests []models.JoinRequest
	if err := query.Order("created_at DESC, id DESC").Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("list join requests: %w", err)
	}
	return requests, nil
}

// ListMine returns the requester's own requests with company names.
func (s *JoinRequestService) ListMine(ctx context.Context, userID uint) ([]models.JoinRequest, error) {
	var requests []models.JoinRequest
	err := s.db.WithContext(ctx).
		Preload("Company").
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("list join requests: %w", err)
	}
	return requests, nil
}

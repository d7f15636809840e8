package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/huangang/contractorhub/backend/internal/models"
	"github.com/huangang/contractorhub/backend/internal/policy"
	"github.com/huangang/contractorhub/backend/internal/utils"
	"github.com/huangang/contractorhub/backend/pkg/response"
	"gorm.io/gorm"
)

type CompanySummary struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type CompanyService struct {
	db *gorm.DB
}

func NewCompanyService(db *gorm.DB) *CompanyService {
	return &CompanyService{db: db}
}

// ListDirectory returns id and name of every company, for join requests.
func (s *CompanyService) ListDirectory(ctx context.Context, search string) ([]CompanySummary, error) {
	query := s.db.WithContext(ctx).Model(&models.Company{})
	if search = strings.TrimSpace(search); search != "" {
		query = query.Where("name LIKE ?", "%"+search+"%")
	}
	var out []CompanySummary
	if err := query.Select("id", "name").Order("name").Limit(200).Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	return out, nil
}

type CreateCompanyRequest struct {
	Name           string `json:"name" binding:"required"`
	Kind           string `json:"kind"` // individual, business
	OwnerEmail     string `json:"owner_email" binding:"required"`
	OwnerFirstName string `json:"owner_first_name"`
	OwnerLastName  string `json:"owner_last_name"`
}

// Credentials are returned once, for manual hand-off.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateCompanyResult struct {
	Company     *models.Company `json:"company"`
	Owner       MemberView      `json:"owner"`
	Credentials *Credentials    `json:"credentials,omitempty"`
}

// CreateWithOwner is the administrator path for creating a company together
// with its owner. A new owner account gets generated credentials.
func (s *CompanyService) CreateWithOwner(ctx context.Context, adminID uint, req *CreateCompanyRequest) (*CreateCompanyResult, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, response.NewBadRequest("name is required")
	}
	kind := req.Kind
	if kind == "" {
		kind = models.CompanyKindBusiness
	}
	var ownerRole policy.Role
	switch kind {
	case models.CompanyKindIndividual:
		ownerRole = policy.RoleIndividualOwner
	case models.CompanyKindBusiness:
		ownerRole = policy.RoleAccountOwner
	default:
		return nil, response.NewBadRequest("kind must be individual or business")
	}
	email := normalizeEmail(req.OwnerEmail)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, response.NewBadRequest("owner_email is not a valid email address")
	}

	result := &CreateCompanyResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner models.User
		err := tx.Where("email = ?", email).First(&owner).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			creds, user, err := createGeneratedUser(tx, email, req.OwnerFirstName, req.OwnerLastName)
			if err != nil {
				return err
			}
			owner = *user
			result.Credentials = creds
		case err != nil:
			return err
		default:
			busy, err := activeMembershipElsewhere(tx, owner.ID, 0)
			if err != nil {
				return err
			}
			if busy {
				return response.NewConflict("owner already belongs to a contractor company")
			}
		}

		company := models.Company{Name: name, Kind: kind, OwnerUserID: owner.ID}
		if err := tx.Create(&company).Error; err != nil {
			return err
		}
		member := models.TeamMember{
			CompanyID:       company.ID,
			UserID:          owner.ID,
			Role:            string(ownerRole),
			PermissionLevel: string(policy.LevelManager),
			IsActive:        true,
		}
		if err := tx.Create(&member).Error; err != nil {
			return err
		}
		result.Company = &company
		result.Owner = newMemberView(&member, &owner)
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit(ctx, "Companies", "Create",
		fmt.Sprintf("company %q created with owner %s", name, email),
		adminID, result.Company.ID, map[string]interface{}{"kind": kind})
	return result, nil
}

// createGeneratedUser creates an account with a generated username and a
// temporary password that must be changed on first login.
func createGeneratedUser(tx *gorm.DB, email, firstName, lastName string) (*Credentials, *models.User, error) {
	password, err := utils.GenerateTempPassword(16)
	if err != nil {
		return nil, nil, fmt.Errorf("generate password: %w", err)
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	username, err := allocateUsername(tx, email)
	if err != nil {
		return nil, nil, err
	}

	user := models.User{
		Username:           username,
		Password:           hashed,
		Email:              email,
		FirstName:          strings.TrimSpace(firstName),
		LastName:           strings.TrimSpace(lastName),
		Role:               "user",
		IsActive:           true,
		MustChangePassword: true,
	}
	if err := tx.Create(&user).Error; err != nil {
		return nil, nil, err
	}
	return &Credentials{Username: username, Password: password}, &user, nil
}

// allocateUsername derives an unused username from an e-mail address.
// Soft-deleted accounts still hold their names.
func allocateUsername(tx *gorm.DB, email string) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		name, err := utils.GenerateUsername(email)
		if err != nil {
			return "", fmt.Errorf("generate username: %w", err)
		}
		var taken int64
		if err := tx.Unscoped().Model(&models.User{}).Where("username = ?", name).Count(&taken).Error; err != nil {
			return "", err
		}
		if taken == 0 {
			return name, nil
		}
	}
	return "", errors.New("could not allocate a unique username")
}

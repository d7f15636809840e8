package services

import (
	"errors"
	"testing"

	"github.com/huangang/contractorhub/backend/internal/models"
	"github.com/huangang/contractorhub/backend/internal/policy"
	"github.com/huangang/contractorhub/backend/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWithOwner_NewAccount(t *testing.T) {
	db := newTestDB(t)
	svc := NewCompanyService(db)

	res, err := svc.CreateWithOwner(bg, 1, &CreateCompanyRequest{
		Name: "Solo Works", Kind: models.CompanyKindIndividual, OwnerEmail: "Sam@Solo.test", OwnerFirstName: "Sam",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Credentials)
	assert.GreaterOrEqual(t, len(res.Credentials.Password), 16)
	assert.Equal(t, string(policy.RoleIndividualOwner), res.Owner.Role)
	assert.Empty(t, res.Owner.PermissionLevel)
	assert.Equal(t, "sam@solo.test", res.Owner.Email)

	var company models.Company
	require.NoError(t, db.First(&company, res.Company.ID).Error)
	assert.Equal(t, res.Owner.UserID, company.OwnerUserID)
}

func TestCreateWithOwner_ExistingAccount(t *testing.T) {
	db := newTestDB(t)
	svc := NewCompanyService(db)
	user := createUser(t, db, "bea", "bea@biz.test")

	res, err := svc.CreateWithOwner(bg, 1, &CreateCompanyRequest{Name: "Bea Build", OwnerEmail: "bea@biz.test"})
	require.NoError(t, err)
	assert.Nil(t, res.Credentials)
	assert.Equal(t, user.ID, res.Owner.UserID)
	assert.Equal(t, string(policy.RoleAccountOwner), res.Owner.Role)

	_, err = svc.CreateWithOwner(bg, 1, &CreateCompanyRequest{Name: "Second", OwnerEmail: "bea@biz.test"})
	assert.True(t, errors.Is(err, response.ErrConflict), "owner already active: %v", err)
}

func TestCreateWithOwner_Validation(t *testing.T) {
	db := newTestDB(t)
	svc := NewCompanyService(db)

	tests := []struct {
		name string
		req  *CreateCompanyRequest
	}{
		{"blank name", &CreateCompanyRequest{Name: " ", OwnerEmail: "a@b.test"}},
		{"bad kind", &CreateCompanyRequest{Name: "X", Kind: "coop", OwnerEmail: "a@b.test"}},
		{"bad email", &CreateCompanyRequest{Name: "X", OwnerEmail: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateWithOwner(bg, 1, tt.req)
			assert.True(t, errors.Is(err, response.ErrValidation), "got %v", err)
		})
	}
}

func TestListDirectory(t *testing.T) {
	f := newTeamFixture(t)
	require.NoError(t, f.db.Create(&models.Company{Name: "Zeta Roofing", Kind: models.CompanyKindBusiness}).Error)
	svc := NewCompanyService(f.db)

	all, err := svc.ListDirectory(bg, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Acme Builders", all[0].Name)

	hits, err := svc.ListDirectory(bg, "roof")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Zeta Roofing", hits[0].Name)
}

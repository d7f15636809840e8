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

func TestListMembers(t *testing.T) {
	f := newTeamFixture(t)
	svc := NewTeamService(f.db)

	res, err := svc.ListMembers(bg, f.viewer.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Builders", res.Company.Name)
	require.Len(t, res.Members, 4)

	for _, m := range res.Members {
		if m.UserID == f.owner.ID {
			assert.Empty(t, m.PermissionLevel, "owners carry no permission level")
			assert.Equal(t, string(policy.RoleAccountOwner), m.Role)
		}
	}
	assert.False(t, res.Capabilities.CanInviteMembers)
	assert.False(t, res.Capabilities.CanManagePermissions)

	ownerView, err := svc.ListMembers(bg, f.owner.ID)
	require.NoError(t, err)
	assert.True(t, ownerView.Capabilities.CanTransferOwnership)

	outsider := createUser(t, f.db, "otto", "otto@else.test")
	_, err = svc.ListMembers(bg, outsider.ID)
	assert.True(t, errors.Is(err, response.ErrForbidden))
}

func TestUpdatePermissions(t *testing.T) {
	f := newTeamFixture(t)
	svc := NewTeamService(f.db)

	view, err := svc.UpdatePermissions(bg, f.owner.ID, &UpdatePermissionsRequest{UserID: f.viewer.ID, PermissionLevel: "editor"})
	require.NoError(t, err)
	assert.Equal(t, "editor", view.PermissionLevel)
	assert.Equal(t, "editor", f.member(t, f.viewer.ID).PermissionLevel)

	var logs int64
	f.db.Model(&models.SystemLog{}).Where("module = ? AND action = ?", "Team", "UpdatePermissions").Count(&logs)
	assert.Equal(t, int64(1), logs)
}

func TestUpdatePermissions_DemotedManagerBecomesTeamMember(t *testing.T) {
	f := newTeamFixture(t)
	svc := NewTeamService(f.db)

	_, err := svc.UpdatePermissions(bg, f.owner.ID, &UpdatePermissionsRequest{UserID: f.manager.ID, PermissionLevel: "viewer"})
	require.NoError(t, err)

	m := f.member(t, f.manager.ID)
	assert.Equal(t, string(policy.RoleTeamMember), m.Role)
	assert.Equal(t, "viewer", m.PermissionLevel)
}

func TestUpdatePermissions_Guards(t *testing.T) {
	f := newTeamFixture(t)
	svc := NewTeamService(f.db)

	tests := []struct {
		name   string
		caller uint
		req    *UpdatePermissionsRequest
		kind   error
	}{
		{"manager cannot edit", f.manager.ID, &UpdatePermissionsRequest{UserID: f.viewer.ID, PermissionLevel: "editor"}, response.ErrForbidden},
		{"owner target", f.owner.ID, &UpdatePermissionsRequest{UserID: f.owner.ID, PermissionLevel: "viewer"}, response.ErrForbidden},
		{"unknown level", f.owner.ID, &UpdatePermissionsRequest{UserID: f.viewer.ID, PermissionLevel: "root"}, response.ErrValidation},
		{"not a member", f.owner.ID, &UpdatePermissionsRequest{UserID: 9999, PermissionLevel: "viewer"}, response.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdatePermissions(bg, tt.caller, tt.req)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
	assert.Equal(t, "viewer", f.member(t, f.viewer.ID).PermissionLevel)
}

func TestTransferOwnership(t *testing.T) {
	f := newTeamFixture(t)
	svc := NewTeamService(f.db)

	res, err := svc.TransferOwnership(bg, f.owner.ID, &TransferOwnershipRequest{NewOwnerID: f.editor.ID})
	require.NoError(t, err)
	assert.Equal(t, string(policy.RoleManager), res.PreviousOwner.Role)
	assert.Equal(t, string(policy.RoleAccountOwner), res.NewOwner.Role)

	assert.Equal(t, string(policy.RoleManager), f.member(t, f.owner.ID).Role)
	assert.Equal(t, string(policy.RoleAccountOwner), f.member(t, f.editor.ID).Role)

	var company models.Company
	require.NoError(t, f.db.First(&company, f.company.ID).Error)
	assert.Equal(t, f.editor.ID, company.OwnerUserID)

	var owners int64
	f.db.Model(&models.TeamMember{}).
		Where("company_id = ? AND role IN ? AND is_active = ?", f.company.ID,
			[]string{string(policy.RoleAccountOwner), string(policy.RoleIndividualOwner)}, true).
		Count(&owners)
	assert.Equal(t, int64(1), owners)

	// The former owner lost the right to transfer.
	_, err = svc.TransferOwnership(bg, f.owner.ID, &TransferOwnershipRequest{NewOwnerID: f.viewer.ID})
	assert.True(t, errors.Is(err, response.ErrForbidden), "got %v", err)
}

func TestTransferOwnership_Guards(t *testing.T) {
	f := newTeamFixture(t)
	svc := NewTeamService(f.db)

	_, err := svc.TransferOwnership(bg, f.owner.ID, &TransferOwnershipRequest{NewOwnerID: f.owner.ID})
	assert.True(t, errors.Is(err, response.ErrValidation), "self: %v", err)

	_, err = svc.TransferOwnership(bg, f.manager.ID, &TransferOwnershipRequest{NewOwnerID: f.viewer.ID})
	assert.True(t, errors.Is(err, response.ErrForbidden), "manager: %v", err)

	require.NoError(t, svc.DeleteMember(bg, f.owner.ID, &DeleteMemberRequest{UserID: f.viewer.ID}))
	_, err = svc.TransferOwnership(bg, f.owner.ID, &TransferOwnershipRequest{NewOwnerID: f.viewer.ID})
	assert.True(t, errors.Is(err, response.ErrNotFound), "inactive target: %v", err)

	assert.Equal(t, string(policy.RoleAccountOwner), f.member(t, f.owner.ID).Role)
}

func TestTransferOwnership_StaleCompanyRollsBack(t *testing.T) {
	f := newTeamFixture(t)
	svc := NewTeamService(f.db)

	// Company row points elsewhere, so the last conditional write misses.
	require.NoError(t, f.db.Model(&models.Company{}).Where("id = ?", f.company.ID).Update("owner_user_id", f.manager.ID).Error)

	_, err := svc.TransferOwnership(bg, f.owner.ID, &TransferOwnershipRequest{NewOwnerID: f.editor.ID})
	assert.True(t, errors.Is(err, response.ErrConflict), "got %v", err)

	assert.Equal(t, string(policy.RoleAccountOwner), f.member(t, f.owner.ID).Role)
	assert.Equal(t, string(policy.RoleTeamMember), f.member(t, f.editor.ID).Role)
}

func TestDeleteMember(t *testing.T) {
	f := newTeamFixture(t)
	svc := NewTeamService(f.db)

	require.NoError(t, svc.DeleteMember(bg, f.manager.ID, &DeleteMemberRequest{UserID: f.viewer.ID}))
	m := f.member(t, f.viewer.ID)
	assert.False(t, m.IsActive)
	assert.NotNil(t, m.DeactivatedAt)

	list, err := svc.ListMembers(bg, f.owner.ID)
	require.NoError(t, err)
	assert.Len(t, list.Members, 3)

	// Removed members lose access immediately.
	_, err = svc.ListMembers(bg, f.viewer.ID)
	assert.True(t, errors.Is(err, response.ErrForbidden))
}

func TestDeleteMember_Guards(t *testing.T) {
	f := newTeamFixture(t)
	svc := NewTeamService(f.db)

	tests := []struct {
		name   string
		caller uint
		target uint
		kind   error
	}{
		{"owner is never removable", f.manager.ID, f.owner.ID, response.ErrForbidden},
		{"no self removal", f.manager.ID, f.manager.ID, response.ErrForbidden},
		{"editor lacks rights", f.editor.ID, f.viewer.ID, response.ErrForbidden},
		{"unknown target", f.owner.ID, 4242, response.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.DeleteMember(bg, tt.caller, &DeleteMemberRequest{UserID: tt.target})
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}

	second := createUser(t, f.db, "mona", "mona@acme.test")
	addMember(t, f.db, f.company.ID, second.ID, policy.RoleTeamMember, policy.LevelManager)

	err := svc.DeleteMember(bg, f.manager.ID, &DeleteMemberRequest{UserID: second.ID})
	assert.True(t, errors.Is(err, response.ErrForbidden), "manager-level target needs the owner: %v", err)
	assert.NoError(t, svc.DeleteMember(bg, f.owner.ID, &DeleteMemberRequest{UserID: second.ID}))
}

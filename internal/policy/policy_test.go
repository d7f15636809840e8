package policy

import "testing"

func actor(role Role, level PermissionLevel) Actor {
	return Actor{UserID: 1, Role: role, PermissionLevel: level, IsActive: true}
}

func TestAllow_TruthTable(t *testing.T) {
	type row struct {
		invite, manage, del, transfer, review, upload bool
	}
	tests := []struct {
		name  string
		actor Actor
		want  row
	}{
		{"individual owner", actor(RoleIndividualOwner, LevelManager), row{true, true, true, true, true, true}},
		{"account owner", actor(RoleAccountOwner, LevelManager), row{true, true, true, true, true, true}},
		{"manager", actor(RoleManager, LevelManager), row{true, false, true, false, true, true}},
		{"team member manager level", actor(RoleTeamMember, LevelManager), row{true, false, true, false, true, true}},
		{"team member editor", actor(RoleTeamMember, LevelEditor), row{false, false, false, false, false, true}},
		{"team member viewer", actor(RoleTeamMember, LevelViewer), row{false, false, false, false, false, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := row{
				invite:   Allow(tt.actor, ActionInviteMembers),
				manage:   Allow(tt.actor, ActionManagePermissions),
				del:      Allow(tt.actor, ActionDeleteMembers),
				transfer: Allow(tt.actor, ActionTransferOwnership),
				review:   Allow(tt.actor, ActionReviewJoinRequests),
				upload:   Allow(tt.actor, ActionUploadDocuments),
			}
			if got != tt.want {
				t.Errorf("Allow() = %+v, expected %+v", got, tt.want)
			}
			if !Allow(tt.actor, ActionViewTeam) {
				t.Error("every active member can view the team")
			}
		})
	}
}

func TestAllow_InactiveDeniedEverything(t *testing.T) {
	a := actor(RoleAccountOwner, LevelManager)
	a.IsActive = false

	actions := []Action{
		ActionViewTeam, ActionInviteMembers, ActionManagePermissions, ActionDeleteMembers,
		ActionTransferOwnership, ActionReviewJoinRequests, ActionViewDocuments,
		ActionUploadDocuments, ActionDeleteDocuments,
	}
	for _, action := range actions {
		if Allow(a, action) {
			t.Errorf("inactive owner allowed %s", action)
		}
	}
}

func TestAllow_UnknownRoleAndAction(t *testing.T) {
	if Allow(Actor{Role: "superuser", PermissionLevel: LevelManager, IsActive: true}, ActionInviteMembers) {
		t.Error("unknown role must be denied")
	}
	if Allow(actor(RoleAccountOwner, LevelManager), Action("launch_rockets")) {
		t.Error("unknown action must be denied")
	}
}

func TestCanRemove(t *testing.T) {
	owner := actor(RoleAccountOwner, LevelManager)
	manager := actor(RoleManager, LevelManager)
	manager.UserID = 2
	viewer := actor(RoleTeamMember, LevelViewer)
	viewer.UserID = 3

	tests := []struct {
		name   string
		actor  Actor
		target Target
		want   bool
	}{
		{"owner removes editor", owner, Target{UserID: 9, Role: RoleTeamMember, PermissionLevel: LevelEditor}, true},
		{"owner removes manager", owner, Target{UserID: 9, Role: RoleManager, PermissionLevel: LevelManager}, true},
		{"manager removes viewer", manager, Target{UserID: 9, Role: RoleTeamMember, PermissionLevel: LevelViewer}, true},
		{"manager cannot remove manager", manager, Target{UserID: 9, Role: RoleManager, PermissionLevel: LevelManager}, false},
		{"manager cannot remove manager-level member", manager, Target{UserID: 9, Role: RoleTeamMember, PermissionLevel: LevelManager}, false},
		{"nobody removes an owner", manager, Target{UserID: 1, Role: RoleAccountOwner}, false},
		{"owner cannot remove self", owner, Target{UserID: 1, Role: RoleAccountOwner}, false},
		{"manager cannot remove self", manager, Target{UserID: 2, Role: RoleManager, PermissionLevel: LevelManager}, false},
		{"viewer cannot remove", viewer, Target{UserID: 9, Role: RoleTeamMember, PermissionLevel: LevelViewer}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanRemove(tt.actor, tt.target); got != tt.want {
				t.Errorf("CanRemove() = %v, expected %v", got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	if _, err := ParseRole("account_owner"); err != nil {
		t.Errorf("ParseRole(account_owner) error = %v", err)
	}
	if _, err := ParseRole("owner"); err == nil {
		t.Error("ParseRole(owner) should fail")
	}
	if _, err := ParsePermissionLevel("editor"); err != nil {
		t.Errorf("ParsePermissionLevel(editor) error = %v", err)
	}
	if _, err := ParsePermissionLevel("admin"); err == nil {
		t.Error("ParsePermissionLevel(admin) should fail")
	}
}

func TestPermissionLevel_AtLeast(t *testing.T) {
	if !LevelManager.AtLeast(LevelEditor) {
		t.Error("manager >= editor")
	}
	if LevelViewer.AtLeast(LevelEditor) {
		t.Error("viewer < editor")
	}
	if PermissionLevel("").AtLeast(LevelViewer) {
		t.Error("empty level is below everything")
	}
}

func TestCapabilitiesOf_And_DisplayLevel(t *testing.T) {
	caps := CapabilitiesOf(actor(RoleTeamMember, LevelManager))
	if !caps.CanInviteMembers || caps.CanManagePermissions {
		t.Errorf("unexpected capabilities %+v", caps)
	}
	if DisplayLevel(RoleIndividualOwner, LevelManager) != "" {
		t.Error("owner level must be hidden")
	}
	if DisplayLevel(RoleTeamMember, LevelEditor) != "editor" {
		t.Error("member level must be shown")
	}
}

// Package policy is the single authorization policy for company team
// operations. Handlers and services ask Allow or CanRemove; nothing else
// compares roles directly.
package policy

import "fmt"

type Role string

const (
	RoleIndividualOwner Role = "individual_owner"
	RoleAccountOwner    Role = "account_owner"
	RoleManager         Role = "manager"
	RoleTeamMember      Role = "team_member"
)

func (r Role) IsOwner() bool {
	return r == RoleIndividualOwner || r == RoleAccountOwner
}

func (r Role) Valid() bool {
	switch r {
	case RoleIndividualOwner, RoleAccountOwner, RoleManager, RoleTeamMember:
		return true
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q", s)
	}
	return r, nil
}

type PermissionLevel string

const (
	LevelViewer  PermissionLevel = "viewer"
	LevelEditor  PermissionLevel = "editor"
	LevelManager PermissionLevel = "manager"
)

func (l PermissionLevel) rank() int {
	switch l {
	case LevelViewer:
		return 1
	case LevelEditor:
		return 2
	case LevelManager:
		return 3
	}
	return 0
}

func (l PermissionLevel) Valid() bool { return l.rank() > 0 }

// AtLeast reports whether l is the same as or above other.
func (l PermissionLevel) AtLeast(other PermissionLevel) bool {
	return l.Valid() && l.rank() >= other.rank()
}

func ParsePermissionLevel(s string) (PermissionLevel, error) {
	l := PermissionLevel(s)
	if !l.Valid() {
		return "", fmt.Errorf("invalid permission level %q", s)
	}
	return l, nil
}

type Action string

const (
	ActionViewTeam           Action = "view_team"
	ActionInviteMembers      Action = "invite_members"
	ActionManagePermissions  Action = "manage_permissions"
	ActionDeleteMembers      Action = "delete_members"
	ActionTransferOwnership  Action = "transfer_ownership"
	ActionReviewJoinRequests Action = "review_join_requests"
	ActionViewDocuments      Action = "view_documents"
	ActionUploadDocuments    Action = "upload_documents"
	ActionDeleteDocuments    Action = "delete_documents"
)

// Actor is the caller as loaded from its membership row at call time.
type Actor struct {
	UserID          uint
	Role            Role
	PermissionLevel PermissionLevel
	IsActive        bool
}

// hasTeamAdmin covers manager role and team members holding manager level.
func (a Actor) hasTeamAdmin() bool {
	if a.Role.IsOwner() || a.Role == RoleManager {
		return true
	}
	return a.Role == RoleTeamMember && a.PermissionLevel == LevelManager
}

// Allow reports whether actor may perform action. Inactive actors and
// unknown roles are denied everything.
func Allow(a Actor, action Action) bool {
	if !a.IsActive || !a.Role.Valid() {
		return false
	}
	switch action {
	case ActionViewTeam, ActionViewDocuments:
		return true
	case ActionInviteMembers, ActionDeleteMembers, ActionReviewJoinRequests:
		return a.hasTeamAdmin()
	case ActionManagePermissions, ActionTransferOwnership:
		return a.Role.IsOwner()
	case ActionUploadDocuments, ActionDeleteDocuments:
		return a.Role.IsOwner() || a.Role == RoleManager || a.PermissionLevel.AtLeast(LevelEditor)
	}
	return false
}

// Target is the member a removal is aimed at.
type Target struct {
	UserID          uint
	Role            Role
	PermissionLevel PermissionLevel
}

func (t Target) managerLevel() bool {
	return t.Role == RoleManager || t.PermissionLevel == LevelManager
}

// CanRemove applies the member-removal rules on top of ActionDeleteMembers:
// owners are never removable, nobody removes themselves and manager-level
// targets can only be removed by an owner.
func CanRemove(a Actor, t Target) bool {
	if !Allow(a, ActionDeleteMembers) {
		return false
	}
	if t.Role.IsOwner() || t.UserID == a.UserID {
		return false
	}
	if t.managerLevel() && !a.Role.IsOwner() {
		return false
	}
	return true
}

// Capabilities is the boolean set clients use to gate UI controls.
type Capabilities struct {
	CanInviteMembers      bool `json:"can_invite_members"`
	CanManagePermissions  bool `json:"can_manage_permissions"`
	CanDeleteMembers      bool `json:"can_delete_members"`
	CanTransferOwnership  bool `json:"can_transfer_ownership"`
	CanReviewJoinRequests bool `json:"can_review_join_requests"`
	CanUploadDocuments    bool `json:"can_upload_documents"`
}

func CapabilitiesOf(a Actor) Capabilities {
	return Capabilities{
		CanInviteMembers:      Allow(a, ActionInviteMembers),
		CanManagePermissions:  Allow(a, ActionManagePermissions),
		CanDeleteMembers:      Allow(a, ActionDeleteMembers),
		CanTransferOwnership:  Allow(a, ActionTransferOwnership),
		CanReviewJoinRequests: Allow(a, ActionReviewJoinRequests),
		CanUploadDocuments:    Allow(a, ActionUploadDocuments),
	}
}

// DisplayLevel hides the permission level of owners.
func DisplayLevel(r Role, l PermissionLevel) string {
	if r.IsOwner() {
		return ""
	}
	return string(l)
}

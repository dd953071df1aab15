package rbac

type Role string
type Action string

const (
	RoleMember Role = "member"
	RoleOwner  Role = "owner"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionInvite Action = "invite"
	// ActionManage covers renaming and deleting the project itself.
	ActionManage Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionWrite || action == ActionInvite
	default:
		return false
	}
}

// Normalize maps a stored role to a known one. Unknown or empty values grant
// nothing.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleOwner:
		return Role(role)
	default:
		return ""
	}
}

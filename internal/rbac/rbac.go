package rbac

type Role string
type Action string

const (
	RoleVisitor Role = "visitor"
	RoleMember  Role = "member"
	RoleOwner   Role = "owner"
)

const (
	ActionView       Action = "view"
	ActionEditValues Action = "edit_values"
	ActionEditSpace  Action = "edit_space"
	ActionManage     Action = "manage"
	ActionDelete     Action = "delete"
)

// Can is the capability ceiling for a role. Whether a member may
// actually edit grid values additionally depends on the space's
// configured tier; Can only rules out what a role can never do.
func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleMember:
		return action == ActionView || action == ActionEditValues
	case RoleVisitor:
		return action == ActionView || action == ActionEditValues
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleVisitor, RoleMember, RoleOwner:
		return Role(role)
	default:
		return RoleVisitor
	}
}

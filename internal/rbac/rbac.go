package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	// ActionRead covers items, history, comparisons, search and activity.
	ActionRead Action = "read"
	// ActionWrite covers saving, deleting and reverting items.
	ActionWrite Action = "write"
	// ActionAdmin covers retention cleanup and archiving.
	ActionAdmin Action = "admin"
)

var grants = map[Role]map[Action]bool{
	RoleViewer: {ActionRead: true},
	RoleEditor: {ActionRead: true, ActionWrite: true},
	RoleAdmin:  {ActionRead: true, ActionWrite: true, ActionAdmin: true},
}

func Can(role Role, action Action) bool {
	return grants[role][action]
}

// Normalize maps unknown or empty roles to viewer.
func Normalize(role string) Role {
	if _, ok := grants[Role(role)]; ok {
		return Role(role)
	}
	return RoleViewer
}

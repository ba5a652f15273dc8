package rbac

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionManageRestrictions covers reading and replacing entity
	// restrictions. It is never granted through a restriction itself.
	ActionManageRestrictions Action = "restrictions-manage"
)

// Any matches every object or every action in a grant.
const Any = "*"

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

// Grant is one default policy line: role may perform action on object.
type Grant struct {
	Role   Role
	Object string
	Action Action
}

func Grants() []Grant {
	return []Grant{
		{Role: RoleViewer, Object: Any, Action: ActionView},
		{Role: RoleEditor, Object: Any, Action: ActionCreate},
		{Role: RoleEditor, Object: Any, Action: ActionUpdate},
		{Role: RoleEditor, Object: Any, Action: ActionDelete},
		{Role: RoleAdmin, Object: Any, Action: Any},
	}
}

// Inherits maps a role to the role whose grants it also receives.
func Inherits() map[Role]Role {
	return map[Role]Role{
		RoleEditor: RoleViewer,
		RoleAdmin:  RoleEditor,
	}
}

func Roles() []Role {
	return []Role{RoleViewer, RoleEditor, RoleAdmin}
}

// EntityActions are the actions a restriction can grant on content.
func EntityActions() []Action {
	return []Action{ActionView, ActionCreate, ActionUpdate, ActionDelete}
}

func Normalize(role string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(role))) {
	case RoleEditor:
		return RoleEditor
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleViewer
	}
}

func ParseAction(raw string) (Action, bool) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range EntityActions() {
		if action == known {
			return action, true
		}
	}
	return "", false
}

// NewEnforcer builds the role defaults as an in-memory casbin enforcer.
func NewEnforcer() (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("rbac: parse model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("rbac: init enforcer: %w", err)
	}
	for _, grant := range Grants() {
		if _, err := enforcer.AddPolicy(string(grant.Role), grant.Object, string(grant.Action)); err != nil {
			return nil, fmt.Errorf("rbac: add grant %s: %w", grant.Role, err)
		}
	}
	for role, parent := range Inherits() {
		if _, err := enforcer.AddGroupingPolicy(string(role), string(parent)); err != nil {
			return nil, fmt.Errorf("rbac: add inheritance %s: %w", role, err)
		}
	}
	return enforcer, nil
}

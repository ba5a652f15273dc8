package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnforcerDefaults(t *testing.T) {
	enforcer, err := NewEnforcer()
	require.NoError(t, err)

	cases := []struct {
		name   string
		role   Role
		object string
		action Action
		allow  bool
	}{
		{name: "viewer view", role: RoleViewer, object: "book", action: ActionView, allow: true},
		{name: "viewer update", role: RoleViewer, object: "book", action: ActionUpdate, allow: false},
		{name: "editor update", role: RoleEditor, object: "chapter", action: ActionUpdate, allow: true},
		{name: "editor inherits view", role: RoleEditor, object: "page", action: ActionView, allow: true},
		{name: "editor restrictions", role: RoleEditor, object: "book", action: ActionManageRestrictions, allow: false},
		{name: "admin restrictions", role: RoleAdmin, object: "book", action: ActionManageRestrictions, allow: true},
		{name: "unknown role", role: Role("guest"), object: "book", action: ActionView, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := enforcer.Enforce(string(tc.role), tc.object, string(tc.action))
			require.NoError(t, err)
			if got != tc.allow {
				t.Fatalf("Enforce(%q, %q, %q) = %v, want %v", tc.role, tc.object, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	require.Equal(t, RoleAdmin, Normalize(" Admin "))
	require.Equal(t, RoleEditor, Normalize("editor"))
	require.Equal(t, RoleViewer, Normalize("commenter"))
}

func TestParseAction(t *testing.T) {
	action, ok := ParseAction("UPDATE")
	require.True(t, ok)
	require.Equal(t, ActionUpdate, action)

	_, ok = ParseAction(string(ActionManageRestrictions))
	require.False(t, ok)
}

package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionManage, true},
		{RoleAdmin, ActionPost, true},
		{RoleMember, ActionRead, true},
		{RoleMember, ActionPost, true},
		{RoleMember, ActionManage, false},
		{Role("ghost"), ActionRead, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("admin") != RoleAdmin {
		t.Fatal("admin should normalize to RoleAdmin")
	}
	if Normalize("") != RoleMember {
		t.Fatal("unknown roles should normalize to RoleMember")
	}
}

package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/prestabot/prestabot/internal/store"
)

// fakeDirectory backs the router with in-memory records.
type fakeDirectory struct {
	members map[string]*store.Member
	users   map[string]*store.User

	memberErr error
	userErr   error
}

func (f *fakeDirectory) MemberByPhone(_ context.Context, phone string) (*store.Member, error) {
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	return f.members[phone], nil
}

func (f *fakeDirectory) UserByPhone(_ context.Context, phone string) (*store.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.users[phone], nil
}

func newFake() *fakeDirectory {
	return &fakeDirectory{
		members: make(map[string]*store.Member),
		users:   make(map[string]*store.User),
	}
}

func TestRouteGuest(t *testing.T) {
	r := NewRouter(newFake(), "1", nil)

	out, err := r.Route(context.Background(), "+18091234567")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if out.Kind != KindGuest {
		t.Errorf("Kind = %v, want guest", out.Kind)
	}
	if out.Phone != "+18091234567" {
		t.Errorf("Phone = %q, want canonical form", out.Phone)
	}
}

func TestRouteMemberIgnored(t *testing.T) {
	dir := newFake()
	dir.members["+18091234567"] = &store.Member{ID: "m-1", Phone: "+18091234567"}
	r := NewRouter(dir, "1", nil)

	out, err := r.Route(context.Background(), "809 123 4567")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if out.Kind != KindIgnored {
		t.Errorf("Kind = %v, want ignored", out.Kind)
	}
	if out.Reason != "registered member" {
		t.Errorf("Reason = %q, want %q", out.Reason, "registered member")
	}
}

func TestMemberPrecedenceOverStaff(t *testing.T) {
	// A phone that is both member and staff must resolve as member:
	// customer records always win.
	dir := newFake()
	dir.members["+18091234567"] = &store.Member{ID: "m-1"}
	dir.users["+18091234567"] = &store.User{ID: "u-1", Roles: []string{"ADMIN"}}
	r := NewRouter(dir, "1", nil)

	out, err := r.Route(context.Background(), "+18091234567")
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindIgnored || out.Reason != "registered member" {
		t.Errorf("got %+v, want ignored member outcome", out)
	}
}

func TestRouteDisabledStaff(t *testing.T) {
	dir := newFake()
	dir.users["+18092222222"] = &store.User{ID: "u-1", Disabled: true, Roles: []string{"COLLECTOR"}}
	r := NewRouter(dir, "1", nil)

	out, err := r.Route(context.Background(), "+18092222222")
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindIgnored {
		t.Errorf("Kind = %v, want ignored", out.Kind)
	}
	if out.Reason != "user is disabled" {
		t.Errorf("Reason = %q, want %q", out.Reason, "user is disabled")
	}
}

func TestRouteStaffWithoutRecognizedRole(t *testing.T) {
	// An enabled staff record with no usable role must not fall through
	// to the guest flow.
	dir := newFake()
	dir.users["+18094444444"] = &store.User{ID: "u-2", Roles: []string{"AUDITOR"}}
	r := NewRouter(dir, "1", nil)

	out, err := r.Route(context.Background(), "+18094444444")
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindIgnored {
		t.Errorf("Kind = %v, want ignored", out.Kind)
	}
	if out.Reason != "user has no recognized role" {
		t.Errorf("Reason = %q", out.Reason)
	}
}

func TestRolePrecedence(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  Role
	}{
		{"admin wins over collector", []string{"ADMIN", "COLLECTOR"}, RoleAdmin},
		{"collector wins over referrer", []string{"COLLECTOR", "REFERRER"}, RoleCollector},
		{"referrer alone maps to collector", []string{"REFERRER"}, RoleCollector},
		{"admin alone", []string{"ADMIN"}, RoleAdmin},
		{"case insensitive", []string{"admin"}, RoleAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newFake()
			dir.users["+18093333333"] = &store.User{ID: "u-9", Roles: tt.roles}
			r := NewRouter(dir, "1", nil)

			out, err := r.Route(context.Background(), "+18093333333")
			if err != nil {
				t.Fatal(err)
			}
			if out.Kind != KindStaff {
				t.Fatalf("Kind = %v, want staff", out.Kind)
			}
			if out.Role != tt.want {
				t.Errorf("Role = %v, want %v", out.Role, tt.want)
			}
			if out.UserID != "u-9" {
				t.Errorf("UserID = %q, want u-9", out.UserID)
			}
		})
	}
}

func TestLookupErrorsPropagate(t *testing.T) {
	dir := newFake()
	dir.memberErr = errors.New("db down")
	r := NewRouter(dir, "1", nil)

	if _, err := r.Route(context.Background(), "+18091234567"); !errors.Is(err, dir.memberErr) {
		t.Errorf("member lookup error not propagated: %v", err)
	}

	dir.memberErr = nil
	dir.userErr = errors.New("db down later")
	if _, err := r.Route(context.Background(), "+18091234567"); !errors.Is(err, dir.userErr) {
		t.Errorf("user lookup error not propagated: %v", err)
	}
}

func TestRouteBadPhone(t *testing.T) {
	r := NewRouter(newFake(), "1", nil)
	if _, err := r.Route(context.Background(), "not-a-phone"); err == nil {
		t.Error("expected error for unnormalizable phone")
	}
}

package tools

import "github.com/prestabot/prestabot/internal/identity"

// Context carries the trust boundary for a tool call: who is asking,
// with what role, from which phone. It is constructed exclusively from
// the identity router's outcome by the caller. A handler that needs
// to know "who is asking" reads it here and never trusts a same-named
// argument supplied by the model.
type Context struct {
	Phone  string
	UserID string
	Role   identity.Role
}

// NewContext derives a trust context from a routing outcome.
func NewContext(out identity.Outcome) *Context {
	return &Context{
		Phone:  out.Phone,
		UserID: out.UserID,
		Role:   out.Role,
	}
}

// StaffID returns the asking staff member's id, or false when the call
// carries no staff identity.
func (c *Context) StaffID() (string, bool) {
	if c == nil || c.UserID == "" {
		return "", false
	}
	return c.UserID, true
}

// IsAdmin reports whether the caller holds the administrative role.
func (c *Context) IsAdmin() bool {
	return c != nil && c.Role == identity.RoleAdmin
}

// Package identity resolves an inbound phone number to the party that
// should handle it: an unregistered guest, a staff operator with a
// role, or a registered member whose agent traffic is ignored.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prestabot/prestabot/internal/phone"
	"github.com/prestabot/prestabot/internal/store"
)

// Kind discriminates the routing outcome.
type Kind int

const (
	// KindGuest means no member or staff record exists for the phone.
	KindGuest Kind = iota
	// KindStaff means the phone belongs to an enabled staff account.
	KindStaff
	// KindIgnored means the phone belongs to a registered member or a
	// disabled staff account; the agent must not engage.
	KindIgnored
)

func (k Kind) String() string {
	switch k {
	case KindGuest:
		return "guest"
	case KindStaff:
		return "staff"
	case KindIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Role is the effective staff role after precedence resolution.
type Role int

const (
	RoleNone Role = iota
	RoleCollector
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleCollector:
		return "collector"
	default:
		return "none"
	}
}

// Role names as stored in user_roles.
const (
	roleNameAdmin     = "ADMIN"
	roleNameCollector = "COLLECTOR"
	roleNameReferrer  = "REFERRER"
)

// Outcome is the routing result for one phone number. Exactly one Kind
// is produced per lookup; member records take precedence over staff
// records when both exist for the same phone.
type Outcome struct {
	Kind   Kind
	Phone  string // canonical form
	UserID string // staff only
	Role   Role   // staff only
	Reason string // ignored only
}

// Directory provides the two lookups the router performs. A nil record
// with nil error means "not found"; errors are lookup failures and are
// propagated unmodified.
type Directory interface {
	MemberByPhone(ctx context.Context, phone string) (*store.Member, error)
	UserByPhone(ctx context.Context, phone string) (*store.User, error)
}

// Router maps phone numbers to outcomes.
type Router struct {
	dir     Directory
	country string
	logger  *slog.Logger
}

// NewRouter creates an identity router. country is the default country
// code used to canonicalize bare national numbers.
func NewRouter(dir Directory, country string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{dir: dir, country: country, logger: logger}
}

// Route resolves a phone number. Lookup failures propagate unmodified:
// misrouting a staff or disabled number as a guest would be a safety
// defect, so there is no retry and no fallback.
func (r *Router) Route(ctx context.Context, rawPhone string) (Outcome, error) {
	canonical, err := phone.Normalize(rawPhone, r.country)
	if err != nil {
		return Outcome{}, fmt.Errorf("normalize phone: %w", err)
	}

	member, err := r.dir.MemberByPhone(ctx, canonical)
	if err != nil {
		return Outcome{}, err
	}
	if member != nil {
		// Registered members talk to their collector, not the agent.
		// Reported (not silently dropped) so callers can audit.
		return Outcome{
			Kind:   KindIgnored,
			Phone:  canonical,
			Reason: "registered member",
		}, nil
	}

	user, err := r.dir.UserByPhone(ctx, canonical)
	if err != nil {
		return Outcome{}, err
	}
	if user != nil {
		if user.Disabled {
			return Outcome{
				Kind:   KindIgnored,
				Phone:  canonical,
				Reason: "user is disabled",
			}, nil
		}
		role := effectiveRole(user.Roles)
		if role == RoleNone {
			// A staff phone must never reach the guest onboarding flow,
			// even misconfigured. Ignore it and make noise instead.
			r.logger.Warn("staff user has no recognized role",
				"user_id", user.ID,
				"roles", user.Roles,
			)
			return Outcome{
				Kind:   KindIgnored,
				Phone:  canonical,
				Reason: "user has no recognized role",
			}, nil
		}
		return Outcome{
			Kind:   KindStaff,
			Phone:  canonical,
			UserID: user.ID,
			Role:   role,
		}, nil
	}

	return Outcome{Kind: KindGuest, Phone: canonical}, nil
}

// effectiveRole applies the fixed precedence ADMIN > COLLECTOR >
// REFERRER. Referrers have no dedicated handling path and get
// collector-equivalent handling.
func effectiveRole(roles []string) Role {
	best := RoleNone
	for _, raw := range roles {
		switch strings.ToUpper(strings.TrimSpace(raw)) {
		case roleNameAdmin:
			return RoleAdmin
		case roleNameCollector, roleNameReferrer:
			if best < RoleCollector {
				best = RoleCollector
			}
		}
	}
	return best
}

package authz

import (
	"fmt"

	"hourline/internal/domain"
)

// Principal is the immutable capability object the identity resolver
// produces once per request. The engine never re-resolves roles mid-flight;
// every check reads from this value.
type Principal struct {
	ActorID  string
	Role     string
	ClientID string
	MemberID string
	Source   string
}

// ForbiddenError indicates a valid identity without the right role.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role not permitted to %s", e.Action)
}

func (p Principal) IsAdmin() bool  { return p.Role == domain.RoleAdmin }
func (p Principal) IsClient() bool { return p.Role == domain.RoleClient }
func (p Principal) IsMember() bool { return p.Role == domain.RoleMember }

// OwnsClient reports whether the principal acts for the given client.
func (p Principal) OwnsClient(clientID string) bool {
	return p.IsClient() && p.ClientID != "" && p.ClientID == clientID
}

// OwnsMember reports whether the principal acts as the given member.
func (p Principal) OwnsMember(memberID string) bool {
	return p.IsMember() && p.MemberID != "" && p.MemberID == memberID
}

// RequireAdmin gates admin-only operations.
func RequireAdmin(p Principal, action string) error {
	if !p.IsAdmin() {
		return ForbiddenError{Action: action}
	}
	return nil
}

// RequireClient gates client-only operations.
func RequireClient(p Principal, action string) error {
	if !p.IsClient() {
		return ForbiddenError{Action: action}
	}
	return nil
}

// RequireMember gates member-only operations.
func RequireMember(p Principal, action string) error {
	if !p.IsMember() {
		return ForbiddenError{Action: action}
	}
	return nil
}

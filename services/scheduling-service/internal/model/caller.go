package model

// Role is the closed set of caller roles supplied by the identity service.
type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleClient, RoleProvider, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// Caller is the authenticated identity threaded explicitly through every
// operation; the engine never reads auth state from ambient context.
type Caller struct {
	ID            string
	Role          Role
	EmailVerified bool
}

// CanManage reports whether the caller may mutate the appointment:
// admins always, the booking client, or the booked provider. The caller's
// provider id must already be resolved via the directory collaborator.
func (c Caller) CanManage(appt *Appointment, callerProviderID string) bool {
	if c.Role == RoleAdmin {
		return true
	}
	if c.ID != "" && c.ID == appt.ClientID {
		return true
	}
	return callerProviderID != "" && callerProviderID == appt.ProviderID
}

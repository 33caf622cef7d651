package domain

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Actor is the authenticated caller as resolved by the identity provider.
type Actor struct {
	ProfileID string
	Role      Role
}

func (a Actor) Authenticated() bool {
	return a.ProfileID != ""
}

func (a Actor) IsAdmin() bool {
	return a.Authenticated() && a.Role == RoleAdmin
}

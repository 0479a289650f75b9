package auth

// Role is a coarse access level. USER is the default low-privilege role.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleDoctor     Role = "DOCTOR"
	RoleNurse      Role = "NURSE"
	RolePatient    Role = "PATIENT"
	RoleUser       Role = "USER"
	// RolePharmacist gates DUR overrides and verification decisions.
	RolePharmacist Role = "PHARMACIST"
)

// Principal is any entity invoking a core operation.
type Principal interface {
	GetID() string
	GetPharmacyID() string
	GetRoles() []Role
	HasRole(r Role) bool
}

// BasePrincipal is the plain implementation of Principal.
type BasePrincipal struct {
	ID         string
	PharmacyID string
	Roles      []Role
}

func (b *BasePrincipal) GetID() string         { return b.ID }
func (b *BasePrincipal) GetPharmacyID() string { return b.PharmacyID }
func (b *BasePrincipal) GetRoles() []Role      { return b.Roles }

func (b *BasePrincipal) HasRole(r Role) bool {
	for _, have := range b.Roles {
		if have == r {
			return true
		}
	}
	return false
}

package shared

// Role is the coarse permission class of a user.
type Role string

const (
	RoleBuyer      Role = "buyer"
	RoleSales      Role = "sales"
	RoleOperations Role = "operations"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSales, RoleOperations, RoleAdmin:
		return true
	}
	return false
}

// Actor identifies who is performing an operation.
type Actor struct {
	ID   int64
	Role Role
}

// IsSeller reports whether the actor acts on behalf of the seller.
func (a Actor) IsSeller() bool {
	return a.Role == RoleSales || a.Role == RoleOperations || a.Role == RoleAdmin
}

// IsBuyer reports whether the actor is a buyer account.
func (a Actor) IsBuyer() bool { return a.Role == RoleBuyer }

// SystemActor is used by background jobs.
var SystemActor = Actor{ID: 0, Role: RoleAdmin}

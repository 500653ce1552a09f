package domain

// Role identifies which side of the care relationship a user is on.
type Role string

const (
	RolePatient      Role = "patient"
	RoleProfessional Role = "professional"
)

// Identity is the resolved local identity used to authenticate the
// push transport and every request/response call.
// Resolved once per connection attempt and immutable for the
// connection's lifetime; re-resolved on reconnect.
type Identity struct {
	ID    int64  `json:"id"`
	Role  Role   `json:"role"`
	Token string `json:"-"` // bearer token, never serialized
}

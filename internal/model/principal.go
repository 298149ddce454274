package model

// Role is the opaque role string carried by an authenticated principal.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleContributor Role = "contributor"
)

// Principal is the authenticated caller as handed over by the session layer.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanSee reports whether p is allowed to read a job owned by owner.
func (p Principal) CanSee(owner Principal) bool {
	if p.IsAdmin() {
		return true
	}
	return p.ID != "" && p.ID == owner.ID
}

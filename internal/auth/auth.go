package auth

import "strings"

// Role is the closed set of authority levels a user can hold. Values match
// what is stored in the users table.
type Role string

const (
	RoleAdmin   Role = "Admin"
	RoleManager Role = "Manager"
	RoleUser    Role = "User"
)

// ParseRole maps free-form input onto the role set, defaulting to RoleUser.
func ParseRole(s string) Role {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "admin":
		return RoleAdmin
	case "manager":
		return RoleManager
	default:
		return RoleUser
	}
}

func ValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleManager, RoleUser:
		return true
	}
	return false
}

// Actor identifies who is performing an operation.
type Actor struct {
	ID       int64
	Username string
	Role     Role
}

// CanModify reports whether the actor may mutate a file owned by ownerID.
// Admins and Managers may touch anything; everyone else only their own
// files. A nil owner (detached after the owning user was deleted) is only
// reachable by Admin/Manager.
func CanModify(actor Actor, ownerID *int64) bool {
	if actor.Role == RoleAdmin || actor.Role == RoleManager {
		return true
	}
	return ownerID != nil && *ownerID == actor.ID
}

// IsAdmin gates user and settings management. Managers hold no authority
// here.
func IsAdmin(role Role) bool {
	return role == RoleAdmin
}

// CanDeleteUser rejects self-deletion unconditionally, then requires Admin.
func CanDeleteUser(actor Actor, targetID int64) bool {
	if actor.ID == targetID {
		return false
	}
	return IsAdmin(actor.Role)
}

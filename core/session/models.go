package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles
const (
	RoleStudent    = "STUDENT"
	RoleSupervisor = "SUPERVISOR"
	RoleAdmin      = "ADMIN"
)

var (
	AllRoles = []string{RoleStudent, RoleSupervisor, RoleAdmin}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Supervisor", Value: RoleSupervisor},
		{Name: "Admin", Value: RoleAdmin},
	}
)

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// User is the profile of the authenticated user; it is the Session.
type User struct {
	ID               int64  `json:"userId"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Role             string `json:"role"`
	UniversityID     *int64 `json:"universityId,omitempty"`
	UniversityName   string `json:"universityName,omitempty"`
	Points           int    `json:"points"`
	CurrentBadgeName string `json:"currentBadgeName,omitempty"`
}

// AuthResponse is the body returned by login, register and session checks.
type AuthResponse struct {
	Token string `json:"token,omitempty"`
	User
}

// UserPatch holds the profile fields changed by a profile edit.
// nil fields are left untouched by User.Merge.
type UserPatch struct {
	Name             *string `json:"name,omitempty"`
	Email            *string `json:"email,omitempty"`
	UniversityID     *int64  `json:"universityId,omitempty"`
	UniversityName   *string `json:"universityName,omitempty"`
	Points           *int    `json:"points,omitempty"`
	CurrentBadgeName *string `json:"currentBadgeName,omitempty"`
}

// Merge returns a copy of u with the non-nil fields of p applied.
func (u User) Merge(p UserPatch) User {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.UniversityID != nil {
		id := *p.UniversityID
		u.UniversityID = &id
	}
	if p.UniversityName != nil {
		u.UniversityName = *p.UniversityName
	}
	if p.Points != nil {
		u.Points = *p.Points
	}
	if p.CurrentBadgeName != nil {
		u.CurrentBadgeName = *p.CurrentBadgeName
	}
	return u
}

// PatchFrom builds the patch that turns a profile into upd, used after a
// successful profile update on the server.
func PatchFrom(upd User) UserPatch {
	p := UserPatch{
		Name:             &upd.Name,
		Email:            &upd.Email,
		UniversityName:   &upd.UniversityName,
		Points:           &upd.Points,
		CurrentBadgeName: &upd.CurrentBadgeName,
	}
	if upd.UniversityID != nil {
		p.UniversityID = upd.UniversityID
	}
	return p
}

// NormalizeRole upper-cases role and reports whether it is a known role.
func NormalizeRole(role string) (string, bool) {
	role = strings.ToUpper(strings.TrimSpace(role))
	for _, r := range AllRoles {
		if r == role {
			return role, true
		}
	}
	return role, false
}

// TokenExpiry reads the "exp" claim of a JWT access token without verifying
// its signature. The server stays the only authority on token validity.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

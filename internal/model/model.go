package model

import "time"

type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleFaculty, RoleAdmin:
		return true
	default:
		return false
	}
}

// Identity is the authenticated principal mirrored from the identity
// platform's per-user document. StudentID is set only for students and
// FacultyID only for faculty; an admin carries neither.
type Identity struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         Role       `json:"role"`
	Department   *string    `json:"department,omitempty"`
	StudentID    *string    `json:"studentId,omitempty"`
	FacultyID    *string    `json:"facultyId,omitempty"`
	Phone        *string    `json:"phone,omitempty"`
	ProfileImage *string    `json:"profileImage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
}

type RegistrationRequest struct {
	Email        string  `json:"email"`
	Password     string  `json:"password"`
	Name         string  `json:"name"`
	Role         Role    `json:"role"`
	Department   *string `json:"department,omitempty"`
	StudentID    *string `json:"studentId,omitempty"`
	FacultyID    *string `json:"facultyId,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	ProfileImage *string `json:"profileImage,omitempty"`
}

type SessionState string

const (
	StateUnknown       SessionState = "unknown"
	StateRestoring     SessionState = "restoring"
	StateAuthenticated SessionState = "authenticated"
	StateAnonymous     SessionState = "anonymous"
)

package auth

import "time"

type Role string

const (
	RoleOwner   Role = "owner"
	RoleCoOwner Role = "co_owner"
	RoleBidder  Role = "bidder"
)

// rank orders roles for Authorize. Higher outranks lower.
var rank = map[Role]int{
	RoleBidder:  1,
	RoleCoOwner: 2,
	RoleOwner:   3,
}

// User is the domain representation of an authenticated user. It mirrors the
// users table and carries no JSON annotations so it can be reused by
// different presentation layers.
type User struct {
	ID           string
	Handle       string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

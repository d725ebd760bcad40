package models

import (
	"strings"
	"time"
)

// Identity is the authenticated user as served by GET /users/me.
type Identity struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	Age             *int      `json:"age,omitempty"`
	Gender          *string   `json:"gender,omitempty"`
	IsEmailVerified bool      `json:"isEmailVerified"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// DisplayName returns "First Last", falling back to "User".
func (u *Identity) DisplayName() string {
	if u == nil {
		return "User"
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return "User"
	}
	return name
}

// Initials returns up to two uppercase letters for the user menu avatar.
func (u *Identity) Initials() string {
	if u == nil {
		return "U"
	}
	var out []rune
	for _, part := range strings.Fields(u.FirstName + " " + u.LastName) {
		out = append(out, []rune(strings.ToUpper(part))[0])
		if len(out) == 2 {
			return string(out)
		}
	}
	if len(out) > 0 {
		return string(out)
	}
	if email := strings.TrimSpace(u.Email); email != "" {
		return strings.ToUpper(email[:1])
	}
	return "U"
}

// UpdateUserParams is the body for PATCH /users/me. Nil fields are left untouched.
type UpdateUserParams struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Email     *string `json:"email,omitempty"`
	Age       *int    `json:"age,omitempty"`
	Gender    *string `json:"gender,omitempty"`
}

// Credentials is the body for POST /auth/login and POST /auth/register.
type Credentials struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// Tokens is the data returned by POST /auth/refresh.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// LoginResponse is the data returned by login and registration.
type LoginResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	User         *Identity `json:"user,omitempty"`
}

// AuthSession is the authentication state of one browser session.
// IsAuthenticated implies AccessToken != "".
type AuthSession struct {
	IsAuthenticated bool      `json:"isAuthenticated"`
	User            *Identity `json:"user"`
	AccessToken     string    `json:"accessToken,omitempty"`
	RefreshToken    string    `json:"refreshToken,omitempty"`
}

// Normalize enforces the session invariant: an authenticated flag without
// an access token is downgraded.
func (s *AuthSession) Normalize() {
	if s.AccessToken == "" {
		s.IsAuthenticated = false
	}
}

// Empty reports whether the session carries no state at all.
func (s AuthSession) Empty() bool {
	return !s.IsAuthenticated && s.User == nil && s.AccessToken == "" && s.RefreshToken == ""
}

package account

import (
	"time"

	"github.com/accountdesk/accountdesk/pkg/store"
)

type registerRequest struct {
	FirstName       string `json:"firstName" binding:"required"`
	LastName        string `json:"lastName" binding:"required"`
	Email           string `json:"email" binding:"required,email"`
	Phone           string `json:"phone"`
	Address         string `json:"address"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type googleRequest struct {
	IDToken string `json:"idToken" binding:"required"`
}

type passwordResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type passwordResetConfirmRequest struct {
	Token           string `json:"token" binding:"required"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

// Profile is the user as returned to the front end.
type Profile struct {
	UID           string    `json:"uid"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone,omitempty"`
	Address       string    `json:"address,omitempty"`
	PhotoURL      string    `json:"photoURL,omitempty"`
	Role          string    `json:"role"`
	EmailVerified bool      `json:"emailVerified"`
	Provider      string    `json:"provider"`
	CreatedAt     time.Time `json:"createdAt"`
	LastLogin     time.Time `json:"lastLogin"`
}

func profileOf(u store.UserRecord) Profile {
	return Profile{
		UID:           u.UID,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Email:         u.Email,
		Phone:         u.Phone,
		Address:       u.Address,
		PhotoURL:      u.PhotoURL,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		Provider:      u.Provider,
		CreatedAt:     u.CreatedAt,
		LastLogin:     u.LastLogin,
	}
}

type sessionResponse struct {
	Token   string  `json:"token"`
	User    Profile `json:"user"`
	NewUser bool    `json:"newUser,omitempty"`
}

type registerResponse struct {
	Message string  `json:"message"`
	User    Profile `json:"user"`
}

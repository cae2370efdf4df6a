package identity

import (
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"

	"gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
)

// bcrypt ignores input past 72 bytes.
const (
	minPasswordLength = 8
	maxPasswordLength = 72
)

// User is an account known to the thin identity collaborator.
type User struct {
	ID           domain.UserID
	Email        string
	FirstName    string
	LastName     string
	PasswordHash []byte
	CreatedAt    time.Time
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

func (r *RegisterRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = normalizeEmail(r.Email)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
}

// Follows validation order: Size -> Required -> Syntax.
func (r *RegisterRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.FirstName) > 100 || len(r.LastName) > 100 {
		return dErrors.NewSafe(dErrors.CodeInvalidInput, "names must be 100 characters or less")
	}
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if len(r.Password) > maxPasswordLength ||
		!govalidator.StringLength(r.Password, strconv.Itoa(minPasswordLength), strconv.Itoa(maxPasswordLength)) {
		return dErrors.NewSafe(dErrors.CodeInvalidInput, "password must be between 8 and 72 characters")
	}
	return nil
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = normalizeEmail(r.Email)
}

func (r *LoginRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if r.Password == "" {
		return dErrors.NewSafe(dErrors.CodeInvalidInput, "password is required")
	}
	return nil
}

type ResetPasswordRequest struct {
	Email string `json:"email"`
}

func (r *ResetPasswordRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = normalizeEmail(r.Email)
}

func (r *ResetPasswordRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validateEmail(r.Email)
}

// LoginResult carries the login-subject token issued for a user.
type LoginResult struct {
	Token  string        `json:"token"`
	UserID domain.UserID `json:"user_id"`
}

func validateEmail(email string) error {
	if email == "" {
		return dErrors.NewSafe(dErrors.CodeInvalidInput, "email is required")
	}
	if !govalidator.StringLength(email, "3", "255") || !govalidator.IsEmail(email) {
		return dErrors.NewSafe(dErrors.CodeInvalidInput, "invalid email")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

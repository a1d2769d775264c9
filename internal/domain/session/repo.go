package session

import (
	"context"

	"github.com/ehr/copilot/internal/platform/auth"
)

// Authenticator is the backend surface the store depends on.
type Authenticator interface {
	Login(ctx context.Context, role auth.Role, creds Credentials) (*AuthResult, error)
	Signup(ctx context.Context, role auth.Role, creds Credentials) (*AuthResult, error)
	SignupPatient(ctx context.Context, p PatientSignup) (*AuthResult, error)
}

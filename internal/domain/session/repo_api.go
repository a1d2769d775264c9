package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ehr/copilot/internal/platform/auth"
	"github.com/ehr/copilot/internal/platform/gateway"
)

// APIAuthenticator talks to /api/v1/auth over the request gateway.
type APIAuthenticator struct {
	gw *gateway.Client
}

func NewAPIAuthenticator(gw *gateway.Client) *APIAuthenticator {
	return &APIAuthenticator{gw: gw}
}

func authPath(role auth.Role, action string) string {
	return fmt.Sprintf("/api/v1/auth/%s/%s", role.Plural(), action)
}

func (a *APIAuthenticator) Login(ctx context.Context, role auth.Role, creds Credentials) (*AuthResult, error) {
	var res AuthResult
	err := a.gw.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   authPath(role, "login"),
		JSON:   creds,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *APIAuthenticator) Signup(ctx context.Context, role auth.Role, creds Credentials) (*AuthResult, error) {
	var res AuthResult
	err := a.gw.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   authPath(role, "signup"),
		JSON:   creds,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *APIAuthenticator) SignupPatient(ctx context.Context, p PatientSignup) (*AuthResult, error) {
	var res AuthResult
	err := a.gw.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   authPath(auth.RolePatient, "signup"),
		JSON:   p,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

package session

import (
	"context"
	"strings"
	"sync"

	"github.com/ehr/copilot/internal/platform/apperr"
	"github.com/ehr/copilot/internal/platform/auth"
)

// Listener is called after every session change with the new session, or nil
// after logout. Listeners run synchronously, before the triggering call
// returns.
type Listener func(s *Session)

// Store holds the current session. All mutations go through its named
// operations.
type Store struct {
	backend Authenticator

	mu        sync.RWMutex
	current   *Session
	listeners []Listener
}

func NewStore(backend Authenticator) *Store {
	return &Store{backend: backend}
}

// OnChange registers a listener for login, signup and logout.
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Current returns a copy of the session, or nil when logged out.
func (s *Store) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	if cp.PatientID != nil {
		id := *cp.PatientID
		cp.PatientID = &id
	}
	return &cp
}

// Role returns the active role, or auth.RoleNone.
func (s *Store) Role() auth.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return auth.RoleNone
	}
	return s.current.Role
}

// Login authenticates against the role-specific endpoint.
func (s *Store) Login(ctx context.Context, role auth.Role, mobile, password string) (*Session, error) {
	creds, err := credentials(mobile, password)
	if err != nil {
		return nil, err
	}
	if _, err := auth.ParseRole(string(role)); err != nil {
		return nil, err
	}
	res, err := s.backend.Login(ctx, role, creds)
	if err != nil {
		return nil, err
	}
	return s.establish(role, creds.Mobile, res), nil
}

// SignupPatient registers a patient account together with its patient record.
func (s *Store) SignupPatient(ctx context.Context, p PatientSignup) (*Session, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Mobile = strings.TrimSpace(p.Mobile)
	if p.Name == "" || p.Mobile == "" || p.Password == "" {
		return nil, apperr.Validation("patient signup needs name, mobile, and password")
	}
	res, err := s.backend.SignupPatient(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.establish(auth.RolePatient, p.Mobile, res), nil
}

// SignupNonPatient registers a doctor or hospital account.
func (s *Store) SignupNonPatient(ctx context.Context, role auth.Role, mobile, password string) (*Session, error) {
	if role != auth.RoleDoctor && role != auth.RoleHospital {
		return nil, apperr.Validation("patients sign up with name, mobile, and password")
	}
	creds, err := credentials(mobile, password)
	if err != nil {
		return nil, err
	}
	res, err := s.backend.Signup(ctx, role, creds)
	if err != nil {
		return nil, err
	}
	return s.establish(role, creds.Mobile, res), nil
}

// Logout clears the session.
func (s *Store) Logout() {
	s.mu.Lock()
	s.current = nil
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(nil)
	}
}

func (s *Store) establish(requested auth.Role, mobile string, res *AuthResult) *Session {
	role, err := auth.ParseRole(res.Role)
	if err != nil {
		role = requested
	}
	sess := &Session{
		Role:           role,
		AccountID:      res.AccountID,
		IdentityHandle: mobile,
	}
	if res.PatientID != nil && *res.PatientID > 0 {
		id := *res.PatientID
		sess.PatientID = &id
	}

	s.mu.Lock()
	s.current = sess
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	out := s.Current()
	for _, l := range listeners {
		l(out)
	}
	return out
}

func credentials(mobile, password string) (Credentials, error) {
	mobile = strings.TrimSpace(mobile)
	if mobile == "" || password == "" {
		return Credentials{}, apperr.Validation("enter mobile and password")
	}
	return Credentials{Mobile: mobile, Password: password}, nil
}

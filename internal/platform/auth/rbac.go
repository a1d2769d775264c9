package auth

import (
	"fmt"
	"strings"

	"github.com/ehr/copilot/internal/platform/apperr"
)

// Role is the actor type of an authenticated account.
type Role string

const (
	RoleNone     Role = ""
	RolePatient  Role = "patient"
	RoleDoctor   Role = "doctor"
	RoleHospital Role = "hospital"
)

// Roles lists every role that can authenticate, in display order.
var Roles = []Role{RolePatient, RoleDoctor, RoleHospital}

// ParseRole accepts a role name in any case, with or without a plural "s".
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	switch r {
	case RolePatient, RoleDoctor, RoleHospital:
		return r, nil
	}
	return RoleNone, apperr.Validation(fmt.Sprintf("unknown role %q", s))
}

// Plural is the path segment used by the auth endpoints ("doctors").
func (r Role) Plural() string { return string(r) + "s" }

// Capability names a workflow group that may be shown to the user.
type Capability string

const (
	CapPatientOps     Capability = "patientOps"
	CapHospitalOps    Capability = "hospitalOps"
	CapPatientIntake  Capability = "patientIntake"
	CapCoach          Capability = "coach"
	CapPatientContext Capability = "patientContext"
)

// Capabilities is the set of workflow groups visible for one session.
type Capabilities struct {
	PatientOps     bool
	HospitalOps    bool
	PatientIntake  bool
	Coach          bool
	PatientContext bool
}

// Resolve derives the visible capabilities for role. It has no side effects;
// callers recompute it whenever the session changes.
func Resolve(role Role) Capabilities {
	switch role {
	case RolePatient:
		return Capabilities{PatientOps: true, Coach: true, PatientContext: true}
	case RoleDoctor:
		return Capabilities{PatientOps: true, HospitalOps: true, PatientIntake: true, PatientContext: true}
	case RoleHospital:
		return Capabilities{HospitalOps: true, PatientContext: true}
	}
	return Capabilities{}
}

// Has reports whether want is granted.
func (c Capabilities) Has(want Capability) bool {
	switch want {
	case CapPatientOps:
		return c.PatientOps
	case CapHospitalOps:
		return c.HospitalOps
	case CapPatientIntake:
		return c.PatientIntake
	case CapCoach:
		return c.Coach
	case CapPatientContext:
		return c.PatientContext
	}
	return false
}

// List returns the granted capabilities in a stable order.
func (c Capabilities) List() []Capability {
	var out []Capability
	for _, capability := range []Capability{CapPatientContext, CapPatientOps, CapHospitalOps, CapPatientIntake, CapCoach} {
		if c.Has(capability) {
			out = append(out, capability)
		}
	}
	return out
}

// Require returns a PreconditionError when role does not grant capability.
func Require(role Role, capability Capability) error {
	if Resolve(role).Has(capability) {
		return nil
	}
	if role == RoleNone {
		return apperr.Precondition("log in first")
	}
	return apperr.Precondition(fmt.Sprintf("%s is not available for the %s role", capability, role))
}

package session

import (
	"github.com/ehr/copilot/internal/platform/auth"
)

// Session is the authenticated identity. It is replaced wholesale on every
// login or signup and cleared on logout.
type Session struct {
	Role      auth.Role
	AccountID int64
	// PatientID is set for patient accounts; other roles usually leave it nil.
	PatientID *int64
	// IdentityHandle is the mobile number the user authenticated with.
	IdentityHandle string
}

// HasPatient reports whether the session is bound to a patient record.
func (s Session) HasPatient() bool {
	return s.PatientID != nil && *s.PatientID > 0
}

// Credentials are sent to the login and non-patient signup endpoints.
type Credentials struct {
	Mobile   string `json:"mobile"`
	Password string `json:"password"`
}

// PatientSignup is the patient self-registration payload.
type PatientSignup struct {
	Name     string  `json:"name"`
	Age      *int    `json:"age"`
	Sex      *string `json:"sex"`
	Contact  *string `json:"contact"`
	Mobile   string  `json:"mobile"`
	Password string  `json:"password"`
}

// AuthResult is the backend's login/signup response.
type AuthResult struct {
	Status    string `json:"status,omitempty"`
	Role      string `json:"role"`
	AccountID int64  `json:"account_id"`
	PatientID *int64 `json:"patient_id"`
}

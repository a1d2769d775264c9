package clinical

import "testing"

func TestParseTriageLevel(t *testing.T) {
	tests := []struct {
		in   string
		want TriageLevel
	}{
		{"RED", TriageRed},
		{" Amber ", TriageAmber},
		{"green", TriageGreen},
		{"", TriageUnknown},
		{"purple", TriageUnknown},
	}
	for _, tt := range tests {
		if got := ParseTriageLevel(tt.in); got != tt.want {
			t.Errorf("ParseTriageLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTriageLevel_Urgent(t *testing.T) {
	if !TriageRed.Urgent() {
		t.Error("red must be urgent")
	}
	if TriageAmber.Urgent() {
		t.Error("amber must not be urgent")
	}
}

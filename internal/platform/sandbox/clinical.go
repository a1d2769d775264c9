package sandbox

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ehr/copilot/pkg/clinical"
)

// The sandbox stands in for the real intelligence backend with keyword rules.
// Output has the production shapes; the content is only plausible.

type Profile struct {
	Conditions    []string         `json:"conditions"`
	Allergies     []string         `json:"allergies"`
	Medications   []map[string]any `json:"medications"`
	Vitals        map[string]any   `json:"vitals"`
	Timeline      []string         `json:"timeline"`
	MissingFields []string         `json:"missing_fields"`
}

func emptyProfile(missingFields ...string) Profile {
	return Profile{
		Conditions:    []string{},
		Allergies:     []string{},
		Medications:   []map[string]any{},
		Vitals:        map[string]any{},
		Timeline:      []string{},
		MissingFields: append([]string{}, missingFields...),
	}
}

type Triage struct {
	Level           string   `json:"level"`
	RedFlags        []string `json:"red_flags"`
	SpecialtyNeeded *string  `json:"specialty_needed"`
	Safety          []string `json:"safety"`
}

type SBAR struct {
	Situation      string   `json:"situation"`
	Background     string   `json:"background"`
	Assessment     string   `json:"assessment"`
	Recommendation string   `json:"recommendation"`
	Safety         []string `json:"safety"`
}

type PreIntelligence struct {
	Risks             []string `json:"risks"`
	Interactions      []string `json:"interactions"`
	SuggestedTests    []string `json:"suggested_tests"`
	DifferentialHints []string `json:"differential_hints"`
	Safety            []string `json:"safety"`
}

type HospitalMatch struct {
	HospitalID string   `json:"hospital_id"`
	Name       string   `json:"name"`
	Score      float64  `json:"score"`
	Why        []string `json:"why"`
}

type Adherence struct {
	Taken   int `json:"taken"`
	Missed  int `json:"missed"`
	Skipped int `json:"skipped"`
}

const (
	doseTaken   = clinical.DoseTaken
	doseMissed  = clinical.DoseMissed
	doseSkipped = clinical.DoseSkipped
)

var safetyNotes = []string{
	"Decision support only",
	"Doctor verification required",
	"Seek emergency help if red flags",
}

func withSafety(items []string) []string {
	out := append([]string{}, items...)
	for _, s := range safetyNotes {
		found := false
		for _, have := range out {
			if have == s {
				found = true
				break
			}
		}
		if !found {
			out = append(out, s)
		}
	}
	return out
}

// extractText returns the text of plain-text uploads. Other formats need
// OCR, which the sandbox does not do.
func extractText(name, mimeType string, content []byte) *string {
	ext := strings.ToLower(filepath.Ext(name))
	if !strings.HasPrefix(mimeType, "text/") && ext != ".txt" && ext != ".md" {
		return nil
	}
	if !utf8.Valid(content) {
		return nil
	}
	s := string(content)
	return &s
}

// transcribe treats UTF-8 audio payloads as their own transcript.
func transcribe(content []byte) string {
	if len(content) > 0 && utf8.Valid(content) {
		return strings.TrimSpace(string(content))
	}
	return "[inaudible]"
}

var conditionTerms = []string{
	"asthma", "copd", "diabetes", "hypertension", "heart failure", "atrial fibrillation",
	"chronic kidney disease", "hypothyroidism", "depression", "migraine", "pneumonia",
}

var medicationTerms = []string{
	"metformin", "insulin", "lisinopril", "amlodipine", "atorvastatin", "warfarin",
	"ibuprofen", "aspirin", "salbutamol", "levothyroxine", "potassium supplement", "paracetamol",
}

var (
	allergyPattern = regexp.MustCompile(`(?i)allerg(?:y|ic)(?: to)?[:\s]+([a-z][a-z \-]+)`)
	bpPattern      = regexp.MustCompile(`(?i)\b(?:bp|blood pressure)[:\s]*(\d{2,3})\s*/\s*(\d{2,3})`)
	hrPattern      = regexp.MustCompile(`(?i)\b(?:hr|pulse|heart rate)[:\s]*(\d{2,3})`)
	tempPattern    = regexp.MustCompile(`(?i)\b(?:temp|temperature)[:\s]*(\d{2}(?:\.\d)?)`)
	spo2Pattern    = regexp.MustCompile(`(?i)\b(?:spo2|o2 sat|saturation)[:\s]*(\d{2,3})\s*%?`)
)

// buildProfile extracts a structured profile from free text and answers.
func buildProfile(texts []string, answers map[string]any) Profile {
	joined := strings.Join(texts, "\n")
	lower := strings.ToLower(joined)
	p := emptyProfile()

	for _, c := range conditionTerms {
		if strings.Contains(lower, c) {
			p.Conditions = append(p.Conditions, c)
		}
	}
	for _, m := range allergyPattern.FindAllStringSubmatch(joined, -1) {
		a := strings.ToLower(strings.TrimSpace(m[1]))
		if a != "" && !contains(p.Allergies, a) {
			p.Allergies = append(p.Allergies, a)
		}
	}
	for _, med := range medicationTerms {
		if idx := strings.Index(lower, med); idx >= 0 {
			entry := map[string]any{"name": med}
			if dose := doseAfter(lower[idx+len(med):]); dose != "" {
				entry["dose"] = dose
			}
			p.Medications = append(p.Medications, entry)
		}
	}
	if m := bpPattern.FindStringSubmatch(joined); m != nil {
		p.Vitals["bp"] = m[1] + "/" + m[2]
	}
	if m := hrPattern.FindStringSubmatch(joined); m != nil {
		p.Vitals["hr"] = m[1]
	}
	if m := tempPattern.FindStringSubmatch(joined); m != nil {
		p.Vitals["temp_c"] = m[1]
	}
	if m := spo2Pattern.FindStringSubmatch(joined); m != nil {
		p.Vitals["spo2"] = m[1]
	}
	for i, t := range texts {
		line := strings.TrimSpace(strings.SplitN(t, "\n", 2)[0])
		if len(line) > 80 {
			line = line[:80]
		}
		p.Timeline = append(p.Timeline, fmt.Sprintf("Source %d: %s", i+1, line))
	}

	applyAnswers(&p, answers)

	if len(p.Allergies) == 0 {
		p.MissingFields = append(p.MissingFields, "allergies")
	}
	if len(p.Medications) == 0 {
		p.MissingFields = append(p.MissingFields, "medications")
	}
	if len(p.Vitals) == 0 {
		p.MissingFields = append(p.MissingFields, "vitals")
	}
	if len(p.Conditions) == 0 {
		p.MissingFields = append(p.MissingFields, "conditions")
	}
	return p
}

var dosePattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?\s*(?:mg|mcg|g|ml|units?))`)

func doseAfter(s string) string {
	if m := dosePattern.FindStringSubmatch(s); m != nil {
		return strings.ReplaceAll(m[1], " ", "")
	}
	return ""
}

var vitalKeys = map[string]bool{"bp": true, "hr": true, "temp_c": true, "spo2": true}

// applyAnswers folds questionnaire answers keyed by profile field into p.
func applyAnswers(p *Profile, answers map[string]any) {
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		text := strings.TrimSpace(fmt.Sprint(answers[key]))
		if text == "" || strings.EqualFold(text, "none") {
			continue
		}
		switch {
		case key == "allergies":
			for _, a := range strings.Split(text, ",") {
				if a = strings.ToLower(strings.TrimSpace(a)); a != "" && !contains(p.Allergies, a) {
					p.Allergies = append(p.Allergies, a)
				}
			}
		case key == "conditions":
			for _, c := range strings.Split(text, ",") {
				if c = strings.ToLower(strings.TrimSpace(c)); c != "" && !contains(p.Conditions, c) {
					p.Conditions = append(p.Conditions, c)
				}
			}
		case key == "medications":
			for _, m := range strings.Split(text, ",") {
				if m = strings.TrimSpace(m); m != "" {
					p.Medications = append(p.Medications, map[string]any{"name": strings.ToLower(m)})
				}
			}
		case key == "vitals":
			p.Vitals["reported"] = text
		case vitalKeys[key]:
			p.Vitals[key] = text
		}
	}
}

type redFlagRule struct {
	term      string
	specialty string
}

var redFlagRules = []redFlagRule{
	{"chest pain", "cardiology"},
	{"shortness of breath", "pulmonology"},
	{"slurred speech", "neurology"},
	{"facial droop", "neurology"},
	{"unconscious", "emergency medicine"},
	{"seizure", "neurology"},
	{"severe bleeding", "emergency medicine"},
	{"suicidal", "psychiatry"},
}

var amberTerms = []string{"fever", "vomiting", "dizziness", "abdominal pain", "headache", "wheeze", "palpitations"}

// assessTriage grades the combined text RED, AMBER or GREEN.
func assessTriage(texts []string) Triage {
	lower := strings.ToLower(strings.Join(texts, "\n"))
	t := Triage{Level: "GREEN", RedFlags: []string{}}
	for _, r := range redFlagRules {
		if strings.Contains(lower, r.term) {
			t.RedFlags = append(t.RedFlags, "possible concern: "+r.term)
			if t.SpecialtyNeeded == nil {
				sp := r.specialty
				t.SpecialtyNeeded = &sp
			}
		}
	}
	if len(t.RedFlags) > 0 {
		t.Level = "RED"
	} else {
		for _, term := range amberTerms {
			if strings.Contains(lower, term) {
				t.Level = "AMBER"
				break
			}
		}
	}
	t.Safety = withSafety(nil)
	return t
}

// summarize writes an SBAR handoff from what is on file.
func summarize(p Patient, prof Profile, hasProfile bool, tri Triage, hasTriage bool) SBAR {
	var who []string
	who = append(who, p.Name)
	if p.Age != nil {
		who = append(who, fmt.Sprintf("%d y", *p.Age))
	}
	if p.Sex != nil && *p.Sex != "" {
		who = append(who, *p.Sex)
	}
	s := SBAR{Situation: strings.Join(who, ", ") + "."}
	if hasTriage {
		s.Situation += " Latest triage " + tri.Level + "."
	} else {
		s.Situation += " Not yet triaged."
	}

	if hasProfile && len(prof.Conditions) > 0 {
		s.Background = "Known conditions: " + strings.Join(prof.Conditions, ", ") + "."
	} else {
		s.Background = "No documented conditions."
	}
	if hasProfile && len(prof.Medications) > 0 {
		names := make([]string, 0, len(prof.Medications))
		for _, m := range prof.Medications {
			names = append(names, fmt.Sprint(m["name"]))
		}
		s.Background += " Medications: " + strings.Join(names, ", ") + "."
	}

	switch {
	case hasTriage && len(tri.RedFlags) > 0:
		s.Assessment = strings.Join(tri.RedFlags, "; ") + "."
	case hasProfile && len(prof.MissingFields) > 0:
		s.Assessment = "Incomplete history: " + strings.Join(prof.MissingFields, ", ") + " missing."
	default:
		s.Assessment = "No acute concern identified from available records."
	}

	switch clinical.ParseTriageLevel(tri.Level) {
	case clinical.TriageRed:
		s.Recommendation = "Urgent clinician review"
		if tri.SpecialtyNeeded != nil {
			s.Recommendation += " with " + *tri.SpecialtyNeeded
		}
		s.Recommendation += "."
	case clinical.TriageAmber:
		s.Recommendation = "Review within 24 hours; complete missing history."
	default:
		s.Recommendation = "Routine follow-up."
	}
	s.Safety = withSafety(nil)
	return s
}

type interactionRule struct {
	a, b, risk string
}

var interactionRules = []interactionRule{
	{"warfarin", "ibuprofen", "increased bleeding risk"},
	{"warfarin", "aspirin", "increased bleeding risk"},
	{"lisinopril", "potassium supplement", "hyperkalemia risk"},
}

var conditionTests = map[string][]string{
	"diabetes":               {"HbA1c", "fasting glucose"},
	"hypertension":           {"renal function panel", "ECG"},
	"heart failure":          {"BNP", "echocardiogram"},
	"atrial fibrillation":    {"ECG", "INR if anticoagulated"},
	"chronic kidney disease": {"eGFR", "urine albumin"},
	"asthma":                 {"peak flow"},
	"copd":                   {"spirometry"},
	"hypothyroidism":         {"TSH"},
}

var conditionRisks = map[string]string{
	"diabetes":            "hypoglycaemia on insulin or sulfonylureas",
	"hypertension":        "cardiovascular events",
	"heart failure":       "fluid overload",
	"atrial fibrillation": "stroke",
	"copd":                "exacerbation with respiratory infection",
	"asthma":              "exacerbation with respiratory infection",
}

var differentialHints = map[string][]string{
	"chest pain":          {"acute coronary syndrome", "pulmonary embolism", "musculoskeletal pain"},
	"shortness of breath": {"asthma exacerbation", "heart failure", "pneumonia"},
	"headache":            {"migraine", "tension headache"},
	"fever":               {"viral infection", "urinary tract infection"},
	"abdominal pain":      {"gastritis", "appendicitis"},
}

func preIntelligence(prof Profile, texts []string) PreIntelligence {
	out := PreIntelligence{
		Risks:             []string{},
		Interactions:      []string{},
		SuggestedTests:    []string{},
		DifferentialHints: []string{},
	}
	for _, c := range prof.Conditions {
		if r, ok := conditionRisks[c]; ok {
			out.Risks = append(out.Risks, c+": "+r)
		}
		for _, t := range conditionTests[c] {
			if !contains(out.SuggestedTests, t) {
				out.SuggestedTests = append(out.SuggestedTests, t)
			}
		}
	}

	meds := map[string]bool{}
	for _, m := range prof.Medications {
		meds[strings.ToLower(fmt.Sprint(m["name"]))] = true
	}
	for _, r := range interactionRules {
		if meds[r.a] && meds[r.b] {
			out.Interactions = append(out.Interactions, fmt.Sprintf("%s + %s: %s", r.a, r.b, r.risk))
		}
	}

	lower := strings.ToLower(strings.Join(texts, "\n"))
	symptoms := make([]string, 0, len(differentialHints))
	for s := range differentialHints {
		symptoms = append(symptoms, s)
	}
	sort.Strings(symptoms)
	for _, s := range symptoms {
		if strings.Contains(lower, s) {
			for _, h := range differentialHints[s] {
				if !contains(out.DifferentialHints, h) {
					out.DifferentialHints = append(out.DifferentialHints, h)
				}
			}
		}
	}
	out.Safety = withSafety(nil)
	return out
}

var fieldQuestions = map[string]string{
	"allergies":         "Do you have any allergies to medicines or foods?",
	"medications":       "Which medicines are you currently taking, and at what dose?",
	"vitals":            "Do you have a recent blood pressure or temperature reading?",
	"conditions":        "Have you been diagnosed with any long-term conditions?",
	"no_extracted_text": "Can you describe your main symptoms and when they started?",
	"no_profile":        "Can you describe your main symptoms and when they started?",
}

// nextQuestions asks about missing profile fields the patient has not yet
// answered, at most three at a time.
func nextQuestions(prof Profile, hasProfile bool, answers map[string]any) []string {
	fields := prof.MissingFields
	if !hasProfile {
		fields = []string{"no_profile", "allergies", "medications"}
	}
	out := []string{}
	for _, f := range fields {
		if _, answered := answers[f]; answered {
			continue
		}
		q, ok := fieldQuestions[f]
		if !ok || contains(out, q) {
			continue
		}
		out = append(out, q)
		if len(out) == 3 {
			break
		}
	}
	return out
}

type hospital struct {
	ID          string
	Name        string
	DistanceKm  float64
	EtaMin      float64
	TraumaLevel int
	Specialties []string
}

var hospitals = []hospital{
	{"h-001", "City General Hospital", 4, 12, 1, []string{"emergency medicine", "cardiology", "neurology"}},
	{"h-002", "Riverside Medical Centre", 9, 20, 2, []string{"pulmonology", "internal medicine"}},
	{"h-003", "St. Anne's Heart Institute", 14, 28, 0, []string{"cardiology"}},
	{"h-004", "Northside Community Clinic", 3, 9, 0, []string{"internal medicine", "psychiatry"}},
	{"h-005", "Lakeshore University Hospital", 26, 41, 1, []string{"neurology", "emergency medicine", "psychiatry"}},
	{"h-006", "Valley Regional Hospital", 48, 65, 2, []string{"pulmonology", "cardiology"}},
}

// rankHospitals scores hospitals within radiusKm for the given urgency and
// returns the top five.
func rankHospitals(radiusKm int, specialty *string, urgency string) []HospitalMatch {
	out := []HospitalMatch{}
	for _, h := range hospitals {
		if h.DistanceKm > float64(radiusKm) {
			continue
		}
		score := 0.0
		var why []string
		if specialty != nil && contains(h.Specialties, *specialty) {
			score += 3
			why = append(why, "specialty match")
		}
		if urgency == "RED" && h.TraumaLevel >= 1 {
			score += 3
			why = append(why, "trauma-ready")
		}
		score += math.Max(0, 5-h.EtaMin/12)
		why = append(why, "ETA considered")
		out = append(out, HospitalMatch{
			HospitalID: h.ID,
			Name:       h.Name,
			Score:      math.Round(score*100) / 100,
			Why:        why,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// coachScript writes the daily recovery message.
func coachScript(p Patient, prof Profile, hasProfile bool, a Adherence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Good day, %s. ", p.Name)
	if hasProfile && len(prof.Medications) > 0 {
		names := make([]string, 0, len(prof.Medications))
		for _, m := range prof.Medications {
			names = append(names, fmt.Sprint(m["name"]))
		}
		fmt.Fprintf(&b, "Remember your medicines today: %s. ", strings.Join(names, ", "))
	}
	switch {
	case a.Missed+a.Skipped > 0:
		fmt.Fprintf(&b, "You missed or skipped %d doses recently; set a reminder for the next one. ", a.Missed+a.Skipped)
	case a.Taken > 0:
		b.WriteString("You have kept up with your doses, well done. ")
	}
	b.WriteString("Drink water, rest, and note any new symptoms for your care team.")
	b.WriteString("\n\nSafety: ")
	b.WriteString(clinical.SafetyFooter)
	return b.String()
}

func coachAudioPath(id int64) string {
	return fmt.Sprintf("./media/coach/%d.wav", id)
}

// silentWAV returns a short mono 8 kHz silent clip.
func silentWAV(seconds int) []byte {
	const rate = 8000
	n := rate * seconds
	buf := make([]byte, 44+n)
	le := binary.LittleEndian
	copy(buf[0:], "RIFF")
	le.PutUint32(buf[4:], uint32(36+n))
	copy(buf[8:], "WAVEfmt ")
	le.PutUint32(buf[16:], 16)
	le.PutUint16(buf[20:], 1) // PCM
	le.PutUint16(buf[22:], 1) // mono
	le.PutUint32(buf[24:], rate)
	le.PutUint32(buf[28:], rate)
	le.PutUint16(buf[32:], 1)
	le.PutUint16(buf[34:], 8)
	copy(buf[36:], "data")
	le.PutUint32(buf[40:], uint32(n))
	for i := 44; i < len(buf); i++ {
		buf[i] = 0x80
	}
	return buf
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

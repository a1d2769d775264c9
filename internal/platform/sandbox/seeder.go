// Package sandbox is an in-memory stand-in for the clinical backend. It
// serves the same /api/v1 surface with deterministic, synthetic data so the
// workspace can be developed and tested without the real services.
package sandbox

import (
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/copilot/pkg/clinical"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// DemoPassword is the password of every seeded account.
const DemoPassword = "sandbox-demo"

// SeedConfig controls the volume and shape of generated synthetic data.
type SeedConfig struct {
	PatientCount        int   `json:"patientCount"`
	DocumentsPerPatient int   `json:"documentsPerPatient"`
	DoseDays            int   `json:"doseDays"`
	IncludeStaff        bool  `json:"includeStaff"`
	Seed                int64 `json:"seed"`
}

// DefaultSeedConfig returns the config used by `copilot sandbox`.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		PatientCount:        8,
		DocumentsPerPatient: 1,
		DoseDays:            14,
		IncludeStaff:        true,
		Seed:                42,
	}
}

// SeedResult summarizes the output of a seed operation.
type SeedResult struct {
	Patients  int           `json:"patients"`
	Accounts  []DemoAccount `json:"accounts"`
	Documents int           `json:"documents"`
	DoseLogs  int           `json:"doseLogs"`
	Duration  time.Duration `json:"duration"`
}

// DemoAccount is a seeded login.
type DemoAccount struct {
	Role      string `json:"role"`
	Mobile    string `json:"mobile"`
	Password  string `json:"password"`
	PatientID *int64 `json:"patientId,omitempty"`
}

// ---------------------------------------------------------------------------
// Pools
// ---------------------------------------------------------------------------

var (
	firstNames = []string{
		"Asha", "Ravi", "Maya", "Daniel", "Fatima", "Lucas", "Priya", "Omar",
		"Grace", "Hiro", "Elena", "Samuel", "Noor", "Isaac", "Leila", "Mateo",
	}
	lastNames = []string{
		"Patel", "Okafor", "Nguyen", "Garcia", "Haddad", "Kim", "Rossi",
		"Mensah", "Silva", "Cohen", "Ibrahim", "Novak",
	}
	sexes = []string{clinical.SexFemale, clinical.SexMale, clinical.SexOther}

	// Clinic notes drive the keyword heuristics; each exercises a different
	// triage band.
	clinicNotes = []string{
		"Follow-up visit. Known hypertension and diabetes.\nMedications: metformin 500mg, lisinopril 10mg.\nAllergic to penicillin.\nBP 148/92, HR 84.",
		"Presented with fever and headache for two days.\nHistory of asthma, uses salbutamol.\nTemp 38.4, SpO2 96%.",
		"Reports chest pain on exertion and shortness of breath.\nAtrial fibrillation on warfarin 5mg, also taking ibuprofen for back pain.\nBP 132/85, pulse 102.",
		"Routine review. Hypothyroidism on levothyroxine 50mcg.\nNo complaints today.",
		"Dizziness after starting new medicine.\nChronic kidney disease, on lisinopril and potassium supplement.\nAllergy: sulfa drugs.",
	}
)

// ---------------------------------------------------------------------------
// DataGenerator
// ---------------------------------------------------------------------------

// DataGenerator produces deterministic synthetic patients.
type DataGenerator struct {
	rng *rand.Rand
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) randomMobile() string {
	return fmt.Sprintf("+1555%07d", g.rng.Intn(10000000))
}

// GeneratePatient produces intake data for one patient.
func (g *DataGenerator) GeneratePatient() PatientInput {
	first, last := g.pick(firstNames), g.pick(lastNames)
	age := 18 + g.rng.Intn(70)
	sex := g.pick(sexes)
	contact := fmt.Sprintf("%s.%s@example.com, %s", first, last, g.randomMobile())
	return PatientInput{
		Name:    first + " " + last,
		Age:     &age,
		Sex:     &sex,
		Contact: &contact,
	}
}

// GenerateNote picks a clinic note.
func (g *DataGenerator) GenerateNote() string {
	return g.pick(clinicNotes)
}

// GenerateDoseAction picks a dose outcome, weighted towards taken.
func (g *DataGenerator) GenerateDoseAction() string {
	switch n := g.rng.Intn(10); {
	case n < 7:
		return doseTaken
	case n < 9:
		return doseMissed
	default:
		return doseSkipped
	}
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

// Seeder fills a Store with synthetic patients, documents, dose logs and
// demo accounts.
type Seeder struct {
	generator *DataGenerator
	config    SeedConfig
	store     *Store
}

// NewSeeder creates a Seeder writing into store.
func NewSeeder(store *Store, config SeedConfig) *Seeder {
	return &Seeder{
		generator: NewDataGenerator(config.Seed),
		config:    config,
		store:     store,
	}
}

// Generate resets the store and seeds it according to config. The first
// patient always gets a login so the patient flow can be tried directly.
func (s *Seeder) Generate() (*SeedResult, error) {
	start := time.Now()
	s.store.Reset()
	result := &SeedResult{Accounts: []DemoAccount{}}

	if s.config.IncludeStaff {
		for _, role := range []string{"doctor", "hospital"} {
			mobile := s.generator.randomMobile()
			if _, err := s.store.CreateAccount(role, mobile, DemoPassword, nil); err != nil {
				return nil, fmt.Errorf("seed %s account: %w", role, err)
			}
			result.Accounts = append(result.Accounts, DemoAccount{Role: role, Mobile: mobile, Password: DemoPassword})
		}
	}

	now := s.store.now()
	for i := 0; i < s.config.PatientCount; i++ {
		in := s.generator.GeneratePatient()
		var mobile string
		if i == 0 {
			mobile = s.generator.randomMobile()
			password := DemoPassword
			in.Mobile, in.Password = &mobile, &password
		}
		p, _, err := s.store.CreatePatient(in)
		if err != nil {
			return nil, fmt.Errorf("seed patient %d: %w", i, err)
		}
		if mobile != "" {
			id := p.ID
			result.Accounts = append(result.Accounts, DemoAccount{
				Role: "patient", Mobile: mobile, Password: DemoPassword, PatientID: &id,
			})
		}

		for j := 0; j < s.config.DocumentsPerPatient; j++ {
			note := s.generator.GenerateNote()
			s.store.AddDocument(p.ID, fmt.Sprintf("clinic-note-%d.txt", j+1), "text/plain", []byte(note))
			result.Documents++
		}
		for d := 0; d < s.config.DoseDays; d++ {
			s.store.LogDose(p.ID, s.generator.GenerateDoseAction(), now.AddDate(0, 0, -d).Add(-time.Hour))
			result.DoseLogs++
		}
		result.Patients++
	}

	result.Duration = time.Since(start)
	return result, nil
}

// ---------------------------------------------------------------------------
// SeedHandler: echo routes
// ---------------------------------------------------------------------------

// SeedHandler provides HTTP endpoints for sandbox data management.
type SeedHandler struct {
	store *Store
	mu    sync.Mutex
	last  *SeedResult
}

// NewSeedHandler creates a handler over store.
func NewSeedHandler(store *Store) *SeedHandler {
	return &SeedHandler{store: store}
}

// RegisterRoutes registers sandbox routes on the given Echo group.
func (h *SeedHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/seed", h.handleSeed)
	g.GET("/accounts", h.handleAccounts)
	g.POST("/reset", h.handleReset)
}

// Seed runs cfg and remembers the result for /accounts.
func (h *SeedHandler) Seed(cfg SeedConfig) (*SeedResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	result, err := NewSeeder(h.store, cfg).Generate()
	if err != nil {
		return nil, err
	}
	h.last = result
	return result, nil
}

func (h *SeedHandler) handleSeed(c echo.Context) error {
	cfg := DefaultSeedConfig()
	if err := c.Bind(&cfg); err != nil {
		return c.JSON(http.StatusBadRequest, detail(err.Error()))
	}

	// Apply defaults for zero values
	if cfg.PatientCount == 0 {
		cfg.PatientCount = 3
	}

	result, err := h.Seed(cfg)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, detail(err.Error()))
	}
	return c.JSON(http.StatusOK, result)
}

func (h *SeedHandler) handleAccounts(c echo.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.last == nil {
		return c.JSON(http.StatusOK, []DemoAccount{})
	}
	return c.JSON(http.StatusOK, h.last.Accounts)
}

func (h *SeedHandler) handleReset(c echo.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.store.Reset()
	h.last = nil
	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}

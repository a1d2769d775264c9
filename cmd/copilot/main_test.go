package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ehr/copilot/internal/config"
	"github.com/ehr/copilot/internal/platform/auth"
)

// ---------------------------------------------------------------------------
// capabilities
// ---------------------------------------------------------------------------

func TestWriteCapabilities_AllRoles(t *testing.T) {
	var buf bytes.Buffer
	if err := writeCapabilities(&buf, auth.Roles); err != nil {
		t.Fatalf("writeCapabilities: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"patient", "doctor", "hospital", "patientIntake", "coach"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}

func TestWriteCapabilities_HospitalRow(t *testing.T) {
	var buf bytes.Buffer
	if err := writeCapabilities(&buf, []auth.Role{auth.RoleHospital}); err != nil {
		t.Fatal(err)
	}
	var row string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "hospital") && !strings.Contains(line, "hospitalOps") {
			row = line
		}
	}
	if row == "" {
		t.Fatalf("no hospital row in:\n%s", buf.String())
	}
	// patientContext and hospitalOps only.
	if got := strings.Count(row, "yes"); got != 2 {
		t.Errorf("hospital row has %d grants, want 2: %q", got, row)
	}
}

func TestCapabilitiesCmd_UnknownRole(t *testing.T) {
	cmd := capabilitiesCmd()
	cmd.SetArgs([]string{"--role", "nurse"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected unknown role to fail")
	}
}

func TestCapabilitiesCmd_SingleRole(t *testing.T) {
	cmd := capabilitiesCmd()
	var out bytes.Buffer
	cmd.SetArgs([]string{"--role", "Doctors"})
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "doctor") || strings.Contains(out.String(), "hospital ") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

// ---------------------------------------------------------------------------
// config
// ---------------------------------------------------------------------------

func TestLoadConfig_FlagOverridesAPIBase(t *testing.T) {
	t.Setenv("API_BASE", "http://env.example:8000")
	cmd := shellCmd()
	cmd.Flags().String("api-base", "", "")
	if err := cmd.Flags().Set("api-base", " https://flag.example/ "); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.APIBase != "https://flag.example" {
		t.Errorf("APIBase = %q", cfg.APIBase)
	}
}

func TestLoadConfig_RejectsBadBase(t *testing.T) {
	cmd := shellCmd()
	cmd.Flags().String("api-base", "", "")
	if err := cmd.Flags().Set("api-base", "localhost"); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(cmd); err == nil {
		t.Fatal("expected a relative base URL to be rejected")
	}
}

// ---------------------------------------------------------------------------
// logging
// ---------------------------------------------------------------------------

func TestNewLogger_JSONOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&config.Config{Env: "production", LogLevel: "info"}, &buf)
	logger.Info().Str("k", "v").Msg("hello")
	logger.Debug().Msg("hidden")

	out := buf.String()
	if !strings.Contains(out, `"message":"hello"`) || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("expected JSON line, got %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug must be filtered at info level")
	}
}

func TestNewLogger_ConsoleInDev(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&config.Config{Env: "development", LogLevel: "debug"}, &buf)
	logger.Debug().Msg("visible")
	if out := buf.String(); !strings.Contains(out, "visible") || strings.HasPrefix(out, "{") {
		t.Errorf("expected console output, got %q", out)
	}
}

func TestFrontendLogger(t *testing.T) {
	logger, closeLog, err := frontendLogger(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	closeLog()
	logger.Info().Msg("dropped")

	path := filepath.Join(t.TempDir(), "copilot.log")
	logger, closeLog, err = frontendLogger(&config.Config{Env: "production", LogFile: path})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info().Msg("to file")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file = %q", data)
	}
}

func TestSandboxServerConfig(t *testing.T) {
	cfg := &config.Config{CORSOrigins: []string{"http://a"}, BodyLimit: "2M", UploadLimit: "5M", AuthRateRPS: 3, AuthRateBurst: 4}
	got := sandboxServerConfig(cfg, nil)
	if got.AuthRateLimit.RequestsPerSecond != 3 || got.AuthRateLimit.BurstSize != 4 {
		t.Errorf("rate limit = %+v", got.AuthRateLimit)
	}
	if got.UploadLimit != "5M" || got.BodyLimit != "2M" || got.CORSOrigins[0] != "http://a" {
		t.Errorf("unexpected server config %+v", got)
	}
}

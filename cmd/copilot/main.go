package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/copilot/internal/config"
	"github.com/ehr/copilot/internal/platform/auth"
	"github.com/ehr/copilot/internal/platform/gateway"
	"github.com/ehr/copilot/internal/platform/middleware"
	"github.com/ehr/copilot/internal/platform/sandbox"
	"github.com/ehr/copilot/internal/shell"
	"github.com/ehr/copilot/internal/tui"
	"github.com/ehr/copilot/internal/workspace"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "copilot",
		Short:        "Role-aware clinical workspace",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("api-base", "", "backend base URL (overrides API_BASE)")

	rootCmd.AddCommand(shellCmd())
	rootCmd.AddCommand(tuiCmd())
	rootCmd.AddCommand(sandboxCmd())
	rootCmd.AddCommand(capabilitiesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive command shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, closeLog, err := frontendLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()

			sh := shell.New(newWorkspace(cfg, logger),
				shell.WithLogger(logger),
				shell.WithHistoryFile(cfg.HistoryFile),
			)
			return sh.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func tuiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Start the full-screen terminal UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, closeLog, err := frontendLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sh := shell.New(newWorkspace(cfg, logger), shell.WithLogger(logger))
			if _, err := tea.NewProgram(tui.New(ctx, sh), tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			return nil
		},
	}
}

func sandboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run the in-memory sandbox backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetString("port"); port != "" {
				cfg.SandboxPort = port
			}
			if noSeed, _ := cmd.Flags().GetBool("no-seed"); noSeed {
				cfg.SeedDemo = false
			}
			return runSandbox(cfg)
		},
	}
	cmd.Flags().String("port", "", "listen port (overrides SANDBOX_PORT)")
	cmd.Flags().Bool("no-seed", false, "start with an empty store")
	return cmd
}

func capabilitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Print the workflow groups each role can use",
		RunE: func(cmd *cobra.Command, args []string) error {
			roles := auth.Roles
			if name, _ := cmd.Flags().GetString("role"); name != "" {
				role, err := auth.ParseRole(name)
				if err != nil {
					return err
				}
				roles = []auth.Role{role}
			}
			return writeCapabilities(cmd.OutOrStdout(), roles)
		},
	}
	cmd.Flags().String("role", "", "limit the matrix to one role")
	return cmd
}

// loadConfig reads the environment, applies --api-base and validates.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if base, _ := cmd.Flags().GetString("api-base"); base != "" {
		cfg.APIBase = strings.TrimRight(strings.TrimSpace(base), "/")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger: JSON by default, console output in
// development.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: w != os.Stdout}).With().Timestamp().Logger()
	}
	if level, err := cfg.Level(); err == nil {
		logger = logger.Level(level)
	}
	return logger
}

// frontendLogger logs to LOG_FILE, or nowhere. The shell and the TUI own the
// terminal, so they never log to stdout.
func frontendLogger(cfg *config.Config) (zerolog.Logger, func(), error) {
	if cfg.LogFile == "" {
		return zerolog.Nop(), func() {}, nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}
	return newLogger(cfg, f), func() { _ = f.Close() }, nil
}

func newWorkspace(cfg *config.Config, logger zerolog.Logger) *workspace.Workspace {
	gw := gateway.NewClient(cfg.APIBase,
		gateway.WithTimeout(cfg.RequestTimeout),
		gateway.WithLogger(logger),
	)
	return workspace.New(gw, workspace.WithLogger(logger))
}

func writeCapabilities(w io.Writer, roles []auth.Role) error {
	all := auth.Capabilities{PatientContext: true, PatientOps: true, HospitalOps: true, PatientIntake: true, Coach: true}.List()

	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			return lipgloss.NewStyle().Padding(0, 1)
		})
	header := []string{"role"}
	for _, c := range all {
		header = append(header, string(c))
	}
	t.Headers(header...)
	for _, r := range roles {
		caps := auth.Resolve(r)
		row := []string{string(r)}
		for _, c := range all {
			mark := "-"
			if caps.Has(c) {
				mark = "yes"
			}
			row = append(row, mark)
		}
		t.Row(row...)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func sandboxServerConfig(cfg *config.Config, seeds *sandbox.SeedHandler) sandbox.ServerConfig {
	return sandbox.ServerConfig{
		CORSOrigins: cfg.CORSOrigins,
		BodyLimit:   cfg.BodyLimit,
		UploadLimit: cfg.UploadLimit,
		AuthRateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.AuthRateRPS,
			BurstSize:         cfg.AuthRateBurst,
		},
		HandlerTimeout: cfg.HandlerTimeout,
		Seeds:          seeds,
	}
}

func runSandbox(cfg *config.Config) error {
	logger := newLogger(cfg, os.Stdout)

	store := sandbox.NewStore()
	seeds := sandbox.NewSeedHandler(store)
	if cfg.SeedDemo {
		seedCfg := sandbox.DefaultSeedConfig()
		seedCfg.PatientCount = cfg.SeedPatients
		res, err := seeds.Seed(seedCfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to seed sandbox")
		}
		logger.Info().
			Int("patients", res.Patients).
			Int("documents", res.Documents).
			Int("dose_logs", res.DoseLogs).
			Dur("duration", res.Duration).
			Msg("sandbox seeded")
		for _, a := range res.Accounts {
			ev := logger.Info().Str("role", a.Role).Str("mobile", a.Mobile).Str("password", a.Password)
			if a.PatientID != nil {
				ev = ev.Int64("patient_id", *a.PatientID)
			}
			ev.Msg("demo account")
		}
	}

	e := sandbox.NewServer(store, sandboxServerConfig(cfg, seeds), logger)

	go func() {
		addr := ":" + cfg.SandboxPort
		logger.Info().Str("addr", addr).Msg("starting sandbox")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down sandbox")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("sandbox stopped")
	return nil
}

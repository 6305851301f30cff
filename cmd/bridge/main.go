package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/config"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/dossier"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/identifier"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/messagelog"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/patient"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/scenario"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/structure"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/generator"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/pipeline"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/db"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/server"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/transport"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bridge",
		Short: "Hospital interoperability bridge (HL7 v2.5 PAM / FHIR R4)",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(replayCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// services bundles the wired object graph shared by serve, ingest and
// replay.
type services struct {
	pipeline  *pipeline.Pipeline
	msglog    *messagelog.Service
	scenarios *scenario.Service
	scenRepo  scenario.Repository
	manager   *transport.Manager
	endpoints transport.Repository
}

func buildServices(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) *services {
	patientRepo := patient.NewRepo(pool)
	dossierRepo := dossier.NewRepo(pool)
	structureRepo := structure.NewRepo(pool)
	identifierRepo := identifier.NewRepo(pool)
	msglogRepo := messagelog.NewRepo(pool)
	scenRepo := scenario.NewRepo(pool)
	endpointRepo := transport.NewRepo(pool)

	patients := patient.NewService(patientRepo, dossierRepo, logger)
	dossiers := dossier.NewService(dossierRepo, db.NewKeyedLock(), logger)
	structures := structure.NewService(structureRepo, db.NewKeyedLock(), structure.Policy{
		AutoCreateUF:    cfg.PAMAutoCreateUF,
		AutoVirtualPole: cfg.MFNAutoVirtualPole,
	}, logger)
	idents := identifier.NewService(identifierRepo, db.NewKeyedLock(), logger)
	msglog := messagelog.NewService(msglogRepo, logger)

	pipe := pipeline.New(patients, dossiers, dossierRepo, structures, msglog, logger)
	manager := transport.NewManager(endpointRepo, pipe, cfg.StrictPAMFR, logger)

	gen := generator.New(cfg.ZBEExtensionURL, logger)
	scenarios := scenario.NewService(scenRepo, dossierRepo, idents, gen, manager, logger)

	return &services{
		pipeline:  pipe,
		msglog:    msglog,
		scenarios: scenarios,
		scenRepo:  scenRepo,
		manager:   manager,
		endpoints: endpointRepo,
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge: HTTP API plus every enabled endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	svcs := buildServices(cfg, pool, logger)

	if err := svcs.manager.StartEnabled(ctx); err != nil {
		logger.Error().Err(err).Msg("endpoint startup")
	}
	defer svcs.manager.StopAll()

	srv := server.New(svcs.pipeline, svcs.msglog, svcs.scenarios, svcs.scenRepo,
		svcs.manager, svcs.endpoints, cfg.StrictPAMFR, logger)
	e := srv.Echo()

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil {
			logger.Info().Err(err).Msg("http server stopped")
		}
	}()
	logger.Info().Str("port", cfg.Port).Msg("bridge started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "ingest <endpoint-id> <file>",
		Short:        "Run one message file through the pipeline and print the ACK",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			epID, err := uuid.Parse(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "endpoint id: %v\n", err)
				os.Exit(exitConfig)
			}
			raw, err := os.ReadFile(args[1])
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitConfig)
			}

			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitConfig)
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitConfig)
			}
			defer pool.Close()

			svcs := buildServices(cfg, pool, logger)
			ep, err := svcs.endpoints.Get(ctx, epID)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitConfig)
			}

			res, err := svcs.pipeline.Process(ctx, raw, pipeline.Options{
				Strict:            cfg.StrictPAMFR,
				EndpointID:        &ep.ID,
				JuridicalEntityID: ep.JuridicalEntityID,
			})
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitCodeOf(err))
			}
			os.Stdout.Write(res.ACKBytes)
			fmt.Println()
			if !res.Accepted {
				os.Exit(exitValidation)
			}
			return nil
		},
	}
}

// CLI exit codes: 0 success, 1 validation error, 2 transport error,
// 3 configuration error.
const (
	exitValidation = 1
	exitTransport  = 2
	exitConfig     = 3
)

// exitCodeOf classifies an error for the CLI.
func exitCodeOf(err error) int {
	switch diag.CodeOf(err) {
	case diag.ConnectionRefused, diag.ConnectionReset, diag.ReadTimeout,
		diag.ACKRejected, diag.ACKError, diag.HTTPError:
		return exitTransport
	case diag.TemplateNotFound:
		return exitConfig
	default:
		return exitValidation
	}
}

func replayCmd() *cobra.Command {
	var dryRun bool
	var ippPrefix, ndaPrefix string
	cmd := &cobra.Command{
		Use:           "replay <template-key> <endpoint-id>",
		Short:         "Materialize and replay a scenario template against an endpoint",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			epID, err := uuid.Parse(args[1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "endpoint id: %v\n", err)
				os.Exit(exitConfig)
			}

			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitConfig)
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitConfig)
			}
			defer pool.Close()

			svcs := buildServices(cfg, pool, logger)
			ep, err := svcs.endpoints.Get(ctx, epID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "endpoint %s: %v\n", epID, err)
				os.Exit(exitConfig)
			}
			if !dryRun {
				if err := svcs.manager.Start(ctx, epID); err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(exitConfig)
				}
				defer svcs.manager.StopAll()
			}

			opts := scenario.ReplayOptions{
				EndpointID:  &epID,
				DryRun:      dryRun,
				StopOnError: true,
			}
			opts.Endpoint = ep.OutboundInfo()
			opts.JuridicalEntityID = ep.JuridicalEntityID
			opts.IPPPattern = ippPrefix
			opts.NDAPattern = ndaPrefix

			run, err := svcs.scenarios.Replay(ctx, key, opts)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitCodeOf(err))
			}

			fmt.Printf("run %s: %s (IPP=%s NDA=%s VN=%s)\n",
				run.ID, run.Status, run.IPP, run.NDA, run.VN)
			code := 0
			for _, st := range run.Steps {
				fmt.Printf("  %2d %-4s %-9s %s\n",
					st.Sequence, st.Trigger, st.Status, st.Message)
				if st.Status == scenario.StepError {
					switch st.ErrorKind {
					case string(diag.ConnectionRefused), string(diag.ConnectionReset),
						string(diag.ReadTimeout), string(diag.ACKRejected),
						string(diag.ACKError), string(diag.HTTPError):
						code = exitTransport
					default:
						if code == 0 {
							code = exitValidation
						}
					}
				}
			}
			if run.Status != scenario.RunSuccess && code == 0 {
				code = exitValidation
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Render and schedule without transmitting")
	cmd.Flags().StringVar(&ippPrefix, "ipp-prefix", "", "Override the IPP allocation prefix for this run")
	cmd.Flags().StringVar(&ndaPrefix, "nda-prefix", "", "Override the NDA allocation prefix for this run")
	return cmd
}

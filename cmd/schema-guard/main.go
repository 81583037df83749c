package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vitebski/schema-guard/internal/config"
	"github.com/vitebski/schema-guard/internal/connector"
	"github.com/vitebski/schema-guard/internal/document"
	"github.com/vitebski/schema-guard/internal/migrator"
	"github.com/vitebski/schema-guard/internal/template"
	"github.com/vitebski/schema-guard/internal/utils"
	"github.com/vitebski/schema-guard/pkg/models"
)

func main() {
	var (
		configFile string
		envFile    string
	)
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "schema-guard",
		Short: "Declarative, additive-only schema migrations for PostgreSQL and MySQL",
		Long: `Schema Guard

Reads a YAML document describing schemas, tables, columns, keys, indexes,
triggers, grants and seed rows, compares it with the live database and
creates whatever is missing. Existing objects are never altered or dropped:
divergences are reported as warnings.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Config file (default: ./.schema-guard.yaml when present)")
	flags.StringVarP(&envFile, "env-file", "e", ".env", "Path to .env file")
	flags.StringP("schema", "s", "", "Path to the schema document")
	flags.StringP("database-url", "d", "", "Database connection url (default: $DATABASE_URL)")
	flags.String("driver", "", "Database driver, postgres or mysql (default: inferred from the url)")
	flags.IntP("workers", "w", 4, "Number of tables migrated concurrently")
	flags.Duration("unit-timeout", 0, "Timeout of each table transaction (default 1m)")
	flags.Int("max-open-conns", 0, "Connection pool size (default: workers + 1)")
	flags.StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	flags.Bool("exclude-triggers", false, "Neither compare nor create triggers")
	flags.Bool("no-color", false, "Disable colored output")
	if err := v.BindPFlags(flags); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// setup loads .env, config file, environment and flags, in that order of precedence
	setup := func() (*config.Config, *logrus.Logger, error) {
		bootstrap := utils.SetupLogging(v.GetString("log-level"))
		utils.LoadEnvironmentVariables(envFile, bootstrap)

		cfg, err := config.Load(v, configFile)
		if err != nil {
			return nil, bootstrap, err
		}
		if cfg.UnitTimeout <= 0 {
			cfg.UnitTimeout = config.DefaultUnitTimeout
		}
		return cfg, utils.SetupLogging(cfg.LogLevel), nil
	}

	run := func(cmd *cobra.Command, dryRun, printPlan bool) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		if dryRun {
			cfg.DryRun = true
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		driver, err := cfg.ResolveDriver()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db := connector.NewDatabaseConnector(cfg.DatabaseURL, driver, cfg.MaxOpenConns, logger)
		if err := db.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Disconnect()

		m := migrator.NewMigrator(db, afero.NewOsFs(), migrator.Options{
			DryRun:          cfg.DryRun,
			ExcludeTriggers: cfg.ExcludeTriggers,
			Workers:         cfg.Workers,
			UnitTimeout:     cfg.UnitTimeout,
		}, logger)

		doc, err := document.NewLoader(m.Fs, logger).LoadFile(cfg.SchemaPath)
		if err != nil {
			return err
		}
		p, report, err := m.Plan(ctx, doc)
		if err != nil {
			return err
		}
		if printPlan {
			utils.PrintPlan(cmd.OutOrStdout(), p, cfg.NoColor)
		}
		report, err = m.Apply(ctx, p, report)
		if cfg.DryRun {
			utils.PrintStatements(cmd.OutOrStdout(), report.Statements)
		}
		utils.PrintReport(cmd.OutOrStdout(), report, cfg.NoColor)
		if err == nil && ctx.Err() != nil {
			err = models.Errorf(models.KindExecutionFailed, "migration interrupted: %v", ctx.Err())
		}
		return err
	}

	var dryRun bool
	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Create every missing object and load seed rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, dryRun, false)
		},
	}
	applyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the statements instead of executing them")

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the execution order and the statements apply would run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, true, true)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the schema document and its templates without a database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if err := cfg.ValidateDocumentOnly(); err != nil {
				return err
			}
			doc, err := document.NewLoader(afero.NewOsFs(), logger).LoadFile(cfg.SchemaPath)
			if err != nil {
				return err
			}
			if err := template.NewResolver(logger).Resolve(doc); err != nil {
				return err
			}
			tables := 0
			for _, s := range doc.Schemas {
				tables += len(s.Tables)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d schema(s), %d table(s)\n", cfg.SchemaPath, len(doc.Schemas), tables)
			return nil
		},
	}

	rootCmd.AddCommand(applyCmd, planCmd, validateCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(utils.ExitCode(err))
	}
}

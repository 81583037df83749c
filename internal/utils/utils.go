package utils

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/schema-guard/internal/plan"
	"github.com/vitebski/schema-guard/pkg/models"
)

// SetupLogging configures the logging system
func SetupLogging(logLevel string) *logrus.Logger {
	logger := logrus.New()

	// Get log level from environment variable or parameter
	levelStr := logLevel
	if levelStr == "" {
		levelStr = os.Getenv("SCHEMA_GUARD_LOG_LEVEL")
		if levelStr == "" {
			levelStr = "info"
		}
	}

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	// stdout is reserved for reports and planned statements
	logger.SetOutput(os.Stderr)

	logger.Debugf("Logging configured with level: %s", level)
	return logger
}

// LoadEnvironmentVariables loads environment variables from an .env file.
// It returns whether a database url is available afterwards.
func LoadEnvironmentVariables(envFile string, logger *logrus.Logger) bool {
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		sampleEnvFile := envFile + ".sample"
		if _, err := os.Stat(sampleEnvFile); err == nil {
			logger.Infof("No %s file found, but %s exists. Consider copying %s to %s and updating it.",
				envFile, sampleEnvFile, sampleEnvFile, envFile)
		}
	}

	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.Warningf("Error loading %s file: %v", envFile, err)
		} else {
			logger.Infof("Loaded environment variables from %s", envFile)
		}
	} else {
		logger.Debugf("No %s file found, using existing environment variables", envFile)
	}

	if os.Getenv("SCHEMA_GUARD_DATABASE_URL") == "" && os.Getenv("DATABASE_URL") == "" {
		logger.Debug("No database url in the environment, expecting --database-url")
		return false
	}
	return true
}

type printers struct {
	title   *color.Color
	created *color.Color
	matched *color.Color
	warning *color.Color
	failure *color.Color
	skipped *color.Color
}

func newPrinters(noColor bool) printers {
	p := printers{
		title:   color.New(color.Bold),
		created: color.New(color.FgGreen),
		matched: color.New(color.FgCyan),
		warning: color.New(color.FgYellow),
		failure: color.New(color.FgRed, color.Bold),
		skipped: color.New(color.FgMagenta),
	}
	if noColor {
		for _, c := range []*color.Color{p.title, p.created, p.matched, p.warning, p.failure, p.skipped} {
			c.DisableColor()
		}
	}
	return p
}

// PrintReport prints the outcome of a run
func PrintReport(w io.Writer, report *models.Report, noColor bool) {
	p := newPrinters(noColor)

	heading := "MIGRATION SUMMARY"
	if report.DryRun {
		heading = "MIGRATION PLAN (dry run)"
	}
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 60))
	p.title.Fprintln(w, heading)
	if report.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", report.RunID)
	}
	fmt.Fprintln(w, strings.Repeat("=", 60))

	verb := "Created"
	if report.DryRun {
		verb = "To create"
	}
	p.created.Fprintf(w, "%s: %d\n", verb, len(report.Created))
	for _, obj := range report.Created {
		fmt.Fprintf(w, "  + %s\n", obj)
	}
	p.matched.Fprintf(w, "Already present: %d\n", len(report.Matched))

	if len(report.Warnings) > 0 {
		p.warning.Fprintf(w, "Warnings: %d\n", len(report.Warnings))
		for _, warn := range report.Warnings {
			fmt.Fprintf(w, "  ! %s\n", warn)
		}
	}
	if len(report.Failures) > 0 {
		p.failure.Fprintf(w, "Failures: %d\n", len(report.Failures))
		for _, f := range report.Failures {
			fmt.Fprintf(w, "  x %s: %v\n", f.Object, f.Err)
		}
	}
	if len(report.Skipped) > 0 {
		p.skipped.Fprintf(w, "Skipped: %d\n", len(report.Skipped))
		for _, obj := range report.Skipped {
			fmt.Fprintf(w, "  - %s\n", obj)
		}
	}
	if !report.DryRun {
		fmt.Fprintf(w, "Rows inserted: %d, already present: %d\n", report.RowsInserted, report.RowsSkipped)
	}
	fmt.Fprintln(w, strings.Repeat("=", 60))
}

// Exit codes of the command line
const (
	ExitOK = 0
	// ExitPartial means some units failed or were skipped; others were applied
	ExitPartial = 1
	// ExitAborted means the run stopped before changing anything
	ExitAborted = 2
)

// ExitCode maps a run error to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if models.KindOf(err).IsFatal() {
		return ExitAborted
	}
	return ExitPartial
}

// PrintStatements prints statements one per line, terminated with a semicolon
func PrintStatements(w io.Writer, statements []string) {
	for _, s := range statements {
		fmt.Fprintf(w, "%s;\n", s)
	}
}

// PrintPlan prints the execution order of a plan: every rank with its table
// units, their pending operations and the tables they wait for
func PrintPlan(w io.Writer, p *plan.Plan, noColor bool) {
	pr := newPrinters(noColor)

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 60))
	pr.title.Fprintln(w, "EXECUTION ORDER")
	fmt.Fprintln(w, strings.Repeat("=", 60))

	if p.Empty() {
		pr.matched.Fprintln(w, "Database is up to date")
		fmt.Fprintln(w, strings.Repeat("=", 60))
		return
	}

	for _, s := range p.Schemas {
		pr.created.Fprintf(w, "schema %s\n", s.Schema)
	}
	for i, rank := range p.Ranks {
		var active []*plan.Unit
		for _, u := range rank {
			if u.HasWork() {
				active = append(active, u)
			}
		}
		if len(active) == 0 {
			continue
		}
		fmt.Fprintf(w, "Rank %d:\n", i)
		for _, u := range active {
			line := fmt.Sprintf("  %s: %d operation(s)", u.Table, len(u.Ops))
			if u.Load != nil {
				line += ", rows"
			}
			if len(u.DependsOn) > 0 {
				deps := make([]string, len(u.DependsOn))
				for j, d := range u.DependsOn {
					deps[j] = d.String()
				}
				line += " after " + strings.Join(deps, ", ")
			}
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintln(w, strings.Repeat("=", 60))
}

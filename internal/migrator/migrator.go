// Package migrator runs the whole cycle for one document: template
// resolution, catalog introspection, diff, execution and data load.
package migrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/vitebski/schema-guard/internal/connector"
	"github.com/vitebski/schema-guard/internal/diff"
	"github.com/vitebski/schema-guard/internal/document"
	"github.com/vitebski/schema-guard/internal/executor"
	"github.com/vitebski/schema-guard/internal/introspector"
	"github.com/vitebski/schema-guard/internal/loader"
	"github.com/vitebski/schema-guard/internal/plan"
	"github.com/vitebski/schema-guard/internal/sqlgen"
	"github.com/vitebski/schema-guard/internal/template"
	"github.com/vitebski/schema-guard/pkg/models"
)

// Options tune one run
type Options struct {
	DryRun          bool
	ExcludeTriggers bool
	Workers         int
	UnitTimeout     time.Duration
}

// Migrator applies documents to one database
type Migrator struct {
	DB      *connector.DatabaseConnector
	Fs      afero.Fs
	Options Options
	Logger  *logrus.Logger
}

// NewMigrator creates a new migrator. dc must be connected.
func NewMigrator(dc *connector.DatabaseConnector, fs afero.Fs, opts Options, logger *logrus.Logger) *Migrator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Migrator{DB: dc, Fs: fs, Options: opts, Logger: logger}
}

// MigrateFile loads the document at path and migrates it
func (m *Migrator) MigrateFile(ctx context.Context, path string) (*models.Report, error) {
	db, err := document.NewLoader(m.Fs, m.Logger).LoadFile(path)
	if err != nil {
		return nil, err
	}
	return m.Migrate(ctx, db)
}

// Migrate brings the database up to the document. Fatal errors (templates,
// dependency graph, introspection) are returned before anything is changed.
// Otherwise the report lists what was created, matched, warned about,
// skipped and failed, and the error aggregates the isolated failures.
func (m *Migrator) Migrate(ctx context.Context, db *models.Database) (*models.Report, error) {
	p, report, err := m.Plan(ctx, db)
	if err != nil {
		if models.KindOf(err).IsFatal() {
			m.log(report).Warn("Run aborted before any change")
		}
		return report, err
	}
	return m.Apply(ctx, p, report)
}

// Plan resolves templates, reads the live catalog and computes the change
// set. The returned report holds the matched objects and divergence warnings.
func (m *Migrator) Plan(ctx context.Context, db *models.Database) (*plan.Plan, *models.Report, error) {
	report := &models.Report{RunID: uuid.New().String(), DryRun: m.Options.DryRun}
	log := m.log(report)
	log.Infof("Planning migration of %s", documentName(db))

	if err := template.NewResolver(m.Logger).Resolve(db); err != nil {
		log.Errorf("Template resolution failed: %v", err)
		return nil, report, err
	}

	intro, err := introspector.New(m.DB, m.Logger)
	if err != nil {
		return nil, report, models.NewError(models.KindIntrospectionFailed, err)
	}
	catalog, err := intro.Introspect(ctx, introspector.ScopeFor(db))
	if err != nil {
		log.Errorf("Introspection failed: %v", err)
		return nil, report, err
	}

	engine := diff.NewEngine(diff.Options{Driver: m.DB.Driver, ExcludeTriggers: m.Options.ExcludeTriggers}, m.Logger)
	p, diffReport, err := engine.Diff(db, catalog)
	if err != nil {
		log.Errorf("Planning failed: %v", err)
		return nil, report, err
	}
	report.Merge(diffReport)
	return p, report, nil
}

// Apply executes a plan and merges the outcome into report
func (m *Migrator) Apply(ctx context.Context, p *plan.Plan, report *models.Report) (*models.Report, error) {
	log := m.log(report)
	start := time.Now()

	renderer, err := sqlgen.New(m.DB.Driver)
	if err != nil {
		return report, models.NewError(models.KindExecutionFailed, err)
	}
	exec := executor.NewExecutor(m.DB, renderer, loader.NewLoader(m.Fs, renderer, m.Logger), executor.Options{
		Workers:     m.Options.Workers,
		UnitTimeout: m.Options.UnitTimeout,
		DryRun:      m.Options.DryRun,
	}, m.Logger)
	report.Merge(exec.Execute(ctx, p))

	log.WithFields(logrus.Fields{
		"created":  len(report.Created),
		"matched":  len(report.Matched),
		"warnings": len(report.Warnings),
		"failures": len(report.Failures),
		"skipped":  len(report.Skipped),
		"elapsed":  time.Since(start).Round(time.Millisecond),
	}).Info("Migration finished")
	return report, report.Err()
}

func (m *Migrator) log(report *models.Report) *logrus.Entry {
	log := m.Logger.WithFields(logrus.Fields{"run": report.RunID, "driver": m.DB.Driver})
	if report.DryRun {
		log = log.WithField("dry_run", true)
	}
	return log
}

func documentName(db *models.Database) string {
	if db.File != "" {
		return db.File
	}
	return "document"
}

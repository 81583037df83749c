// Package diff compares the desired state with the live catalog and plans
// the additive operations that close the gap.
//
// Every desired object is either missing (an operation is planned), matching
// (recorded in the report) or divergent (a warning, never corrected). Live
// objects the document does not mention are never looked at. Raw sql
// suffixes, defaults and descriptions only apply at creation and are not
// compared.
package diff

import (
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/schema-guard/internal/analyzer"
	"github.com/vitebski/schema-guard/internal/connector"
	"github.com/vitebski/schema-guard/internal/plan"
	"github.com/vitebski/schema-guard/pkg/models"
)

// Options tune what the engine plans
type Options struct {
	// Driver selects dialect specific behaviour such as owner support
	Driver connector.Driver
	// ExcludeTriggers skips trigger comparison and creation
	ExcludeTriggers bool
}

// Engine plans migrations
type Engine struct {
	Options Options
	Logger  *logrus.Logger
}

// NewEngine creates a new diff engine
func NewEngine(opts Options, logger *logrus.Logger) *Engine {
	return &Engine{Options: opts, Logger: logger}
}

type differ struct {
	*Engine
	db      *models.Database
	catalog *models.Catalog
	report  *models.Report
}

// Diff plans the operations for a template-resolved document. Dependency
// cycles and dangling foreign keys are returned as errors before any
// operation is planned. Matches and divergences are recorded in the report.
func (e *Engine) Diff(db *models.Database, catalog *models.Catalog) (*plan.Plan, *models.Report, error) {
	d := &differ{Engine: e, db: db, catalog: catalog, report: &models.Report{}}

	sa := analyzer.NewSchemaAnalyzer(e.Logger)
	sa.AnalyzeSchema(db)
	ranks, err := sa.GetRanks()
	if err != nil {
		return nil, nil, err
	}

	if err := d.checkForeignKeys(); err != nil {
		return nil, nil, err
	}

	p := &plan.Plan{}
	for _, s := range db.Schemas {
		if catalog.SchemaExists(s.Name) {
			d.report.Matched = append(d.report.Matched, models.ObjectRef{Kind: models.ObjectSchema, Schema: s.Name})
			continue
		}
		op := plan.CreateSchema{Schema: s.Name}
		if s.Owner != "" {
			if e.supportsOwner() {
				op.Owner = s.Owner
			} else {
				d.warn(op.Object(), "owner %s ignored, %s has no schema owners", s.Owner, e.Options.Driver)
			}
		}
		p.Schemas = append(p.Schemas, op)
	}

	for i, rank := range ranks {
		units := make([]*plan.Unit, 0, len(rank))
		for _, ref := range rank {
			t := db.Table(ref)
			u := &plan.Unit{
				Table:     ref,
				Rank:      i,
				DependsOn: sa.Dependencies[ref],
			}
			u.Ops, err = d.diffTable(ref, t, catalog.Table(ref))
			if err != nil {
				return nil, nil, err
			}
			u.Load = d.loadSpec(t)
			units = append(units, u)
		}
		p.Ranks = append(p.Ranks, units)
	}

	ops := len(p.Operations())
	e.Logger.Infof("Planned %d operation(s) over %d table(s) in %d rank(s), %d warning(s)",
		ops, len(sa.Tables), len(p.Ranks), len(d.report.Warnings))
	return p, d.report, nil
}

func (e *Engine) supportsOwner() bool {
	return e.Options.Driver != connector.DriverMySQL
}

func (d *differ) warn(obj models.ObjectRef, format string, args ...interface{}) {
	d.report.Warn(obj, format, args...)
	w := d.report.Warnings[len(d.report.Warnings)-1]
	d.Logger.Warnf("%s", w)
}

func (d *differ) matched(obj models.ObjectRef) {
	d.report.Matched = append(d.report.Matched, obj)
}

func (d *differ) loadSpec(t *models.Table) *plan.LoadSpec {
	if !t.HasData() {
		return nil
	}
	spec := &plan.LoadSpec{
		Columns:    t.ColumnNames(),
		KeyColumns: t.PrimaryKeyColumns(),
		Rows:       t.Data,
	}
	if t.DataFile != "" {
		spec.DataFile = t.DataFile
		if !filepath.IsAbs(spec.DataFile) && d.db.File != "" {
			spec.DataFile = filepath.Join(filepath.Dir(d.db.File), spec.DataFile)
		}
	}
	return spec
}

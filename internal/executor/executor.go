// Package executor applies a plan against the live database.
//
// Schemas are created first, outside any transaction. Then each rank runs
// on a bounded worker pool: every table unit checks out its own connection
// and applies its DDL in one transaction, followed by its rows in a second
// one. A failed unit is rolled back and recorded; units that depend on it
// are skipped while independent units continue.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/schema-guard/internal/connector"
	"github.com/vitebski/schema-guard/internal/loader"
	"github.com/vitebski/schema-guard/internal/plan"
	"github.com/vitebski/schema-guard/internal/sqlgen"
	"github.com/vitebski/schema-guard/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Options control how a plan is executed
type Options struct {
	// Workers bounds the units running concurrently within a rank
	Workers int
	// UnitTimeout bounds each unit transaction
	UnitTimeout time.Duration
	// DryRun renders every statement without executing anything
	DryRun bool
}

type unitState int

const (
	statePending unitState = iota
	stateSucceeded
	stateFailed
	stateSkipped
)

// Executor runs plans
type Executor struct {
	DB       *connector.DatabaseConnector
	Renderer *sqlgen.Renderer
	Loader   *loader.Loader
	Options  Options
	Logger   *logrus.Logger
}

// NewExecutor creates a new executor
func NewExecutor(
	db *connector.DatabaseConnector,
	renderer *sqlgen.Renderer,
	dataLoader *loader.Loader,
	opts Options,
	logger *logrus.Logger,
) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.UnitTimeout <= 0 {
		opts.UnitTimeout = time.Minute
	}
	return &Executor{
		DB:       db,
		Renderer: renderer,
		Loader:   dataLoader,
		Options:  opts,
		Logger:   logger,
	}
}

// Execute applies the plan and reports what was created, skipped and failed.
// Failures never abort independent units, so the returned report is always
// complete.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan) *models.Report {
	report := &models.Report{DryRun: e.Options.DryRun}

	failedSchemas := e.createSchemas(ctx, p.Schemas, report)

	states := make(map[models.TableRef]unitState)
	for i, rank := range p.Ranks {
		e.Logger.Debugf("Executing rank %d with %d unit(s)", i, len(rank))
		results := make([]*models.Report, len(rank))
		outcome := make([]unitState, len(rank))

		var g errgroup.Group
		g.SetLimit(e.Options.Workers)
		for j, u := range rank {
			if reason := e.skipReason(ctx, u, states, failedSchemas); reason != "" {
				e.Logger.Warnf("Skipping %s: %s", u.Table, reason)
				results[j] = skipped(u)
				outcome[j] = stateSkipped
				continue
			}
			j, u := j, u
			g.Go(func() error {
				// units that never started are skipped on cancellation
				if ctx.Err() != nil {
					results[j], outcome[j] = skipped(u), stateSkipped
					return nil
				}
				results[j], outcome[j] = e.runUnit(ctx, u)
				return nil
			})
		}
		_ = g.Wait()

		for j, u := range rank {
			states[u.Table] = outcome[j]
			report.Merge(results[j])
		}
	}

	e.Logger.Infof("Execution finished: %d created, %d failure(s), %d skipped",
		len(report.Created), len(report.Failures), len(report.Skipped))
	return report
}

func skipped(u *plan.Unit) *models.Report {
	return &models.Report{Skipped: []models.ObjectRef{{Kind: models.ObjectTable, Schema: u.Table.Schema, Table: u.Table.Table}}}
}

func (e *Executor) skipReason(ctx context.Context, u *plan.Unit, states map[models.TableRef]unitState, failedSchemas map[string]bool) string {
	if ctx.Err() != nil {
		return "run cancelled"
	}
	if failedSchemas[u.Table.Schema] {
		return fmt.Sprintf("schema %s could not be created", u.Table.Schema)
	}
	for _, dep := range u.DependsOn {
		if s := states[dep]; s == stateFailed || s == stateSkipped {
			return fmt.Sprintf("dependency %s did not complete", dep)
		}
	}
	return ""
}

// createSchemas runs each CREATE SCHEMA on its own, returning the schemas that failed
func (e *Executor) createSchemas(ctx context.Context, schemas []plan.CreateSchema, report *models.Report) map[string]bool {
	failed := make(map[string]bool)
	for _, op := range schemas {
		stmts, err := e.Renderer.Render(op)
		if err != nil {
			report.Fail(op.Object(), models.NewError(models.KindExecutionFailed, err).WithSchema(op.Schema))
			failed[op.Schema] = true
			continue
		}
		if e.Options.DryRun {
			report.Statements = append(report.Statements, statementStrings(stmts)...)
			report.Created = append(report.Created, op.Object())
			continue
		}
		if ctx.Err() != nil {
			failed[op.Schema] = true
			continue
		}

		sctx, cancel := context.WithTimeout(ctx, e.Options.UnitTimeout)
		err = e.execAll(sctx, e.DB.DB, stmts, report)
		cancel()
		if err != nil {
			e.Logger.Errorf("Failed to create schema %s: %s", op.Schema, connector.DescribeError(err))
			report.Fail(op.Object(), e.classify(ctx, sctx, err, "create schema").WithSchema(op.Schema))
			failed[op.Schema] = true
			continue
		}
		e.Logger.Infof("Created schema %s", op.Schema)
		report.Created = append(report.Created, op.Object())
	}
	return failed
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (e *Executor) execAll(ctx context.Context, db execer, stmts []sqlgen.Statement, report *models.Report) error {
	for _, stmt := range stmts {
		e.Logger.Debugf("Executing: %s", stmt)
		if _, err := db.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			return fmt.Errorf("%s: %w", stmt.SQL, err)
		}
		report.Statements = append(report.Statements, stmt.String())
	}
	return nil
}

// runUnit applies one table's DDL in a transaction, then loads its rows.
// A data load failure is recorded but does not fail the unit.
func (e *Executor) runUnit(ctx context.Context, u *plan.Unit) (*models.Report, unitState) {
	report := &models.Report{}
	if !u.HasWork() {
		return report, stateSucceeded
	}
	stmts, err := e.Renderer.RenderAll(u.Ops)
	if err != nil {
		report.Fail(tableObject(u), models.NewError(models.KindExecutionFailed, err).WithTable(u.Table.Schema, u.Table.Table))
		return report, stateFailed
	}

	if e.Options.DryRun {
		report.Statements = append(report.Statements, statementStrings(stmts)...)
		for _, op := range u.Ops {
			report.Created = append(report.Created, op.Object())
		}
		if u.Load != nil {
			rows, err := e.Loader.Statements(u.Table, u.Load)
			if err != nil {
				report.Fail(dataObject(u), err)
			} else {
				report.Statements = append(report.Statements, statementStrings(rows)...)
			}
		}
		return report, stateSucceeded
	}

	uctx, cancel := context.WithTimeout(ctx, e.Options.UnitTimeout)
	defer cancel()

	conn, err := e.DB.Conn(uctx)
	if err != nil {
		report.Fail(tableObject(u), e.classify(ctx, uctx, err, "checkout connection").WithTable(u.Table.Schema, u.Table.Table))
		return report, stateFailed
	}
	defer conn.Close()

	if len(stmts) > 0 {
		if err := e.applyDDL(uctx, conn, stmts, report); err != nil {
			e.Logger.Errorf("Failed to migrate %s, rolled back: %s", u.Table, connector.DescribeError(err))
			report.Statements = nil
			report.Fail(tableObject(u), e.classify(ctx, uctx, err, "migrate table").WithTable(u.Table.Schema, u.Table.Table))
			return report, stateFailed
		}
		for _, op := range u.Ops {
			report.Created = append(report.Created, op.Object())
		}
		e.Logger.Infof("Migrated %s: %d operation(s)", u.Table, len(u.Ops))
	}

	if u.Load != nil {
		result, err := e.Loader.Load(uctx, conn, u.Table, u.Load)
		if err != nil {
			e.Logger.Errorf("Failed to load data into %s: %v", u.Table, err)
			report.Fail(dataObject(u), err)
		} else {
			report.RowsInserted += result.Inserted
			report.RowsSkipped += result.Skipped
			report.Statements = append(report.Statements, result.Statements...)
		}
	}
	return report, stateSucceeded
}

func (e *Executor) applyDDL(ctx context.Context, conn *sql.Conn, stmts []sqlgen.Statement, report *models.Report) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := e.execAll(ctx, tx, stmts, report); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			e.Logger.Warnf("Rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// classify maps a unit error to Timeout when the unit deadline expired and
// to ExecutionFailed otherwise
func (e *Executor) classify(parent, unit context.Context, err error, step string) *models.MigrationError {
	if parent.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(unit.Err(), context.DeadlineExceeded)) {
		return models.Errorf(models.KindTimeout, "%s exceeded %s", step, e.Options.UnitTimeout)
	}
	if errors.Is(err, context.Canceled) || parent.Err() != nil {
		return models.Errorf(models.KindExecutionFailed, "%s cancelled", step)
	}
	return models.Errorf(models.KindExecutionFailed, "%s: %s", step, connector.DescribeError(err))
}

func tableObject(u *plan.Unit) models.ObjectRef {
	return models.ObjectRef{Kind: models.ObjectTable, Schema: u.Table.Schema, Table: u.Table.Table}
}

func dataObject(u *plan.Unit) models.ObjectRef {
	return models.ObjectRef{Kind: models.ObjectData, Schema: u.Table.Schema, Table: u.Table.Table}
}

func statementStrings(stmts []sqlgen.Statement) []string {
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s.String()
	}
	return out
}


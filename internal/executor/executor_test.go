package executor

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/schema-guard/internal/connector"
	"github.com/vitebski/schema-guard/internal/generator"
	"github.com/vitebski/schema-guard/internal/loader"
	"github.com/vitebski/schema-guard/internal/plan"
	"github.com/vitebski/schema-guard/internal/sqlgen"
	"github.com/vitebski/schema-guard/pkg/models"
)

func createTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

func newTestExecutor(t *testing.T, opts Options) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := createTestLogger()
	renderer, err := sqlgen.New(connector.DriverPostgres)
	require.NoError(t, err)
	dc := connector.FromDB(db, connector.DriverPostgres, logger)
	return NewExecutor(dc, renderer, loader.NewLoader(afero.NewMemMapFs(), renderer, logger), opts, logger), mock
}

func tref(table string) models.TableRef {
	return models.TableRef{Schema: "s", Table: table}
}

func createUnit(table string, rank int, deps ...string) *plan.Unit {
	u := &plan.Unit{Table: tref(table), Rank: rank, Ops: []plan.Operation{plan.CreateTable{
		Schema: "s", Table: table, Columns: []plan.ColumnDef{{Name: "id", Type: "int4", PrimaryKey: true}}, PrimaryKey: []string{"id"},
	}}}
	for _, d := range deps {
		u.DependsOn = append(u.DependsOn, tref(d))
	}
	return u
}

func createSQL(table string) string {
	return regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "s"."` + table + `"`)
}

func TestNewExecutorDefaults(t *testing.T) {
	e, _ := newTestExecutor(t, Options{})
	assert.Equal(t, 1, e.Options.Workers)
	assert.Equal(t, time.Minute, e.Options.UnitTimeout)
}

func TestExecuteIsolatesFailures(t *testing.T) {
	e, mock := newTestExecutor(t, Options{Workers: 1, UnitTimeout: time.Second})
	p := &plan.Plan{
		Schemas: []plan.CreateSchema{{Schema: "s"}},
		Ranks: [][]*plan.Unit{
			{createUnit("a", 0), createUnit("b", 0)},
			{createUnit("c", 1, "a"), createUnit("d", 1, "b")},
		},
	}

	mock.ExpectExec(regexp.QuoteMeta(`CREATE SCHEMA IF NOT EXISTS "s"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(createSQL("a")).WillReturnError(assert.AnError)
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(createSQL("b")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(createSQL("d")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	report := e.Execute(context.Background(), p)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, tref("a").Table, report.Failures[0].Object.Table)
	assert.ErrorIs(t, report.Failures[0].Err, models.ErrExecutionFailed)
	assert.Equal(t, []models.ObjectRef{{Kind: models.ObjectTable, Schema: "s", Table: "c"}}, report.Skipped)
	assert.Contains(t, report.Created, models.ObjectRef{Kind: models.ObjectSchema, Schema: "s"})
	assert.Contains(t, report.Created, models.ObjectRef{Kind: models.ObjectTable, Schema: "s", Table: "b"})
	assert.Contains(t, report.Created, models.ObjectRef{Kind: models.ObjectTable, Schema: "s", Table: "d"})
	assert.NotContains(t, report.Created, models.ObjectRef{Kind: models.ObjectTable, Schema: "s", Table: "a"})
	assert.False(t, report.Success())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteSchemaFailureSkipsItsTables(t *testing.T) {
	e, mock := newTestExecutor(t, Options{Workers: 2})
	p := &plan.Plan{
		Schemas: []plan.CreateSchema{{Schema: "s", Owner: "nobody"}},
		Ranks:   [][]*plan.Unit{{createUnit("a", 0)}},
	}
	mock.ExpectExec("CREATE SCHEMA").WillReturnError(assert.AnError)

	report := e.Execute(context.Background(), p)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, models.ObjectSchema, report.Failures[0].Object.Kind)
	assert.Len(t, report.Skipped, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteLoadsRowsAfterDDL(t *testing.T) {
	e, mock := newTestExecutor(t, Options{Workers: 1})
	table := &models.Table{Name: "t", Columns: []*models.Column{
		{Name: "id", Type: "int4", Constraint: &models.Constraint{PrimaryKey: true}},
		{Name: "email", Type: "text"},
	}}
	rows := generator.NewDataGenerator(e.Logger).GenerateRows(table, 2)

	u := createUnit("t", 0)
	u.Load = &plan.LoadSpec{Columns: []string{"id", "email"}, KeyColumns: []string{"id"}, Rows: rows}
	missing := &plan.Unit{Table: tref("m"), Load: &plan.LoadSpec{Columns: []string{"id"}, DataFile: "/nowhere.csv"}}
	dependent := createUnit("x", 1, "m")

	mock.ExpectBegin()
	mock.ExpectExec(createSQL("t")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "s"."t"`)).WithArgs(rows[0][0], rows[0][1]).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "s"."t"`)).WithArgs(rows[1][0], rows[1][1]).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(createSQL("x")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	report := e.Execute(context.Background(), &plan.Plan{Ranks: [][]*plan.Unit{{u, missing}, {dependent}}})

	assert.Equal(t, int64(1), report.RowsInserted)
	assert.Equal(t, int64(1), report.RowsSkipped)
	require.Len(t, report.Failures, 1, "a data load failure keeps the table's DDL and its dependents")
	assert.ErrorIs(t, report.Failures[0].Err, models.ErrDataLoadFailed)
	assert.Empty(t, report.Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteConcurrentRank(t *testing.T) {
	e, mock := newTestExecutor(t, Options{Workers: 3})
	mock.MatchExpectationsInOrder(false)

	var rank []*plan.Unit
	for _, name := range []string{"a", "b", "c"} {
		rank = append(rank, createUnit(name, 0))
		mock.ExpectBegin()
		mock.ExpectExec(createSQL(name)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
	}

	report := e.Execute(context.Background(), &plan.Plan{Ranks: [][]*plan.Unit{rank}})
	assert.True(t, report.Success())
	assert.Len(t, report.Created, 3)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteTimeout(t *testing.T) {
	e, mock := newTestExecutor(t, Options{Workers: 1, UnitTimeout: 50 * time.Millisecond})
	mock.ExpectBegin()
	mock.ExpectExec(createSQL("slow")).WillDelayFor(time.Second).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	report := e.Execute(context.Background(), &plan.Plan{Ranks: [][]*plan.Unit{{createUnit("slow", 0)}}})
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0].Err, models.ErrTimeout)
	assert.Empty(t, report.Created)
}

func TestExecuteCancelledRunSkipsEverything(t *testing.T) {
	e, mock := newTestExecutor(t, Options{Workers: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &plan.Plan{
		Schemas: []plan.CreateSchema{{Schema: "s"}},
		Ranks:   [][]*plan.Unit{{createUnit("a", 0), createUnit("b", 0)}, {createUnit("c", 1, "a")}},
	}
	report := e.Execute(ctx, p)
	assert.Len(t, report.Skipped, 3)
	assert.Empty(t, report.Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteDryRun(t *testing.T) {
	e, mock := newTestExecutor(t, Options{DryRun: true})
	u := createUnit("t", 0)
	u.Load = &plan.LoadSpec{Columns: []string{"id"}, KeyColumns: []string{"id"}, Rows: []models.Row{{"1"}}}
	p := &plan.Plan{Schemas: []plan.CreateSchema{{Schema: "s"}}, Ranks: [][]*plan.Unit{{u}}}

	report := e.Execute(context.Background(), p)
	assert.True(t, report.DryRun)
	assert.Equal(t, []string{
		`CREATE SCHEMA IF NOT EXISTS "s"`,
		`CREATE TABLE IF NOT EXISTS "s"."t" ("id" int4 PRIMARY KEY)`,
		`INSERT INTO "s"."t" ("id") VALUES ($1) ON CONFLICT ("id") DO NOTHING -- [1]`,
	}, report.Statements)
	assert.Len(t, report.Created, 2)
	assert.NoError(t, mock.ExpectationsWereMet(), "a dry run never touches the database")
}

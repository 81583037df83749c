package loader

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/schema-guard/internal/connector"
	"github.com/vitebski/schema-guard/internal/generator"
	"github.com/vitebski/schema-guard/internal/plan"
	"github.com/vitebski/schema-guard/internal/sqlgen"
	"github.com/vitebski/schema-guard/pkg/models"
)

var ref = models.TableRef{Schema: "crm", Table: "customer"}

func testLoader(t *testing.T, fs afero.Fs) *Loader {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	r, err := sqlgen.New(connector.DriverPostgres)
	require.NoError(t, err)
	return NewLoader(fs, r, logger)
}

func customerTable() *models.Table {
	return &models.Table{Name: "customer", Columns: []*models.Column{
		{Name: "id", Type: "int", Constraint: &models.Constraint{PrimaryKey: true}},
		{Name: "first_name", Type: "varchar(50)"},
		{Name: "email", Type: "text"},
	}}
}

func TestOperationsBindInlineThenFileRows(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/customer.csv", []byte("2,\"Smith, Ann\",ann@example.com\n3,Bob\n"), 0644))

	spec := &plan.LoadSpec{
		Columns:    []string{"id", "first_name", "email"},
		KeyColumns: []string{"id"},
		Rows:       []models.Row{{"1", "Zoe", "zoe@example.com"}},
		DataFile:   "/data/customer.csv",
	}
	ops, err := testLoader(t, fs).Operations(ref, spec)
	require.NoError(t, err)
	require.Len(t, ops, 3)

	assert.Equal(t, plan.InsertRowIfAbsent{Schema: "crm", Table: "customer",
		Columns: []string{"id", "first_name", "email"}, Values: []string{"1", "Zoe", "zoe@example.com"},
		KeyColumns: []string{"id"}}, ops[0])
	assert.Equal(t, []string{"2", "Smith, Ann", "ann@example.com"}, ops[1].(plan.InsertRowIfAbsent).Values)
	assert.Equal(t, []string{"id", "first_name"}, ops[2].(plan.InsertRowIfAbsent).Columns, "short rows bind leading columns")
}

func TestOperationsTabSeparated(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "rows.tsv", []byte("1\tsay \"hi\"\n"), 0644))

	ops, err := testLoader(t, fs).Operations(ref, &plan.LoadSpec{Columns: []string{"id", "note"}, DataFile: "rows.tsv"})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, []string{"1", `say "hi"`}, ops[0].(plan.InsertRowIfAbsent).Values)
}

func TestOperationsKeyNotBound(t *testing.T) {
	spec := &plan.LoadSpec{Columns: []string{"name", "id"}, KeyColumns: []string{"id"}, Rows: []models.Row{{"a"}, {"b", "2"}}}
	ops, err := testLoader(t, afero.NewMemMapFs()).Operations(ref, spec)
	require.NoError(t, err)
	assert.Nil(t, ops[0].(plan.InsertRowIfAbsent).KeyColumns)
	assert.Equal(t, []string{"id"}, ops[1].(plan.InsertRowIfAbsent).KeyColumns)
}

func TestOperationsFailures(t *testing.T) {
	l := testLoader(t, afero.NewMemMapFs())

	_, err := l.Operations(ref, &plan.LoadSpec{Columns: []string{"id"}, Rows: []models.Row{{"1", "extra"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDataLoadFailed)

	_, err = l.Operations(ref, &plan.LoadSpec{Columns: []string{"id"}, DataFile: "/missing.csv"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDataLoadFailed)
	assert.Contains(t, err.Error(), "crm.customer")
}

func TestLoadIsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := generator.NewDataGenerator(testLoader(t, nil).Logger).GenerateRows(customerTable(), 2)
	spec := &plan.LoadSpec{Columns: customerTable().ColumnNames(), KeyColumns: []string{"id"}, Rows: rows}
	insert := regexp.QuoteMeta(`INSERT INTO "crm"."customer" ("id", "first_name", "email") VALUES ($1, $2, $3) ON CONFLICT ("id") DO NOTHING`)

	mock.ExpectBegin()
	mock.ExpectExec(insert).WithArgs(rows[0][0], rows[0][1], rows[0][2]).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).WithArgs(rows[1][0], rows[1][1], rows[1][2]).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	// second run: both keys already exist
	mock.ExpectBegin()
	mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ctx := context.Background()
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	l := testLoader(t, afero.NewMemMapFs())
	first, err := l.Load(ctx, conn, ref, spec)
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.Inserted)
	assert.Equal(t, int64(0), first.Skipped)
	assert.Len(t, first.Statements, 2)

	second, err := l.Load(ctx, conn, ref, spec)
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.Inserted)
	assert.Equal(t, int64(2), second.Skipped)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	spec := &plan.LoadSpec{Columns: []string{"id", "first_name"}, KeyColumns: []string{"id"},
		Rows: []models.Row{{"1", "a"}, {"x", "b"}}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	ctx := context.Background()
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = testLoader(t, afero.NewMemMapFs()).Load(ctx, conn, ref, spec)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDataLoadFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadWithoutRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	result, err := testLoader(t, afero.NewMemMapFs()).Load(ctx, conn, ref, &plan.LoadSpec{Columns: []string{"id"}})
	require.NoError(t, err)
	assert.Zero(t, result.Inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

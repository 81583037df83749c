// Package loader inserts the rows a table declares, inline or through a
// data file, skipping rows whose key (or whole row, without a key) is
// already present.
package loader

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/vitebski/schema-guard/internal/connector"
	"github.com/vitebski/schema-guard/internal/plan"
	"github.com/vitebski/schema-guard/internal/sqlgen"
	"github.com/vitebski/schema-guard/pkg/models"
)

// Result counts the outcome of one table load
type Result struct {
	Inserted   int64
	Skipped    int64
	Statements []string
}

// Loader reads and inserts declared rows
type Loader struct {
	Fs       afero.Fs
	Renderer *sqlgen.Renderer
	Logger   *logrus.Logger
}

// NewLoader creates a new data loader
func NewLoader(fs afero.Fs, renderer *sqlgen.Renderer, logger *logrus.Logger) *Loader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Loader{Fs: fs, Renderer: renderer, Logger: logger}
}

// Operations binds every declared row, inline rows first, then the data
// file in file order
func (l *Loader) Operations(ref models.TableRef, spec *plan.LoadSpec) ([]plan.Operation, error) {
	rows := append([]models.Row(nil), spec.Rows...)
	if spec.DataFile != "" {
		fileRows, err := l.readFile(spec.DataFile)
		if err != nil {
			return nil, models.NewError(models.KindDataLoadFailed, err).WithTable(ref.Schema, ref.Table)
		}
		rows = append(rows, fileRows...)
	}

	ops := make([]plan.Operation, 0, len(rows))
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		if len(row) > len(spec.Columns) {
			return nil, models.Errorf(models.KindDataLoadFailed, "row %d has %d values, table has %d columns",
				i+1, len(row), len(spec.Columns)).WithTable(ref.Schema, ref.Table)
		}
		columns := spec.Columns[:len(row)]
		ops = append(ops, plan.InsertRowIfAbsent{
			Schema:     ref.Schema,
			Table:      ref.Table,
			Columns:    columns,
			Values:     row,
			KeyColumns: boundKey(spec.KeyColumns, columns),
		})
	}
	return ops, nil
}

// boundKey returns the key when every key column receives a value; a row
// that leaves part of its key to a default falls back to whole-row matching
func boundKey(key, columns []string) []string {
	if len(key) == 0 {
		return nil
	}
	bound := make(map[string]bool, len(columns))
	for _, c := range columns {
		bound[c] = true
	}
	for _, k := range key {
		if !bound[k] {
			return nil
		}
	}
	return key
}

func (l *Loader) readFile(path string) ([]models.Row, error) {
	f, err := l.Fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		r.Comma = '\t'
		r.LazyQuotes = true
	}

	var rows []models.Row
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse data file %s: %w", path, err)
		}
		rows = append(rows, models.Row(record))
	}
	l.Logger.Debugf("Read %d row(s) from %s", len(rows), path)
	return rows, nil
}

// Statements renders the inserts without executing them
func (l *Loader) Statements(ref models.TableRef, spec *plan.LoadSpec) ([]sqlgen.Statement, error) {
	ops, err := l.Operations(ref, spec)
	if err != nil {
		return nil, err
	}
	return l.Renderer.RenderAll(ops)
}

// Load inserts the rows in one transaction on conn. Any failure rolls the
// whole load back.
func (l *Loader) Load(ctx context.Context, conn *sql.Conn, ref models.TableRef, spec *plan.LoadSpec) (*Result, error) {
	stmts, err := l.Statements(ref, spec)
	if err != nil {
		return nil, err
	}
	result := &Result{}
	if len(stmts) == 0 {
		return result, nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, l.failed(ref, err)
	}
	for _, stmt := range stmts {
		l.Logger.Debugf("Executing: %s", stmt)
		res, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			_ = tx.Rollback()
			return nil, l.failed(ref, err)
		}
		result.Statements = append(result.Statements, stmt.String())
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			result.Inserted += n
		} else {
			result.Skipped++
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, l.failed(ref, err)
	}

	l.Logger.Infof("Loaded %s: %d row(s) inserted, %d already present", ref, result.Inserted, result.Skipped)
	return result, nil
}

func (l *Loader) failed(ref models.TableRef, err error) error {
	kind := models.KindDataLoadFailed
	if errors.Is(err, context.DeadlineExceeded) {
		kind = models.KindTimeout
	}
	return models.Errorf(kind, "%s", connector.DescribeError(err)).WithTable(ref.Schema, ref.Table)
}

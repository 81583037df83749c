// Package document loads and structurally validates schema documents.
//
// A document looks like:
//
//	database:
//	  - schemaName: s
//	    tables:
//	      - table:
//	          tableName: t
//	          columns:
//	            - column:
//	                name: id
//	                type: serial
//	                constraint:
//	                  primaryKey: true
//
// Validation failures are reported as models.KindValidation errors before any
// database connection is attempted.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/vitebski/schema-guard/pkg/models"
	"gopkg.in/yaml.v3"
)

// Loader reads documents from a filesystem
type Loader struct {
	Fs     afero.Fs
	Logger *logrus.Logger
}

// NewLoader creates a new document loader
func NewLoader(fs afero.Fs, logger *logrus.Logger) *Loader {
	return &Loader{Fs: fs, Logger: logger}
}

// LoadFile reads, parses and validates the document at path
func (l *Loader) LoadFile(path string) (*models.Database, error) {
	data, err := afero.ReadFile(l.Fs, path)
	if err != nil {
		return nil, models.NewError(models.KindValidation, fmt.Errorf("load %s: %w", path, err))
	}
	db, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	tables := 0
	for _, s := range db.Schemas {
		tables += len(s.Tables)
	}
	l.Logger.Infof("Loaded document %s: %d schema(s), %d table(s)", path, len(db.Schemas), tables)
	return db, nil
}

// Parse decodes and validates a document. file is used for error context only.
func Parse(data []byte, file string) (*models.Database, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw rawDocument
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, models.Errorf(models.KindValidation, "%s: empty document", file)
		}
		return nil, models.Errorf(models.KindValidation, "%s: %v", file, err)
	}
	if len(raw.Database) == 0 {
		return nil, models.Errorf(models.KindValidation, "%s: no database entries", file)
	}

	db := &models.Database{File: file}
	for i := range raw.Database {
		rs := &raw.Database[i]
		name := safeName(rs.SchemaName)
		if name == "" {
			name = models.DefaultSchema
		}
		schema := db.Schema(name)
		if schema == nil {
			schema = &models.Schema{Name: name}
			db.Schemas = append(db.Schemas, schema)
		}
		if err := appendSchema(schema, rs); err != nil {
			return nil, fileContext(err, file)
		}
	}

	if err := db.Validate(); err != nil {
		return nil, fileContext(err, file)
	}
	return db, nil
}

func fileContext(err error, file string) error {
	var me *models.MigrationError
	if errors.As(err, &me) && me.Err != nil && file != "" {
		me.Err = fmt.Errorf("%w, found in file: %s", me.Err, file)
	}
	return err
}

func appendSchema(schema *models.Schema, rs *rawSchema) error {
	if rs.Owner != "" {
		schema.Owner = safeName(rs.Owner)
	}
	for i, entry := range rs.Tables {
		if entry.Table == nil {
			return models.Errorf(models.KindValidation, "table entry %d/%d has no table body", i+1, len(rs.Tables)).
				WithSchema(schema.Name)
		}
		t, err := convertTable(schema.Name, entry.Table)
		if err != nil {
			return err
		}
		if schema.Table(t.Name) != nil {
			return models.Errorf(models.KindValidation, "duplicate table definition: %s", t.Name).
				WithTable(schema.Name, t.Name)
		}
		schema.Tables = append(schema.Tables, t)
	}
	schema.Roles = append(schema.Roles, placeholders("role", rs.Roles)...)
	schema.Functions = append(schema.Functions, placeholders("function", rs.Functions)...)
	schema.Procedures = append(schema.Procedures, placeholders("procedure", rs.Procedures)...)
	schema.Views = append(schema.Views, placeholders("view", rs.Views)...)
	schema.Sequences = append(schema.Sequences, placeholders("sequence", rs.Sequences)...)
	return nil
}

func placeholders(kind string, raws []map[string]interface{}) []models.Placeholder {
	var out []models.Placeholder
	for _, r := range raws {
		p := models.Placeholder{Kind: kind, Raw: r}
		if n, ok := r["name"].(string); ok {
			p.Name = n
		}
		out = append(out, p)
	}
	return out
}

func convertTable(schema string, rt *rawTable) (*models.Table, error) {
	name := safeName(rt.TableName)
	if name == "" {
		return nil, models.Errorf(models.KindValidation, "no table name set").WithSchema(schema)
	}

	t := &models.Table{
		Name:        name,
		Description: stripComment(rt.Description),
		Constraint:  stripComment(rt.Constraint),
		SQL:         stripComment(rt.SQL),
		Owner:       safeName(rt.Owner),
		Template:    models.TemplateDirective(rt.Template),
		DataFile:    rt.DataFile,
	}

	for i, entry := range rt.Columns {
		if entry.Column == nil {
			continue
		}
		c, err := convertColumn(entry.Column)
		if err != nil {
			return nil, models.Errorf(models.KindValidation, "%v (column) %d/%d", err, i+1, len(rt.Columns)).
				WithTable(schema, name)
		}
		if t.Column(c.Name) != nil {
			return nil, models.Errorf(models.KindValidation, "duplicate column name").
				WithTable(schema, name).WithColumn(c.Name)
		}
		t.Columns = append(t.Columns, c)
	}

	seenTriggers := make(map[string]bool)
	for _, entry := range rt.Triggers {
		if entry.Trigger == nil {
			continue
		}
		tr := entry.Trigger
		trig := &models.Trigger{
			Name:  safeName(tr.Name),
			Event: stripComment(tr.Event),
			When:  stripComment(tr.When),
			Proc:  stripComment(tr.Proc),
		}
		if trig.Name == "" || trig.Event == "" || trig.Proc == "" {
			return nil, models.Errorf(models.KindValidation, "trigger requires name, event and proc").
				WithTable(schema, name)
		}
		if seenTriggers[trig.Name] {
			return nil, models.Errorf(models.KindValidation, "duplicate trigger name: %s", trig.Name).
				WithTable(schema, name)
		}
		seenTriggers[trig.Name] = true
		t.Triggers = append(t.Triggers, trig)
	}

	for i, rg := range rt.Grant {
		g := rg.toGrant()
		if len(g.Privileges) == 0 {
			return nil, models.Errorf(models.KindValidation, "grant %d/%d names no privilege", i+1, len(rt.Grant)).
				WithTable(schema, name)
		}
		t.Grants = append(t.Grants, g)
	}

	for _, r := range rt.Data {
		row := make(models.Row, len(r))
		copy(row, r)
		t.Data = append(t.Data, row)
	}

	for _, ref := range t.Template.Uses {
		if strings.TrimSpace(ref) == "" {
			return nil, models.Errorf(models.KindValidation, "empty template reference").WithTable(schema, name)
		}
	}
	if t.Template.IsTemplate && t.HasData() {
		return nil, models.Errorf(models.KindValidation, "template table cannot declare data").WithTable(schema, name)
	}
	return t, nil
}

func convertColumn(rc *rawColumn) (*models.Column, error) {
	c := &models.Column{
		Name:        safeName(rc.Name),
		Type:        stripComment(rc.Type),
		Description: stripComment(rc.Description),
		SQL:         stripComment(rc.SQL),
	}
	if c.Name == "" {
		return nil, errors.New("missing column name")
	}
	if c.Type == "" {
		return nil, fmt.Errorf("missing type on column %s", c.Name)
	}
	if rc.DefaultValue != nil {
		def := stripComment(*rc.DefaultValue)
		c.Default = &def
	}
	if rc.Constraint != nil {
		nullable := true
		if rc.Constraint.Nullable != nil {
			nullable = *rc.Constraint.Nullable
		}
		con := &models.Constraint{PrimaryKey: rc.Constraint.PrimaryKey, Nullable: nullable}
		if fk := rc.Constraint.ForeignKey; fk != nil {
			refs := stripComment(fk.References)
			if refs == "" {
				return nil, fmt.Errorf("foreign key on column %s has no references", c.Name)
			}
			con.ForeignKey = &models.ForeignKey{References: refs, SQL: stripComment(fk.SQL)}
		}
		if con.PrimaryKey || !con.Nullable || con.ForeignKey != nil {
			c.Constraint = con
		}
	}
	if rc.Index != nil {
		idx := &models.Index{Name: stripComment(rc.Index.Name), SQL: stripComment(rc.Index.SQL)}
		if idx.Name == "" {
			idx.Name = models.AutoIndexName
		}
		c.Index = idx
	}
	return c, nil
}

package models

import (
	"fmt"
	"strings"
)

// DefaultSchema is used when a document entry omits schemaName
const DefaultSchema = "public"

// Database is the desired state built from one document
type Database struct {
	Schemas []*Schema
	// File is the document path, used for log context and data_file resolution
	File string
}

// Schema groups tables under one database schema
type Schema struct {
	Name   string
	Owner  string
	Tables []*Table

	// Reserved object kinds, carried through untouched
	Roles      []Placeholder
	Functions  []Placeholder
	Procedures []Placeholder
	Views      []Placeholder
	Sequences  []Placeholder
}

// Placeholder holds a reserved object definition that is not acted on yet
type Placeholder struct {
	Kind string
	Name string
	Raw  map[string]interface{}
}

// TemplateDirective is the decoded form of a table's template field
type TemplateDirective struct {
	// IsTemplate marks a definition-only table that is never created
	IsTemplate bool
	// Uses lists template references ("table" or "schema.table") in merge order
	Uses []string
}

// Table is a desired table definition
type Table struct {
	Name        string
	Description string
	Constraint  string
	SQL         string
	Owner       string
	Columns     []*Column
	Triggers    []*Trigger
	Grants      []*Grant
	Template    TemplateDirective
	Data        []Row
	DataFile    string
}

// Column is a desired column definition
type Column struct {
	Name        string
	Type        string
	Default     *string
	Constraint  *Constraint
	Index       *Index
	Description string
	SQL         string
}

// Constraint holds the column level constraint flags
type Constraint struct {
	PrimaryKey bool
	Nullable   bool
	ForeignKey *ForeignKey
}

// ForeignKey represents a foreign key declared on a column
type ForeignKey struct {
	References string
	SQL        string
}

// Index is a column's index membership. Columns sharing Name form one index.
type Index struct {
	Name string
	SQL  string
}

// Trigger is a desired trigger definition
type Trigger struct {
	Name  string
	Event string
	When  string
	Proc  string
}

// Privilege names a grantable privilege flag
type Privilege string

const (
	PrivAll        Privilege = "all"
	PrivSelect     Privilege = "select"
	PrivInsert     Privilege = "insert"
	PrivUpdate     Privilege = "update"
	PrivDelete     Privilege = "delete"
	PrivTruncate   Privilege = "truncate"
	PrivReferences Privilege = "references"
	PrivTrigger    Privilege = "trigger"
	PrivCreate     Privilege = "create"
	PrivConnect    Privilege = "connect"
	PrivTemporary  Privilege = "temporary"
	PrivExecute    Privilege = "execute"
	PrivUsage      Privilege = "usage"
)

// Privileges lists every privilege flag in document order
var Privileges = []Privilege{
	PrivAll, PrivSelect, PrivInsert, PrivUpdate, PrivDelete, PrivTruncate, PrivReferences,
	PrivTrigger, PrivCreate, PrivConnect, PrivTemporary, PrivExecute, PrivUsage,
}

// TablePrivileges are the privileges that apply to tables; "all" expands to these
var TablePrivileges = []Privilege{
	PrivSelect, PrivInsert, PrivUpdate, PrivDelete, PrivTruncate, PrivReferences, PrivTrigger,
}

// IsTablePrivilege reports whether p can be granted on a table
func (p Privilege) IsTablePrivilege() bool {
	if p == PrivAll {
		return true
	}
	for _, tp := range TablePrivileges {
		if tp == p {
			return true
		}
	}
	return false
}

// SQL returns the privilege keyword as used in GRANT statements
func (p Privilege) SQL() string {
	return strings.ToUpper(string(p))
}

// Grant is a set of privilege flags, each valued with a grantee
type Grant struct {
	Privileges      map[Privilege]string
	WithGrantOption bool
	By              string
}

// Row is one positional set of string-encoded values
type Row []string

// TableRef identifies a table by schema and name
type TableRef struct {
	Schema string
	Table  string
}

func (r TableRef) String() string {
	return r.Schema + "." + r.Table
}

// ParseTableRef parses "table", "schema.table" and an optional "(col, ...)" suffix.
// A missing schema resolves to defaultSchema.
func ParseTableRef(ref, defaultSchema string) (TableRef, []string) {
	ref = strings.TrimSpace(ref)
	var columns []string
	if i := strings.Index(ref, "("); i >= 0 {
		inner := strings.TrimSuffix(strings.TrimSpace(ref[i+1:]), ")")
		for _, c := range strings.Split(inner, ",") {
			if c = strings.TrimSpace(c); c != "" {
				columns = append(columns, c)
			}
		}
		ref = strings.TrimSpace(ref[:i])
	}
	if i := strings.Index(ref, "."); i >= 0 {
		return TableRef{Schema: ref[:i], Table: ref[i+1:]}, columns
	}
	return TableRef{Schema: defaultSchema, Table: ref}, columns
}

// Schema looks up a schema by name
func (d *Database) Schema(name string) *Schema {
	for _, s := range d.Schemas {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Table looks up a table by reference
func (d *Database) Table(ref TableRef) *Table {
	s := d.Schema(ref.Schema)
	if s == nil {
		return nil
	}
	return s.Table(ref.Table)
}

// Table looks up a table by name
func (s *Schema) Table(name string) *Table {
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// IsCreatable reports whether the table is physically created
func (t *Table) IsCreatable() bool {
	return !t.Template.IsTemplate
}

// Column looks up a column by name
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ColumnNames returns the column names in declaration order
func (t *Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

// PrimaryKeyColumns returns the primary key columns in declaration order
func (t *Table) PrimaryKeyColumns() []string {
	var pks []string
	for _, c := range t.Columns {
		if c.IsPrimaryKey() {
			pks = append(pks, c.Name)
		}
	}
	return pks
}

// HasData reports whether the table declares rows inline or through a file
func (t *Table) HasData() bool {
	return len(t.Data) > 0 || t.DataFile != ""
}

// IsPrimaryKey reports whether the column is part of the primary key
func (c *Column) IsPrimaryKey() bool {
	return c.Constraint != nil && c.Constraint.PrimaryKey
}

// IsNullable reports the declared nullability; absence means nullable,
// primary key columns are never nullable.
func (c *Column) IsNullable() bool {
	if c.Constraint == nil {
		return true
	}
	if c.Constraint.PrimaryKey {
		return false
	}
	return c.Constraint.Nullable
}

// ForeignKey returns the column's foreign key or nil
func (c *Column) ForeignKey() *ForeignKey {
	if c.Constraint == nil {
		return nil
	}
	return c.Constraint.ForeignKey
}

// Validate checks the invariants of an expanded database graph
func (d *Database) Validate() error {
	seenSchemas := make(map[string]bool)
	for _, s := range d.Schemas {
		if seenSchemas[s.Name] {
			return NewError(KindValidation, fmt.Errorf("duplicate schema %s", s.Name)).WithSchema(s.Name)
		}
		seenSchemas[s.Name] = true

		seenTables := make(map[string]bool)
		for _, t := range s.Tables {
			if seenTables[t.Name] {
				return NewError(KindValidation, fmt.Errorf("duplicate table definition %s", t.Name)).
					WithTable(s.Name, t.Name)
			}
			seenTables[t.Name] = true
		}
	}
	return nil
}

// AutoIndexName asks for a generated idx_<table>_<columns> index name
const AutoIndexName = "+"

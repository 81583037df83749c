// Package plan holds the change operations produced by the diff engine.
//
// Every operation creates something. There is no drop or alter variant, and
// Operation cannot be implemented outside this package.
package plan

import (
	"github.com/vitebski/schema-guard/pkg/models"
)

// Operation is one additive change
type Operation interface {
	// Object names what the operation creates, for reports
	Object() models.ObjectRef
	additive()
}

// ColumnDef is a fully resolved column definition
type ColumnDef struct {
	Name        string
	Type        string
	Default     *string
	Nullable    bool
	PrimaryKey  bool
	SQL         string
	Description string
	ForeignKey  *ForeignKeyDef
}

// ForeignKeyDef is a foreign key with its target resolved
type ForeignKeyDef struct {
	Name       string
	Column     string
	RefSchema  string
	RefTable   string
	RefColumns []string
	SQL        string
}

// CreateSchema creates a schema if it does not exist
type CreateSchema struct {
	Schema string
	Owner  string
}

// CreateTable creates a missing table with all its columns
type CreateTable struct {
	Schema      string
	Table       string
	Columns     []ColumnDef
	PrimaryKey  []string
	Constraint  string
	SQL         string
	Description string
	Owner       string
}

// AddColumn adds one missing column to an existing table
type AddColumn struct {
	Schema string
	Table  string
	Column ColumnDef
}

// AddForeignKey adds a missing foreign key to an existing column
type AddForeignKey struct {
	Schema     string
	Table      string
	ForeignKey ForeignKeyDef
}

// CreateIndex creates a missing index
type CreateIndex struct {
	Schema  string
	Table   string
	Name    string
	Columns []string
	Unique  bool
	SQL     string
}

// CreateTrigger creates a missing trigger
type CreateTrigger struct {
	Schema string
	Table  string
	Name   string
	Event  string
	When   string
	Proc   string
}

// GrantPrivileges grants the privileges a grantee is missing
type GrantPrivileges struct {
	Schema          string
	Table           string
	Grantee         string
	Privileges      []models.Privilege
	WithGrantOption bool
	GrantedBy       string
}

// InsertRowIfAbsent inserts a row unless its key (or the whole row when
// KeyColumns is empty) is already present
type InsertRowIfAbsent struct {
	Schema     string
	Table      string
	Columns    []string
	Values     []string
	KeyColumns []string
}

func (CreateSchema) additive()      {}
func (CreateTable) additive()       {}
func (AddColumn) additive()         {}
func (AddForeignKey) additive()     {}
func (CreateIndex) additive()       {}
func (CreateTrigger) additive()     {}
func (GrantPrivileges) additive()   {}
func (InsertRowIfAbsent) additive() {}

func (o CreateSchema) Object() models.ObjectRef {
	return models.ObjectRef{Kind: models.ObjectSchema, Schema: o.Schema}
}

func (o CreateTable) Object() models.ObjectRef {
	return models.ObjectRef{Kind: models.ObjectTable, Schema: o.Schema, Table: o.Table}
}

func (o AddColumn) Object() models.ObjectRef {
	return models.ObjectRef{Kind: models.ObjectColumn, Schema: o.Schema, Table: o.Table, Name: o.Column.Name}
}

func (o AddForeignKey) Object() models.ObjectRef {
	return models.ObjectRef{Kind: models.ObjectForeignKey, Schema: o.Schema, Table: o.Table, Name: o.ForeignKey.Name}
}

func (o CreateIndex) Object() models.ObjectRef {
	return models.ObjectRef{Kind: models.ObjectIndex, Schema: o.Schema, Table: o.Table, Name: o.Name}
}

func (o CreateTrigger) Object() models.ObjectRef {
	return models.ObjectRef{Kind: models.ObjectTrigger, Schema: o.Schema, Table: o.Table, Name: o.Name}
}

func (o GrantPrivileges) Object() models.ObjectRef {
	return models.ObjectRef{Kind: models.ObjectGrant, Schema: o.Schema, Table: o.Table, Name: o.Grantee}
}

func (o InsertRowIfAbsent) Object() models.ObjectRef {
	return models.ObjectRef{Kind: models.ObjectData, Schema: o.Schema, Table: o.Table}
}

package models

import "strings"

// CatalogColumn is a column as found in the live database
type CatalogColumn struct {
	Name     string
	Type     string
	Nullable bool
	Default  string
}

// CatalogForeignKey is a live foreign key constraint on one column
type CatalogForeignKey struct {
	Name      string
	Column    string
	RefSchema string
	RefTable  string
}

// CatalogIndex is a live non-primary index
type CatalogIndex struct {
	Name    string
	Columns []string
	Unique  bool
}

// CatalogTrigger is a live trigger
type CatalogTrigger struct {
	Name   string
	Event  string
	Timing string
}

// CatalogTable is the actual state of one table
type CatalogTable struct {
	Schema      string
	Name        string
	Owner       string
	Columns     []*CatalogColumn
	PrimaryKey  []string
	ForeignKeys []*CatalogForeignKey
	Indexes     map[string]*CatalogIndex
	Triggers    map[string]*CatalogTrigger
	// Grants maps grantee -> privilege (upper case) -> grantable
	Grants map[string]map[string]bool
}

// CatalogSchema is the actual state of one schema, scoped to the tables asked for
type CatalogSchema struct {
	Name   string
	Exists bool
	Tables map[string]*CatalogTable
}

// Catalog is the actual state, scoped to objects named in the desired state
type Catalog struct {
	Schemas map[string]*CatalogSchema
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{Schemas: make(map[string]*CatalogSchema)}
}

// NewCatalogTable creates an empty live table
func NewCatalogTable(schema, name string) *CatalogTable {
	return &CatalogTable{
		Schema:   schema,
		Name:     name,
		Indexes:  make(map[string]*CatalogIndex),
		Triggers: make(map[string]*CatalogTrigger),
		Grants:   make(map[string]map[string]bool),
	}
}

// GranteeKey folds the PUBLIC pseudo-role to one spelling; role names are
// kept as written
func GranteeKey(grantee string) string {
	if strings.EqualFold(grantee, "public") {
		return "public"
	}
	return grantee
}

// GrantsOf returns the live privileges of grantee
func (t *CatalogTable) GrantsOf(grantee string) map[string]bool {
	if privs, ok := t.Grants[grantee]; ok {
		return privs
	}
	if GranteeKey(grantee) != "public" {
		return nil
	}
	for name, privs := range t.Grants {
		if GranteeKey(name) == "public" {
			return privs
		}
	}
	return nil
}

// EnsureSchema returns the schema entry, creating it when absent
func (c *Catalog) EnsureSchema(name string) *CatalogSchema {
	s, ok := c.Schemas[name]
	if !ok {
		s = &CatalogSchema{Name: name, Tables: make(map[string]*CatalogTable)}
		c.Schemas[name] = s
	}
	return s
}

// SchemaExists reports whether the schema exists live
func (c *Catalog) SchemaExists(name string) bool {
	s, ok := c.Schemas[name]
	return ok && s.Exists
}

// Table returns the live table or nil when it does not exist
func (c *Catalog) Table(ref TableRef) *CatalogTable {
	s, ok := c.Schemas[ref.Schema]
	if !ok {
		return nil
	}
	return s.Tables[ref.Table]
}

// Column returns the live column or nil
func (t *CatalogTable) Column(name string) *CatalogColumn {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ForeignKeyOn returns the live foreign key on the given column or nil
func (t *CatalogTable) ForeignKeyOn(column string) *CatalogForeignKey {
	for _, fk := range t.ForeignKeys {
		if fk.Column == column {
			return fk
		}
	}
	return nil
}

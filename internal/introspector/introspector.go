// Package introspector reads the live catalog into models.Catalog, scoped to
// the schemas and tables a document names. Missing objects are a normal
// result; any query failure is a models.KindIntrospectionFailed error.
package introspector

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/schema-guard/internal/connector"
	"github.com/vitebski/schema-guard/pkg/models"
)

// Introspector loads the actual state for a scope
type Introspector interface {
	Introspect(ctx context.Context, scope *Scope) (*models.Catalog, error)
}

// Querier runs a catalog query; *connector.DatabaseConnector satisfies it
type Querier interface {
	ExecuteQuery(ctx context.Context, query string, params ...interface{}) ([]map[string]interface{}, error)
}

// New returns the introspector matching the connector's driver
func New(dc *connector.DatabaseConnector, logger *logrus.Logger) (Introspector, error) {
	switch dc.Driver {
	case connector.DriverPostgres:
		return NewPostgresIntrospector(dc, logger), nil
	case connector.DriverMySQL:
		return NewMySQLIntrospector(dc, logger), nil
	}
	return nil, fmt.Errorf("no introspector for driver %q", dc.Driver)
}

// Scope is the set of schemas and tables to report on
type Scope struct {
	schemas []string
	tables  map[string]map[string]bool
}

// NewScope creates an empty scope
func NewScope() *Scope {
	return &Scope{tables: make(map[string]map[string]bool)}
}

// ScopeFor collects every schema and creatable table of db plus the targets
// of its foreign keys
func ScopeFor(db *models.Database) *Scope {
	s := NewScope()
	for _, schema := range db.Schemas {
		s.AddSchema(schema.Name)
		for _, t := range schema.Tables {
			if !t.IsCreatable() {
				continue
			}
			s.Add(models.TableRef{Schema: schema.Name, Table: t.Name})
			for _, c := range t.Columns {
				if fk := c.ForeignKey(); fk != nil {
					ref, _ := models.ParseTableRef(fk.References, schema.Name)
					s.Add(ref)
				}
			}
		}
	}
	return s
}

// AddSchema adds a schema without tables
func (s *Scope) AddSchema(name string) {
	if _, ok := s.tables[name]; !ok {
		s.schemas = append(s.schemas, name)
		s.tables[name] = make(map[string]bool)
	}
}

// Add adds a table and its schema
func (s *Scope) Add(ref models.TableRef) {
	s.AddSchema(ref.Schema)
	s.tables[ref.Schema][ref.Table] = true
}

// Schemas returns the schema names in insertion order
func (s *Scope) Schemas() []string {
	return s.schemas
}

// Contains reports whether a table is in scope
func (s *Scope) Contains(schema, table string) bool {
	return s.tables[schema][table]
}

// Tables returns the sorted table names of a schema
func (s *Scope) Tables(schema string) []string {
	var names []string
	for name := range s.tables[schema] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func failed(schema, step string, err error) error {
	return models.NewError(models.KindIntrospectionFailed,
		fmt.Errorf("%s: %s", step, connector.DescribeError(err))).WithSchema(schema)
}

// catalogTables keeps the in-scope tables of a tables query
func catalogTables(cs *models.CatalogSchema, scope *Scope, rows []map[string]interface{}) {
	for _, row := range rows {
		name := asString(row["table_name"])
		if !scope.Contains(cs.Name, name) {
			continue
		}
		t := models.NewCatalogTable(cs.Name, name)
		t.Owner = asString(row["table_owner"])
		cs.Tables[name] = t
	}
}

func asString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func asBool(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case int64:
		return val != 0
	case nil:
		return false
	}
	switch strings.ToLower(asString(v)) {
	case "yes", "y", "t", "true", "1":
		return true
	}
	return false
}

func asInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int32:
		return int64(val)
	case int16:
		return int64(val)
	case int:
		return int64(val)
	case nil:
		return 0
	}
	n, _ := strconv.ParseInt(asString(v), 10, 64)
	return n
}

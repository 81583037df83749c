// Package sqlgen renders plan operations into dialect specific statements.
//
// Identifiers are quoted so that catalog names match document names exactly
// on the next run. Raw sql fragments, types and default expressions are
// emitted verbatim. Row values are always bound as arguments.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/vitebski/schema-guard/internal/connector"
	"github.com/vitebski/schema-guard/internal/plan"
)

// Statement is one SQL statement with its positional arguments
type Statement struct {
	SQL  string
	Args []interface{}
}

func (s Statement) String() string {
	if len(s.Args) == 0 {
		return s.SQL
	}
	return fmt.Sprintf("%s -- %v", s.SQL, s.Args)
}

// Renderer turns operations into statements for one driver
type Renderer struct {
	Driver connector.Driver
	d      dialect
}

type dialect interface {
	ident(name string) string
	literal(s string) string
	placeholder(n int) string
	createSchema(op plan.CreateSchema) []Statement
	createTable(r *Renderer, op plan.CreateTable) []Statement
	addColumn(r *Renderer, op plan.AddColumn) []Statement
	grantee(name string) string
	grantedBy(by string) string
	insert(r *Renderer, op plan.InsertRowIfAbsent) Statement
}

// New creates a renderer for the given driver
func New(driver connector.Driver) (*Renderer, error) {
	r := &Renderer{Driver: driver}
	switch driver {
	case connector.DriverPostgres:
		r.d = postgres{}
	case connector.DriverMySQL:
		r.d = mysql{}
	default:
		return nil, fmt.Errorf("unsupported driver: %q", driver)
	}
	return r, nil
}

// Render returns the statements for one operation in execution order
func (r *Renderer) Render(op plan.Operation) ([]Statement, error) {
	switch o := op.(type) {
	case plan.CreateSchema:
		return r.d.createSchema(o), nil
	case plan.CreateTable:
		return r.d.createTable(r, o), nil
	case plan.AddColumn:
		return r.d.addColumn(r, o), nil
	case plan.AddForeignKey:
		return []Statement{{SQL: fmt.Sprintf("ALTER TABLE %s ADD %s",
			r.table(o.Schema, o.Table), r.foreignKeyConstraint(o.ForeignKey))}}, nil
	case plan.CreateIndex:
		return []Statement{r.createIndex(o)}, nil
	case plan.CreateTrigger:
		return []Statement{{SQL: join("CREATE TRIGGER", r.d.ident(o.Name), o.Event, "ON",
			r.table(o.Schema, o.Table), o.When, r.triggerBody(o.Proc))}}, nil
	case plan.GrantPrivileges:
		return []Statement{r.grant(o)}, nil
	case plan.InsertRowIfAbsent:
		return []Statement{r.d.insert(r, o)}, nil
	}
	return nil, fmt.Errorf("unsupported operation %T", op)
}

// RenderAll renders a sequence of operations
func (r *Renderer) RenderAll(ops []plan.Operation) ([]Statement, error) {
	var out []Statement
	for _, op := range ops {
		stmts, err := r.Render(op)
		if err != nil {
			return nil, err
		}
		out = append(out, stmts...)
	}
	return out, nil
}

func (r *Renderer) table(schema, table string) string {
	return r.d.ident(schema) + "." + r.d.ident(table)
}

func (r *Renderer) identList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = r.d.ident(n)
	}
	return strings.Join(quoted, ", ")
}

// columnDef renders "name type [DEFAULT x] [NOT NULL] [PRIMARY KEY] [sql]"
// without foreign key or comment clauses
func (r *Renderer) columnDef(c plan.ColumnDef, inlinePK bool) string {
	parts := []string{r.d.ident(c.Name), c.Type}
	if c.Default != nil && *c.Default != "" {
		parts = append(parts, "DEFAULT", *c.Default)
	}
	if c.PrimaryKey && inlinePK {
		parts = append(parts, "PRIMARY KEY")
	} else if !c.Nullable {
		parts = append(parts, "NOT NULL")
	}
	return join(append(parts, c.SQL)...)
}

func (r *Renderer) references(fk plan.ForeignKeyDef) string {
	return join("REFERENCES", r.table(fk.RefSchema, fk.RefTable), "("+r.identList(fk.RefColumns)+")", fk.SQL)
}

func (r *Renderer) foreignKeyConstraint(fk plan.ForeignKeyDef) string {
	return join("CONSTRAINT", r.d.ident(fk.Name), "FOREIGN KEY", "("+r.d.ident(fk.Column)+")", r.references(fk))
}

func (r *Renderer) createIndex(o plan.CreateIndex) Statement {
	kind := "INDEX"
	if o.Unique {
		kind = "UNIQUE INDEX"
	}
	ifNotExists := "IF NOT EXISTS"
	if r.Driver == connector.DriverMySQL {
		ifNotExists = ""
	}
	return Statement{SQL: join("CREATE", kind, ifNotExists, r.d.ident(o.Name), "ON",
		r.table(o.Schema, o.Table), "("+r.identList(o.Columns)+")", o.SQL)}
}

func (r *Renderer) triggerBody(proc string) string {
	if r.Driver == connector.DriverMySQL {
		return proc
	}
	return "EXECUTE PROCEDURE " + proc
}

func (r *Renderer) grant(o plan.GrantPrivileges) Statement {
	privs := make([]string, len(o.Privileges))
	for i, p := range o.Privileges {
		privs[i] = p.SQL()
	}
	on := "ON TABLE"
	if r.Driver == connector.DriverMySQL {
		on = "ON"
	}
	sql := join("GRANT", strings.Join(privs, ", "), on, r.table(o.Schema, o.Table), "TO", r.d.grantee(o.Grantee))
	if o.WithGrantOption {
		sql += " WITH GRANT OPTION"
	}
	if o.GrantedBy != "" {
		sql = join(sql, r.d.grantedBy(o.GrantedBy))
	}
	return Statement{SQL: sql}
}

func (r *Renderer) insertColumns(o plan.InsertRowIfAbsent) (string, []string, []interface{}) {
	names := r.identList(o.Columns)
	params := make([]string, len(o.Values))
	args := make([]interface{}, len(o.Values))
	for i, v := range o.Values {
		params[i] = r.d.placeholder(i + 1)
		args[i] = v
	}
	return names, params, args
}

// join concatenates the non-empty parts with single spaces
func join(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

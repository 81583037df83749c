package sqlgen

import (
	"fmt"
	"strings"

	"github.com/vitebski/schema-guard/internal/plan"
)

type postgres struct{}

func (postgres) ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (postgres) literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (postgres) placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (p postgres) createSchema(op plan.CreateSchema) []Statement {
	sql := "CREATE SCHEMA IF NOT EXISTS " + p.ident(op.Schema)
	if op.Owner != "" {
		sql += " AUTHORIZATION " + p.ident(op.Owner)
	}
	return []Statement{{SQL: sql}}
}

func (p postgres) createTable(r *Renderer, op plan.CreateTable) []Statement {
	table := r.table(op.Schema, op.Table)
	inlinePK := len(op.PrimaryKey) == 1

	var defs []string
	for _, c := range op.Columns {
		def := r.columnDef(c, inlinePK)
		if c.ForeignKey != nil {
			def = join(def, "CONSTRAINT", p.ident(c.ForeignKey.Name), r.references(*c.ForeignKey))
		}
		defs = append(defs, def)
	}
	if len(op.PrimaryKey) > 1 {
		defs = append(defs, "PRIMARY KEY ("+r.identList(op.PrimaryKey)+")")
	}
	if op.Constraint != "" {
		defs = append(defs, op.Constraint)
	}

	stmts := []Statement{{SQL: join(
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", ")), op.SQL)}}
	if op.Description != "" {
		stmts = append(stmts, Statement{SQL: fmt.Sprintf("COMMENT ON TABLE %s IS %s", table, p.literal(op.Description))})
	}
	for _, c := range op.Columns {
		stmts = append(stmts, p.columnComment(table, c)...)
	}
	if op.Owner != "" {
		stmts = append(stmts, Statement{SQL: fmt.Sprintf("ALTER TABLE %s OWNER TO %s", table, p.ident(op.Owner))})
	}
	return stmts
}

func (p postgres) addColumn(r *Renderer, op plan.AddColumn) []Statement {
	table := r.table(op.Schema, op.Table)
	def := r.columnDef(op.Column, true)
	if fk := op.Column.ForeignKey; fk != nil {
		def = join(def, "CONSTRAINT", p.ident(fk.Name), r.references(*fk))
	}
	stmts := []Statement{{SQL: fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s", table, def)}}
	return append(stmts, p.columnComment(table, op.Column)...)
}

func (p postgres) columnComment(table string, c plan.ColumnDef) []Statement {
	if c.Description == "" {
		return nil
	}
	return []Statement{{SQL: fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s", table, p.ident(c.Name), p.literal(c.Description))}}
}

func (p postgres) grantee(name string) string {
	if strings.EqualFold(name, "public") {
		return "PUBLIC"
	}
	return p.ident(name)
}

func (p postgres) grantedBy(by string) string {
	return "GRANTED BY " + p.ident(by)
}

// insert relies on ON CONFLICT when the table has a key and on a NOT EXISTS
// guard over every bound column otherwise
func (p postgres) insert(r *Renderer, o plan.InsertRowIfAbsent) Statement {
	table := r.table(o.Schema, o.Table)
	names, params, args := r.insertColumns(o)
	if len(o.KeyColumns) > 0 {
		return Statement{
			SQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
				table, names, strings.Join(params, ", "), r.identList(o.KeyColumns)),
			Args: args,
		}
	}
	conds := make([]string, len(o.Columns))
	for i, c := range o.Columns {
		conds[i] = fmt.Sprintf("%s IS NOT DISTINCT FROM %s", p.ident(c), params[i])
	}
	return Statement{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) SELECT %s WHERE NOT EXISTS (SELECT 1 FROM %s WHERE %s)",
			table, names, strings.Join(params, ", "), table, strings.Join(conds, " AND ")),
		Args: args,
	}
}

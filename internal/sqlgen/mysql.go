package sqlgen

import (
	"fmt"
	"strings"

	"github.com/vitebski/schema-guard/internal/plan"
)

// mysql maps schemas to databases. Inline REFERENCES clauses are parsed but
// ignored by InnoDB, so foreign keys are always table constraints.
type mysql struct{}

func (mysql) ident(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (mysql) literal(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (mysql) placeholder(int) string {
	return "?"
}

func (m mysql) createSchema(op plan.CreateSchema) []Statement {
	return []Statement{{SQL: "CREATE DATABASE IF NOT EXISTS " + m.ident(op.Schema)}}
}

func (m mysql) column(r *Renderer, c plan.ColumnDef, inlinePK bool) string {
	def := r.columnDef(c, inlinePK)
	if c.Description != "" {
		def += " COMMENT " + m.literal(c.Description)
	}
	return def
}

func (m mysql) createTable(r *Renderer, op plan.CreateTable) []Statement {
	inlinePK := len(op.PrimaryKey) == 1

	var defs, fks []string
	for _, c := range op.Columns {
		defs = append(defs, m.column(r, c, inlinePK))
		if c.ForeignKey != nil {
			fks = append(fks, r.foreignKeyConstraint(*c.ForeignKey))
		}
	}
	if len(op.PrimaryKey) > 1 {
		defs = append(defs, "PRIMARY KEY ("+r.identList(op.PrimaryKey)+")")
	}
	defs = append(defs, fks...)
	if op.Constraint != "" {
		defs = append(defs, op.Constraint)
	}

	sql := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", r.table(op.Schema, op.Table), strings.Join(defs, ", "))
	if op.Description != "" {
		sql += " COMMENT = " + m.literal(op.Description)
	}
	return []Statement{{SQL: join(sql, op.SQL)}}
}

func (m mysql) addColumn(r *Renderer, op plan.AddColumn) []Statement {
	sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", r.table(op.Schema, op.Table), m.column(r, op.Column, true))
	if fk := op.Column.ForeignKey; fk != nil {
		sql += ", ADD " + r.foreignKeyConstraint(*fk)
	}
	return []Statement{{SQL: sql}}
}

func (m mysql) grantee(name string) string {
	return m.literal(name)
}

// grantedBy has no MySQL equivalent, grants are issued by the connected user
func (mysql) grantedBy(string) string {
	return ""
}

func (m mysql) insert(r *Renderer, o plan.InsertRowIfAbsent) Statement {
	table := r.table(o.Schema, o.Table)
	names, params, args := r.insertColumns(o)
	if len(o.KeyColumns) > 0 {
		return Statement{
			SQL:  fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, names, strings.Join(params, ", ")),
			Args: args,
		}
	}
	conds := make([]string, len(o.Columns))
	for i, c := range o.Columns {
		conds[i] = m.ident(c) + " <=> ?"
	}
	return Statement{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM DUAL WHERE NOT EXISTS (SELECT 1 FROM %s WHERE %s)",
			table, names, strings.Join(params, ", "), table, strings.Join(conds, " AND ")),
		Args: append(args, args...),
	}
}

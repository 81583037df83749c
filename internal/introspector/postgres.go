package introspector

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/schema-guard/pkg/models"
)

const (
	pgSchemaQuery = `SELECT schema_name FROM information_schema.schemata WHERE schema_name = $1`

	pgTablesQuery = `SELECT tablename AS table_name, tableowner AS table_owner
FROM pg_catalog.pg_tables WHERE schemaname = $1`

	pgColumnsQuery = `SELECT table_name, column_name, udt_name, character_maximum_length,
	numeric_precision, numeric_scale, is_nullable, column_default
FROM information_schema.columns WHERE table_schema = $1
ORDER BY table_name, ordinal_position`

	pgConstraintsQuery = `SELECT t.relname AS table_name, c.conname AS constraint_name, c.contype AS constraint_type,
	a.attname AS column_name, rn.nspname AS ref_schema, rt.relname AS ref_table
FROM pg_catalog.pg_constraint c
JOIN pg_catalog.pg_class t ON t.oid = c.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = t.relnamespace
CROSS JOIN LATERAL unnest(c.conkey) WITH ORDINALITY AS k(attnum, ord)
JOIN pg_catalog.pg_attribute a ON a.attrelid = c.conrelid AND a.attnum = k.attnum
LEFT JOIN pg_catalog.pg_class rt ON rt.oid = c.confrelid
LEFT JOIN pg_catalog.pg_namespace rn ON rn.oid = rt.relnamespace
WHERE n.nspname = $1 AND c.contype IN ('p', 'f')
ORDER BY t.relname, c.conname, k.ord`

	pgIndexesQuery = `SELECT t.relname AS table_name, i.relname AS index_name, ix.indisunique AS is_unique,
	a.attname AS column_name
FROM pg_catalog.pg_index ix
JOIN pg_catalog.pg_class i ON i.oid = ix.indexrelid
JOIN pg_catalog.pg_class t ON t.oid = ix.indrelid
JOIN pg_catalog.pg_namespace n ON n.oid = t.relnamespace
CROSS JOIN LATERAL unnest(ix.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord)
LEFT JOIN pg_catalog.pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
WHERE n.nspname = $1 AND NOT ix.indisprimary
ORDER BY t.relname, i.relname, k.ord`

	pgTriggersQuery = `SELECT c.relname AS table_name, tg.tgname AS trigger_name, tg.tgtype AS trigger_type
FROM pg_catalog.pg_trigger tg
JOIN pg_catalog.pg_class c ON c.oid = tg.tgrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND NOT tg.tgisinternal
ORDER BY c.relname, tg.tgname`

	pgGrantsQuery = `SELECT table_name, grantee, privilege_type, is_grantable
FROM information_schema.table_privileges
WHERE table_schema = $1 AND grantor <> grantee`
)

// pg_trigger.tgtype bits
const (
	tgRow      = 1 << 0
	tgBefore   = 1 << 1
	tgInsert   = 1 << 2
	tgDelete   = 1 << 3
	tgUpdate   = 1 << 4
	tgTruncate = 1 << 5
	tgInstead  = 1 << 6
)

// PostgresIntrospector reads pg_catalog and information_schema
type PostgresIntrospector struct {
	DB     Querier
	Logger *logrus.Logger
}

// NewPostgresIntrospector creates a new PostgreSQL introspector
func NewPostgresIntrospector(db Querier, logger *logrus.Logger) *PostgresIntrospector {
	return &PostgresIntrospector{DB: db, Logger: logger}
}

// Introspect loads every schema of the scope
func (p *PostgresIntrospector) Introspect(ctx context.Context, scope *Scope) (*models.Catalog, error) {
	catalog := models.NewCatalog()
	for _, schema := range scope.Schemas() {
		cs := catalog.EnsureSchema(schema)
		if err := p.introspectSchema(ctx, cs, scope); err != nil {
			return nil, err
		}
		p.Logger.Debugf("Introspected schema %s: exists=%t, %d of %d table(s) present",
			schema, cs.Exists, len(cs.Tables), len(scope.Tables(schema)))
	}
	return catalog, nil
}

func (p *PostgresIntrospector) introspectSchema(ctx context.Context, cs *models.CatalogSchema, scope *Scope) error {
	rows, err := p.DB.ExecuteQuery(ctx, pgSchemaQuery, cs.Name)
	if err != nil {
		return failed(cs.Name, "schemas", err)
	}
	cs.Exists = len(rows) > 0
	if !cs.Exists {
		return nil
	}

	rows, err = p.DB.ExecuteQuery(ctx, pgTablesQuery, cs.Name)
	if err != nil {
		return failed(cs.Name, "tables", err)
	}
	catalogTables(cs, scope, rows)
	if len(cs.Tables) == 0 {
		return nil
	}

	rows, err = p.DB.ExecuteQuery(ctx, pgColumnsQuery, cs.Name)
	if err != nil {
		return failed(cs.Name, "columns", err)
	}
	for _, row := range rows {
		t := cs.Tables[asString(row["table_name"])]
		if t == nil {
			continue
		}
		t.Columns = append(t.Columns, pgColumn(row))
	}

	rows, err = p.DB.ExecuteQuery(ctx, pgConstraintsQuery, cs.Name)
	if err != nil {
		return failed(cs.Name, "constraints", err)
	}
	for _, row := range rows {
		t := cs.Tables[asString(row["table_name"])]
		if t == nil {
			continue
		}
		column := asString(row["column_name"])
		switch asString(row["constraint_type"]) {
		case "p":
			t.PrimaryKey = append(t.PrimaryKey, column)
		case "f":
			t.ForeignKeys = append(t.ForeignKeys, &models.CatalogForeignKey{
				Name:      asString(row["constraint_name"]),
				Column:    column,
				RefSchema: asString(row["ref_schema"]),
				RefTable:  asString(row["ref_table"]),
			})
		}
	}

	rows, err = p.DB.ExecuteQuery(ctx, pgIndexesQuery, cs.Name)
	if err != nil {
		return failed(cs.Name, "indexes", err)
	}
	for _, row := range rows {
		t := cs.Tables[asString(row["table_name"])]
		if t == nil {
			continue
		}
		name := asString(row["index_name"])
		idx, ok := t.Indexes[name]
		if !ok {
			idx = &models.CatalogIndex{Name: name, Unique: asBool(row["is_unique"])}
			t.Indexes[name] = idx
		}
		// expression members have no attribute
		if column := asString(row["column_name"]); column != "" {
			idx.Columns = append(idx.Columns, column)
		}
	}

	rows, err = p.DB.ExecuteQuery(ctx, pgTriggersQuery, cs.Name)
	if err != nil {
		return failed(cs.Name, "triggers", err)
	}
	for _, row := range rows {
		t := cs.Tables[asString(row["table_name"])]
		if t == nil {
			continue
		}
		name := asString(row["trigger_name"])
		event, timing := decodeTriggerType(asInt(row["trigger_type"]))
		t.Triggers[name] = &models.CatalogTrigger{Name: name, Event: event, Timing: timing}
	}

	rows, err = p.DB.ExecuteQuery(ctx, pgGrantsQuery, cs.Name)
	if err != nil {
		return failed(cs.Name, "grants", err)
	}
	for _, row := range rows {
		t := cs.Tables[asString(row["table_name"])]
		if t == nil {
			continue
		}
		addGrant(t, asString(row["grantee"]), asString(row["privilege_type"]), asBool(row["is_grantable"]))
	}
	return nil
}

func pgColumn(row map[string]interface{}) *models.CatalogColumn {
	udt := asString(row["udt_name"])
	typ := udt
	if strings.HasPrefix(udt, "_") {
		typ = strings.TrimPrefix(udt, "_") + "[]"
	}
	switch udt {
	case "varchar", "bpchar":
		if n := asInt(row["character_maximum_length"]); n > 0 {
			typ = fmt.Sprintf("%s(%d)", udt, n)
		}
	case "numeric":
		if prec := asInt(row["numeric_precision"]); prec > 0 {
			typ = fmt.Sprintf("numeric(%d,%d)", prec, asInt(row["numeric_scale"]))
		}
	}

	def := asString(row["column_default"])
	if strings.HasPrefix(def, "nextval(") {
		if serial := models.SerialFor(typ); serial != "" {
			typ = serial
		}
	}

	return &models.CatalogColumn{
		Name:     asString(row["column_name"]),
		Type:     models.NormalizeType(typ),
		Nullable: asBool(row["is_nullable"]),
		Default:  def,
	}
}

// decodeTriggerType turns pg_trigger.tgtype into "before insert or update"
// and "for each row"
func decodeTriggerType(tgtype int64) (event, timing string) {
	when := "after"
	switch {
	case tgtype&tgBefore != 0:
		when = "before"
	case tgtype&tgInstead != 0:
		when = "instead of"
	}

	var events []string
	if tgtype&tgInsert != 0 {
		events = append(events, "insert")
	}
	if tgtype&tgUpdate != 0 {
		events = append(events, "update")
	}
	if tgtype&tgDelete != 0 {
		events = append(events, "delete")
	}
	if tgtype&tgTruncate != 0 {
		events = append(events, "truncate")
	}

	timing = "for each statement"
	if tgtype&tgRow != 0 {
		timing = "for each row"
	}
	return when + " " + strings.Join(events, " or "), timing
}

func addGrant(t *models.CatalogTable, grantee, privilege string, grantable bool) {
	grantee = models.GranteeKey(grantee)
	privs, ok := t.Grants[grantee]
	if !ok {
		privs = make(map[string]bool)
		t.Grants[grantee] = privs
	}
	privs[strings.ToUpper(privilege)] = grantable
}

package introspector

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/schema-guard/pkg/models"
)

// In MySQL a schema is a database
const (
	mySchemaQuery = `SELECT schema_name FROM information_schema.schemata WHERE schema_name = ?`

	myTablesQuery = `SELECT table_name AS table_name, '' AS table_owner
FROM information_schema.tables WHERE table_schema = ? AND table_type = 'BASE TABLE'`

	myColumnsQuery = `SELECT table_name AS table_name, column_name AS column_name, column_type AS column_type,
	is_nullable AS is_nullable, column_default AS column_default, extra AS extra
FROM information_schema.columns WHERE table_schema = ?
ORDER BY table_name, ordinal_position`

	myKeysQuery = `SELECT table_name AS table_name, constraint_name AS constraint_name, column_name AS column_name,
	referenced_table_schema AS ref_schema, referenced_table_name AS ref_table
FROM information_schema.key_column_usage WHERE table_schema = ?
ORDER BY table_name, constraint_name, ordinal_position`

	myIndexesQuery = `SELECT table_name AS table_name, index_name AS index_name, non_unique AS non_unique,
	column_name AS column_name
FROM information_schema.statistics WHERE table_schema = ? AND index_name <> 'PRIMARY'
ORDER BY table_name, index_name, seq_in_index`

	myTriggersQuery = `SELECT event_object_table AS table_name, trigger_name AS trigger_name,
	action_timing AS action_timing, event_manipulation AS event_manipulation,
	action_orientation AS action_orientation
FROM information_schema.triggers WHERE trigger_schema = ?
ORDER BY event_object_table, trigger_name`

	myGrantsQuery = `SELECT table_name AS table_name, grantee AS grantee, privilege_type AS privilege_type,
	is_grantable AS is_grantable
FROM information_schema.table_privileges WHERE table_schema = ?`
)

// MySQLIntrospector reads information_schema
type MySQLIntrospector struct {
	DB     Querier
	Logger *logrus.Logger
}

// NewMySQLIntrospector creates a new MySQL introspector
func NewMySQLIntrospector(db Querier, logger *logrus.Logger) *MySQLIntrospector {
	return &MySQLIntrospector{DB: db, Logger: logger}
}

// Introspect loads every schema of the scope
func (m *MySQLIntrospector) Introspect(ctx context.Context, scope *Scope) (*models.Catalog, error) {
	catalog := models.NewCatalog()
	for _, schema := range scope.Schemas() {
		cs := catalog.EnsureSchema(schema)
		if err := m.introspectSchema(ctx, cs, scope); err != nil {
			return nil, err
		}
		m.Logger.Debugf("Introspected database %s: exists=%t, %d of %d table(s) present",
			schema, cs.Exists, len(cs.Tables), len(scope.Tables(schema)))
	}
	return catalog, nil
}

func (m *MySQLIntrospector) introspectSchema(ctx context.Context, cs *models.CatalogSchema, scope *Scope) error {
	rows, err := m.DB.ExecuteQuery(ctx, mySchemaQuery, cs.Name)
	if err != nil {
		return failed(cs.Name, "schemas", err)
	}
	cs.Exists = len(rows) > 0
	if !cs.Exists {
		return nil
	}

	rows, err = m.DB.ExecuteQuery(ctx, myTablesQuery, cs.Name)
	if err != nil {
		return failed(cs.Name, "tables", err)
	}
	catalogTables(cs, scope, rows)
	if len(cs.Tables) == 0 {
		return nil
	}

	rows, err = m.DB.ExecuteQuery(ctx, myColumnsQuery, cs.Name)
	if err != nil {
		return failed(cs.Name, "columns", err)
	}
	for _, row := range rows {
		t := cs.Tables[asString(row["table_name"])]
		if t == nil {
			continue
		}
		typ := asString(row["column_type"])
		if strings.Contains(strings.ToLower(asString(row["extra"])), "auto_increment") {
			if serial := models.SerialFor(typ); serial != "" {
				typ = serial
			}
		}
		t.Columns = append(t.Columns, &models.CatalogColumn{
			Name:     asString(row["column_name"]),
			Type:     models.NormalizeType(typ),
			Nullable: asBool(row["is_nullable"]),
			Default:  asString(row["column_default"]),
		})
	}

	rows, err = m.DB.ExecuteQuery(ctx, myKeysQuery, cs.Name)
	if err != nil {
		return failed(cs.Name, "keys", err)
	}
	for _, row := range rows {
		t := cs.Tables[asString(row["table_name"])]
		if t == nil {
			continue
		}
		column := asString(row["column_name"])
		constraint := asString(row["constraint_name"])
		switch {
		case constraint == "PRIMARY":
			t.PrimaryKey = append(t.PrimaryKey, column)
		case asString(row["ref_table"]) != "":
			t.ForeignKeys = append(t.ForeignKeys, &models.CatalogForeignKey{
				Name:      constraint,
				Column:    column,
				RefSchema: asString(row["ref_schema"]),
				RefTable:  asString(row["ref_table"]),
			})
		}
	}

	rows, err = m.DB.ExecuteQuery(ctx, myIndexesQuery, cs.Name)
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
			idx = &models.CatalogIndex{Name: name, Unique: !asBool(row["non_unique"])}
			t.Indexes[name] = idx
		}
		if column := asString(row["column_name"]); column != "" {
			idx.Columns = append(idx.Columns, column)
		}
	}

	rows, err = m.DB.ExecuteQuery(ctx, myTriggersQuery, cs.Name)
	if err != nil {
		return failed(cs.Name, "triggers", err)
	}
	for _, row := range rows {
		t := cs.Tables[asString(row["table_name"])]
		if t == nil {
			continue
		}
		name := asString(row["trigger_name"])
		t.Triggers[name] = &models.CatalogTrigger{
			Name:   name,
			Event:  strings.ToLower(asString(row["action_timing"]) + " " + asString(row["event_manipulation"])),
			Timing: "for each " + strings.ToLower(asString(row["action_orientation"])),
		}
	}

	rows, err = m.DB.ExecuteQuery(ctx, myGrantsQuery, cs.Name)
	if err != nil {
		return failed(cs.Name, "grants", err)
	}
	for _, row := range rows {
		t := cs.Tables[asString(row["table_name"])]
		if t == nil {
			continue
		}
		addGrant(t, mysqlGrantee(asString(row["grantee"])), asString(row["privilege_type"]), asBool(row["is_grantable"]))
	}
	return nil
}

// mysqlGrantee turns 'reporting'@'%' into reporting
func mysqlGrantee(g string) string {
	if i := strings.Index(g, "@"); i >= 0 {
		g = g[:i]
	}
	return strings.Trim(g, "'`\"")
}

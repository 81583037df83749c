package diff

import (
	"sort"
	"strings"

	"github.com/vitebski/schema-guard/internal/connector"
	"github.com/vitebski/schema-guard/internal/plan"
	"github.com/vitebski/schema-guard/pkg/models"
)

// diffTable returns the table's operations in execution order: creation or
// missing columns, foreign keys, indexes, triggers, grants
func (d *differ) diffTable(ref models.TableRef, t *models.Table, live *models.CatalogTable) ([]plan.Operation, error) {
	var ops []plan.Operation
	tableObj := models.ObjectRef{Kind: models.ObjectTable, Schema: ref.Schema, Table: ref.Table}

	if live == nil {
		op, err := d.createTable(ref, t)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	} else {
		d.matched(tableObj)
		colOps, err := d.diffColumns(ref, t, live)
		if err != nil {
			return nil, err
		}
		ops = append(ops, colOps...)
		d.diffTableAttributes(ref, t, live)
	}

	ops = append(ops, d.diffIndexes(ref, t, live)...)
	if d.Options.ExcludeTriggers {
		if len(t.Triggers) > 0 {
			d.Logger.Debugf("Skipping %d trigger(s) of %s", len(t.Triggers), ref)
		}
	} else {
		ops = append(ops, d.diffTriggers(ref, t, live)...)
	}
	ops = append(ops, d.diffGrants(ref, t, live)...)
	return ops, nil
}

func (d *differ) columnDef(ref models.TableRef, c *models.Column) (plan.ColumnDef, error) {
	def := plan.ColumnDef{
		Name:        c.Name,
		Type:        c.Type,
		Default:     c.Default,
		Nullable:    c.IsNullable(),
		PrimaryKey:  c.IsPrimaryKey(),
		SQL:         c.SQL,
		Description: c.Description,
	}
	if c.ForeignKey() != nil {
		fk, err := d.resolveForeignKey(ref.Schema, ref.Table, c)
		if err != nil {
			return def, err
		}
		def.ForeignKey = fk
	}
	return def, nil
}

func (d *differ) createTable(ref models.TableRef, t *models.Table) (plan.Operation, error) {
	op := plan.CreateTable{
		Schema:      ref.Schema,
		Table:       ref.Table,
		PrimaryKey:  t.PrimaryKeyColumns(),
		Constraint:  t.Constraint,
		SQL:         t.SQL,
		Description: t.Description,
	}
	for _, c := range t.Columns {
		def, err := d.columnDef(ref, c)
		if err != nil {
			return nil, err
		}
		op.Columns = append(op.Columns, def)
	}
	if t.Owner != "" {
		if d.supportsOwner() {
			op.Owner = t.Owner
		} else {
			d.warn(op.Object(), "owner %s ignored, %s has no table owners", t.Owner, d.Options.Driver)
		}
	}
	return op, nil
}

func (d *differ) diffColumns(ref models.TableRef, t *models.Table, live *models.CatalogTable) ([]plan.Operation, error) {
	var adds, fks []plan.Operation
	for _, c := range t.Columns {
		obj := models.ObjectRef{Kind: models.ObjectColumn, Schema: ref.Schema, Table: ref.Table, Name: c.Name}
		lc := live.Column(c.Name)
		if lc == nil {
			def, err := d.columnDef(ref, c)
			if err != nil {
				return nil, err
			}
			if def.PrimaryKey && (len(live.PrimaryKey) > 0 || len(t.PrimaryKeyColumns()) > 1) {
				d.warn(obj, "primary key membership not applied to an existing table")
				def.PrimaryKey = false
			}
			adds = append(adds, plan.AddColumn{Schema: ref.Schema, Table: ref.Table, Column: def})
			continue
		}

		if !models.SameType(c.Type, lc.Type) {
			d.warn(obj, "declared type %s differs from actual %s, left unchanged", models.NormalizeType(c.Type), lc.Type)
		}
		if c.IsNullable() != lc.Nullable {
			d.warn(obj, "declared nullable=%t differs from actual nullable=%t, left unchanged", c.IsNullable(), lc.Nullable)
		}
		d.matched(obj)

		if c.ForeignKey() == nil {
			continue
		}
		fk, err := d.resolveForeignKey(ref.Schema, ref.Table, c)
		if err != nil {
			return nil, err
		}
		fkObj := models.ObjectRef{Kind: models.ObjectForeignKey, Schema: ref.Schema, Table: ref.Table, Name: fk.Name}
		if existing := live.ForeignKeyOn(c.Name); existing != nil {
			if existing.RefSchema != fk.RefSchema || existing.RefTable != fk.RefTable {
				d.warn(fkObj, "column %s references %s.%s, declared %s.%s, left unchanged",
					c.Name, existing.RefSchema, existing.RefTable, fk.RefSchema, fk.RefTable)
			}
			d.matched(fkObj)
			continue
		}
		fks = append(fks, plan.AddForeignKey{Schema: ref.Schema, Table: ref.Table, ForeignKey: *fk})
	}
	return append(adds, fks...), nil
}

func (d *differ) diffTableAttributes(ref models.TableRef, t *models.Table, live *models.CatalogTable) {
	if pk := t.PrimaryKeyColumns(); len(pk) > 0 && len(live.PrimaryKey) > 0 && !sameSet(pk, live.PrimaryKey) {
		d.warn(models.ObjectRef{Kind: models.ObjectPrimaryKey, Schema: ref.Schema, Table: ref.Table},
			"declared primary key (%s) differs from actual (%s), left unchanged",
			strings.Join(pk, ", "), strings.Join(live.PrimaryKey, ", "))
	}
	if t.Owner != "" && live.Owner != "" && t.Owner != live.Owner && d.supportsOwner() {
		d.warn(models.ObjectRef{Kind: models.ObjectOwner, Schema: ref.Schema, Table: ref.Table},
			"declared owner %s differs from actual %s, left unchanged", t.Owner, live.Owner)
	}
}

type desiredIndex struct {
	name    string
	columns []string
	unique  bool
	sql     string
}

// desiredIndexes merges columns sharing an index name in declaration order
func desiredIndexes(table string, t *models.Table) []*desiredIndex {
	var out []*desiredIndex
	byName := make(map[string]*desiredIndex)
	for _, c := range t.Columns {
		if c.Index == nil {
			continue
		}
		idx, ok := byName[c.Index.Name]
		if !ok {
			idx = &desiredIndex{name: c.Index.Name}
			byName[c.Index.Name] = idx
			out = append(out, idx)
		}
		idx.columns = append(idx.columns, c.Name)
		if sql := c.Index.SQL; sql != "" {
			if strings.Contains(strings.ToUpper(sql), "UNIQUE") {
				idx.unique = true
			}
			if rest := stripUnique(sql); rest != "" && idx.sql == "" {
				idx.sql = rest
			}
		}
	}
	for _, idx := range out {
		if idx.name == models.AutoIndexName {
			idx.name = "idx_" + table + "_" + strings.Join(idx.columns, "_")
		}
	}
	return out
}

func stripUnique(sql string) string {
	var kept []string
	for _, f := range strings.Fields(sql) {
		if !strings.EqualFold(f, "UNIQUE") {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

func (d *differ) diffIndexes(ref models.TableRef, t *models.Table, live *models.CatalogTable) []plan.Operation {
	var ops []plan.Operation
	for _, idx := range desiredIndexes(ref.Table, t) {
		obj := models.ObjectRef{Kind: models.ObjectIndex, Schema: ref.Schema, Table: ref.Table, Name: idx.name}
		if live != nil {
			if existing, ok := live.Indexes[idx.name]; ok {
				if !equalStrings(existing.Columns, idx.columns) {
					d.warn(obj, "declared columns (%s) differ from actual (%s), left unchanged",
						strings.Join(idx.columns, ", "), strings.Join(existing.Columns, ", "))
				} else if existing.Unique != idx.unique {
					d.warn(obj, "declared unique=%t differs from actual unique=%t, left unchanged", idx.unique, existing.Unique)
				}
				d.matched(obj)
				continue
			}
		}
		ops = append(ops, plan.CreateIndex{
			Schema:  ref.Schema,
			Table:   ref.Table,
			Name:    idx.name,
			Columns: idx.columns,
			Unique:  idx.unique,
			SQL:     idx.sql,
		})
	}
	return ops
}

func (d *differ) diffTriggers(ref models.TableRef, t *models.Table, live *models.CatalogTable) []plan.Operation {
	var ops []plan.Operation
	for _, tr := range t.Triggers {
		obj := models.ObjectRef{Kind: models.ObjectTrigger, Schema: ref.Schema, Table: ref.Table, Name: tr.Name}
		if live != nil {
			if existing, ok := live.Triggers[tr.Name]; ok {
				if eventKey(tr.Event) != eventKey(existing.Event) {
					d.warn(obj, "declared event %q differs from actual %q, left unchanged", tr.Event, existing.Event)
				}
				if want := d.triggerTiming(tr.When); want != "" && existing.Timing != "" && want != existing.Timing {
					d.warn(obj, "declared %q differs from actual %q, left unchanged", want, existing.Timing)
				}
				d.matched(obj)
				continue
			}
		}
		ops = append(ops, plan.CreateTrigger{
			Schema: ref.Schema,
			Table:  ref.Table,
			Name:   tr.Name,
			Event:  tr.Event,
			When:   tr.When,
			Proc:   tr.Proc,
		})
	}
	return ops
}

// triggerTiming extracts "for each row" or "for each statement" from a
// trigger's when clause. PostgreSQL defaults to statement level; MySQL
// triggers are always row level, so an empty clause is not compared there.
func (d *differ) triggerTiming(when string) string {
	words := strings.Fields(strings.ToLower(when))
	if len(words) >= 3 && words[0] == "for" && words[1] == "each" {
		return "for each " + words[2]
	}
	if len(words) == 0 && d.Options.Driver == connector.DriverPostgres {
		return "for each statement"
	}
	return ""
}

// eventKey normalises "BEFORE update OR insert" and "before insert or update"
// to the same key
func eventKey(event string) string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(event)) {
		if w != "or" && w != "," {
			words = append(words, strings.Trim(w, ","))
		}
	}
	sort.Strings(words)
	return strings.Join(words, " ")
}

type grantKey struct {
	grantee   string
	withGrant bool
	by        string
}

func (d *differ) diffGrants(ref models.TableRef, t *models.Table, live *models.CatalogTable) []plan.Operation {
	var order []grantKey
	missing := make(map[grantKey][]models.Privilege)
	seen := make(map[grantKey]map[models.Privilege]bool)
	granteeMatched := make(map[string]bool)

	for _, g := range t.Grants {
		for _, p := range models.Privileges {
			grantee, ok := g.Privileges[p]
			if !ok {
				continue
			}
			obj := models.ObjectRef{Kind: models.ObjectGrant, Schema: ref.Schema, Table: ref.Table, Name: grantee}
			if !p.IsTablePrivilege() {
				d.warn(obj, "privilege %s does not apply to tables, ignored", p.SQL())
				continue
			}
			privs := []models.Privilege{p}
			if p == models.PrivAll {
				privs = models.TablePrivileges
			}

			key := grantKey{grantee: grantee, withGrant: g.WithGrantOption, by: g.By}
			if _, ok := seen[key]; !ok {
				seen[key] = make(map[models.Privilege]bool)
			}
			for _, priv := range privs {
				if seen[key][priv] {
					continue
				}
				if priv == models.PrivTruncate && d.Options.Driver == connector.DriverMySQL {
					// MySQL has no TRUNCATE privilege; DROP covers it
					if p != models.PrivAll {
						d.warn(obj, "privilege TRUNCATE does not exist in mysql, ignored")
					}
					continue
				}
				seen[key][priv] = true
				if live != nil {
					if grantable, ok := live.GrantsOf(grantee)[priv.SQL()]; ok && (grantable || !g.WithGrantOption) {
						granteeMatched[grantee] = true
						continue
					}
				}
				if _, ok := missing[key]; !ok {
					order = append(order, key)
				}
				missing[key] = append(missing[key], priv)
			}
		}
	}

	var ops []plan.Operation
	for _, key := range order {
		ops = append(ops, plan.GrantPrivileges{
			Schema:          ref.Schema,
			Table:           ref.Table,
			Grantee:         key.grantee,
			Privileges:      missing[key],
			WithGrantOption: key.withGrant,
			GrantedBy:       key.by,
		})
	}
	var matchedGrantees []string
	for grantee := range granteeMatched {
		matchedGrantees = append(matchedGrantees, grantee)
	}
	sort.Strings(matchedGrantees)
	for _, grantee := range matchedGrantees {
		d.matched(models.ObjectRef{Kind: models.ObjectGrant, Schema: ref.Schema, Table: ref.Table, Name: grantee})
	}
	return ops
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if !set[v] {
			return false
		}
	}
	return true
}

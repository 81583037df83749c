package diff

import (
	"fmt"

	"github.com/vitebski/schema-guard/internal/plan"
	"github.com/vitebski/schema-guard/pkg/models"
)

// checkForeignKeys resolves every foreign key of every creatable table so a
// dangling reference fails the run before anything is planned
func (d *differ) checkForeignKeys() error {
	for _, s := range d.db.Schemas {
		for _, t := range s.Tables {
			if !t.IsCreatable() {
				continue
			}
			for _, c := range t.Columns {
				if c.ForeignKey() == nil {
					continue
				}
				if _, err := d.resolveForeignKey(s.Name, t.Name, c); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// resolveForeignKey finds the target table and columns of a column's foreign
// key. The target must be a creatable table of the document or exist live.
// Without explicit columns the target's primary key is used, desired state
// first, then the live catalog.
func (d *differ) resolveForeignKey(schema, table string, c *models.Column) (*plan.ForeignKeyDef, error) {
	fk := c.ForeignKey()
	target, columns := models.ParseTableRef(fk.References, schema)

	desired := d.db.Table(target)
	if desired != nil && !desired.IsCreatable() {
		desired = nil
	}
	live := d.catalog.Table(target)
	if desired == nil && live == nil {
		return nil, models.Errorf(models.KindDanglingForeignKey,
			"references %s which is neither declared nor present in the database", target).
			WithTable(schema, table).WithColumn(c.Name)
	}

	if len(columns) == 0 {
		if desired != nil {
			columns = desired.PrimaryKeyColumns()
		}
		if len(columns) == 0 && live != nil {
			columns = live.PrimaryKey
		}
	}
	if len(columns) == 0 {
		return nil, models.Errorf(models.KindDanglingForeignKey,
			"references %s which has no primary key, name the target columns", target).
			WithTable(schema, table).WithColumn(c.Name)
	}

	return &plan.ForeignKeyDef{
		Name:       foreignKeyName(schema, table, target.Table, c.Name),
		Column:     c.Name,
		RefSchema:  target.Schema,
		RefTable:   target.Table,
		RefColumns: columns,
		SQL:        fk.SQL,
	}, nil
}

func foreignKeyName(schema, table, refTable, column string) string {
	return fmt.Sprintf("fk_%s_%s_%s_%s", schema, table, refTable, column)
}

package plan

import (
	"github.com/vitebski/schema-guard/pkg/models"
)

// LoadSpec describes the rows a table declares
type LoadSpec struct {
	// Columns are the effective column names rows bind to, in order
	Columns []string
	// KeyColumns are the primary key columns; empty means whole-row matching
	KeyColumns []string
	Rows       []models.Row
	// DataFile is resolved against the document directory
	DataFile string
}

// Unit is the work for one table: its DDL runs in one transaction,
// its rows load afterwards in another
type Unit struct {
	Table models.TableRef
	Ops   []Operation
	Load  *LoadSpec
	// DependsOn lists tables that must succeed before this one starts
	DependsOn []models.TableRef
	Rank      int
}

// HasWork reports whether the unit has DDL or rows to apply
func (u *Unit) HasWork() bool {
	return len(u.Ops) > 0 || u.Load != nil
}

// Plan is the ordered change set for one run
type Plan struct {
	// Schemas are created before any unit, outside table transactions
	Schemas []CreateSchema
	// Ranks group units that share no dependency; rank i+1 runs after rank i
	Ranks [][]*Unit
}

// Units returns every unit in execution order
func (p *Plan) Units() []*Unit {
	var units []*Unit
	for _, rank := range p.Ranks {
		units = append(units, rank...)
	}
	return units
}

// Unit looks up the unit of a table
func (p *Plan) Unit(ref models.TableRef) *Unit {
	for _, rank := range p.Ranks {
		for _, u := range rank {
			if u.Table == ref {
				return u
			}
		}
	}
	return nil
}

// Operations returns the DDL operations in execution order, schemas first
func (p *Plan) Operations() []Operation {
	var ops []Operation
	for _, s := range p.Schemas {
		ops = append(ops, s)
	}
	for _, u := range p.Units() {
		ops = append(ops, u.Ops...)
	}
	return ops
}

// Empty reports whether nothing would be created or loaded
func (p *Plan) Empty() bool {
	if len(p.Schemas) > 0 {
		return false
	}
	for _, u := range p.Units() {
		if u.HasWork() {
			return false
		}
	}
	return true
}

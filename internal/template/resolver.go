// Package template expands table template references into effective table definitions.
//
// A table listing templates gets, in order, the effective columns, triggers
// and grants of every referenced table followed by its own. On a column or
// trigger name collision the entry keeps the position where the name first
// appeared and takes the definition of the last source that declared it, so
// later templates override earlier ones and local declarations override all
// templates. Grants are concatenated. Owner, description, sql and constraint
// are inherited only when the table leaves them empty, the last template
// providing one wins.
package template

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/schema-guard/pkg/models"
)

type visitState int

const (
	unvisited visitState = iota
	visiting
	resolved
)

// Resolver expands templates in place
type Resolver struct {
	Logger *logrus.Logger
}

// NewResolver creates a new template resolver
func NewResolver(logger *logrus.Logger) *Resolver {
	return &Resolver{Logger: logger}
}

// Resolve expands every table of db. References without a schema resolve
// against the referencing table's schema. On success each table's
// Template.Uses holds fully qualified "schema.table" references.
func (r *Resolver) Resolve(db *models.Database) error {
	state := make(map[models.TableRef]visitState)
	for _, s := range db.Schemas {
		for _, t := range s.Tables {
			if err := r.resolve(db, models.TableRef{Schema: s.Name, Table: t.Name}, t, state, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Resolver) resolve(db *models.Database, ref models.TableRef, t *models.Table, state map[models.TableRef]visitState, chain []string) error {
	switch state[ref] {
	case resolved:
		return nil
	case visiting:
		return models.Errorf(models.KindTemplateCycle, "template cycle: %s -> %s", strings.Join(chain, " -> "), ref).
			WithTable(ref.Schema, ref.Table)
	}
	state[ref] = visiting
	chain = append(chain, ref.String())

	if len(t.Template.Uses) == 0 {
		state[ref] = resolved
		return nil
	}

	sources := make([]*models.Table, 0, len(t.Template.Uses))
	qualified := make([]string, 0, len(t.Template.Uses))
	for _, use := range t.Template.Uses {
		srcRef, _ := models.ParseTableRef(use, ref.Schema)
		src := db.Table(srcRef)
		if src == nil {
			return models.Errorf(models.KindUnknownTemplate, "template %s not found", srcRef).
				WithTable(ref.Schema, ref.Table)
		}
		if err := r.resolve(db, srcRef, src, state, chain); err != nil {
			return err
		}
		sources = append(sources, src)
		qualified = append(qualified, srcRef.String())
	}

	merge(t, sources)
	t.Template.Uses = qualified
	state[ref] = resolved

	r.Logger.Debugf("Resolved templates of %s from %s: %d column(s), %d trigger(s), %d grant(s)",
		ref, strings.Join(qualified, ", "), len(t.Columns), len(t.Triggers), len(t.Grants))
	return nil
}

func merge(t *models.Table, sources []*models.Table) {
	var columns []*models.Column
	var triggers []*models.Trigger
	var grants []*models.Grant

	all := make([]*models.Table, 0, len(sources)+1)
	all = append(all, sources...)
	all = append(all, t)
	for _, src := range all {
		for _, c := range src.Columns {
			columns = upsertColumn(columns, c)
		}
		for _, tr := range src.Triggers {
			triggers = upsertTrigger(triggers, tr)
		}
		for _, g := range src.Grants {
			cp := *g
			grants = append(grants, &cp)
		}
	}

	t.Owner = pickLast(t.Owner, sources, func(s *models.Table) string { return s.Owner })
	t.Description = pickLast(t.Description, sources, func(s *models.Table) string { return s.Description })
	t.SQL = pickLast(t.SQL, sources, func(s *models.Table) string { return s.SQL })
	t.Constraint = pickLast(t.Constraint, sources, func(s *models.Table) string { return s.Constraint })

	t.Columns = columns
	t.Triggers = triggers
	t.Grants = grants
}

func upsertColumn(columns []*models.Column, c *models.Column) []*models.Column {
	cp := *c
	for i, existing := range columns {
		if existing.Name == c.Name {
			columns[i] = &cp
			return columns
		}
	}
	return append(columns, &cp)
}

func upsertTrigger(triggers []*models.Trigger, tr *models.Trigger) []*models.Trigger {
	cp := *tr
	for i, existing := range triggers {
		if existing.Name == tr.Name {
			triggers[i] = &cp
			return triggers
		}
	}
	return append(triggers, &cp)
}

// pickLast keeps local when set, otherwise the last non-empty source value
func pickLast(local string, sources []*models.Table, get func(*models.Table) string) string {
	if local != "" {
		return local
	}
	for i := len(sources) - 1; i >= 0; i-- {
		if v := get(sources[i]); v != "" {
			return v
		}
	}
	return ""
}

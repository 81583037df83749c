package template

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/schema-guard/pkg/models"
)

func testResolver() *Resolver {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewResolver(logger)
}

func col(name, typ string) *models.Column {
	return &models.Column{Name: name, Type: typ}
}

func TestResolveTemplateScenario(t *testing.T) {
	t2 := &models.Table{Name: "t2", Template: models.TemplateDirective{IsTemplate: true}, Columns: []*models.Column{col("x", "int")}}
	t1 := &models.Table{Name: "t1", Template: models.TemplateDirective{Uses: []string{"t2"}}, Columns: []*models.Column{col("y", "text")}}
	db := &models.Database{Schemas: []*models.Schema{{Name: "s", Tables: []*models.Table{t1, t2}}}}

	require.NoError(t, testResolver().Resolve(db))

	assert.Equal(t, []string{"x", "y"}, t1.ColumnNames())
	assert.Equal(t, []string{"s.t2"}, t1.Template.Uses)
	assert.True(t, t1.IsCreatable())
	assert.False(t, t2.IsCreatable())
	assert.Equal(t, []string{"x"}, t2.ColumnNames())
}

func TestResolveCompositionOrder(t *testing.T) {
	a := &models.Table{Name: "a", Template: models.TemplateDirective{IsTemplate: true},
		Columns: []*models.Column{col("id", "int"), col("shared", "int")},
		Owner:   "a_owner", SQL: "with (fillfactor=90)"}
	b := &models.Table{Name: "b", Template: models.TemplateDirective{IsTemplate: true},
		Columns:  []*models.Column{col("shared", "bigint"), col("b_only", "text")},
		Triggers: []*models.Trigger{{Name: "touch", Event: "before update", Proc: "b_touch()"}},
		Grants:   []*models.Grant{{Privileges: map[models.Privilege]string{models.PrivSelect: "reader"}}},
		Owner:    "b_owner"}
	c := &models.Table{Name: "c", Template: models.TemplateDirective{Uses: []string{"a", "other.b"}},
		Columns:  []*models.Column{col("c_only", "text"), col("b_only", "varchar(10)")},
		Triggers: []*models.Trigger{{Name: "touch", Event: "before insert", Proc: "c_touch()"}},
		Grants:   []*models.Grant{{Privileges: map[models.Privilege]string{models.PrivInsert: "writer"}}}}

	db := &models.Database{Schemas: []*models.Schema{
		{Name: "s", Tables: []*models.Table{c, a}},
		{Name: "other", Tables: []*models.Table{b}},
	}}
	require.NoError(t, testResolver().Resolve(db))

	assert.Equal(t, []string{"id", "shared", "b_only", "c_only"}, c.ColumnNames())
	assert.Equal(t, "bigint", c.Column("shared").Type, "later template wins")
	assert.Equal(t, "varchar(10)", c.Column("b_only").Type, "local declaration wins")
	require.Len(t, c.Triggers, 1)
	assert.Equal(t, "c_touch()", c.Triggers[0].Proc)
	require.Len(t, c.Grants, 2)
	assert.Equal(t, "b_owner", c.Owner)
	assert.Equal(t, "with (fillfactor=90)", c.SQL)

	// sources are not modified
	assert.Equal(t, "int", a.Column("shared").Type)
	assert.Equal(t, "text", b.Column("b_only").Type)
}

func TestResolveRecursive(t *testing.T) {
	base := &models.Table{Name: "base", Template: models.TemplateDirective{IsTemplate: true}, Columns: []*models.Column{col("id", "serial")}}
	audited := &models.Table{Name: "audited", Template: models.TemplateDirective{Uses: []string{"base"}}, Columns: []*models.Column{col("changed_at", "timestamp")}}
	leaf := &models.Table{Name: "leaf", Template: models.TemplateDirective{Uses: []string{"audited"}}, Columns: []*models.Column{col("name", "text")}}
	db := &models.Database{Schemas: []*models.Schema{{Name: "s", Tables: []*models.Table{leaf, audited, base}}}}

	require.NoError(t, testResolver().Resolve(db))
	assert.Equal(t, []string{"id", "changed_at", "name"}, leaf.ColumnNames())
	assert.Equal(t, []string{"id", "changed_at"}, audited.ColumnNames())
}

func TestResolveLocalAttributesKept(t *testing.T) {
	base := &models.Table{Name: "base", Owner: "base_owner", Description: "base"}
	t1 := &models.Table{Name: "t1", Owner: "mine", Template: models.TemplateDirective{Uses: []string{"base"}}}
	db := &models.Database{Schemas: []*models.Schema{{Name: "s", Tables: []*models.Table{base, t1}}}}

	require.NoError(t, testResolver().Resolve(db))
	assert.Equal(t, "mine", t1.Owner)
	assert.Equal(t, "base", t1.Description)
}

func TestResolveCycle(t *testing.T) {
	a := &models.Table{Name: "a", Template: models.TemplateDirective{Uses: []string{"b"}}}
	b := &models.Table{Name: "b", Template: models.TemplateDirective{Uses: []string{"c"}}}
	c := &models.Table{Name: "c", Template: models.TemplateDirective{Uses: []string{"a"}}}
	db := &models.Database{Schemas: []*models.Schema{{Name: "s", Tables: []*models.Table{a, b, c}}}}

	err := testResolver().Resolve(db)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTemplateCycle)
	assert.Contains(t, err.Error(), "s.a -> s.b -> s.c -> s.a")
}

func TestResolveSelfReference(t *testing.T) {
	a := &models.Table{Name: "a", Template: models.TemplateDirective{Uses: []string{"s.a"}}}
	db := &models.Database{Schemas: []*models.Schema{{Name: "s", Tables: []*models.Table{a}}}}
	assert.ErrorIs(t, testResolver().Resolve(db), models.ErrTemplateCycle)
}

func TestResolveUnknown(t *testing.T) {
	a := &models.Table{Name: "a", Template: models.TemplateDirective{Uses: []string{"missing"}}}
	db := &models.Database{Schemas: []*models.Schema{{Name: "s", Tables: []*models.Table{a}}}}

	err := testResolver().Resolve(db)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnknownTemplate)
	assert.Equal(t, models.KindUnknownTemplate, models.KindOf(err))
}

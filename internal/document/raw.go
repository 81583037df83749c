package document

import (
	"fmt"
	"strings"

	"github.com/vitebski/schema-guard/pkg/models"
	"gopkg.in/yaml.v3"
)

type rawDocument struct {
	Database []rawSchema `yaml:"database"`
}

type rawSchema struct {
	SchemaName string          `yaml:"schemaName"`
	Owner      string          `yaml:"owner"`
	Tables     []rawTableEntry `yaml:"tables"`

	Roles      []map[string]interface{} `yaml:"roles"`
	Functions  []map[string]interface{} `yaml:"functions"`
	Procedures []map[string]interface{} `yaml:"procedures"`
	Views      []map[string]interface{} `yaml:"views"`
	Sequences  []map[string]interface{} `yaml:"sequences"`
}

type rawTableEntry struct {
	Table *rawTable `yaml:"table"`
}

type rawTable struct {
	TableName   string            `yaml:"tableName"`
	Description string            `yaml:"description"`
	Constraint  string            `yaml:"constraint"`
	SQL         string            `yaml:"sql"`
	Owner       string            `yaml:"owner"`
	Columns     []rawColumnEntry  `yaml:"columns"`
	Triggers    []rawTriggerEntry `yaml:"triggers"`
	Grant       []rawGrant        `yaml:"grant"`
	Template    rawTemplate       `yaml:"template"`
	Data        [][]string        `yaml:"data"`
	DataFile    string            `yaml:"data_file"`
}

type rawColumnEntry struct {
	Column *rawColumn `yaml:"column"`
}

type rawColumn struct {
	Name         string         `yaml:"name"`
	Type         string         `yaml:"type"`
	DefaultValue *string        `yaml:"defaultValue"`
	Constraint   *rawConstraint `yaml:"constraint"`
	Index        *rawIndex      `yaml:"index"`
	Description  string         `yaml:"description"`
	SQL          string         `yaml:"sql"`
}

type rawConstraint struct {
	PrimaryKey bool           `yaml:"primaryKey"`
	Nullable   *bool          `yaml:"nullable"`
	ForeignKey *rawForeignKey `yaml:"foreignKey"`
}

type rawForeignKey struct {
	References string `yaml:"references"`
	SQL        string `yaml:"sql"`
}

type rawIndex struct {
	Name string `yaml:"name"`
	SQL  string `yaml:"sql"`
}

type rawTriggerEntry struct {
	Trigger *rawTrigger `yaml:"trigger"`
}

type rawTrigger struct {
	Name  string `yaml:"name"`
	Event string `yaml:"event"`
	When  string `yaml:"when"`
	Proc  string `yaml:"proc"`
}

type rawGrant struct {
	All        string `yaml:"all"`
	Select     string `yaml:"select"`
	Insert     string `yaml:"insert"`
	Update     string `yaml:"update"`
	Delete     string `yaml:"delete"`
	Truncate   string `yaml:"truncate"`
	References string `yaml:"references"`
	Trigger    string `yaml:"trigger"`
	Create     string `yaml:"create"`
	Connect    string `yaml:"connect"`
	Temporary  string `yaml:"temporary"`
	Execute    string `yaml:"execute"`
	Usage      string `yaml:"usage"`

	WithGrantOption bool   `yaml:"with_grant_option"`
	By              string `yaml:"by"`
}

func (g rawGrant) toGrant() *models.Grant {
	values := map[models.Privilege]string{
		models.PrivAll:        g.All,
		models.PrivSelect:     g.Select,
		models.PrivInsert:     g.Insert,
		models.PrivUpdate:     g.Update,
		models.PrivDelete:     g.Delete,
		models.PrivTruncate:   g.Truncate,
		models.PrivReferences: g.References,
		models.PrivTrigger:    g.Trigger,
		models.PrivCreate:     g.Create,
		models.PrivConnect:    g.Connect,
		models.PrivTemporary:  g.Temporary,
		models.PrivExecute:    g.Execute,
		models.PrivUsage:      g.Usage,
	}
	out := &models.Grant{
		Privileges:      make(map[models.Privilege]string),
		WithGrantOption: g.WithGrantOption,
		By:              safeName(g.By),
	}
	for p, grantee := range values {
		if name := safeName(grantee); name != "" {
			out.Privileges[p] = name
		}
	}
	return out
}

// rawTemplate accepts either a boolean or a list of table references
type rawTemplate struct {
	IsTemplate bool
	Uses       []string
}

func (t *rawTemplate) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := value.Decode(&b); err != nil {
			return fmt.Errorf("line %d: template must be a boolean or a list of tables", value.Line)
		}
		t.IsTemplate = b
		return nil
	case yaml.SequenceNode:
		var refs []string
		if err := value.Decode(&refs); err != nil {
			return fmt.Errorf("line %d: template list must hold table names: %w", value.Line, err)
		}
		t.Uses = refs
		return nil
	}
	return fmt.Errorf("line %d: template must be a boolean or a list of tables", value.Line)
}

// safeName cuts an identifier at the first character that could end it
func safeName(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " .;\n\t"); i >= 0 {
		s = s[:i]
	}
	return s
}

// stripComment drops everything from the first "--"
func stripComment(s string) string {
	if i := strings.Index(s, "--"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

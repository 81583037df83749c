package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/schema-guard/pkg/models"
	"github.com/yourbasic/graph"
)

// SchemaAnalyzer builds the dependency graph of the creatable tables of a
// document and partitions it into ranks
type SchemaAnalyzer struct {
	Tables          []models.TableRef
	TableIndexMap   map[models.TableRef]int
	Dependencies    map[models.TableRef][]models.TableRef
	DependencyGraph *graph.Mutable
	Logger          *logrus.Logger
}

// NewSchemaAnalyzer creates a new schema analyzer
func NewSchemaAnalyzer(logger *logrus.Logger) *SchemaAnalyzer {
	return &SchemaAnalyzer{
		TableIndexMap: make(map[models.TableRef]int),
		Dependencies:  make(map[models.TableRef][]models.TableRef),
		Logger:        logger,
	}
}

// AnalyzeSchema registers every creatable table and an edge for each foreign
// key or template reference to another creatable table of the document.
// References leaving the document are not edges: those targets already exist
// or the reference is dangling, which the diff engine reports.
func (sa *SchemaAnalyzer) AnalyzeSchema(db *models.Database) {
	for _, s := range db.Schemas {
		for _, t := range s.Tables {
			if !t.IsCreatable() {
				continue
			}
			ref := models.TableRef{Schema: s.Name, Table: t.Name}
			sa.TableIndexMap[ref] = len(sa.Tables)
			sa.Tables = append(sa.Tables, ref)
		}
	}

	sa.DependencyGraph = graph.New(len(sa.Tables))

	for _, s := range db.Schemas {
		for _, t := range s.Tables {
			if !t.IsCreatable() {
				continue
			}
			ref := models.TableRef{Schema: s.Name, Table: t.Name}
			for _, c := range t.Columns {
				if fk := c.ForeignKey(); fk != nil {
					target, _ := models.ParseTableRef(fk.References, s.Name)
					sa.addDependency(ref, target)
				}
			}
			for _, use := range t.Template.Uses {
				target, _ := models.ParseTableRef(use, s.Name)
				sa.addDependency(ref, target)
			}
		}
	}

	edges := 0
	for _, deps := range sa.Dependencies {
		edges += len(deps)
	}
	sa.Logger.Debugf("Dependency graph: %d table(s), %d edge(s)", len(sa.Tables), edges)
}

func (sa *SchemaAnalyzer) addDependency(table, dependency models.TableRef) {
	// Skip self-references
	if table == dependency {
		return
	}
	srcIdx, ok := sa.TableIndexMap[dependency]
	if !ok {
		return
	}
	destIdx := sa.TableIndexMap[table]
	if sa.DependencyGraph.Edge(srcIdx, destIdx) {
		return
	}
	sa.DependencyGraph.Add(srcIdx, destIdx)
	sa.Dependencies[table] = append(sa.Dependencies[table], dependency)
}

// GetCircularTables returns the groups of tables that depend on each other
func (sa *SchemaAnalyzer) GetCircularTables() [][]models.TableRef {
	var cycles [][]models.TableRef
	for _, component := range graph.StrongComponents(sa.DependencyGraph) {
		if len(component) < 2 {
			continue
		}
		sort.Ints(component)
		group := make([]models.TableRef, 0, len(component))
		for _, idx := range component {
			group = append(group, sa.Tables[idx])
		}
		cycles = append(cycles, group)
	}
	return cycles
}

// GetRanks returns the tables grouped by topological level. Every table in
// rank i depends only on tables of ranks below i. Within a rank tables keep
// document order. A dependency cycle is a models.KindDependencyCycle error.
func (sa *SchemaAnalyzer) GetRanks() ([][]models.TableRef, error) {
	order, ok := graph.TopSort(sa.DependencyGraph)
	if !ok {
		var groups []string
		for _, cycle := range sa.GetCircularTables() {
			names := make([]string, 0, len(cycle))
			for _, ref := range cycle {
				names = append(names, ref.String())
			}
			groups = append(groups, "["+strings.Join(names, ", ")+"]")
		}
		return nil, models.Errorf(models.KindDependencyCycle, "circular foreign key dependencies: %s", strings.Join(groups, " "))
	}

	level := make([]int, len(sa.Tables))
	maxLevel := 0
	for _, idx := range order {
		for _, dep := range sa.Dependencies[sa.Tables[idx]] {
			if l := level[sa.TableIndexMap[dep]] + 1; l > level[idx] {
				level[idx] = l
			}
		}
		if level[idx] > maxLevel {
			maxLevel = level[idx]
		}
	}

	if len(sa.Tables) == 0 {
		return nil, nil
	}
	ranks := make([][]models.TableRef, maxLevel+1)
	for idx, ref := range sa.Tables {
		ranks[level[idx]] = append(ranks[level[idx]], ref)
	}

	for i, rank := range ranks {
		sa.Logger.Debugf("Rank %d: %s", i, fmt.Sprint(rank))
	}
	return ranks, nil
}

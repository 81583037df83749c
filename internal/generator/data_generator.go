// Package generator produces realistic string encoded rows for declared
// tables. It is test support: loader and executor tests use it to exercise
// data loading without hand-written fixtures, and no command depends on it.
package generator

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/jaswdr/faker"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/schema-guard/pkg/models"
)

// DataGenerator generates fake values based on column names and types
type DataGenerator struct {
	Faker  faker.Faker
	Logger *logrus.Logger
}

// NewDataGenerator creates a new data generator
func NewDataGenerator(logger *logrus.Logger) *DataGenerator {
	return &DataGenerator{
		Faker:  faker.New(),
		Logger: logger,
	}
}

// GenerateRows returns n rows bound to the table's column order. Serial
// columns receive sequential values so that keys stay unique.
func (dg *DataGenerator) GenerateRows(table *models.Table, n int) []models.Row {
	rows := make([]models.Row, 0, n)
	for i := 0; i < n; i++ {
		row := make(models.Row, 0, len(table.Columns))
		for _, c := range table.Columns {
			if c.IsPrimaryKey() && isInteger(c.Type) {
				row = append(row, strconv.Itoa(i+1))
				continue
			}
			row = append(row, dg.GenerateData(c))
		}
		rows = append(rows, row)
	}
	return rows
}

// GenerateData generates a value for a column from its name, then its type
func (dg *DataGenerator) GenerateData(column *models.Column) string {
	columnName := strings.ToLower(column.Name)

	switch {
	case strings.Contains(columnName, "email"):
		return dg.Faker.Internet().Email()
	case strings.Contains(columnName, "name") && !strings.Contains(columnName, "file"):
		if strings.Contains(columnName, "first") {
			return dg.Faker.Person().FirstName()
		} else if strings.Contains(columnName, "last") {
			return dg.Faker.Person().LastName()
		} else if strings.Contains(columnName, "user") {
			return dg.Faker.Internet().User()
		} else if strings.Contains(columnName, "company") {
			return dg.Faker.Company().Name()
		}
		return dg.Faker.Person().Name()
	case strings.Contains(columnName, "phone"):
		return dg.Faker.Phone().Number()
	case strings.Contains(columnName, "city"):
		return dg.Faker.Address().City()
	case strings.Contains(columnName, "country"):
		return dg.Faker.Address().Country()
	case strings.Contains(columnName, "url"):
		return dg.Faker.Internet().URL()
	case strings.Contains(columnName, "uuid"):
		return dg.Faker.UUID().V4()
	case strings.Contains(columnName, "description"), strings.Contains(columnName, "title"):
		return dg.Faker.Lorem().Sentence(4)
	}

	base, length := typeBase(column.Type)
	switch base {
	case "varchar", "bpchar", "text":
		return dg.generateString(length)
	case "int1", "int2", "int3", "int4", "int8", "serial", "bigserial", "smallserial":
		return strconv.Itoa(rand.Intn(10000) + 1)
	case "numeric", "float4", "float8":
		return strconv.FormatFloat(rand.Float64()*1000, 'f', 2, 64)
	case "date":
		return dg.generateTime().Format("2006-01-02")
	case "timestamp", "timestamptz", "datetime":
		return dg.generateTime().Format("2006-01-02 15:04:05")
	case "bool":
		return strconv.FormatBool(rand.Intn(2) == 1)
	case "uuid":
		return dg.Faker.UUID().V4()
	case "json", "jsonb":
		return fmt.Sprintf(`{"word": %q}`, dg.Faker.Lorem().Word())
	default:
		dg.Logger.Debugf("No specific generator for type %s, using default string", column.Type)
		return dg.Faker.Lorem().Word()
	}
}

// generateString keeps values short enough for any declared length
func (dg *DataGenerator) generateString(maxLength int) string {
	if maxLength <= 0 || maxLength > 100 {
		maxLength = 100
	}
	if maxLength <= 10 {
		return dg.Faker.RandomStringWithLength(maxLength)
	}
	s := dg.Faker.Lorem().Sentence(maxLength / 10)
	if len(s) > maxLength {
		s = s[:maxLength]
	}
	return s
}

func (dg *DataGenerator) generateTime() time.Time {
	return time.Now().UTC().Add(-time.Duration(rand.Intn(365*24)) * time.Hour).Truncate(time.Second)
}

// typeBase splits a normalised type into its base name and first argument
func typeBase(t string) (string, int) {
	n := models.NormalizeType(t)
	base, args, ok := strings.Cut(n, "(")
	if !ok {
		if fields := strings.Fields(n); len(fields) > 0 {
			return fields[0], 0
		}
		return "", 0
	}
	first, _, _ := strings.Cut(strings.TrimSuffix(args, ")"), ",")
	length, _ := strconv.Atoi(first)
	return base, length
}

func isInteger(t string) bool {
	base, _ := typeBase(t)
	switch base {
	case "int1", "int2", "int3", "int4", "int8", "serial", "bigserial", "smallserial":
		return true
	}
	return false
}

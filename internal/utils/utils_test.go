package utils

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/schema-guard/internal/plan"
	"github.com/vitebski/schema-guard/pkg/models"
)

func TestSetupLogging(t *testing.T) {
	t.Setenv("SCHEMA_GUARD_LOG_LEVEL", "")

	// Test with default log level
	logger := SetupLogging("")
	if logger == nil {
		t.Fatal("Expected logger to be created, got nil")
	}
	if logger.Level != logrus.InfoLevel {
		t.Errorf("Expected default log level to be info, got %s", logger.Level)
	}

	logger = SetupLogging("debug")
	if logger.Level != logrus.DebugLevel {
		t.Errorf("Expected log level to be debug, got %s", logger.Level)
	}

	logger = SetupLogging("warn")
	if logger.Level != logrus.WarnLevel {
		t.Errorf("Expected log level to be warn, got %s", logger.Level)
	}

	// Test with invalid log level (should default to info)
	logger = SetupLogging("invalid")
	if logger.Level != logrus.InfoLevel {
		t.Errorf("Expected log level to be info for invalid input, got %s", logger.Level)
	}

	// Environment is used when no level is passed
	t.Setenv("SCHEMA_GUARD_LOG_LEVEL", "error")
	logger = SetupLogging("")
	if logger.Level != logrus.ErrorLevel {
		t.Errorf("Expected log level from environment to be error, got %s", logger.Level)
	}
}

func TestLoadEnvironmentVariables(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	t.Setenv("SCHEMA_GUARD_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "")

	if LoadEnvironmentVariables(filepath.Join(t.TempDir(), ".env"), logger) {
		t.Error("Expected no database url without an .env file")
	}

	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("SCHEMA_GUARD_DATABASE_URL=postgres://app@db/app\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that are already set
	os.Unsetenv("SCHEMA_GUARD_DATABASE_URL")
	if !LoadEnvironmentVariables(envFile, logger) {
		t.Error("Expected database url to be loaded from .env file")
	}
	if got := os.Getenv("SCHEMA_GUARD_DATABASE_URL"); got != "postgres://app@db/app" {
		t.Errorf("Expected database url from .env file, got %q", got)
	}
}

func TestPrintReport(t *testing.T) {
	report := &models.Report{
		RunID:   "run-1",
		Created: []models.ObjectRef{{Kind: models.ObjectTable, Schema: "crm", Table: "country"}},
		Matched: []models.ObjectRef{{Kind: models.ObjectSchema, Schema: "crm"}},
		Failures: []models.Failure{{
			Object: models.ObjectRef{Kind: models.ObjectTable, Schema: "crm", Table: "city"},
			Err:    errors.New("boom"),
		}},
		Skipped:      []models.ObjectRef{{Kind: models.ObjectTable, Schema: "crm", Table: "street"}},
		RowsInserted: 3,
	}
	report.Warn(models.ObjectRef{Kind: models.ObjectColumn, Schema: "crm", Table: "country", Name: "code"},
		"type differs: desired varchar(2), actual text")

	var buf bytes.Buffer
	PrintReport(&buf, report, true)
	out := buf.String()

	for _, want := range []string{
		"MIGRATION SUMMARY",
		"Run: run-1",
		"Created: 1",
		"  + table crm.country",
		"Already present: 1",
		"Warnings: 1",
		"  ! column crm.country.code: type differs",
		"Failures: 1",
		"  x table crm.city: boom",
		"Skipped: 1",
		"  - table crm.street",
		"Rows inserted: 3, already present: 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected report to contain %q, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("Expected no color escapes when color is disabled")
	}
}

func TestPrintReportDryRun(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, &models.Report{DryRun: true}, true)
	out := buf.String()
	if !strings.Contains(out, "MIGRATION PLAN (dry run)") || !strings.Contains(out, "To create: 0") {
		t.Errorf("Unexpected dry run report:\n%s", out)
	}
	if strings.Contains(out, "Rows inserted") {
		t.Error("Expected no row counts in a dry run report")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitOK},
		{"template cycle", models.Errorf(models.KindTemplateCycle, "a -> b -> a"), ExitAborted},
		{"dangling foreign key", models.Errorf(models.KindDanglingForeignKey, "missing parent"), ExitAborted},
		{"configuration", errors.New("database url is required"), ExitAborted},
		{"isolated failures", errors.Join(
			models.Errorf(models.KindExecutionFailed, "boom"),
			models.Errorf(models.KindDataLoadFailed, "bad row"),
		), ExitPartial},
		{"timeout", models.Errorf(models.KindTimeout, "migrate table exceeded 1s"), ExitPartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("Expected exit code %d, got %d", tt.want, got)
			}
		})
	}
}

func TestPrintStatements(t *testing.T) {
	var buf bytes.Buffer
	PrintStatements(&buf, []string{`CREATE SCHEMA IF NOT EXISTS "s"`, `CREATE TABLE IF NOT EXISTS "s"."t" ()`})
	want := "CREATE SCHEMA IF NOT EXISTS \"s\";\nCREATE TABLE IF NOT EXISTS \"s\".\"t\" ();\n"
	if buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}
}

func TestPrintPlan(t *testing.T) {
	parent := models.TableRef{Schema: "crm", Table: "country"}
	p := &plan.Plan{
		Schemas: []plan.CreateSchema{{Schema: "crm"}},
		Ranks: [][]*plan.Unit{
			{{Table: parent, Ops: []plan.Operation{plan.CreateTable{Schema: "crm", Table: "country"}}}},
			{
				{Table: models.TableRef{Schema: "crm", Table: "city"}, DependsOn: []models.TableRef{parent},
					Ops: []plan.Operation{plan.CreateTable{Schema: "crm", Table: "city"}}, Load: &plan.LoadSpec{}},
				{Table: models.TableRef{Schema: "crm", Table: "idle"}},
			},
		},
	}

	var buf bytes.Buffer
	PrintPlan(&buf, p, true)
	out := buf.String()
	for _, want := range []string{
		"schema crm",
		"Rank 0:\n  crm.country: 1 operation(s)\n",
		"Rank 1:\n  crm.city: 1 operation(s), rows after crm.country\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected plan to contain %q, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "crm.idle") {
		t.Error("Expected units without work to be left out")
	}

	buf.Reset()
	PrintPlan(&buf, &plan.Plan{}, true)
	if !strings.Contains(buf.String(), "Database is up to date") {
		t.Errorf("Expected empty plan message, got:\n%s", buf.String())
	}
}

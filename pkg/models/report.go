package models

import (
	"errors"
	"fmt"
)

// ObjectKind names the kind of database object a report entry is about
type ObjectKind string

const (
	ObjectSchema     ObjectKind = "schema"
	ObjectTable      ObjectKind = "table"
	ObjectColumn     ObjectKind = "column"
	ObjectIndex      ObjectKind = "index"
	ObjectTrigger    ObjectKind = "trigger"
	ObjectGrant      ObjectKind = "grant"
	ObjectForeignKey ObjectKind = "foreign key"
	ObjectPrimaryKey ObjectKind = "primary key"
	ObjectOwner      ObjectKind = "owner"
	ObjectData       ObjectKind = "data"
)

// ObjectRef identifies an object in report entries
type ObjectRef struct {
	Kind   ObjectKind
	Schema string
	Table  string
	Name   string
}

func (o ObjectRef) String() string {
	s := string(o.Kind) + " " + o.Schema
	if o.Table != "" {
		s += "." + o.Table
	}
	if o.Name != "" {
		s += "." + o.Name
	}
	return s
}

// Warning is a divergence between desired and actual state that was left alone
type Warning struct {
	Object  ObjectRef
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Object, w.Message)
}

// Failure is an isolated per-unit failure
type Failure struct {
	Object ObjectRef
	Err    error
}

// Report is the outcome of one run
type Report struct {
	RunID    string
	DryRun   bool
	Created  []ObjectRef
	Matched  []ObjectRef
	Warnings []Warning
	Failures []Failure
	// Skipped lists tables that were not attempted because a dependency failed or the run was cancelled
	Skipped      []ObjectRef
	RowsInserted int64
	RowsSkipped  int64
	// Statements holds every statement executed, or planned in a dry run
	Statements []string
}

// Warn records a divergence warning
func (r *Report) Warn(obj ObjectRef, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, Warning{Object: obj, Message: fmt.Sprintf(format, args...)})
}

// Fail records an isolated failure
func (r *Report) Fail(obj ObjectRef, err error) {
	r.Failures = append(r.Failures, Failure{Object: obj, Err: err})
}

// Merge appends the entries of other into r
func (r *Report) Merge(other *Report) {
	r.Created = append(r.Created, other.Created...)
	r.Matched = append(r.Matched, other.Matched...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	r.Failures = append(r.Failures, other.Failures...)
	r.Skipped = append(r.Skipped, other.Skipped...)
	r.RowsInserted += other.RowsInserted
	r.RowsSkipped += other.RowsSkipped
	r.Statements = append(r.Statements, other.Statements...)
}

// Success reports whether the run finished without failures or skipped units
func (r *Report) Success() bool {
	return len(r.Failures) == 0 && len(r.Skipped) == 0
}

// Err aggregates every failure into one error, nil on success
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}

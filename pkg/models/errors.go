package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a migration failure
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindTemplateCycle
	KindUnknownTemplate
	KindDependencyCycle
	KindDanglingForeignKey
	KindIntrospectionFailed
	KindExecutionFailed
	KindDataLoadFailed
	KindTimeout
)

var kindNames = map[ErrorKind]string{
	KindValidation:          "ValidationError",
	KindTemplateCycle:       "TemplateCycle",
	KindUnknownTemplate:     "UnknownTemplate",
	KindDependencyCycle:     "DependencyCycle",
	KindDanglingForeignKey:  "DanglingForeignKey",
	KindIntrospectionFailed: "IntrospectionFailed",
	KindExecutionFailed:     "ExecutionFailed",
	KindDataLoadFailed:      "DataLoadFailed",
	KindTimeout:             "Timeout",
}

func (k ErrorKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// IsFatal reports whether the kind aborts the whole run
func (k ErrorKind) IsFatal() bool {
	switch k {
	case KindExecutionFailed, KindDataLoadFailed, KindTimeout:
		return false
	}
	return true
}

// Sentinels for errors.Is matching by kind
var (
	ErrValidation          = &MigrationError{Kind: KindValidation}
	ErrTemplateCycle       = &MigrationError{Kind: KindTemplateCycle}
	ErrUnknownTemplate     = &MigrationError{Kind: KindUnknownTemplate}
	ErrDependencyCycle     = &MigrationError{Kind: KindDependencyCycle}
	ErrDanglingForeignKey  = &MigrationError{Kind: KindDanglingForeignKey}
	ErrIntrospectionFailed = &MigrationError{Kind: KindIntrospectionFailed}
	ErrExecutionFailed     = &MigrationError{Kind: KindExecutionFailed}
	ErrDataLoadFailed      = &MigrationError{Kind: KindDataLoadFailed}
	ErrTimeout             = &MigrationError{Kind: KindTimeout}
)

// MigrationError carries the kind and the schema/table/column context of a failure
type MigrationError struct {
	Kind   ErrorKind
	Schema string
	Table  string
	Column string
	Err    error
}

// NewError wraps err with a kind
func NewError(kind ErrorKind, err error) *MigrationError {
	return &MigrationError{Kind: kind, Err: err}
}

// Errorf builds a MigrationError from a format string
func Errorf(kind ErrorKind, format string, args ...interface{}) *MigrationError {
	return &MigrationError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WithSchema sets the schema context
func (e *MigrationError) WithSchema(schema string) *MigrationError {
	e.Schema = schema
	return e
}

// WithTable sets the schema and table context
func (e *MigrationError) WithTable(schema, table string) *MigrationError {
	e.Schema = schema
	e.Table = table
	return e
}

// WithColumn sets the column context
func (e *MigrationError) WithColumn(column string) *MigrationError {
	e.Column = column
	return e
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if ctx := e.context(); ctx != "" {
		b.WriteString(" [")
		b.WriteString(ctx)
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *MigrationError) context() string {
	var parts []string
	if e.Schema != "" {
		parts = append(parts, e.Schema)
	}
	if e.Table != "" {
		parts = append(parts, e.Table)
	}
	if e.Column != "" {
		parts = append(parts, e.Column)
	}
	return strings.Join(parts, ".")
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// Is matches any MigrationError of the same kind
func (e *MigrationError) Is(target error) bool {
	t, ok := target.(*MigrationError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first MigrationError in err's chain, or 0
func KindOf(err error) ErrorKind {
	var me *MigrationError
	if errors.As(err, &me) {
		return me.Kind
	}
	return 0
}

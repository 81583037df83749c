package models

import (
	"strings"
)

var typeAliases = map[string]string{
	"integer":                     "int4",
	"int":                         "int4",
	"int4":                        "int4",
	"smallint":                    "int2",
	"int2":                        "int2",
	"bigint":                      "int8",
	"int8":                        "int8",
	"tinyint":                     "int1",
	"mediumint":                   "int3",
	"serial":                      "serial",
	"serial4":                     "serial",
	"bigserial":                   "bigserial",
	"serial8":                     "bigserial",
	"smallserial":                 "smallserial",
	"serial2":                     "smallserial",
	"boolean":                     "bool",
	"bool":                        "bool",
	"real":                        "float4",
	"float4":                      "float4",
	"float":                       "float8",
	"double":                      "float8",
	"double precision":            "float8",
	"float8":                      "float8",
	"decimal":                     "numeric",
	"numeric":                     "numeric",
	"character varying":           "varchar",
	"varchar":                     "varchar",
	"character":                   "bpchar",
	"char":                        "bpchar",
	"bpchar":                      "bpchar",
	"timestamp without time zone": "timestamp",
	"timestamp with time zone":    "timestamptz",
	"time without time zone":      "time",
	"time with time zone":         "timetz",
}

var serialBase = map[string]string{
	"serial":      "int4",
	"bigserial":   "int8",
	"smallserial": "int2",
}

var integerTypes = map[string]bool{"int1": true, "int2": true, "int3": true, "int4": true, "int8": true}

// NormalizeType maps a SQL type spelling to one canonical form so that
// declared and catalog types compare equal, e.g. "character varying(20)"
// and "VARCHAR(20)" both become "varchar(20)".
func NormalizeType(t string) string {
	s := strings.Join(strings.Fields(strings.ToLower(t)), " ")
	if s == "" {
		return s
	}

	array := ""
	for strings.HasSuffix(s, "[]") {
		array += "[]"
		s = strings.TrimSpace(strings.TrimSuffix(s, "[]"))
	}

	base, args, suffix := s, "", ""
	if i := strings.Index(s, "("); i >= 0 {
		if j := strings.Index(s[i:], ")"); j >= 0 {
			base = strings.TrimSpace(s[:i])
			args = strings.ReplaceAll(s[i+1:i+j], " ", "")
			suffix = strings.TrimSpace(s[i+j+1:])
		}
	}
	if args == "" && strings.HasSuffix(base, " unsigned") {
		base, suffix = strings.TrimSuffix(base, " unsigned"), "unsigned"
	}
	// "timestamp(3) with time zone" keeps its qualifier on the base name
	if suffix != "" && (strings.HasPrefix(suffix, "with") || strings.HasPrefix(suffix, "without")) {
		base = base + " " + suffix
		suffix = ""
	}

	if alias, ok := typeAliases[base]; ok {
		base = alias
	}
	if integerTypes[base] {
		// display widths carry no meaning
		args = ""
	}
	switch {
	case base == "bpchar" && args == "":
		args = "1"
	case base == "numeric" && args != "" && !strings.Contains(args, ","):
		args += ",0"
	}

	out := base
	if args != "" {
		out += "(" + args + ")"
	}
	if suffix != "" {
		out += " " + suffix
	}
	return out + array
}

// SameType reports whether a declared type matches a catalog type. A serial
// declaration matches the integer column it creates.
func SameType(declared, actual string) bool {
	d, a := NormalizeType(declared), NormalizeType(actual)
	if d == a {
		return true
	}
	if b, ok := serialBase[d]; ok {
		d = b
	}
	if b, ok := serialBase[a]; ok {
		a = b
	}
	return d == a
}

// SerialFor returns the serial pseudo type for an integer type whose default
// draws from a sequence, or "" when there is none.
func SerialFor(intType string) string {
	for serial, base := range serialBase {
		if base == NormalizeType(intType) {
			return serial
		}
	}
	return ""
}

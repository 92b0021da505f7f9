package relation

import (
	"strconv"
	"strings"
)

// Type is a portable data type code. Values follow the java.sql.Types
// numbering so that codes read from JDBC-era metadata stay comparable.
type Type int

const (
	TypeOther     Type = 1111
	TypeChar      Type = 1
	TypeNumeric   Type = 2
	TypeDecimal   Type = 3
	TypeInteger   Type = 4
	TypeSmallInt  Type = 5
	TypeFloat     Type = 6
	TypeReal      Type = 7
	TypeDouble    Type = 8
	TypeVarchar   Type = 12
	TypeBoolean   Type = 16
	TypeBigInt    Type = -5
	TypeBinary    Type = -2
	TypeDate      Type = 91
	TypeTime      Type = 92
	TypeTimestamp Type = 93
	TypeClob      Type = 2005
	TypeJSON      Type = 2016
)

var typeNames = map[Type]string{
	TypeOther:     "other",
	TypeChar:      "char",
	TypeNumeric:   "numeric",
	TypeDecimal:   "decimal",
	TypeInteger:   "integer",
	TypeSmallInt:  "smallint",
	TypeFloat:     "float",
	TypeReal:      "real",
	TypeDouble:    "double",
	TypeVarchar:   "varchar",
	TypeBoolean:   "boolean",
	TypeBigInt:    "bigint",
	TypeBinary:    "binary",
	TypeDate:      "date",
	TypeTime:      "time",
	TypeTimestamp: "timestamp",
	TypeClob:      "text",
	TypeJSON:      "json",
}

// String returns the lowercase portable name of the type.
func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

// IsNumeric returns true for integer and decimal types.
func (t Type) IsNumeric() bool {
	switch t {
	case TypeNumeric, TypeDecimal, TypeInteger, TypeSmallInt, TypeFloat, TypeReal, TypeDouble, TypeBigInt:
		return true
	}
	return false
}

// IsText returns true for character types.
func (t Type) IsText() bool {
	switch t {
	case TypeChar, TypeVarchar, TypeClob, TypeJSON:
		return true
	}
	return false
}

// ParseType maps a vendor type declaration such as "VARCHAR(50)",
// "int4" or "timestamp with time zone" to a portable code with its
// precision and scale. Unknown names map to TypeOther.
func ParseType(decl string) (t Type, precision, scale int) {
	s := strings.ToLower(strings.TrimSpace(decl))
	if i := strings.Index(s, "("); i >= 0 {
		args := strings.TrimSuffix(strings.TrimSpace(s[i+1:]), ")")
		s = strings.TrimSpace(s[:i])
		parts := strings.Split(args, ",")
		if len(parts) > 0 {
			precision, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
		}
		if len(parts) > 1 {
			scale, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
		}
	}

	switch {
	case s == "":
		return TypeOther, precision, scale
	case s == "int" || s == "integer" || s == "int4" || s == "mediumint" || s == "serial":
		return TypeInteger, precision, scale
	case s == "bigint" || s == "int8" || s == "bigserial":
		return TypeBigInt, precision, scale
	case s == "smallint" || s == "int2" || s == "tinyint" || s == "smallserial":
		return TypeSmallInt, precision, scale
	case s == "numeric":
		return TypeNumeric, precision, scale
	case s == "decimal" || s == "money":
		return TypeDecimal, precision, scale
	case s == "real" || s == "float4":
		return TypeReal, precision, scale
	case s == "float" || s == "float8":
		return TypeFloat, precision, scale
	case strings.HasPrefix(s, "double"):
		return TypeDouble, precision, scale
	case s == "bool" || s == "boolean" || s == "bit":
		return TypeBoolean, precision, scale
	case s == "char" || s == "nchar" || s == "character" || s == "bpchar":
		return TypeChar, precision, scale
	case strings.Contains(s, "varchar") || strings.HasPrefix(s, "character varying"):
		return TypeVarchar, precision, scale
	case s == "text" || s == "ntext" || s == "clob":
		return TypeClob, precision, scale
	case s == "json" || s == "jsonb":
		return TypeJSON, precision, scale
	case s == "date":
		return TypeDate, precision, scale
	case strings.HasPrefix(s, "time") && !strings.HasPrefix(s, "timestamp"):
		return TypeTime, precision, scale
	case strings.HasPrefix(s, "timestamp") || strings.HasPrefix(s, "datetime") || s == "smalldatetime":
		return TypeTimestamp, precision, scale
	case s == "blob" || s == "bytea" || strings.Contains(s, "binary") || s == "image":
		return TypeBinary, precision, scale
	}
	return TypeOther, precision, scale
}

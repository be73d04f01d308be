package mssql

import (
	"strings"
)

const (
	partitionKeyColumn  = "partition_key"
	rowKeyColumn        = "row_key"
	timestampColumn     = "timestamp"
	propertiesColumn    = "properties"
	maxRowsPerStatement = 500
	// Binary collation keeps text ordering case-sensitive and ordinal.
	ordinalCollation = "Latin1_General_100_BIN2"
)

func quoteIdent(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

func qualifiedTable(schema, table string) string {
	return quoteIdent(schema) + "." + quoteIdent(table)
}

func objectIDName(schema, table string) string {
	return quoteIdent(schema) + "." + quoteIdent(table)
}

func escapeSQLString(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}

func selectColumns() string {
	return strings.Join([]string{
		quoteIdent(partitionKeyColumn),
		quoteIdent(rowKeyColumn),
		quoteIdent(timestampColumn),
		quoteIdent(propertiesColumn),
	}, ", ")
}

func isStringType(dataType string) bool {
	switch strings.ToLower(strings.TrimSpace(dataType)) {
	case "varchar", "nvarchar", "char", "nchar", "text", "ntext":
		return true
	default:
		return false
	}
}

func isDateTimeType(dataType string) bool {
	switch strings.ToLower(strings.TrimSpace(dataType)) {
	case "datetime2", "datetimeoffset", "datetime":
		return true
	default:
		return false
	}
}

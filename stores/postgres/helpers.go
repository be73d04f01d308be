package postgres

import (
	"strings"

	"github.com/gabisonia/go-tablestore/tabledata"
)

const (
	partitionKeyColumn = "partition_key"
	rowKeyColumn       = "row_key"
	timestampColumn    = "timestamp"
	propertiesColumn   = "properties"
)

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func qualifiedTable(schema, table string) string {
	return quoteIdent(schema) + "." + quoteIdent(table)
}

func filterConfig() tabledata.FilterSQLConfig {
	return tabledata.FilterSQLConfig{
		ColumnExpr: map[string]string{
			tabledata.PartitionKeyField: quoteIdent(partitionKeyColumn),
			tabledata.RowKeyField:       quoteIdent(rowKeyColumn),
			tabledata.TimestampField:    quoteIdent(timestampColumn),
		},
		PropertiesExpr: quoteIdent(propertiesColumn),
	}
}

func selectColumns() string {
	return strings.Join([]string{
		quoteIdent(partitionKeyColumn),
		quoteIdent(rowKeyColumn),
		quoteIdent(timestampColumn),
		quoteIdent(propertiesColumn),
	}, ", ")
}

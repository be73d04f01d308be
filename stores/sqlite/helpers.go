package sqlite

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/gabisonia/go-tablestore/tabledata"
	sqlitedriver "modernc.org/sqlite"
)

const (
	driverName = "sqlite"

	partitionKeyColumn  = "partition_key"
	rowKeyColumn        = "row_key"
	timestampColumn     = "timestamp"
	propertiesColumn    = "properties"
	maxRowsPerStatement = 500

	// canonicalTimeLayout is fixed width, so UTC values order as text.
	canonicalTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
	canonicalTimeFunc   = "tablestore_datetime"
)

func init() {
	// Maps an RFC 3339 string to canonicalTimeLayout in UTC, or NULL.
	err := sqlitedriver.RegisterDeterministicScalarFunction(canonicalTimeFunc, 1,
		func(_ *sqlitedriver.FunctionContext, args []driver.Value) (driver.Value, error) {
			var text string
			switch v := args[0].(type) {
			case string:
				text = v
			case []byte:
				text = string(v)
			default:
				return nil, nil
			}
			parsed, ok := tabledata.ParseDateTime(text)
			if !ok {
				return nil, nil
			}
			return canonicalTime(parsed), nil
		})
	if err != nil {
		panic(fmt.Sprintf("register %s: %v", canonicalTimeFunc, err))
	}
}

func canonicalTime(t time.Time) string {
	return t.UTC().Format(canonicalTimeLayout)
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func selectColumns() string {
	return strings.Join([]string{
		quoteIdent(partitionKeyColumn),
		quoteIdent(rowKeyColumn),
		quoteIdent(timestampColumn),
		quoteIdent(propertiesColumn),
	}, ", ")
}

func jsonPath(name string) string {
	return `$."` + name + `"`
}

package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// Table is tabular export content in column order.
type Table struct {
	Columns []string
	Rows    [][]string
}

// WriteCSV streams the table as CSV. Short rows are padded with empty cells.
func WriteCSV(w io.Writer, table Table) error {
	if len(table.Columns) == 0 {
		return errors.New("csv requires at least one column")
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(table.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(table.Columns))
	for i, row := range table.Rows {
		if len(row) > len(table.Columns) {
			return fmt.Errorf("row %d has %d cells for %d columns", i, len(row), len(table.Columns))
		}
		n := copy(record, row)
		for j := n; j < len(record); j++ {
			record[j] = ""
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

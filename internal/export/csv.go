// Package export produces delimited-text attendance reports.
package export

import (
	"encoding/csv"
	"io"
	"time"

	"qrattend/internal/ledger"
)

// WriteCSV streams records as CSV with a header row.
func WriteCSV(w io.Writer, records []ledger.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"roll", "name", "subject", "timestamp"}); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{rec.Roll, rec.Name, rec.Subject, rec.MarkedAt.Format(time.RFC3339)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

// requiredColumns must be addressable by label or code for a file to be
// accepted. The other columns may be absent and default per row.
var requiredColumns = []Column{ColIdentification, ColInvoice, ColPlatform}

// ValidateHeader checks that every required column is present under either
// of its names.
func ValidateHeader(header []string) error {
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[headerKey(h)] = true
	}

	var missing []string
	for _, c := range requiredColumns {
		if !have[headerKey(c.Label)] && !have[headerKey(c.Code)] {
			missing = append(missing, fmt.Sprintf("%q (or %s)", c.Label, c.Code))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("header is missing columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ReadRecords streams records from a CSV with a header row. Rows are decoded
// lazily, one per iteration, so memory use does not grow with file size.
// Blank rows are skipped. A read or header error is yielded once and ends
// the sequence.
func ReadRecords(r io.Reader) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		cr := csv.NewReader(wrapSource(r))
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = true

		header, err := cr.Read()
		if errors.Is(err, io.EOF) {
			yield(Record{}, errors.New("file is empty"))
			return
		}
		if err != nil {
			yield(Record{}, fmt.Errorf("read header: %w", err))
			return
		}
		if err := ValidateHeader(header); err != nil {
			yield(Record{}, err)
			return
		}

		for {
			values, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Record{}, fmt.Errorf("read row: %w", err))
				return
			}

			line, _ := cr.FieldPos(0)
			rec := NewRecord(line, header, values)
			if rec.empty() {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

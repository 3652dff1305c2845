package decode

import (
	"encoding/csv"
	"errors"
	"io"
	"os"

	"github.com/openregistry/tmbulk/internal/schema"
)

type csvIterator struct {
	path    string
	file    *os.File
	reader  *csv.Reader
	columns []string
	line    int
}

// OpenCSV streams a header-mapped CSV file. Rows with the wrong field count
// surface as *DecodeError and the stream continues past them.
func OpenCSV(path string, _ schema.Kind) (Iterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(f)
	r.ReuseRecord = false

	header, err := r.Read()
	if err != nil {
		_ = f.Close()
		if errors.Is(err, io.EOF) {
			// Empty file: a valid stream with zero records.
			return &csvIterator{path: path, file: nil, reader: nil}, nil
		}
		return nil, &DecodeError{Path: path, Line: 1, Err: err}
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = CleanColumnName(h)
	}
	return &csvIterator{path: path, file: f, reader: r, columns: columns, line: 1}, nil
}

func (it *csvIterator) Next() (Record, error) {
	if it.reader == nil {
		return nil, io.EOF
	}
	row, err := it.reader.Read()
	it.line++
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &DecodeError{Path: it.path, Line: it.line, Err: err}
	}
	rec := make(Record, len(it.columns))
	for i, col := range it.columns {
		if i < len(row) {
			rec[col] = CleanValue(col, row[i])
		}
	}
	return rec, nil
}

func (it *csvIterator) Close() error {
	if it.file == nil {
		return nil
	}
	return it.file.Close()
}

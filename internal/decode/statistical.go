package decode

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/openregistry/tmbulk/internal/schema"
)

// The annual statistical exports are line-oriented delimited text with a
// header line; the delimiter varies between feeds (pipe, caret, tab,
// semicolon). Sniffed from the header.
var statisticalDelimiters = []string{"|", "^", "\t", ";"}

type statisticalIterator struct {
	path      string
	file      *os.File
	scanner   *bufio.Scanner
	delimiter string
	columns   []string
	line      int
}

func OpenStatistical(path string, _ schema.Kind) (Iterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			_ = f.Close()
			return nil, &DecodeError{Path: path, Line: 1, Err: err}
		}
		// Empty file: zero records.
		return &statisticalIterator{path: path, file: f, scanner: nil}, nil
	}
	header := scanner.Text()

	delimiter := sniffDelimiter(header)
	if delimiter == "" {
		_ = f.Close()
		return nil, &DecodeError{Path: path, Line: 1, Err: fmt.Errorf("no recognized field delimiter in header %q", truncate(header, 80))}
	}

	fields := strings.Split(header, delimiter)
	columns := make([]string, len(fields))
	for i, h := range fields {
		columns[i] = CleanColumnName(h)
	}
	return &statisticalIterator{
		path:      path,
		file:      f,
		scanner:   scanner,
		delimiter: delimiter,
		columns:   columns,
		line:      1,
	}, nil
}

func sniffDelimiter(header string) string {
	best, bestCount := "", 0
	for _, d := range statisticalDelimiters {
		if n := strings.Count(header, d); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (it *statisticalIterator) Next() (Record, error) {
	if it.scanner == nil {
		return nil, io.EOF
	}
	for {
		if !it.scanner.Scan() {
			if err := it.scanner.Err(); err != nil {
				return nil, &DecodeError{Path: it.path, Line: it.line, Err: err}
			}
			return nil, io.EOF
		}
		it.line++
		line := it.scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, it.delimiter)
		if len(fields) != len(it.columns) {
			return nil, &DecodeError{
				Path: it.path,
				Line: it.line,
				Err:  fmt.Errorf("expected %d fields, got %d", len(it.columns), len(fields)),
			}
		}
		rec := make(Record, len(it.columns))
		for i, col := range it.columns {
			rec[col] = CleanValue(col, fields[i])
		}
		return rec, nil
	}
}

func (it *statisticalIterator) Close() error {
	return it.file.Close()
}

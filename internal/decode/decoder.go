package decode

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/openregistry/tmbulk/internal/schema"
)

// Record is one decoded source record: cleaned column name -> value.
type Record map[string]interface{}

// DecodeError marks a malformed record or an unreadable stretch of input.
// The pipeline's per-file error budget counts these; anything else coming
// out of an iterator is treated as an infrastructure failure.
type DecodeError struct {
	Path string
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("decode %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Iterator is a lazy, finite, non-restartable record stream. Next returns
// io.EOF at end of stream and *DecodeError for a malformed record; after a
// *DecodeError the iterator may still be advanced, which is what lets the
// segmenter skip bad records within the configured tolerance.
type Iterator interface {
	Next() (Record, error)
	Close() error
}

// OpenFunc opens one source file as a record stream. The schema kind steers
// format-internal dispatch (e.g. which XML elements carry records).
type OpenFunc func(path string, kind schema.Kind) (Iterator, error)

var registry = map[string]OpenFunc{}

// Register binds an extension (".csv") to a decoder. Later registrations
// win, which tests use to install fakes.
func Register(ext string, fn OpenFunc) {
	registry[strings.ToLower(ext)] = fn
}

// Open picks the decoder registered for the file's extension.
func Open(path string, kind schema.Kind) (Iterator, error) {
	ext := strings.ToLower(filepath.Ext(path))
	fn, ok := registry[ext]
	if !ok {
		return nil, fmt.Errorf("no decoder registered for %q (%s)", ext, path)
	}
	return fn(path, kind)
}

// Supported reports whether a decoder exists for the file's extension.
func Supported(path string) bool {
	_, ok := registry[strings.ToLower(filepath.Ext(path))]
	return ok
}

func init() {
	Register(".csv", OpenCSV)
	Register(".xml", OpenXML)
	Register(".dta", OpenStatistical)
	Register(".txt", OpenStatistical)
}

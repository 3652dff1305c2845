package decode

import (
	"encoding/xml"
	"io"
	"os"
	"strings"

	"github.com/openregistry/tmbulk/internal/schema"
)

// recordElement names the XML element that carries one record for each
// schema kind. Generic feeds have no declared element; every child of the
// document root is treated as a record.
func recordElement(kind schema.Kind) string {
	switch kind {
	case schema.KindCaseFile:
		return "case-file"
	case schema.KindAssignment:
		return "assignment-entry"
	case schema.KindProceeding:
		return "proceeding-entry"
	default:
		return ""
	}
}

type xmlIterator struct {
	path    string
	file    *os.File
	decoder *xml.Decoder
	element string
	depth   int
	failed  bool
}

// OpenXML streams records out of an XML file without loading the document.
// A syntax error poisons the rest of the stream: the iterator reports one
// *DecodeError and then end-of-stream, so everything decoded before the
// error still reaches the segmenter.
func OpenXML(path string, kind schema.Kind) (Iterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &xmlIterator{
		path:    path,
		file:    f,
		decoder: xml.NewDecoder(f),
		element: recordElement(kind),
	}, nil
}

func (it *xmlIterator) Next() (Record, error) {
	if it.failed {
		return nil, io.EOF
	}
	for {
		tok, err := it.decoder.Token()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			it.failed = true
			return nil, &DecodeError{Path: it.path, Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			it.depth++
			if it.isRecordStart(t) {
				it.depth--
				rec, err := it.collectRecord(t)
				if err != nil {
					it.failed = true
					return nil, &DecodeError{Path: it.path, Err: err}
				}
				return rec, nil
			}
		case xml.EndElement:
			it.depth--
		}
	}
}

func (it *xmlIterator) isRecordStart(t xml.StartElement) bool {
	if it.element != "" {
		return strings.EqualFold(t.Name.Local, it.element)
	}
	// Generic: records are the children of the root element.
	return it.depth == 2
}

// collectRecord flattens the record element's leaf descendants into
// column -> text, last occurrence winning. Nested repeating structure the
// target schema cannot hold is intentionally collapsed.
func (it *xmlIterator) collectRecord(_ xml.StartElement) (Record, error) {
	rec := Record{}
	var path []string
	depth := 1
	var text strings.Builder

	for depth > 0 {
		tok, err := it.decoder.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			path = append(path, t.Name.Local)
			text.Reset()
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			depth--
			if len(path) > 0 {
				col := MapColumnName(path[len(path)-1])
				if v := strings.TrimSpace(text.String()); v != "" {
					rec[col] = CleanValue(col, v)
				}
				path = path[:len(path)-1]
			}
			text.Reset()
		}
	}
	return rec, nil
}

func (it *xmlIterator) Close() error {
	return it.file.Close()
}

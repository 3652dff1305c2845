package decode

import (
	"errors"
	"io"
	"testing"

	"github.com/openregistry/tmbulk/internal/schema"
)

func TestOpenXMLCaseFiles(t *testing.T) {
	path := writeTemp(t, "case.xml", `<?xml version="1.0"?>
<trademark-applications-daily>
  <application-information>
    <file-segments>
      <case-file>
        <serial-number>75000001</serial-number>
        <case-file-header>
          <filing-date>19950102</filing-date>
          <mark-identification>ACME</mark-identification>
        </case-file-header>
      </case-file>
      <case-file>
        <serial-number>75000002</serial-number>
        <case-file-header>
          <filing-date>19960304</filing-date>
          <mark-identification>WIDGETCO</mark-identification>
        </case-file-header>
      </case-file>
    </file-segments>
  </application-information>
</trademark-applications-daily>`)

	it, err := OpenXML(path, schema.KindCaseFile)
	if err != nil {
		t.Fatalf("OpenXML: %v", err)
	}
	defer it.Close()

	rec, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	// Element names map onto schema columns; nested leaves are flattened.
	if rec["serial_no"] != "75000001" {
		t.Fatalf("serial_no: %v", rec["serial_no"])
	}
	if rec["filing_date"] != "1995-01-02" {
		t.Fatalf("filing_date: %v", rec["filing_date"])
	}
	if rec["mark_identification"] != "ACME" {
		t.Fatalf("mark_identification: %v", rec["mark_identification"])
	}

	rec, err = it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec["serial_no"] != "75000002" {
		t.Fatalf("second record serial_no: %v", rec["serial_no"])
	}

	if _, err := it.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestOpenXMLGeneric(t *testing.T) {
	path := writeTemp(t, "generic.xml", `<root>
  <entry><name>first</name><value>1</value></entry>
  <entry><name>second</name><value>2</value></entry>
</root>`)

	it, err := OpenXML(path, schema.KindGeneric)
	if err != nil {
		t.Fatalf("OpenXML: %v", err)
	}
	defer it.Close()

	rec, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec["name"] != "first" || rec["value"] != "1" {
		t.Fatalf("generic record: %v", rec)
	}
	if _, err := it.Next(); err != nil {
		t.Fatalf("second record: %v", err)
	}
	if _, err := it.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestOpenXMLTruncated(t *testing.T) {
	path := writeTemp(t, "truncated.xml", `<root>
  <assignment-entry><assignment_id>A1</assignment_id></assignment-entry>
  <assignment-entry><assignment_id>A2`)

	it, err := OpenXML(path, schema.KindAssignment)
	if err != nil {
		t.Fatalf("OpenXML: %v", err)
	}
	defer it.Close()

	rec, err := it.Next()
	if err != nil {
		t.Fatalf("first record before truncation: %v", err)
	}
	if rec["assignment_id"] != "A1" {
		t.Fatalf("assignment_id: %v", rec["assignment_id"])
	}

	_, err = it.Next()
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("truncation should surface *DecodeError, got %v", err)
	}

	// A broken XML stream is poisoned: no more records, just end-of-stream.
	if _, err := it.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("poisoned stream should report EOF, got %v", err)
	}
}

package decode

import (
	"errors"
	"io"
	"testing"

	"github.com/openregistry/tmbulk/internal/schema"
)

func TestOpenStatisticalPipe(t *testing.T) {
	path := writeTemp(t, "case.dta", ""+
		"serial_no|filing_date|mark_identification\n"+
		"75000001|19950102|ACME\n"+
		"\n"+
		"75000002|19960304|WIDGETCO\n")

	it, err := OpenStatistical(path, schema.KindCaseFile)
	if err != nil {
		t.Fatalf("OpenStatistical: %v", err)
	}
	defer it.Close()

	rec, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec["serial_no"] != "75000001" || rec["filing_date"] != "1995-01-02" {
		t.Fatalf("first record: %v", rec)
	}

	// Blank lines are skipped, not errors.
	rec, err = it.Next()
	if err != nil {
		t.Fatalf("Next past blank line: %v", err)
	}
	if rec["serial_no"] != "75000002" {
		t.Fatalf("second record: %v", rec)
	}

	if _, err := it.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestOpenStatisticalDelimiterSniff(t *testing.T) {
	path := writeTemp(t, "tab.txt", "a\tb\n1\t2\n")
	it, err := OpenStatistical(path, schema.KindGeneric)
	if err != nil {
		t.Fatalf("OpenStatistical: %v", err)
	}
	defer it.Close()
	rec, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec["a"] != "1" || rec["b"] != "2" {
		t.Fatalf("tab-delimited record: %v", rec)
	}
}

func TestOpenStatisticalFieldCountMismatch(t *testing.T) {
	path := writeTemp(t, "bad.dta", ""+
		"a|b|c\n"+
		"1|2|3\n"+
		"1|2\n"+
		"4|5|6\n")

	it, err := OpenStatistical(path, schema.KindGeneric)
	if err != nil {
		t.Fatalf("OpenStatistical: %v", err)
	}
	defer it.Close()

	if _, err := it.Next(); err != nil {
		t.Fatalf("first record: %v", err)
	}

	_, err = it.Next()
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("short row should be *DecodeError, got %v", err)
	}

	// Line-oriented input recovers after a bad row.
	rec, err := it.Next()
	if err != nil {
		t.Fatalf("record after error: %v", err)
	}
	if rec["a"] != "4" {
		t.Fatalf("record after error: %v", rec)
	}
}

func TestOpenStatisticalNoDelimiter(t *testing.T) {
	path := writeTemp(t, "nodelim.dta", "justoneword\ndata\n")
	if _, err := OpenStatistical(path, schema.KindGeneric); err == nil {
		t.Fatal("header without delimiter should fail to open")
	}
}

func TestOpenStatisticalEmpty(t *testing.T) {
	path := writeTemp(t, "empty.dta", "")
	it, err := OpenStatistical(path, schema.KindGeneric)
	if err != nil {
		t.Fatalf("OpenStatistical: %v", err)
	}
	defer it.Close()
	if _, err := it.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("empty file should be immediate EOF, got %v", err)
	}
}

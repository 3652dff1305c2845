package decode

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/openregistry/tmbulk/internal/schema"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestOpenCSV(t *testing.T) {
	path := writeTemp(t, "case.csv", ""+
		"Serial Number,Filing Date,Mark Identification\n"+
		"75000001,19950102,ACME\n"+
		"75000002,00000000,  \n")

	it, err := OpenCSV(path, schema.KindCaseFile)
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	defer it.Close()

	rec, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	// Header names are cleaned; values are typed-column cleaned.
	if rec["serial_number"] != "75000001" {
		t.Fatalf("serial_number: %v", rec["serial_number"])
	}
	if rec["filing_date"] != "1995-01-02" {
		t.Fatalf("filing_date not normalized: %v", rec["filing_date"])
	}
	if rec["mark_identification"] != "ACME" {
		t.Fatalf("mark_identification: %v", rec["mark_identification"])
	}

	rec, err = it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec["filing_date"] != nil {
		t.Fatalf("zero date should be nil, got %v", rec["filing_date"])
	}
	if rec["mark_identification"] != nil {
		t.Fatalf("blank value should be nil, got %v", rec["mark_identification"])
	}

	if _, err = it.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestOpenCSVRaggedRow(t *testing.T) {
	path := writeTemp(t, "ragged.csv", ""+
		"a,b\n"+
		"1,2\n"+
		"3\n"+
		"4,5\n")

	it, err := OpenCSV(path, schema.KindGeneric)
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	defer it.Close()

	if _, err := it.Next(); err != nil {
		t.Fatalf("first row: %v", err)
	}

	_, err = it.Next()
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("ragged row should be *DecodeError, got %v", err)
	}
	if de.Line != 3 {
		t.Fatalf("error line: %d", de.Line)
	}

	// The stream continues past the bad row.
	rec, err := it.Next()
	if err != nil {
		t.Fatalf("row after error: %v", err)
	}
	if rec["a"] != "4" || rec["b"] != "5" {
		t.Fatalf("row after error: %v", rec)
	}

	if _, err = it.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestOpenCSVEmptyFile(t *testing.T) {
	path := writeTemp(t, "empty.csv", "")
	it, err := OpenCSV(path, schema.KindGeneric)
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	defer it.Close()
	if _, err := it.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("empty file should be immediate EOF, got %v", err)
	}
}

func TestOpenDispatch(t *testing.T) {
	path := writeTemp(t, "data.csv", "a,b\n1,2\n")
	it, err := Open(path, schema.KindGeneric)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer it.Close()

	if _, err := Open(writeTemp(t, "data.pdf", "x"), schema.KindGeneric); err == nil {
		t.Fatal("unknown extension should fail to open")
	}
	if Supported("foo.pdf") || !Supported("foo.XML") {
		t.Fatal("Supported dispatch wrong")
	}
}

package schema

import (
	"strings"
	"testing"
)

func TestKindForProduct(t *testing.T) {
	cases := []struct {
		productID string
		want      Kind
	}{
		{"TRCFECO", KindCaseFile},
		{"trcfeco", KindCaseFile},
		{"TRTDXFAP-2025", KindCaseFile},
		{"TRTYRAP", KindCaseFile},
		{"TRASECO", KindAssignment},
		{"TRTDXFAG", KindAssignment},
		{"TRTYRAG", KindAssignment},
		{"TTABECO", KindProceeding},
		{"TTAB", KindProceeding},
		{"SOMETHING_ELSE", KindGeneric},
		{"", KindGeneric},
	}
	for _, tc := range cases {
		if got := KindForProduct(tc.productID); got != tc.want {
			t.Errorf("KindForProduct(%q) = %q, want %q", tc.productID, got, tc.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	if got := ParseKind(" Case_File "); got != KindCaseFile {
		t.Fatalf("ParseKind case_file: %q", got)
	}
	if got := ParseKind("proceeding"); got != KindProceeding {
		t.Fatalf("ParseKind proceeding: %q", got)
	}
	if got := ParseKind("nonsense"); got != KindGeneric {
		t.Fatalf("ParseKind fallback: %q", got)
	}
}

func TestNaturalKeys(t *testing.T) {
	if k := NaturalKeyFor(KindCaseFile); k != "serial_no" {
		t.Fatalf("case file key: %q", k)
	}
	if k := NaturalKeyFor(KindAssignment); k != "assignment_id" {
		t.Fatalf("assignment key: %q", k)
	}
	if k := NaturalKeyFor(KindProceeding); k != "proceeding_number" {
		t.Fatalf("proceeding key: %q", k)
	}
	if k := NaturalKeyFor(KindGeneric); k != "" {
		t.Fatalf("generic should have no natural key, got %q", k)
	}
}

func TestDDLDeterministic(t *testing.T) {
	for _, kind := range []Kind{KindCaseFile, KindAssignment, KindProceeding, KindGeneric} {
		a := SpecFor(kind).DDL("product_x")
		b := SpecFor(kind).DDL("product_x")
		if len(a) != len(b) {
			t.Fatalf("%s: statement counts differ", kind)
		}
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("%s: DDL not deterministic:\n%s\n%s", kind, a[i], b[i])
			}
		}
	}
}

func TestDDLShape(t *testing.T) {
	stmts := SpecFor(KindCaseFile).DDL("product_trcfeco")
	if len(stmts) == 0 {
		t.Fatal("no statements")
	}
	create := stmts[0]
	if !strings.HasPrefix(create, "CREATE TABLE product_trcfeco (") {
		t.Fatalf("create statement: %s", create)
	}
	if !strings.Contains(create, "id UUID PRIMARY KEY DEFAULT uuid_generate_v4()") {
		t.Fatal("missing surrogate key")
	}
	if !strings.Contains(create, "serial_no VARCHAR(20) UNIQUE") {
		t.Fatal("missing natural key constraint")
	}
	for _, meta := range []string{"data_source", "file_hash", "batch_number", "created_at", "updated_at"} {
		if !strings.Contains(create, meta) {
			t.Fatalf("missing metadata column %s", meta)
		}
	}
	for _, stmt := range stmts[1:] {
		if !strings.HasPrefix(stmt, "CREATE INDEX idx_product_trcfeco_") {
			t.Fatalf("index statement: %s", stmt)
		}
	}

	generic := SpecFor(KindGeneric).DDL("product_other")
	joined := strings.Join(generic, "\n")
	if !strings.Contains(joined, "raw_data JSONB") {
		t.Fatal("generic table missing raw_data")
	}
	if !strings.Contains(joined, "USING GIN(raw_data)") {
		t.Fatal("generic table missing GIN index")
	}
}

func TestSpecIsolation(t *testing.T) {
	a := SpecFor(KindAssignment)
	a.Columns[0].Name = "mutated"
	b := SpecFor(KindAssignment)
	if b.Columns[0].Name != "assignment_id" {
		t.Fatal("SpecFor shares state between calls")
	}
}

func TestColumnHelpers(t *testing.T) {
	spec := SpecFor(KindProceeding)
	names := spec.ColumnNames()
	if names[0] != "proceeding_number" {
		t.Fatalf("first column: %q", names[0])
	}
	for _, n := range names {
		if n == "id" {
			t.Fatal("ColumnNames must not include the surrogate id")
		}
	}
	if !spec.HasColumn("goods_services") || spec.HasColumn("serial_no") {
		t.Fatal("HasColumn wrong membership")
	}
}

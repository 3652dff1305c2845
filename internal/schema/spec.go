package schema

import (
	"fmt"
	"strings"
)

// Kind selects the column layout of a product's target table. The set is
// closed; anything unrecognized falls back to KindGeneric.
type Kind string

const (
	KindCaseFile   Kind = "case_file"
	KindAssignment Kind = "assignment"
	KindProceeding Kind = "proceeding"
	KindGeneric    Kind = "generic"
)

// ParseKind maps a declared kind string onto the closed set.
func ParseKind(s string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindCaseFile:
		return KindCaseFile
	case KindAssignment:
		return KindAssignment
	case KindProceeding:
		return KindProceeding
	default:
		return KindGeneric
	}
}

// KindForProduct dispatches on the product identifier pattern, matching the
// upstream catalog's naming of case-file, assignment and proceeding feeds.
func KindForProduct(productID string) Kind {
	id := strings.ToUpper(strings.TrimSpace(productID))
	switch {
	case strings.Contains(id, "TRCFECO"), strings.Contains(id, "TRTDXFAP"), strings.Contains(id, "TRTYRAP"):
		return KindCaseFile
	case strings.Contains(id, "TRASECO"), strings.Contains(id, "TRTDXFAG"), strings.Contains(id, "TRTYRAG"):
		return KindAssignment
	case strings.Contains(id, "TTAB"):
		return KindProceeding
	default:
		return KindGeneric
	}
}

type Column struct {
	Name    string
	Type    string
	Unique  bool
	Default string
}

type Index struct {
	Column string
	Using  string
}

// TableSpec is the explicit column/index specification of one schema kind.
// The only DDL the registrar ever runs is rendered from one of these.
type TableSpec struct {
	Kind       Kind
	NaturalKey string
	Columns    []Column
	Indexes    []Index
}

// metadataSuffix is present on every kind regardless of layout.
var metadataSuffix = []Column{
	{Name: "data_source", Type: "VARCHAR(100)"},
	{Name: "file_hash", Type: "VARCHAR(64)"},
	{Name: "batch_number", Type: "INTEGER"},
	{Name: "created_at", Type: "TIMESTAMP", Default: "CURRENT_TIMESTAMP"},
	{Name: "updated_at", Type: "TIMESTAMP", Default: "CURRENT_TIMESTAMP"},
}

// SpecFor returns the table spec of a kind. The returned value is built
// fresh on every call so callers can't mutate the shared definitions.
func SpecFor(kind Kind) TableSpec {
	switch kind {
	case KindCaseFile:
		return caseFileSpec()
	case KindAssignment:
		return assignmentSpec()
	case KindProceeding:
		return proceedingSpec()
	default:
		return genericSpec()
	}
}

// NaturalKeyFor returns the upsert key column of a kind, empty when the kind
// has none and commits fall back to insert-only surrogate keys.
func NaturalKeyFor(kind Kind) string {
	return SpecFor(kind).NaturalKey
}

func caseFileSpec() TableSpec {
	return TableSpec{
		Kind:       KindCaseFile,
		NaturalKey: "serial_no",
		Columns: append([]Column{
			{Name: "serial_no", Type: "VARCHAR(20)", Unique: true},
			{Name: "registration_number", Type: "VARCHAR(20)"},
			{Name: "filing_date", Type: "DATE"},
			{Name: "registration_date", Type: "DATE"},
			{Name: "status_code", Type: "VARCHAR(10)"},
			{Name: "status_date", Type: "DATE"},
			{Name: "mark_identification", Type: "TEXT"},
			{Name: "mark_drawing_code", Type: "VARCHAR(10)"},
			{Name: "abandon_dt", Type: "DATE"},
			{Name: "amend_reg_dt", Type: "DATE"},
			{Name: "reg_cancel_cd", Type: "VARCHAR(10)"},
			{Name: "reg_cancel_dt", Type: "DATE"},
			{Name: "cancel_pend_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "cert_mark_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "coll_memb_mark_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "coll_serv_mark_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "coll_trade_mark_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "concur_use_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "concur_use_pend_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "draw_color_cur_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "draw_3d_cur_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "exm_attorney_name", Type: "TEXT"},
			{Name: "exm_office_cd", Type: "VARCHAR(10)"},
			{Name: "interfer_pend_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "opposit_pend_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "for_priority_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "lb_itu_cur_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "lb_use_cur_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "lb_for_app_cur_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "lb_for_reg_cur_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "lb_intl_reg_cur_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "lb_none_cur_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "publication_dt", Type: "DATE"},
			{Name: "renewal_dt", Type: "DATE"},
			{Name: "renewal_file_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "repub_12c_dt", Type: "DATE"},
			{Name: "incontest_ack_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "acq_dist_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "use_afdv_acc_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "serv_mark_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "std_char_claim_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "cfh_status_cd", Type: "INTEGER"},
			{Name: "cfh_status_dt", Type: "DATE"},
			{Name: "amend_supp_reg_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "supp_reg_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "trade_mark_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "ir_auto_reg_dt", Type: "DATE"},
			{Name: "ir_registration_no", Type: "VARCHAR(20)"},
			{Name: "ir_registration_dt", Type: "DATE"},
			{Name: "ir_renewal_dt", Type: "DATE"},
			{Name: "ir_status_cd", Type: "VARCHAR(10)"},
			{Name: "ir_status_dt", Type: "DATE"},
			{Name: "ir_priority_dt", Type: "DATE"},
			{Name: "ir_priority_in", Type: "BOOLEAN", Default: "FALSE"},
			{Name: "tad_file_id", Type: "INTEGER"},
		}, metadataSuffix...),
		Indexes: []Index{
			{Column: "serial_no"},
			{Column: "registration_number"},
			{Column: "filing_date"},
			{Column: "batch_number"},
		},
	}
}

func assignmentSpec() TableSpec {
	return TableSpec{
		Kind:       KindAssignment,
		NaturalKey: "assignment_id",
		Columns: append([]Column{
			{Name: "assignment_id", Type: "VARCHAR(50)", Unique: true},
			{Name: "serial_no", Type: "VARCHAR(20)"},
			{Name: "registration_number", Type: "VARCHAR(20)"},
			{Name: "date_recorded", Type: "DATE"},
			{Name: "conveyance_text", Type: "TEXT"},
			{Name: "frame_no", Type: "VARCHAR(10)"},
			{Name: "reel_no", Type: "VARCHAR(10)"},
			{Name: "page_count", Type: "INTEGER"},
			{Name: "last_update_date", Type: "DATE"},
			{Name: "purge_indicator", Type: "CHAR(1)"},
			{Name: "correspondent_name", Type: "TEXT"},
			{Name: "correspondent_address_1", Type: "TEXT"},
			{Name: "correspondent_address_2", Type: "TEXT"},
			{Name: "correspondent_address_3", Type: "TEXT"},
			{Name: "assignor_name", Type: "TEXT"},
			{Name: "assignee_name", Type: "TEXT"},
			{Name: "assignor_address", Type: "TEXT"},
			{Name: "assignee_address", Type: "TEXT"},
		}, metadataSuffix...),
		Indexes: []Index{
			{Column: "assignment_id"},
			{Column: "serial_no"},
			{Column: "date_recorded"},
			{Column: "batch_number"},
		},
	}
}

func proceedingSpec() TableSpec {
	return TableSpec{
		Kind:       KindProceeding,
		NaturalKey: "proceeding_number",
		Columns: append([]Column{
			{Name: "proceeding_number", Type: "VARCHAR(20)", Unique: true},
			{Name: "proceeding_type", Type: "VARCHAR(50)"},
			{Name: "status", Type: "VARCHAR(50)"},
			{Name: "filing_date", Type: "DATE"},
			{Name: "applicant_name", Type: "TEXT"},
			{Name: "opposer_name", Type: "TEXT"},
			{Name: "mark_description", Type: "TEXT"},
			{Name: "goods_services", Type: "TEXT"},
		}, metadataSuffix...),
		Indexes: []Index{
			{Column: "proceeding_number"},
			{Column: "filing_date"},
			{Column: "batch_number"},
		},
	}
}

func genericSpec() TableSpec {
	return TableSpec{
		Kind: KindGeneric,
		// No natural key: commits are insert-only with surrogate ids.
		Columns: append([]Column{
			{Name: "raw_data", Type: "JSONB"},
		}, metadataSuffix...),
		Indexes: []Index{
			{Column: "batch_number"},
			{Column: "data_source"},
			{Column: "raw_data", Using: "GIN"},
		},
	}
}

// DDL renders the spec into its create statements for the given table name.
// Rendering is deterministic: a fixed kind always produces byte-identical
// statements for a given table name.
func (s TableSpec) DDL(tableName string) []string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(tableName)
	b.WriteString(" (\n")
	b.WriteString("    id UUID PRIMARY KEY DEFAULT uuid_generate_v4()")
	for _, col := range s.Columns {
		b.WriteString(",\n    ")
		b.WriteString(col.Name)
		b.WriteString(" ")
		b.WriteString(col.Type)
		if col.Unique {
			b.WriteString(" UNIQUE")
		}
		if col.Default != "" {
			b.WriteString(" DEFAULT ")
			b.WriteString(col.Default)
		}
	}
	b.WriteString("\n)")

	stmts := []string{b.String()}
	for _, idx := range s.Indexes {
		name := fmt.Sprintf("idx_%s_%s", tableName, idx.Column)
		if idx.Using != "" {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s ON %s USING %s(%s)", name, tableName, idx.Using, idx.Column))
		} else {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s ON %s(%s)", name, tableName, idx.Column))
		}
	}
	return stmts
}

// ColumnNames returns the spec's column names in declaration order, without
// the surrogate id.
func (s TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(s.Columns))
	for _, col := range s.Columns {
		out = append(out, col.Name)
	}
	return out
}

// HasColumn reports whether the spec declares the named column.
func (s TableSpec) HasColumn(name string) bool {
	for _, col := range s.Columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

package decode

import (
	"strings"

	"github.com/openregistry/tmbulk/internal/schema"
)

// columnMappings folds source-side column names onto the target schema
// names. The bulk feeds disagree with their own documentation here; this
// list mirrors the observed divergences.
var columnMappings = map[string]string{
	"serial_number":              "serial_no",
	"abandon_date":               "abandon_dt",
	"amend_registration_date":    "amend_reg_dt",
	"reg_cancel_code":            "reg_cancel_cd",
	"reg_cancel_date":            "reg_cancel_dt",
	"examiner_attorney_name":     "exm_attorney_name",
	"publication_date":           "publication_dt",
	"renewal_date":               "renewal_dt",
	"repub_12c_date":             "repub_12c_dt",
	"cfh_status_code":            "cfh_status_cd",
	"cfh_status_date":            "cfh_status_dt",
	"ir_auto_registration_date":  "ir_auto_reg_dt",
	"ir_registration_date":       "ir_registration_dt",
	"ir_registration_number":     "ir_registration_no",
	"ir_renewal_date":            "ir_renewal_dt",
	"ir_status_code":             "ir_status_cd",
	"ir_status_date":             "ir_status_dt",
	"ir_priority_date":           "ir_priority_dt",
}

// CleanColumnName normalizes a source column name: trimmed, lowered,
// spaces/dashes to underscores.
func CleanColumnName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, " ", "_")
	n = strings.ReplaceAll(n, "-", "_")
	return n
}

// MapColumnName applies CleanColumnName plus the source-to-schema renames.
func MapColumnName(name string) string {
	n := CleanColumnName(name)
	if mapped, ok := columnMappings[n]; ok {
		return mapped
	}
	return n
}

func isDateColumn(name string) bool {
	return strings.HasSuffix(name, "_dt") || strings.HasSuffix(name, "_date") || name == "filing_date" || name == "registration_date" || name == "status_date" || name == "date_recorded"
}

// CleanValue nils empty strings, which would otherwise break typed columns
// (Postgres rejects '' for DATE).
func CleanValue(column string, value interface{}) interface{} {
	s, ok := value.(string)
	if !ok {
		return value
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if isDateColumn(column) {
		if s == "0000-00-00" || s == "00000000" {
			return nil
		}
		if d, ok := normalizeDate(s); ok {
			return d
		}
	}
	return s
}

// normalizeDate rewrites the feeds' compact yyyymmdd dates as ISO.
func normalizeDate(s string) (string, bool) {
	if len(s) != 8 {
		return "", false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return s[0:4] + "-" + s[4:6] + "-" + s[6:8], true
}

// NormalizeForSchema maps a record's column names onto the target spec and
// drops anything the spec does not declare. Metadata columns are left for
// the commit engine to fill.
func NormalizeForSchema(rec Record, spec schema.TableSpec) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		name := MapColumnName(k)
		if !spec.HasColumn(name) {
			continue
		}
		out[name] = CleanValue(name, v)
	}
	return out
}

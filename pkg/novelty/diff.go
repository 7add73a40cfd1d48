// pkg/novelty/diff.go
package novelty

import (
	"sort"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

// Report holds the rows of the latest month that were not seen before
type Report struct {
	NewCodes        []model.Row // Codes absent from the existing data
	NewDescriptions []model.Row // Descriptions absent from the existing data
	NewChemSubs     []model.Row // Chemical substances absent from the existing data
	NewDescOnly     []model.Row // New descriptions on already known codes, and the reverse
}

// Diff compares latest against existing after applying rules to both
func Diff(existing, latest *model.RowSet, rules Rules) Report {
	if !rules.Empty() {
		existing = rules.Apply(existing)
		latest = rules.Apply(latest)
	}

	report := Report{
		NewCodes:        onlyInLatest(existing, latest, model.ColumnCode),
		NewDescriptions: onlyInLatest(existing, latest, model.ColumnDescription),
		NewChemSubs:     onlyInLatest(existing, latest, model.ColumnChemicalSubstance),
	}
	report.NewDescOnly = symmetricDifference(report.NewDescriptions, report.NewCodes)

	return report
}

// onlyInLatest returns the latest rows whose col value never occurs in existing
func onlyInLatest(existing, latest *model.RowSet, col model.Column) []model.Row {
	seen := existing.Values(col)

	out := make([]model.Row, 0)
	for _, row := range latest.Rows() {
		if _, ok := seen[row.Value(col)]; !ok {
			out = append(out, row)
		}
	}
	SortByCode(out)
	return out
}

// symmetricDifference keeps rows present in exactly one of a and b:
// rows only in a, then rows only in b, sorted by code
func symmetricDifference(a, b []model.Row) []model.Row {
	inA := model.NewRowSet(a...)
	inB := model.NewRowSet(b...)

	out := make([]model.Row, 0)
	for _, row := range inA.Rows() {
		if !inB.Contains(row) {
			out = append(out, row)
		}
	}
	for _, row := range inB.Rows() {
		if !inA.Contains(row) {
			out = append(out, row)
		}
	}
	SortByCode(out)
	return out
}

// codeKey is the chapter, section, paragraph and subparagraph of a BNF code
type codeKey struct {
	chapter, section, paragraph string
	subparagraph                string
	hasSubparagraph             bool
}

func keyOf(code string) codeKey {
	k := codeKey{
		chapter:   substr(code, 0, 2),
		section:   substr(code, 2, 4),
		paragraph: substr(code, 4, 6),
	}
	if len(code) > 6 {
		k.subparagraph = code[6:7]
		k.hasSubparagraph = true
	}
	return k
}

func (k codeKey) less(o codeKey) bool {
	if k.chapter != o.chapter {
		return k.chapter < o.chapter
	}
	if k.section != o.section {
		return k.section < o.section
	}
	if k.paragraph != o.paragraph {
		return k.paragraph < o.paragraph
	}
	// A missing subparagraph sorts last
	if k.hasSubparagraph != o.hasSubparagraph {
		return k.hasSubparagraph
	}
	return k.subparagraph < o.subparagraph
}

// SortByCode orders rows by the BNF hierarchy of their code, keeping the
// relative order of rows with equal keys
func SortByCode(rows []model.Row) {
	keys := make(map[string]codeKey, len(rows))
	for _, r := range rows {
		if _, ok := keys[r.Code]; !ok {
			keys[r.Code] = keyOf(r.Code)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return keys[rows[i].Code].less(keys[rows[j].Code])
	})
}

func substr(s string, from, to int) string {
	if from >= len(s) {
		return ""
	}
	if to > len(s) {
		to = len(s)
	}
	return s[from:to]
}

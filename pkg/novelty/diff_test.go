package novelty

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

func row(code, desc, chem string) model.Row {
	return model.Row{Code: code, Description: desc, ChemicalSubstance: chem}
}

func TestRulesKeep(t *testing.T) {
	rules := ParseRules([]string{"04", "0601", "~0407", " "})

	tests := []struct {
		code string
		keep bool
	}{
		{"0401010A0AAAAAA", false}, // chapter excluded
		{"0407010H0AAAMAM", true},  // re-included section
		{"0601011A0AAAAAA", false}, // section excluded
		{"0602010V0AAABAB", true},
		{"0101010G0AAABAB", true},
		{"0", true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.keep, rules.Keep(tt.code))
		})
	}

	assert.Equal(t, []string{"04", "0601", "~0407"}, rules.List())
	assert.True(t, ParseRules(nil).Keep("0401010A0AAAAAA"))
}

func TestDiff(t *testing.T) {
	existing := model.NewRowSet(
		row("0101010G0AAABAB", "Co-Magaldrox 195mg/220mg/5ml oral suspension", "Co-magaldrox"),
		row("0407010H0AAAMAM", "Paracetamol 500mg tablets", "Paracetamol"),
	)
	latest := model.NewRowSet(
		row("0407010H0AAAMAM", "Paracetamol 500mg tablets", "Paracetamol"),
		row("0407010H0AAAMAM", "Paracetamol 500mg caplets", "Paracetamol"),
		row("1001010J0AAAEAE", "Ibuprofen 400mg tablets", "Ibuprofen"),
		row("0101010G0AAAFAF", "Co-Magaldrox 195mg/220mg/5ml oral suspension", "Co-magaldrox"),
	)

	got := Diff(existing, latest, ParseRules(nil))

	want := Report{
		NewCodes: []model.Row{
			row("0101010G0AAAFAF", "Co-Magaldrox 195mg/220mg/5ml oral suspension", "Co-magaldrox"),
			row("1001010J0AAAEAE", "Ibuprofen 400mg tablets", "Ibuprofen"),
		},
		NewDescriptions: []model.Row{
			row("0407010H0AAAMAM", "Paracetamol 500mg caplets", "Paracetamol"),
			row("1001010J0AAAEAE", "Ibuprofen 400mg tablets", "Ibuprofen"),
		},
		NewChemSubs: []model.Row{
			row("1001010J0AAAEAE", "Ibuprofen 400mg tablets", "Ibuprofen"),
		},
		NewDescOnly: []model.Row{
			row("0101010G0AAAFAF", "Co-Magaldrox 195mg/220mg/5ml oral suspension", "Co-magaldrox"),
			row("0407010H0AAAMAM", "Paracetamol 500mg caplets", "Paracetamol"),
		},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Diff() mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffAppliesRulesToBothSides(t *testing.T) {
	existing := model.NewRowSet(row("0101010G0AAABAB", "Antacid", "Co-magaldrox"))
	latest := model.NewRowSet(
		row("0101010G0AAABAB", "Antacid", "Co-magaldrox"),
		row("2010000A0AAAAAA", "Dressing", "Dressing"),
		row("0407010H0AAAMAM", "Paracetamol 500mg tablets", "Paracetamol"),
		row("0401010A0AAAAAA", "Hypnotic", "Hypnotic"),
	)

	got := Diff(existing, latest, ParseRules([]string{"20", "04", "~0407"}))
	assert.Equal(t, []model.Row{row("0407010H0AAAMAM", "Paracetamol 500mg tablets", "Paracetamol")}, got.NewCodes)
	assert.Empty(t, got.NewDescOnly)
}

func TestDiffEmptyInputs(t *testing.T) {
	got := Diff(model.NewRowSet(), model.NewRowSet(), ParseRules(nil))
	assert.Empty(t, got.NewCodes)
	assert.NotNil(t, got.NewCodes)
	assert.Empty(t, got.NewDescOnly)
}

func TestSortByCode(t *testing.T) {
	rows := []model.Row{
		row("0407010H0AAAMAM", "second paracetamol", ""),
		row("040701", "no subparagraph", ""),
		row("0101010G0", "antacid", ""),
		row("0407010H0AAAWAW", "third paracetamol", ""),
		row("04", "chapter only", ""),
		row("0407011", "subparagraph 1", ""),
	}

	SortByCode(rows)

	got := make([]string, len(rows))
	for i, r := range rows {
		got[i] = r.Description
	}
	assert.Equal(t, []string{
		"antacid",
		"chapter only",
		"second paracetamol",
		"third paracetamol",
		"subparagraph 1",
		"no subparagraph",
	}, got)
}

func TestDiffProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genRow := gopter.CombineGens(
		gen.OneConstOf("0101", "0407", "1001", "2010"),
		gen.OneConstOf("010A0", "010H0", "020B0"),
		gen.OneConstOf("desc a", "desc b", "desc c", "desc d"),
		gen.OneConstOf("chem a", "chem b", "chem c"),
	).Map(func(v []interface{}) model.Row {
		return row(v[0].(string)+v[1].(string), v[2].(string), v[3].(string))
	})

	properties.Property("new codes are latest rows with unseen codes", prop.ForAll(
		func(existing, latest []model.Row) bool {
			ex := model.NewRowSet(existing...)
			got := Diff(ex, model.NewRowSet(latest...), ParseRules(nil))
			known := ex.Values(model.ColumnCode)
			for _, r := range got.NewCodes {
				if _, ok := known[r.Code]; ok {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genRow),
		gen.SliceOf(genRow),
	))

	properties.Property("diffing a set against itself finds nothing", prop.ForAll(
		func(rows []model.Row) bool {
			set := model.NewRowSet(rows...)
			got := Diff(set, set, ParseRules(nil))
			return len(got.NewCodes)+len(got.NewDescriptions)+len(got.NewChemSubs)+len(got.NewDescOnly) == 0
		},
		gen.SliceOf(genRow),
	))

	properties.Property("desc-only rows are in exactly one of new codes and new descriptions", prop.ForAll(
		func(existing, latest []model.Row) bool {
			got := Diff(model.NewRowSet(existing...), model.NewRowSet(latest...), ParseRules(nil))
			codes := model.NewRowSet(got.NewCodes...)
			descs := model.NewRowSet(got.NewDescriptions...)
			for _, r := range got.NewDescOnly {
				if codes.Contains(r) == descs.Contains(r) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genRow),
		gen.SliceOf(genRow),
	))

	properties.TestingRun(t)
}

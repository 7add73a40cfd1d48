// pkg/model/row.go
package model

// Row is one distinct prescribing item. Equality is defined by the three
// text columns only; provenance and timestamps never take part.
type Row struct {
	Code              string `db:"code" json:"BNF_CODE"`
	Description       string `db:"description" json:"BNF_DESCRIPTION"`
	ChemicalSubstance string `db:"chemical_substance" json:"CHEMICAL_SUBSTANCE_BNF_DESCR"`
}

// Value returns the row's value for a tracked column
func (r Row) Value(col Column) string {
	switch col {
	case ColumnCode:
		return r.Code
	case ColumnDescription:
		return r.Description
	case ColumnChemicalSubstance:
		return r.ChemicalSubstance
	default:
		return ""
	}
}

// RowSet is an insertion-ordered, deduplicated collection of rows covering
// the periods From..To
type RowSet struct {
	From Period
	To   Period

	rows  []Row
	index map[Row]struct{}
}

// NewRowSet creates a row set holding rows with duplicates removed
func NewRowSet(rows ...Row) *RowSet {
	s := &RowSet{index: make(map[Row]struct{}, len(rows))}
	s.AddAll(rows)
	return s
}

// Add inserts a row and reports whether it was new
func (s *RowSet) Add(r Row) bool {
	if s.index == nil {
		s.index = make(map[Row]struct{})
	}
	if _, exists := s.index[r]; exists {
		return false
	}
	s.index[r] = struct{}{}
	s.rows = append(s.rows, r)
	return true
}

// AddAll inserts rows and returns how many were new
func (s *RowSet) AddAll(rows []Row) int {
	added := 0
	for _, r := range rows {
		if s.Add(r) {
			added++
		}
	}
	return added
}

// Merge adds every row of other
func (s *RowSet) Merge(other *RowSet) int {
	if other == nil {
		return 0
	}
	return s.AddAll(other.rows)
}

// Rows returns a copy of the rows in insertion order
func (s *RowSet) Rows() []Row {
	if s == nil {
		return nil
	}
	out := make([]Row, len(s.rows))
	copy(out, s.rows)
	return out
}

// Count returns the number of distinct rows
func (s *RowSet) Count() int {
	if s == nil {
		return 0
	}
	return len(s.rows)
}

// Contains reports whether r is in the set
func (s *RowSet) Contains(r Row) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[r]
	return ok
}

// Values returns the distinct values of one column
func (s *RowSet) Values(col Column) map[string]struct{} {
	values := make(map[string]struct{}, s.Count())
	if s == nil {
		return values
	}
	for _, r := range s.rows {
		values[r.Value(col)] = struct{}{}
	}
	return values
}

// Filter returns a new set holding the rows keep accepts, with the same range
func (s *RowSet) Filter(keep func(Row) bool) *RowSet {
	out := NewRowSet()
	if s == nil {
		return out
	}
	out.From, out.To = s.From, s.To
	for _, r := range s.rows {
		if keep(r) {
			out.Add(r)
		}
	}
	return out
}

// WithRange tags the set with the periods it covers
func (s *RowSet) WithRange(from, to Period) *RowSet {
	s.From = from
	s.To = to
	return s
}

// FromLabel returns the lower bound as YYYY-MM
func (s *RowSet) FromLabel() string {
	return s.From.Label()
}

// ToLabel returns the upper bound as YYYY-MM
func (s *RowSet) ToLabel() string {
	return s.To.Label()
}

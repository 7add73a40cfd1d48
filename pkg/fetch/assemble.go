package fetch

import "github.com/David-Botos/epd-ingress/pkg/model"

// Assemble concatenates cached and fetched rows, dropping duplicate rows,
// and tags the result with the resolved bounds. An empty result is returned
// as an empty set; callers decide whether that aborts the run.
func Assemble(cached *model.RowSet, fetched []*model.RowSet, from, to model.Period) *model.RowSet {
	out := model.NewRowSet()
	out.Merge(cached)
	for _, set := range fetched {
		out.Merge(set)
	}
	return out.WithRange(from, to)
}

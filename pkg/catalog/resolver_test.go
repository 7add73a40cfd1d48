package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

type staticSource struct {
	partitions []model.Partition
	err        error
	calls      int
}

func (s *staticSource) Partitions(ctx context.Context, dataset string) ([]model.Partition, error) {
	s.calls++
	return s.partitions, s.err
}

func monthly(ids ...string) *staticSource {
	src := &staticSource{}
	for _, id := range ids {
		src.partitions = append(src.partitions, model.NewPartition(id))
	}
	return src
}

// consecutiveMonths returns n partition names ending at December of endYear
func consecutiveMonths(n, endYear int) []string {
	ids := make([]string, n)
	year, month := endYear, 12
	for i := n - 1; i >= 0; i-- {
		ids[i] = fmt.Sprintf("EPD_%04d%02d", year, month)
		month--
		if month == 0 {
			month, year = 12, year-1
		}
	}
	return ids
}

func newResolver(t *testing.T, src Source, cutoff int) *Resolver {
	t.Helper()
	r, err := NewResolver(src, cutoff, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestResolveExpressions(t *testing.T) {
	src := monthly("EPD_202310", "EPD_202311", "EPD_202312", "EPD_202401", "EPD_202402", "EPD_SNOMED")
	r := newResolver(t, src, 2000)

	tests := []struct {
		from, to string
		wantIDs  []string
	}{
		{"", "", []string{"EPD_202310", "EPD_202311", "EPD_202312", "EPD_202401", "EPD_202402"}},
		{"latest", "latest", []string{"EPD_202402"}},
		{"latest-1", "latest", []string{"EPD_202401", "EPD_202402"}},
		{"earliest", "latest-1", []string{"EPD_202310", "EPD_202311", "EPD_202312", "EPD_202401"}},
		{"earliest+2", "202401", []string{"EPD_202312", "EPD_202401"}},
		{"202311", "202311", []string{"EPD_202311"}},
		{"latest", "earliest", nil},
	}

	for _, tt := range tests {
		t.Run(tt.from+".."+tt.to, func(t *testing.T) {
			res, err := r.Resolve(context.Background(), "epd", tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, res.IDs)
			assert.Len(t, res.Periods, len(tt.wantIDs))
		})
	}
}

func TestResolveLabels(t *testing.T) {
	r := newResolver(t, monthly("EPD_202311", "EPD_202312", "EPD_202401"), 2000)

	res, err := r.Resolve(context.Background(), "epd", "earliest", "latest-1")
	require.NoError(t, err)
	assert.Equal(t, "2023-11", res.From.Label())
	assert.Equal(t, "2023-12", res.To.Label())
}

func TestResolveInvalidExpressions(t *testing.T) {
	src := monthly("EPD_202401", "EPD_202402")
	r := newResolver(t, src, 2000)

	for _, expr := range []string{"latest-0", "latest-x", "latest--1", "earliest+0", "earliest+", "yesterday", "2024-01", "202413"} {
		_, err := r.Resolve(context.Background(), "epd", expr, "latest")
		require.Error(t, err, expr)
		assert.True(t, errors.Is(err, model.ErrInvalidDateFormat), expr)
	}
	assert.Zero(t, src.calls, "syntax errors are reported before the catalog is read")
}

func TestResolveRangeError(t *testing.T) {
	r := newResolver(t, monthly("EPD_202401", "EPD_202402", "EPD_202403"), 2000)

	_, err := r.Resolve(context.Background(), "epd", "latest-3", "latest")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrRange))

	var rangeErr *model.RangeError
	require.True(t, errors.As(err, &rangeErr))
	assert.Equal(t, 2, rangeErr.Max)

	_, err = r.Resolve(context.Background(), "epd", "earliest+3", "latest")
	assert.True(t, errors.Is(err, model.ErrRange))
}

func TestResolveCollapsesPreCutoff(t *testing.T) {
	r := newResolver(t, monthly("EPD_202211", "EPD_202212", "EPD_202301", "EPD_202401", "EPD_202402"), 2024)

	res, err := r.Resolve(context.Background(), "epd", "earliest", "latest-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"EPD_pre_2024", "EPD_202401"}, res.IDs)
	assert.Len(t, res.Periods, 4)
	assert.Len(t, res.Partitions, 4)
}

func TestResolveCatalogFailures(t *testing.T) {
	r := newResolver(t, &staticSource{err: fmt.Errorf("%w: boom", model.ErrCatalogUnavailable)}, 2000)
	_, err := r.Resolve(context.Background(), "epd", "", "")
	assert.True(t, errors.Is(err, model.ErrCatalogUnavailable))

	r = newResolver(t, monthly("EPD_SNOMED"), 2000)
	_, err = r.Resolve(context.Background(), "epd", "", "")
	assert.True(t, errors.Is(err, model.ErrCatalogUnavailable))
}

func TestNewResolverRejectsCutoff(t *testing.T) {
	_, err := NewResolver(monthly(), 0, zap.NewNop())
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestProperty_Resolver(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("latest-1..latest returns the two most recent periods", prop.ForAll(
		func(n int) bool {
			ids := consecutiveMonths(n, 2024)
			r, _ := NewResolver(monthly(ids...), 1900, zap.NewNop())
			res, err := r.Resolve(context.Background(), "epd", "latest-1", "latest")
			if err != nil {
				return false
			}
			return len(res.IDs) == 2 && res.IDs[0] == ids[n-2] && res.IDs[1] == ids[n-1]
		},
		gen.IntRange(2, 60),
	))

	properties.Property("latest-N with N >= period count is a range error", prop.ForAll(
		func(n, extra int) bool {
			r, _ := NewResolver(monthly(consecutiveMonths(n, 2024)...), 1900, zap.NewNop())
			_, err := r.Resolve(context.Background(), "epd", fmt.Sprintf("latest-%d", n+extra), "latest")
			return errors.Is(err, model.ErrRange)
		},
		gen.IntRange(1, 60),
		gen.IntRange(0, 20),
	))

	properties.Property("pre-cutoff partitions collapse to exactly one identifier", prop.ForAll(
		func(n, cutoff int) bool {
			ids := consecutiveMonths(n, 2024)
			r, _ := NewResolver(monthly(ids...), cutoff, zap.NewNop())
			res, err := r.Resolve(context.Background(), "epd", "", "")
			if err != nil {
				return false
			}

			old, synthetic := 0, 0
			for _, p := range res.Partitions {
				if p.Period.Year < cutoff {
					old++
				}
			}
			for _, id := range res.IDs {
				if model.IsSynthetic(id) {
					if id != model.SyntheticID(cutoff) {
						return false
					}
					synthetic++
				}
			}
			if old == 0 {
				return synthetic == 0 && len(res.IDs) == n
			}
			return synthetic == 1 && len(res.IDs) == n-old+1
		},
		gen.IntRange(1, 72),
		gen.IntRange(2018, 2025),
	))

	properties.TestingRun(t)
}

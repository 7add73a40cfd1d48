// pkg/catalog/resolver.go
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

// Date expression keywords
const (
	ExprEarliest = "earliest"
	ExprLatest   = "latest"

	latestMinus  = "latest-"
	earliestPlus = "earliest+"
)

// Resolution is the set of partitions covering a date range
type Resolution struct {
	Dataset    string
	From       model.Period
	To         model.Period
	CutoffYear int

	// IDs to fetch, deduplicated, in ascending period order of first appearance.
	// Partitions older than CutoffYear appear once as the synthetic bucket.
	IDs []string

	// Periods lists the distinct selected months in ascending order
	Periods []model.Period

	// Partitions holds the selected catalog entries before bucket collapsing
	Partitions []model.Partition
}

// Resolver maps date-range expressions onto catalog partitions
type Resolver struct {
	source     Source
	cutoffYear int
	logger     *zap.Logger
}

// NewResolver creates a resolver. cutoffYear must be positive.
func NewResolver(source Source, cutoffYear int, logger *zap.Logger) (*Resolver, error) {
	if cutoffYear <= 0 {
		return nil, fmt.Errorf("%w: cutoff year must be positive, got %d", model.ErrConfiguration, cutoffYear)
	}
	return &Resolver{
		source:     source,
		cutoffYear: cutoffYear,
		logger:     logger.Named("resolver"),
	}, nil
}

// Resolve selects every partition of dataset whose period lies between the
// bounds named by fromExpr and toExpr, inclusive
func (r *Resolver) Resolve(ctx context.Context, dataset, fromExpr, toExpr string) (*Resolution, error) {
	lower, err := parseExpr(fromExpr, true)
	if err != nil {
		return nil, err
	}
	upper, err := parseExpr(toExpr, false)
	if err != nil {
		return nil, err
	}

	partitions, err := r.source.Partitions(ctx, dataset)
	if err != nil {
		return nil, err
	}

	periods := distinctPeriods(partitions)
	if len(periods) == 0 {
		return nil, fmt.Errorf("%w: dataset %s lists no dated partitions", model.ErrCatalogUnavailable, dataset)
	}

	from, err := lower.evaluate(periods)
	if err != nil {
		return nil, err
	}
	to, err := upper.evaluate(periods)
	if err != nil {
		return nil, err
	}

	res := &Resolution{
		Dataset:    dataset,
		From:       from,
		To:         to,
		CutoffYear: r.cutoffYear,
	}

	var selected []model.Partition
	for _, p := range partitions {
		if !p.Dated || p.Period.Before(from) || to.Before(p.Period) {
			continue
		}
		selected = append(selected, p)
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Period.Before(selected[j].Period)
	})

	seen := make(map[string]struct{}, len(selected))
	for _, p := range selected {
		id := p.ID
		if p.Period.Year < r.cutoffYear {
			id = model.SyntheticID(r.cutoffYear)
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			res.IDs = append(res.IDs, id)
		}
		if n := len(res.Periods); n == 0 || res.Periods[n-1] != p.Period {
			res.Periods = append(res.Periods, p.Period)
		}
	}
	res.Partitions = selected

	r.logger.Info("Resolved partitions",
		zap.String("dataset", dataset),
		zap.String("from", from.Label()),
		zap.String("to", to.Label()),
		zap.Int("partitions", len(selected)),
		zap.Strings("ids", res.IDs))

	return res, nil
}

// distinctPeriods returns the sorted distinct periods of the dated partitions
func distinctPeriods(partitions []model.Partition) []model.Period {
	seen := make(map[model.Period]struct{})
	var periods []model.Period
	for _, p := range partitions {
		if !p.Dated {
			continue
		}
		if _, ok := seen[p.Period]; ok {
			continue
		}
		seen[p.Period] = struct{}{}
		periods = append(periods, p.Period)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })
	return periods
}

type exprKind int

const (
	kindEarliest exprKind = iota
	kindLatest
	kindLatestMinus
	kindEarliestPlus
	kindLiteral
)

// dateExpr is a parsed bound expression
type dateExpr struct {
	raw     string
	kind    exprKind
	n       int
	literal model.Period
}

// parseExpr checks the syntax of a bound. An empty expression means the
// earliest period for a lower bound and the latest for an upper bound.
func parseExpr(s string, lower bool) (dateExpr, error) {
	e := dateExpr{raw: s}

	switch {
	case s == "" && lower, s == ExprEarliest:
		e.kind = kindEarliest
	case s == "", s == ExprLatest:
		e.kind = kindLatest
	case strings.HasPrefix(s, latestMinus):
		n, err := parseOffset(s, latestMinus)
		if err != nil {
			return e, err
		}
		e.kind, e.n = kindLatestMinus, n
	case strings.HasPrefix(s, earliestPlus):
		n, err := parseOffset(s, earliestPlus)
		if err != nil {
			return e, err
		}
		e.kind, e.n = kindEarliestPlus, n
	default:
		p, err := model.ParsePeriod(s)
		if err != nil {
			return e, fmt.Errorf("%w: unexpected date %q, expected one of 'YYYYMM', 'earliest', 'latest', 'latest-n' or 'earliest+n'",
				model.ErrInvalidDateFormat, s)
		}
		e.kind, e.literal = kindLiteral, p
	}

	return e, nil
}

// parseOffset reads the positive integer after prefix
func parseOffset(s, prefix string) (int, error) {
	digits := strings.TrimPrefix(s, prefix)
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, fmt.Errorf("%w: invalid format for '%sn' in %q, expected a positive integer such as '%s1'",
			model.ErrInvalidDateFormat, prefix, s, prefix)
	}
	return n, nil
}

// evaluate resolves the expression against ascending distinct periods
func (e dateExpr) evaluate(periods []model.Period) (model.Period, error) {
	last := len(periods) - 1

	switch e.kind {
	case kindEarliest:
		return periods[0], nil
	case kindLatest:
		return periods[last], nil
	case kindLatestMinus:
		if e.n > last {
			return model.Period{}, &model.RangeError{Expr: e.raw, Prefix: latestMinus, Max: last}
		}
		return periods[last-e.n], nil
	case kindEarliestPlus:
		if e.n > last {
			return model.Period{}, &model.RangeError{Expr: e.raw, Prefix: earliestPlus, Max: last}
		}
		return periods[e.n], nil
	default:
		return e.literal, nil
	}
}

// pkg/pipeline/wire.go
package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/cache"
	"github.com/David-Botos/epd-ingress/pkg/catalog"
	"github.com/David-Botos/epd-ingress/pkg/cleaner"
	"github.com/David-Botos/epd-ingress/pkg/config"
	"github.com/David-Botos/epd-ingress/pkg/fetch"
	"github.com/David-Botos/epd-ingress/pkg/measures"
	"github.com/David-Botos/epd-ingress/pkg/publish"
	"github.com/David-Botos/epd-ingress/pkg/report"
)

// Open builds a runner from configuration: the cache store, catalog client,
// fetch engine, report writer, measure source and publisher
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := cache.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	writer, err := report.NewWriter(cfg.Report.Dir, cfg.Report.PreviewBaseURL, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	publisher, err := publish.New(ctx, cfg.Publish, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	api := fetch.NewAPIClient(cfg.API.Timeout, logger).WithDownloadTimeout(cfg.API.DownloadTimeout)
	engine := fetch.NewEngine(api, store, cleaner.NewDataCleaner(logger), logger)

	r := NewRunner(cfg, Dependencies{
		Store:     store,
		Catalog:   catalog.NewClient(cfg.API.BaseURL, cfg.API.Timeout, logger),
		Engine:    engine,
		Reports:   writer,
		Measures:  NewMeasureSource(cfg, logger),
		Publisher: publisher,
	}, logger)
	r.closers = []func() error{
		func() error { api.Close(); return nil },
		store.Close,
	}
	return r, nil
}

// NewMeasureSource returns the configured measure definition source
func NewMeasureSource(cfg *config.Config, logger *zap.Logger) measures.Source {
	if cfg.Measures.Source == "github" {
		return measures.NewGitHubSource(cfg.Measures.ListingURL, cfg.Measures.RawBaseURL, cfg.API.Timeout, logger)
	}
	return measures.LocalSource{Dir: cfg.Measures.Folder}
}

// Store exposes the cache the runner reads and appends to
func (r *Runner) Store() cache.Store {
	return r.deps.Store
}

// Close releases every resource opened by Open
func (r *Runner) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

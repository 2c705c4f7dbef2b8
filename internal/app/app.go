package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samvad-hq/remote-claims/internal/config"
	"github.com/samvad-hq/remote-claims/internal/logger"
	"github.com/samvad-hq/remote-claims/pkg/claims"
	"github.com/samvad-hq/remote-claims/pkg/httpclient"
	"github.com/samvad-hq/remote-claims/pkg/sources"
)

// App wires configuration, the transport and the claim fetcher together.
// Sources are loaded on first use so ad-hoc calls work without a sources file.
type App struct {
	cfg      *config.Config
	log      logger.Logger
	fetcher  *claims.Fetcher
	metrics  *prometheus.Registry
	registry *sources.Registry
}

// New builds the runtime. A nil client uses resty with the configured timeout.
func New(cfg *config.Config, log logger.Logger, client httpclient.Client) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if client == nil {
		client = httpclient.NewRestyClient(cfg.HTTPTimeout)
	}

	opts := []claims.Option{claims.WithLogger(log)}
	var reg *prometheus.Registry
	if cfg.MetricsFile != "" {
		reg = prometheus.NewRegistry()
		opts = append(opts, claims.WithMetrics(reg))
	}

	log.DebugObj("claim fetcher initialized", "fetcher_config", map[string]any{
		"http_timeout": cfg.HTTPTimeout.String(),
		"metrics_file": cfg.MetricsFile,
	})

	return &App{
		cfg:     cfg,
		log:     log,
		fetcher: claims.NewFetcher(client, opts...),
		metrics: reg,
	}, nil
}

// Sources loads (once) and returns the configured sources registry.
func (a *App) Sources() (*sources.Registry, error) {
	if a == nil {
		return nil, fmt.Errorf("app is not initialized")
	}
	if a.registry != nil {
		return a.registry, nil
	}
	reg, err := sources.LoadRegistry(a.cfg.SourcesFile, a.cfg.DefaultContentType)
	if err != nil {
		return nil, fmt.Errorf("load sources registry: %w", err)
	}
	a.log.InfoObj("sources registry loaded", "sources_meta", map[string]any{
		"count": len(reg.All()),
		"ids":   reg.IDs(),
	})
	a.registry = reg
	return reg, nil
}

// FetchSource fetches the claim document for a registered source.
func (a *App) FetchSource(ctx context.Context, id string, o sources.Overrides) (claims.Document, error) {
	reg, err := a.Sources()
	if err != nil {
		return nil, err
	}
	src, ok := reg.ByID(id)
	if !ok {
		return nil, fmt.Errorf("unknown source %q", id)
	}
	return a.fetcher.Fetch(ctx, src.Request(o))
}

// FetchAdHoc fetches a request that is not backed by a registered source.
// An empty content type falls back to the configured default.
func (a *App) FetchAdHoc(ctx context.Context, req claims.Request) (claims.Document, error) {
	if a == nil || a.fetcher == nil {
		return nil, fmt.Errorf("app is not initialized")
	}
	if req.ContentType == "" {
		req.ContentType = a.cfg.DefaultContentType
	}
	return a.fetcher.Fetch(ctx, req)
}

// Close writes the metrics textfile when one is configured.
func (a *App) Close() error {
	if a == nil || a.metrics == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.cfg.MetricsFile, a.metrics); err != nil {
		a.log.ErrorObj("metrics textfile write failed", "error", err.Error())
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

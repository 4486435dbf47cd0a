// Package bootstrap provides dependency initialization for the upload service.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/streamupload/internal/batch"
	"github.com/maauso/streamupload/internal/config"
	"github.com/maauso/streamupload/internal/convert"
	"github.com/maauso/streamupload/internal/intake"
	"github.com/maauso/streamupload/internal/pipeline"
	"github.com/maauso/streamupload/internal/sink"
	"github.com/maauso/streamupload/internal/storage"
	"github.com/maauso/streamupload/internal/tempfile"
)

// connectionTimeout bounds the startup reachability check of one provider.
const connectionTimeout = 10 * time.Second

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Registry *tempfile.Registry
	Intake   *intake.Intake
	Batches  *batch.Service
	Fields   []pipeline.Field
}

// ProviderFactory builds a remote storage provider.
type ProviderFactory func(storage.Config) (storage.Provider, error)

// Option configures NewDependencies.
type Option func(*options)

type options struct {
	providers ProviderFactory
	fields    []config.FieldConfig
}

// WithProviderFactory replaces storage.New as the provider constructor.
func WithProviderFactory(f ProviderFactory) Option {
	return func(o *options) {
		o.providers = f
	}
}

// WithFields uses fields instead of reading cfg.FieldsFile.
func WithFields(fields []config.FieldConfig) Option {
	return func(o *options) {
		o.fields = fields
	}
}

// NewDependencies creates and initializes all dependencies for the
// application. Configuration problems, including unreachable remote
// destinations, are returned as *config.Error.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Dependencies, error) {
	o := options{providers: storage.New}
	for _, opt := range opts {
		opt(&o)
	}

	converter := NewConverter(cfg)

	fieldCfgs := o.fields
	if fieldCfgs == nil {
		var err error
		fieldCfgs, err = config.LoadFields(cfg.FieldsFile, converter.CanEncode)
		if err != nil {
			return nil, err
		}
	} else if err := config.ValidateFields(fieldCfgs, converter.CanEncode); err != nil {
		return nil, err
	}

	registry, err := tempfile.NewRegistry(cfg.TempDir)
	if err != nil {
		return nil, &config.Error{Err: fmt.Errorf("create temp registry: %w", err)}
	}

	fields, err := resolveFields(ctx, cfg, fieldCfgs, newProviderCache(o.providers, logger))
	if err != nil {
		return nil, err
	}

	resolver := sink.NewResolver(cfg.ProjectRoot, logger)
	sinks := sink.NewFactory(registry, resolver,
		sink.WithSpillThreshold(cfg.SpillThreshold),
		sink.WithLogger(logger),
	)
	controller := pipeline.NewController(converter, sinks, registry,
		pipeline.WithSpillThreshold(cfg.SpillThreshold),
		pipeline.WithLogger(logger),
	)
	in := intake.New(controller, fields,
		intake.WithMaxFileSize(cfg.MaxFileSize),
		intake.WithLogger(logger),
	)

	logger.Info("upload pipeline configured",
		slog.Int("fields", len(fields)),
		slog.String("converter", cfg.Converter),
		slog.String("temp_dir", registry.Dir()),
		slog.String("project_root", resolver.Root()),
	)

	return &Dependencies{
		Registry: registry,
		Intake:   in,
		Batches:  batch.NewService(batch.NewMemoryRepository(), logger),
		Fields:   fields,
	}, nil
}

// NewConverter returns the converter selected by cfg.Converter.
func NewConverter(cfg *config.Config) convert.Converter {
	if cfg.Converter == config.ConverterImaging {
		return convert.NewImagingConverter()
	}
	return convert.NewFFmpegConverter(cfg.FFmpegPath)
}

// resolveFields turns field configuration into pipeline fields.
func resolveFields(ctx context.Context, cfg *config.Config, fieldCfgs []config.FieldConfig, providers *providerCache) ([]pipeline.Field, error) {
	fields := make([]pipeline.Field, 0, len(fieldCfgs))
	for _, fc := range fieldCfgs {
		kind, err := sink.ParseKind(fc.Output)
		if err != nil {
			return nil, &config.Error{Field: fc.Name, Err: err}
		}

		target := sink.Target{Kind: kind}
		switch kind {
		case sink.KindDisk:
			target.Dir = fc.Directory
			if target.Dir == "" {
				target.Dir = cfg.OutputDir
			}
		case sink.KindRemote:
			provider, err := providers.get(ctx, fc.Remote.Storage())
			if err != nil {
				return nil, &config.Error{Field: fc.Name, Err: err}
			}
			target.Provider = provider
			target.Prefix = fc.Remote.Prefix
		}

		fields = append(fields, pipeline.Field{
			Name:              fc.Name,
			Target:            target,
			Format:            fc.TargetFormat(),
			Quality:           fc.Quality,
			KeepOriginal:      fc.KeepOriginal,
			RequireConversion: fc.RequireConversion,
			Backup:            fc.BackupEnabled(cfg.BackupEnabled),
		})
	}
	return fields, nil
}

// providerCache shares one provider, checked once, between fields that use
// the same destination.
type providerCache struct {
	build     ProviderFactory
	logger    *slog.Logger
	providers map[storage.Config]storage.Provider
}

func newProviderCache(build ProviderFactory, logger *slog.Logger) *providerCache {
	return &providerCache{
		build:     build,
		logger:    logger,
		providers: make(map[storage.Config]storage.Provider),
	}
}

func (c *providerCache) get(ctx context.Context, sc storage.Config) (storage.Provider, error) {
	if p, ok := c.providers[sc]; ok {
		return p, nil
	}

	p, err := c.build(sc)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", sc.Provider, err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := p.CheckConnection(checkCtx); err != nil {
		return nil, fmt.Errorf("%s bucket %q unreachable: %w", sc.Provider, sc.Bucket, err)
	}

	c.logger.Info("remote storage configured",
		slog.String("provider", p.Name()),
		slog.String("bucket", sc.Bucket),
		slog.String("region", sc.Region),
		slog.String("endpoint", sc.Endpoint),
	)
	c.providers[sc] = p
	return p, nil
}

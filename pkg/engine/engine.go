// Package engine is the entry point collaborators use: entity and metadata
// commands, entity queries and change events.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/congraphcms/eav-sub001/internal/repositories/attribute"
	"github.com/congraphcms/eav-sub001/internal/repositories/attributeset"
	"github.com/congraphcms/eav-sub001/internal/repositories/entity"
	"github.com/congraphcms/eav-sub001/internal/repositories/entitytype"
	"github.com/congraphcms/eav-sub001/internal/repositories/file"
	"github.com/congraphcms/eav-sub001/internal/repositories/locale"
	"github.com/congraphcms/eav-sub001/pkg/assets"
	eavcontext "github.com/congraphcms/eav-sub001/pkg/context"
	"github.com/congraphcms/eav-sub001/pkg/database"
	"github.com/congraphcms/eav-sub001/pkg/events"
	"github.com/congraphcms/eav-sub001/pkg/fields"
	"github.com/congraphcms/eav-sub001/pkg/fieldtypes"
	"github.com/congraphcms/eav-sub001/pkg/lifecycle"
	"github.com/congraphcms/eav-sub001/pkg/metadata"
	"github.com/congraphcms/eav-sub001/pkg/query"
	"github.com/congraphcms/eav-sub001/pkg/validation"
	"github.com/congraphcms/eav-sub001/pkg/values"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 500
)

type Config struct {
	// DatetimeFormat is the layout datetime values are accepted and returned in.
	DatetimeFormat   string
	DefaultPageLimit int
	MaxPageLimit     int
}

type Options struct {
	DB     database.DB
	Logger ectologger.Logger
	// Files backs asset fields. The built-in file table is used when nil.
	Files assets.Repository
	// Stamp shares metadata invalidations between processes.
	Stamp     metadata.VersionStamp
	Publisher events.Publisher
	// TxOptions apply to every mutation transaction.
	TxOptions *sql.TxOptions
	Config    Config
}

type Engine struct {
	db          database.DB
	registry    *metadata.Registry
	handlers    *fields.Registry
	store       *values.Store
	coordinator *lifecycle.Coordinator
	parser      *query.Parser
	resolver    *query.Resolver
	entities    *entity.Repository
	files       assets.Repository
	publisher   events.Publisher
	logger      ectologger.Logger
}

func New(opts Options) (*Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("engine requires a database")
	}
	if opts.Logger == nil {
		opts.Logger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	}
	if opts.Files == nil {
		opts.Files = file.NewRepository(opts.DB, opts.Logger)
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Discard{}
	}
	if opts.Config.DatetimeFormat == "" {
		opts.Config.DatetimeFormat = time.RFC3339
	}
	if opts.Config.DefaultPageLimit <= 0 {
		opts.Config.DefaultPageLimit = defaultPageLimit
	}
	if opts.Config.MaxPageLimit < opts.Config.DefaultPageLimit {
		opts.Config.MaxPageLimit = max(maxPageLimit, opts.Config.DefaultPageLimit)
	}

	logger := opts.Logger
	entities := entity.NewRepository(opts.DB, logger)
	repos := lifecycle.Repositories{
		Entities:      entities,
		EntityTypes:   entitytype.NewRepository(opts.DB, logger),
		Attributes:    attribute.NewRepository(opts.DB, logger),
		AttributeSets: attributeset.NewRepository(opts.DB, logger),
		Locales:       locale.NewRepository(opts.DB, logger),
	}
	if deleter, ok := opts.Files.(lifecycle.FileDeleter); ok {
		repos.Files = deleter
	}

	var registryOpts []metadata.Option
	if opts.Stamp != nil {
		registryOpts = append(registryOpts, metadata.WithVersionStamp(opts.Stamp))
	}
	registry := metadata.NewRegistry(
		metadata.NewRepositorySource(repos.Locales, repos.EntityTypes, repos.Attributes, repos.AttributeSets),
		logger,
		registryOpts...,
	)

	store := values.NewStore(opts.DB, logger)
	handlers, err := fields.NewDefaultRegistry(fieldtypes.Default(), fields.Dependencies{
		Store:          store,
		Entities:       entities,
		Files:          opts.Files,
		DatetimeFormat: opts.Config.DatetimeFormat,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register field handlers: %w", err)
	}

	pipeline := validation.NewPipeline(handlers, store, logger)
	coordinator := lifecycle.NewCoordinator(opts.DB, registry, handlers, pipeline, store, repos, logger)
	coordinator.SetTxOptions(opts.TxOptions)
	coordinator.RegisterHandlerHooks(handlers)

	return &Engine{
		db:          opts.DB,
		registry:    registry,
		handlers:    handlers,
		store:       store,
		coordinator: coordinator,
		parser:      query.NewParser(handlers, coordinator, opts.Config.DefaultPageLimit, opts.Config.MaxPageLimit),
		resolver:    query.NewResolver(),
		entities:    entities,
		files:       opts.Files,
		publisher:   opts.Publisher,
		logger:      logger,
	}, nil
}

// Coordinator exposes hook registration for custom field behavior.
func (e *Engine) Coordinator() *lifecycle.Coordinator {
	return e.coordinator
}

// Registry exposes the metadata cache, e.g. to invalidate it after an
// out-of-band schema change.
func (e *Engine) Registry() *metadata.Registry {
	return e.registry
}

// operation makes every event of one call share the command's operation id.
func operation(ctx context.Context) context.Context {
	ctx, _ = eavcontext.EnsureOperationID(ctx)
	return ctx
}

// localized records the command's locale for logs and events.
func localized(ctx context.Context, localeCode string) context.Context {
	if localeCode == "" {
		return ctx
	}
	return eavcontext.SetLocale(ctx, localeCode)
}

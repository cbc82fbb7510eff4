package metadata

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/congraphcms/eav-sub001/pkg/database"
	"github.com/congraphcms/eav-sub001/pkg/metrics"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/tracing"
)

// Registry is a read-through cache of metadata snapshots. It loads on first
// use and reloads after Invalidate or when the shared version stamp moves.
type Registry struct {
	source Source
	stamp  VersionStamp
	logger ectologger.Logger

	mu       sync.RWMutex
	snapshot *Snapshot
	// version is the stamp value observed when snapshot was loaded.
	version int64
	// generation counts local invalidations. A load only caches its result
	// when no invalidation happened while it was reading.
	generation uint64

	loadMu sync.Mutex
}

type Option func(*Registry)

// WithVersionStamp enables cross-process invalidation.
func WithVersionStamp(stamp VersionStamp) Option {
	return func(r *Registry) {
		r.stamp = stamp
	}
}

func NewRegistry(source Source, logger ectologger.Logger, opts ...Option) *Registry {
	r := &Registry{
		source: source,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot returns the current metadata snapshot, loading it when needed.
// A snapshot loaded inside a transaction is returned but not cached, since
// it may contain uncommitted definitions.
func (r *Registry) Snapshot(ctx context.Context) (*Snapshot, error) {
	r.mu.RLock()
	snapshot, version := r.snapshot, r.version
	r.mu.RUnlock()

	if snapshot != nil && r.stale(ctx, version) {
		metrics.RegistryInvalidationsTotal.WithLabelValues("remote").Inc()
		r.drop(snapshot)
		snapshot = nil
	}

	if snapshot != nil {
		metrics.RecordRegistryLookup(true)
		return snapshot, nil
	}

	metrics.RecordRegistryLookup(false)
	return r.reload(ctx)
}

func (r *Registry) stale(ctx context.Context, version int64) bool {
	if r.stamp == nil {
		return false
	}
	current, err := r.stamp.Current(ctx)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Warn("failed to read metadata version, serving cached snapshot")
		return false
	}
	return current != version
}

// drop clears the cached snapshot if it is still the given one.
func (r *Registry) drop(snapshot *Snapshot) {
	r.mu.Lock()
	if r.snapshot == snapshot {
		r.snapshot = nil
	}
	r.mu.Unlock()
}

func (r *Registry) reload(ctx context.Context) (*Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "Registry.reload")
	defer span.End()

	inTx := database.InTx(ctx)
	var generation uint64
	if !inTx {
		r.loadMu.Lock()
		defer r.loadMu.Unlock()

		r.mu.RLock()
		snapshot := r.snapshot
		generation = r.generation
		r.mu.RUnlock()
		if snapshot != nil {
			return snapshot, nil
		}
	}

	start := time.Now()

	var version int64
	if r.stamp != nil {
		current, err := r.stamp.Current(ctx)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).Warn("failed to read metadata version")
		}
		version = current
	}

	snapshot, err := r.load(ctx)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	metrics.RegistryReloadDuration.Observe(time.Since(start).Seconds())
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"attributes":     len(snapshot.attributes),
		"attribute_sets": len(snapshot.sets),
		"entity_types":   len(snapshot.entityTypes),
		"locales":        len(snapshot.locales),
		"in_tx":          inTx,
	}).Debug("loaded metadata snapshot")

	if !inTx {
		r.mu.Lock()
		if r.generation == generation {
			r.snapshot = snapshot
			r.version = version
		}
		r.mu.Unlock()
	}
	return snapshot, nil
}

func (r *Registry) load(ctx context.Context) (*Snapshot, error) {
	locales, err := r.source.Locales(ctx)
	if err != nil {
		return nil, err
	}
	entityTypes, err := r.source.EntityTypes(ctx)
	if err != nil {
		return nil, err
	}
	attributes, err := r.source.Attributes(ctx)
	if err != nil {
		return nil, err
	}
	sets, err := r.source.AttributeSets(ctx)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(locales, entityTypes, attributes, sets), nil
}

// Invalidate drops the cached snapshot and bumps the shared version so other
// processes reload too. Call it after the metadata write has committed.
func (r *Registry) Invalidate(ctx context.Context) {
	r.mu.Lock()
	r.snapshot = nil
	r.generation++
	r.mu.Unlock()
	metrics.RegistryInvalidationsTotal.WithLabelValues("local").Inc()

	if r.stamp == nil {
		return
	}
	if _, err := r.stamp.Bump(ctx); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to bump metadata version")
	}
}

func (r *Registry) GetAttributes(ctx context.Context) ([]*models.Attribute, error) {
	snapshot, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Attributes(), nil
}

// GetAttribute resolves an id or code; ok is false when nothing matches.
func (r *Registry) GetAttribute(ctx context.Context, key string) (*models.Attribute, bool, error) {
	snapshot, err := r.Snapshot(ctx)
	if err != nil {
		return nil, false, err
	}
	attr, ok := snapshot.Attribute(key)
	return attr, ok, nil
}

func (r *Registry) GetAttributeSets(ctx context.Context) ([]*models.AttributeSet, error) {
	snapshot, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.AttributeSets(), nil
}

func (r *Registry) GetEntityTypes(ctx context.Context) ([]*models.EntityType, error) {
	snapshot, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.EntityTypes(), nil
}

func (r *Registry) GetLocales(ctx context.Context) ([]*models.Locale, error) {
	snapshot, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Locales(), nil
}

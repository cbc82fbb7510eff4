package engine

import (
	"context"
	"fmt"

	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/events"
	"github.com/congraphcms/eav-sub001/pkg/metadata"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/tracing"
)

const (
	ResourceAttribute    = "attribute"
	ResourceAttributeSet = "attribute_set"
	ResourceEntityType   = "entity_type"
	ResourceLocale       = "locale"
	ResourceFile         = "file"

	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

func (e *Engine) announce(ctx context.Context, resource string, id int64, action string, deletedEntityIDs []int64) {
	event := events.NewEvent(ctx, events.TypeMetadataChanged)
	event.Metadata = &events.MetadataPayload{
		Resource:         resource,
		ID:               id,
		Action:           action,
		DeletedEntityIDs: deletedEntityIDs,
	}
	e.publisher.Publish(ctx, event)
}

// lookup resolves key, an id or a code, in the current snapshot.
func lookup[T any](ctx context.Context, e *Engine, resource, key string, find func(*metadata.Snapshot, string) (*T, bool)) (*T, error) {
	snapshot, err := e.registry.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	found, ok := find(snapshot, key)
	if !ok {
		return nil, eaverrors.NewNotFoundError(resource, key)
	}
	return found, nil
}

func (e *Engine) CreateAttribute(ctx context.Context, req models.CreateAttributeRequest) (*models.Attribute, error) {
	ctx, span := tracing.StartSpan(operation(ctx), "Engine.CreateAttribute")
	defer span.End()

	created, err := e.coordinator.CreateAttribute(ctx, req)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	e.announce(ctx, ResourceAttribute, created.ID, ActionCreated, nil)
	return created, nil
}

func (e *Engine) UpdateAttribute(ctx context.Context, id int64, req models.UpdateAttributeRequest) (*models.Attribute, error) {
	ctx, span := tracing.StartSpan(operation(ctx), "Engine.UpdateAttribute")
	defer span.End()

	updated, err := e.coordinator.UpdateAttribute(ctx, id, req)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	e.announce(ctx, ResourceAttribute, id, ActionUpdated, nil)
	return updated, nil
}

func (e *Engine) DeleteAttribute(ctx context.Context, id int64) error {
	ctx, span := tracing.StartSpan(operation(ctx), "Engine.DeleteAttribute")
	defer span.End()

	if err := e.coordinator.DeleteAttribute(ctx, id); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	e.announce(ctx, ResourceAttribute, id, ActionDeleted, nil)
	return nil
}

// FetchAttribute accepts an attribute id or code.
func (e *Engine) FetchAttribute(ctx context.Context, key string) (*models.Attribute, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.FetchAttribute")
	defer span.End()

	return lookup(ctx, e, "attribute", key, (*metadata.Snapshot).Attribute)
}

func (e *Engine) GetAttributes(ctx context.Context) ([]*models.Attribute, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.GetAttributes")
	defer span.End()

	return e.registry.GetAttributes(ctx)
}

func (e *Engine) CreateAttributeSet(ctx context.Context, req models.CreateAttributeSetRequest) (*models.AttributeSet, error) {
	ctx, span := tracing.StartSpan(operation(ctx), "Engine.CreateAttributeSet")
	defer span.End()

	created, err := e.coordinator.CreateAttributeSet(ctx, req)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	e.announce(ctx, ResourceAttributeSet, created.ID, ActionCreated, nil)
	return created, nil
}

func (e *Engine) UpdateAttributeSet(ctx context.Context, id int64, req models.UpdateAttributeSetRequest) (*models.AttributeSet, error) {
	ctx, span := tracing.StartSpan(operation(ctx), "Engine.UpdateAttributeSet")
	defer span.End()

	updated, err := e.coordinator.UpdateAttributeSet(ctx, id, req)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	e.announce(ctx, ResourceAttributeSet, id, ActionUpdated, nil)
	return updated, nil
}

// DeleteAttributeSet deletes the set and the entities built from it.
func (e *Engine) DeleteAttributeSet(ctx context.Context, id int64) error {
	ctx, span := tracing.StartSpan(operation(ctx), "Engine.DeleteAttributeSet")
	defer span.End()

	deleted, err := e.coordinator.DeleteAttributeSet(ctx, id)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	e.announce(ctx, ResourceAttributeSet, id, ActionDeleted, deleted)
	return nil
}

// FetchAttributeSet accepts an attribute set id or code.
func (e *Engine) FetchAttributeSet(ctx context.Context, key string) (*models.AttributeSet, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.FetchAttributeSet")
	defer span.End()

	return lookup(ctx, e, "attribute set", key, (*metadata.Snapshot).AttributeSet)
}

func (e *Engine) GetAttributeSets(ctx context.Context) ([]*models.AttributeSet, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.GetAttributeSets")
	defer span.End()

	return e.registry.GetAttributeSets(ctx)
}

func (e *Engine) CreateEntityType(ctx context.Context, req models.CreateEntityTypeRequest) (*models.EntityType, error) {
	ctx, span := tracing.StartSpan(operation(ctx), "Engine.CreateEntityType")
	defer span.End()

	created, err := e.coordinator.CreateEntityType(ctx, req)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	e.announce(ctx, ResourceEntityType, created.ID, ActionCreated, nil)
	return created, nil
}

func (e *Engine) UpdateEntityType(ctx context.Context, id int64, req models.UpdateEntityTypeRequest) (*models.EntityType, error) {
	ctx, span := tracing.StartSpan(operation(ctx), "Engine.UpdateEntityType")
	defer span.End()

	updated, err := e.coordinator.UpdateEntityType(ctx, id, req)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	e.announce(ctx, ResourceEntityType, id, ActionUpdated, nil)
	return updated, nil
}

// DeleteEntityType deletes the type with its attribute sets, entities and
// values.
func (e *Engine) DeleteEntityType(ctx context.Context, id int64) error {
	ctx, span := tracing.StartSpan(operation(ctx), "Engine.DeleteEntityType")
	defer span.End()

	deleted, err := e.coordinator.DeleteEntityType(ctx, id)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	e.announce(ctx, ResourceEntityType, id, ActionDeleted, deleted)
	return nil
}

// FetchEntityType accepts an entity type id or code.
func (e *Engine) FetchEntityType(ctx context.Context, key string) (*models.EntityType, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.FetchEntityType")
	defer span.End()

	return lookup(ctx, e, "entity type", key, (*metadata.Snapshot).EntityType)
}

func (e *Engine) GetEntityTypes(ctx context.Context) ([]*models.EntityType, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.GetEntityTypes")
	defer span.End()

	return e.registry.GetEntityTypes(ctx)
}

func (e *Engine) CreateLocale(ctx context.Context, req models.CreateLocaleRequest) (*models.Locale, error) {
	ctx, span := tracing.StartSpan(operation(ctx), "Engine.CreateLocale")
	defer span.End()

	created, err := e.coordinator.CreateLocale(ctx, req)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	e.announce(ctx, ResourceLocale, created.ID, ActionCreated, nil)
	return created, nil
}

// DeleteLocale deletes the locale and every value stored for it.
func (e *Engine) DeleteLocale(ctx context.Context, id int64) error {
	ctx, span := tracing.StartSpan(operation(ctx), "Engine.DeleteLocale")
	defer span.End()

	if err := e.coordinator.DeleteLocale(ctx, id); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	e.announce(ctx, ResourceLocale, id, ActionDeleted, nil)
	return nil
}

func (e *Engine) GetLocales(ctx context.Context) ([]*models.Locale, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.GetLocales")
	defer span.End()

	return e.registry.GetLocales(ctx)
}

type fileCreator interface {
	Create(ctx context.Context, req models.CreateFileRequest) (*models.File, error)
}

// CreateFile stores file metadata in the configured file repository.
func (e *Engine) CreateFile(ctx context.Context, req models.CreateFileRequest) (*models.File, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.CreateFile")
	defer span.End()

	creator, ok := e.files.(fileCreator)
	if !ok {
		return nil, fmt.Errorf("file repository %T cannot create files", e.files)
	}
	return creator.Create(ctx, req)
}

// DeleteFile deletes a file of the configured file repository and removes
// every asset value pointing at it.
func (e *Engine) DeleteFile(ctx context.Context, id int64) error {
	ctx, span := tracing.StartSpan(operation(ctx), "Engine.DeleteFile")
	defer span.End()

	if err := e.coordinator.DeleteFile(ctx, id); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	e.announce(ctx, ResourceFile, id, ActionDeleted, nil)
	return nil
}

// FileDeleted is the notification an external file repository sends after it
// deleted a file.
func (e *Engine) FileDeleted(ctx context.Context, id int64) error {
	ctx, span := tracing.StartSpan(operation(ctx), "Engine.FileDeleted")
	defer span.End()

	if err := e.coordinator.FileDeleted(ctx, id); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	e.announce(ctx, ResourceFile, id, ActionDeleted, nil)
	return nil
}

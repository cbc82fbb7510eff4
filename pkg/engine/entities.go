package engine

import (
	"context"

	"github.com/Gobusters/ectolinq"

	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/events"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/query"
	"github.com/congraphcms/eav-sub001/pkg/tracing"
)

func (e *Engine) CreateEntity(ctx context.Context, req models.CreateEntityRequest) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(localized(operation(ctx), req.Locale), "Engine.CreateEntity")
	defer span.End()

	created, err := e.coordinator.CreateEntity(ctx, req)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return e.written(ctx, events.TypeEntityCreated, created.ID, req.Locale)
}

func (e *Engine) UpdateEntity(ctx context.Context, id int64, req models.UpdateEntityRequest) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(localized(operation(ctx), req.Locale), "Engine.UpdateEntity")
	defer span.End()

	if _, err := e.coordinator.UpdateEntity(ctx, id, req); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return e.written(ctx, events.TypeEntityUpdated, id, req.Locale)
}

// written reads a committed entity back, announces it and returns it
// formatted for localeCode.
func (e *Engine) written(ctx context.Context, eventType string, id int64, localeCode string) (*models.Entity, error) {
	snapshot, err := e.registry.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := e.entities.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, eaverrors.NewNotFoundError("entity", id)
	}
	tracing.SetEntityAttributes(tracing.GetActiveSpan(ctx), stored.ID, stored.EntityTypeID, stored.AttributeSetID)

	all := e.formatter(snapshot, nil)
	if err := all.format(ctx, []*models.Entity{stored}); err != nil {
		return nil, err
	}
	event := events.NewEvent(ctx, eventType)
	event.Entity = &events.EntityPayload{
		ID:             stored.ID,
		Type:           stored.Type,
		AttributeSetID: stored.AttributeSetID,
		Status:         stored.Status,
		Searchable:     all.searchable(stored),
	}
	e.publisher.Publish(ctx, event)

	if localeCode == "" {
		return stored, nil
	}
	locale, err := resolveLocale(snapshot, localeCode)
	if err != nil {
		return nil, err
	}
	if err := e.formatter(snapshot, locale).format(ctx, []*models.Entity{stored}); err != nil {
		return nil, err
	}
	return stored, nil
}

func (e *Engine) DeleteEntity(ctx context.Context, id int64) error {
	ctx, span := tracing.StartSpan(operation(ctx), "Engine.DeleteEntity")
	defer span.End()

	deleted, err := e.coordinator.DeleteEntity(ctx, id)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	tracing.SetEntityAttributes(span, deleted.ID, deleted.EntityTypeID, deleted.AttributeSetID)

	event := events.NewEvent(ctx, events.TypeEntityDeleted)
	event.Entity = &events.EntityPayload{
		ID:             deleted.ID,
		Type:           deleted.Type,
		AttributeSetID: deleted.AttributeSetID,
		Status:         deleted.Status,
	}
	e.publisher.Publish(ctx, event)
	return nil
}

// FetchEntity returns one entity. An entity whose status is not among
// params.Status is reported as not found.
func (e *Engine) FetchEntity(ctx context.Context, id int64, params models.FetchParams) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.FetchEntity")
	defer span.End()

	result, err := e.fetchEntity(ctx, id, params)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

func (e *Engine) fetchEntity(ctx context.Context, id int64, params models.FetchParams) (*models.Entity, error) {
	snapshot, err := e.registry.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	locale, err := resolveLocale(snapshot, params.Locale)
	if err != nil {
		return nil, err
	}
	if err := checkStatuses(params.Status); err != nil {
		return nil, err
	}
	includes, err := query.Includes(snapshot, e.handlers, params.Include)
	if err != nil {
		return nil, err
	}

	found, err := e.entities.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if found == nil || (len(params.Status) > 0 && !ectolinq.Contains(params.Status, found.Status)) {
		return nil, eaverrors.NewNotFoundError("entity", id)
	}

	f := e.formatter(snapshot, locale)
	if err := f.format(ctx, []*models.Entity{found}); err != nil {
		return nil, err
	}
	found.Included, err = f.included(ctx, includes, []*models.Entity{found})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// GetEntities runs a filtered, sorted and paginated query.
func (e *Engine) GetEntities(ctx context.Context, params models.GetParams) (*models.Collection, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.GetEntities")
	defer span.End()

	result, err := e.getEntities(ctx, params)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

func (e *Engine) getEntities(ctx context.Context, params models.GetParams) (*models.Collection, error) {
	snapshot, err := e.registry.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	locale, err := resolveLocale(snapshot, params.Locale)
	if err != nil {
		return nil, err
	}
	includes, err := query.Includes(snapshot, e.handlers, params.Include)
	if err != nil {
		return nil, err
	}
	find, err := e.parser.Parse(ctx, snapshot, params, locale)
	if err != nil {
		return nil, err
	}

	found, total, err := e.entities.Find(ctx, find)
	if err != nil {
		return nil, err
	}
	data := make([]*models.Entity, len(found))
	for i := range found {
		data[i] = &found[i]
	}

	f := e.formatter(snapshot, locale)
	if err := f.format(ctx, data); err != nil {
		return nil, err
	}
	included, err := f.included(ctx, includes, data)
	if err != nil {
		return nil, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"filters": len(find.Conditions),
		"count":   len(data),
		"total":   total,
	}).Debug("entities queried")

	return &models.Collection{
		Data:     data,
		Included: included,
		Meta: models.CollectionMeta{
			Offset: find.Offset,
			Limit:  find.Limit,
			Count:  len(data),
			Total:  total,
		},
	}, nil
}

func checkStatuses(statuses []string) error {
	for _, status := range statuses {
		if !ectolinq.Contains(models.Statuses, status) {
			return eaverrors.NewBadRequestError("status", "unknown status '%s'", status)
		}
	}
	return nil
}

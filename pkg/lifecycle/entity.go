package lifecycle

import (
	"context"
	"slices"

	"github.com/Gobusters/ectolinq"

	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/fields"
	"github.com/congraphcms/eav-sub001/pkg/fieldtypes"
	"github.com/congraphcms/eav-sub001/pkg/metadata"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/utils"
	"github.com/congraphcms/eav-sub001/pkg/validation"
	"github.com/congraphcms/eav-sub001/pkg/values"
)

// CreateEntity validates the submitted fields against the attribute set and
// stores the entity with its values.
func (c *Coordinator) CreateEntity(ctx context.Context, req models.CreateEntityRequest) (*models.Entity, error) {
	req, err := utils.Validate(req)
	if err != nil {
		return nil, err
	}

	var created *models.Entity
	err = c.run(ctx, "entity.create", func(ctx context.Context, cmd *Command) error {
		snapshot := cmd.Snapshot
		entityType, ok := snapshot.EntityTypeByID(req.EntityTypeID)
		if !ok {
			return eaverrors.NewNotFoundError("entity type", req.EntityTypeID)
		}

		setID := req.AttributeSetID
		if setID == 0 && entityType.DefaultSetID != nil {
			setID = *entityType.DefaultSetID
		}
		set, ok := snapshot.AttributeSetByID(setID)
		if !ok {
			if setID == 0 {
				return eaverrors.NewFieldError("attribute_set_id", validation.MessageRequired)
			}
			return eaverrors.NewNotFoundError("attribute set", setID)
		}
		if set.EntityTypeID != entityType.ID {
			return eaverrors.NewValidationError().Addf("attribute_set_id", "attribute set %s does not belong to entity type %s", set.Code, entityType.Code)
		}

		status, err := entityStatus(entityType, req.Status)
		if err != nil {
			return err
		}
		locale, err := resolveLocale(snapshot, req.Locale)
		if err != nil {
			return err
		}

		env := &fields.Env{
			Snapshot: snapshot,
			Entity: &models.Entity{
				EntityTypeID:   entityType.ID,
				AttributeSetID: set.ID,
				Status:         status,
				Type:           entityType.Code,
			},
			Locale: locale,
		}
		result, err := c.pipeline.Validate(ctx, validation.Input{Env: env, Fields: req.Fields, Create: true})
		if err != nil {
			return err
		}
		cmd.advance(ctx, StateValidated)

		created, err = c.repos.Entities.Create(ctx, entityType.ID, set.ID, status)
		if err != nil {
			return err
		}
		created.Type = entityType.Code
		env.Entity = created

		return c.writeValues(ctx, cmd, env, result.Values, true)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateEntity replaces the submitted fields. Fields that are not submitted
// keep their values.
func (c *Coordinator) UpdateEntity(ctx context.Context, id int64, req models.UpdateEntityRequest) (*models.Entity, error) {
	req, err := utils.Validate(req)
	if err != nil {
		return nil, err
	}

	var entity *models.Entity
	err = c.run(ctx, "entity.update", func(ctx context.Context, cmd *Command) error {
		snapshot := cmd.Snapshot
		entity, err = c.loadEntity(ctx, snapshot, id)
		if err != nil {
			return err
		}

		entityType, ok := snapshot.EntityTypeByID(entity.EntityTypeID)
		if !ok {
			return eaverrors.NewNotFoundError("entity type", entity.EntityTypeID)
		}
		if req.Status != nil {
			status, err := entityStatus(entityType, *req.Status)
			if err != nil {
				return err
			}
			req.Status = &status
		}
		locale, err := resolveLocale(snapshot, req.Locale)
		if err != nil {
			return err
		}

		env := &fields.Env{Snapshot: snapshot, Entity: entity, Locale: locale}
		result, err := c.pipeline.Validate(ctx, validation.Input{Env: env, Fields: req.Fields})
		if err != nil {
			return err
		}
		cmd.advance(ctx, StateValidated)

		if err := c.repos.Entities.Touch(ctx, id, req.Status); err != nil {
			return err
		}
		if req.Status != nil {
			entity.Status = *req.Status
		}

		return c.writeValues(ctx, cmd, env, result.Values, false)
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// DeleteEntity removes the entity, its values and every reference to it.
func (c *Coordinator) DeleteEntity(ctx context.Context, id int64) (*models.Entity, error) {
	var entity *models.Entity
	err := c.run(ctx, "entity.delete", func(ctx context.Context, cmd *Command) error {
		snapshot := cmd.Snapshot
		var err error
		entity, err = c.loadEntity(ctx, snapshot, id)
		if err != nil {
			return err
		}
		cmd.advance(ctx, StateValidated)

		env := &fields.Env{Snapshot: snapshot, Entity: entity}
		for _, attribute := range snapshot.SetAttributes(entity.AttributeSetID) {
			handler, err := c.handler(attribute)
			if err != nil {
				return err
			}
			if err := handler.DeleteByEntity(ctx, env, attribute); err != nil {
				return err
			}
		}
		if err := c.sweep(ctx, values.Criteria{EntityIDs: []int64{id}}); err != nil {
			return err
		}
		if err := c.repos.Entities.Delete(ctx, id); err != nil {
			return err
		}
		cmd.advance(ctx, StatePersisted)

		if err := c.runEntitiesDeleted(ctx, snapshot, []int64{id}); err != nil {
			return err
		}
		cmd.advance(ctx, StatePostProcessed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

func (c *Coordinator) loadEntity(ctx context.Context, snapshot *metadata.Snapshot, id int64) (*models.Entity, error) {
	entity, err := c.repos.Entities.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, eaverrors.NewNotFoundError("entity", id)
	}
	if entityType, ok := snapshot.EntityTypeByID(entity.EntityTypeID); ok {
		entity.Type = entityType.Code
	}
	return entity, nil
}

// writeValues persists parsed values between the before and after update
// hooks. Attributes are written in attribute set order.
func (c *Coordinator) writeValues(ctx context.Context, cmd *Command, env *fields.Env, parsed models.FieldValues, create bool) error {
	states, err := c.runBeforeUpdate(ctx, env, parsed)
	if err != nil {
		return err
	}

	for _, attribute := range env.Snapshot.SetAttributes(env.Entity.AttributeSetID) {
		locales, ok := parsed[attribute.ID]
		if !ok {
			continue
		}
		handler, err := c.handler(attribute)
		if err != nil {
			return err
		}
		localeIDs := make([]int64, 0, len(locales))
		for localeID := range locales {
			localeIDs = append(localeIDs, localeID)
		}
		slices.Sort(localeIDs)

		for _, localeID := range localeIDs {
			if create {
				err = handler.Insert(ctx, env, attribute, localeID, locales[localeID])
			} else {
				err = handler.Update(ctx, env, attribute, localeID, locales[localeID])
			}
			if err != nil {
				return err
			}
		}
	}
	cmd.advance(ctx, StatePersisted)

	if err := c.runAfterUpdate(ctx, env, states); err != nil {
		return err
	}
	cmd.advance(ctx, StatePostProcessed)
	return nil
}

// sweep removes value rows matching criteria from every typed table.
func (c *Coordinator) sweep(ctx context.Context, criteria values.Criteria) error {
	for _, table := range fieldtypes.Tables {
		if _, err := c.store.Delete(ctx, table, criteria); err != nil {
			return err
		}
	}
	return nil
}

// recompute evaluates compounds for the given entities against snapshot.
func (c *Coordinator) recompute(ctx context.Context, snapshot *metadata.Snapshot, entityIDs []int64, compounds []*models.Attribute) error {
	if len(entityIDs) == 0 || len(compounds) == 0 {
		return nil
	}
	handler, err := c.handlers.Get(fieldtypes.Compound)
	if err != nil {
		return err
	}
	compound, ok := handler.(*fields.CompoundHandler)
	if !ok {
		return nil
	}

	entities, err := c.repos.Entities.GetByIDs(ctx, entityIDs)
	if err != nil {
		return err
	}
	plan := compound.PlanFor(snapshot, compounds)
	for i := range entities {
		env := &fields.Env{Snapshot: snapshot, Entity: &entities[i]}
		if err := compound.AfterEntityUpdate(ctx, env, plan); err != nil {
			return err
		}
	}
	return nil
}

// refresh recomputes the compounds reading attributes whose rows were removed
// by cleanup rather than by an entity update. Each entity only recomputes
// compounds of its own attribute set, in every locale.
func (c *Coordinator) refresh(ctx context.Context, snapshot *metadata.Snapshot, owners []values.Owner) error {
	if len(owners) == 0 {
		return nil
	}
	handler, err := c.handlers.Get(fieldtypes.Compound)
	if err != nil {
		return err
	}
	compound, ok := handler.(*fields.CompoundHandler)
	if !ok {
		return nil
	}

	changed := make(map[int64]models.FieldValues)
	var entityIDs []int64
	for _, owner := range owners {
		if changed[owner.EntityID] == nil {
			changed[owner.EntityID] = models.FieldValues{}
			entityIDs = append(entityIDs, owner.EntityID)
		}
		changed[owner.EntityID].Set(owner.AttributeID, owner.LocaleID, nil)
	}

	entities, err := c.repos.Entities.GetByIDs(ctx, entityIDs)
	if err != nil {
		return err
	}
	for i := range entities {
		env := &fields.Env{Snapshot: snapshot, Entity: &entities[i]}
		plan, err := compound.BeforeEntityUpdate(ctx, env, changed[entities[i].ID])
		if err != nil {
			return err
		}
		if err := compound.AfterEntityUpdate(ctx, env, plan); err != nil {
			return err
		}
	}
	return nil
}

func entityStatus(entityType *models.EntityType, status string) (string, error) {
	if status == "" {
		return models.StatusPublished, nil
	}
	if !ectolinq.Contains(models.Statuses, status) {
		return "", eaverrors.NewValidationError().Addf("status", "must be one of %v", models.Statuses)
	}
	if !entityType.HasWorkflow && status != models.StatusPublished {
		return "", eaverrors.NewValidationError().Addf("status", "entity type %s has no workflow", entityType.Code)
	}
	return status, nil
}

// resolveLocale returns nil for an empty code.
func resolveLocale(snapshot *metadata.Snapshot, code string) (*models.Locale, error) {
	if code == "" {
		return nil, nil
	}
	locale, ok := snapshot.Locale(code)
	if !ok {
		return nil, eaverrors.NewFieldError("locale", validation.MessageUnknownLocale)
	}
	return locale, nil
}

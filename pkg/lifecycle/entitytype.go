package lifecycle

import (
	"context"

	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/utils"
	"github.com/congraphcms/eav-sub001/pkg/values"
)

func (c *Coordinator) CreateEntityType(ctx context.Context, req models.CreateEntityTypeRequest) (*models.EntityType, error) {
	req, err := utils.Validate(req)
	if err != nil {
		return nil, err
	}
	if req.Endpoint == "" {
		req.Endpoint = req.Code
	}
	if req.PluralName == "" {
		req.PluralName = req.Name
	}

	var created *models.EntityType
	err = c.run(ctx, "entity_type.create", func(ctx context.Context, cmd *Command) error {
		if _, exists := cmd.Snapshot.EntityType(req.Code); exists {
			return eaverrors.NewFieldError("code", "already exists")
		}
		cmd.advance(ctx, StateValidated)

		created, err = c.repos.EntityTypes.Create(ctx, req)
		if err != nil {
			return err
		}
		cmd.advance(ctx, StatePersisted)
		c.invalidateOnCommit(cmd)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (c *Coordinator) UpdateEntityType(ctx context.Context, id int64, req models.UpdateEntityTypeRequest) (*models.EntityType, error) {
	req, err := utils.Validate(req)
	if err != nil {
		return nil, err
	}

	var updated *models.EntityType
	err = c.run(ctx, "entity_type.update", func(ctx context.Context, cmd *Command) error {
		snapshot := cmd.Snapshot
		if _, ok := snapshot.EntityTypeByID(id); !ok {
			return eaverrors.NewNotFoundError("entity type", id)
		}
		if req.DefaultSetID != nil {
			set, ok := snapshot.AttributeSetByID(*req.DefaultSetID)
			if !ok || set.EntityTypeID != id {
				return eaverrors.NewValidationError().Addf("default_set_id", "attribute set %d does not belong to the entity type", *req.DefaultSetID)
			}
		}
		cmd.advance(ctx, StateValidated)

		updated, err = c.repos.EntityTypes.Update(ctx, id, req)
		if err != nil {
			return err
		}
		cmd.advance(ctx, StatePersisted)
		c.invalidateOnCommit(cmd)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteEntityType cascades through the type's attribute sets and entities.
// It returns the ids of the deleted entities.
func (c *Coordinator) DeleteEntityType(ctx context.Context, id int64) ([]int64, error) {
	var deleted []int64
	err := c.run(ctx, "entity_type.delete", func(ctx context.Context, cmd *Command) error {
		snapshot := cmd.Snapshot
		if _, ok := snapshot.EntityTypeByID(id); !ok {
			return eaverrors.NewNotFoundError("entity type", id)
		}
		cmd.advance(ctx, StateValidated)

		purged := make(map[int64]bool)
		for _, set := range snapshot.SetsOfEntityType(id) {
			for _, attribute := range snapshot.SetAttributes(set.ID) {
				if purged[attribute.ID] {
					continue
				}
				purged[attribute.ID] = true
				handler, err := c.handler(attribute)
				if err != nil {
					return err
				}
				if err := handler.DeleteByEntityType(ctx, attribute, id); err != nil {
					return err
				}
			}
			ids, err := c.deleteSet(ctx, snapshot, set)
			if err != nil {
				return err
			}
			deleted = append(deleted, ids...)
		}

		entityTypeID := id
		if err := c.sweep(ctx, values.Criteria{EntityTypeID: &entityTypeID}); err != nil {
			return err
		}
		orphans, err := c.repos.Entities.ListIDs(ctx, "entity_type_id", id)
		if err != nil {
			return err
		}
		if err := c.repos.Entities.DeleteWhere(ctx, "entity_type_id", id); err != nil {
			return err
		}
		deleted = append(deleted, orphans...)
		if err := c.repos.EntityTypes.Delete(ctx, id); err != nil {
			return err
		}
		cmd.advance(ctx, StatePersisted)

		if err := c.runEntitiesDeleted(ctx, snapshot, deleted); err != nil {
			return err
		}
		cmd.advance(ctx, StatePostProcessed)
		c.invalidateOnCommit(cmd)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

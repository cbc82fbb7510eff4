package lifecycle

import (
	"context"
	"slices"

	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/fieldtypes"
	"github.com/congraphcms/eav-sub001/pkg/metadata"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/utils"
	"github.com/congraphcms/eav-sub001/pkg/values"
)

// CreateAttributeSet stores a set. The first set of an entity type becomes
// its default set.
func (c *Coordinator) CreateAttributeSet(ctx context.Context, req models.CreateAttributeSetRequest) (*models.AttributeSet, error) {
	req, err := utils.Validate(req)
	if err != nil {
		return nil, err
	}

	var created *models.AttributeSet
	err = c.run(ctx, "attribute_set.create", func(ctx context.Context, cmd *Command) error {
		snapshot := cmd.Snapshot
		entityType, ok := snapshot.EntityTypeByID(req.EntityTypeID)
		if !ok {
			return eaverrors.NewNotFoundError("entity type", req.EntityTypeID)
		}

		verr := eaverrors.NewValidationError()
		if _, exists := snapshot.AttributeSet(req.Code); exists {
			verr.Add("code", "already exists")
		}
		checkMembers(snapshot, req.AttributeIDs, verr)
		if err := verr.ErrOrNil(); err != nil {
			return err
		}
		cmd.advance(ctx, StateValidated)

		created, err = c.repos.AttributeSets.Create(ctx, req)
		if err != nil {
			return err
		}
		if entityType.DefaultSetID == nil {
			if err := c.repos.EntityTypes.SetDefaultSet(ctx, entityType.ID, &created.ID); err != nil {
				return err
			}
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

// UpdateAttributeSet renames the set or replaces its members. Values of
// removed members are purged for the set's entities and added compounds are
// computed for them.
func (c *Coordinator) UpdateAttributeSet(ctx context.Context, id int64, req models.UpdateAttributeSetRequest) (*models.AttributeSet, error) {
	req, err := utils.Validate(req)
	if err != nil {
		return nil, err
	}

	var updated *models.AttributeSet
	err = c.run(ctx, "attribute_set.update", func(ctx context.Context, cmd *Command) error {
		snapshot := cmd.Snapshot
		current, ok := snapshot.AttributeSetByID(id)
		if !ok {
			return eaverrors.NewNotFoundError("attribute set", id)
		}
		if req.AttributeIDs != nil {
			verr := eaverrors.NewValidationError()
			checkMembers(snapshot, *req.AttributeIDs, verr)
			if err := verr.ErrOrNil(); err != nil {
				return err
			}
		}
		cmd.advance(ctx, StateValidated)

		if req.Name != nil {
			if err := c.repos.AttributeSets.UpdateName(ctx, id, *req.Name); err != nil {
				return err
			}
		}
		var removed []int64
		if req.AttributeIDs != nil {
			if removed, err = c.replaceMembers(ctx, snapshot, current, *req.AttributeIDs); err != nil {
				return err
			}
		}
		cmd.advance(ctx, StatePersisted)

		updated, err = c.repos.AttributeSets.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if req.AttributeIDs != nil {
			if err := c.computeAdded(ctx, snapshot, current, updated); err != nil {
				return err
			}
			if err := c.refreshRemoved(ctx, snapshot, updated, removed); err != nil {
				return err
			}
		}
		cmd.advance(ctx, StatePostProcessed)
		c.invalidateOnCommit(cmd)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// replaceMembers returns the ids of the members that were removed.
func (c *Coordinator) replaceMembers(ctx context.Context, snapshot *metadata.Snapshot, current *models.AttributeSet, attributeIDs []int64) ([]int64, error) {
	var removed []int64
	for _, member := range current.Members {
		if slices.Contains(attributeIDs, member.AttributeID) {
			continue
		}
		attribute, ok := snapshot.AttributeByID(member.AttributeID)
		if !ok {
			continue
		}
		handler, err := c.handler(attribute)
		if err != nil {
			return nil, err
		}
		if err := handler.DeleteByAttributeSet(ctx, attribute, current.ID); err != nil {
			return nil, err
		}
		removed = append(removed, attribute.ID)
	}
	if err := c.repos.AttributeSets.ReplaceMembers(ctx, current.ID, attributeIDs); err != nil {
		return nil, err
	}
	return removed, nil
}

// refreshRemoved recomputes compounds that stay in the set but read a removed
// member.
func (c *Coordinator) refreshRemoved(ctx context.Context, snapshot *metadata.Snapshot, after *models.AttributeSet, removed []int64) error {
	if len(removed) == 0 {
		return nil
	}
	ids, err := c.repos.Entities.ListIDs(ctx, "attribute_set_id", after.ID)
	if err != nil {
		return err
	}
	owners := make([]values.Owner, 0, len(ids)*len(removed))
	for _, entityID := range ids {
		for _, attributeID := range removed {
			owners = append(owners, values.Owner{AttributeID: attributeID, EntityID: entityID})
		}
	}
	return c.refresh(ctx, snapshot.WithAttributeSet(*after), owners)
}

func (c *Coordinator) computeAdded(ctx context.Context, snapshot *metadata.Snapshot, before, after *models.AttributeSet) error {
	next := snapshot.WithAttributeSet(*after)
	var added []*models.Attribute
	for _, attribute := range next.SetAttributes(after.ID) {
		if attribute.FieldType == fieldtypes.Compound && !before.HasAttribute(attribute.ID) {
			added = append(added, attribute)
		}
	}
	if len(added) == 0 {
		return nil
	}
	ids, err := c.repos.Entities.ListIDs(ctx, "attribute_set_id", after.ID)
	if err != nil {
		return err
	}
	return c.recompute(ctx, next, ids, added)
}

// DeleteAttributeSet deletes the set, its entities and their values. It
// returns the ids of the deleted entities.
func (c *Coordinator) DeleteAttributeSet(ctx context.Context, id int64) ([]int64, error) {
	var deleted []int64
	err := c.run(ctx, "attribute_set.delete", func(ctx context.Context, cmd *Command) error {
		snapshot := cmd.Snapshot
		set, ok := snapshot.AttributeSetByID(id)
		if !ok {
			return eaverrors.NewNotFoundError("attribute set", id)
		}
		cmd.advance(ctx, StateValidated)

		var err error
		deleted, err = c.deleteSet(ctx, snapshot, set)
		if err != nil {
			return err
		}
		if entityType, ok := snapshot.EntityTypeByID(set.EntityTypeID); ok && entityType.DefaultSetID != nil && *entityType.DefaultSetID == id {
			if err := c.repos.EntityTypes.SetDefaultSet(ctx, entityType.ID, nil); err != nil {
				return err
			}
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

// deleteSet purges member values scoped to the set, then the entities of the
// set and the set itself.
func (c *Coordinator) deleteSet(ctx context.Context, snapshot *metadata.Snapshot, set *models.AttributeSet) ([]int64, error) {
	for _, attribute := range snapshot.SetAttributes(set.ID) {
		handler, err := c.handler(attribute)
		if err != nil {
			return nil, err
		}
		if err := handler.DeleteByAttributeSet(ctx, attribute, set.ID); err != nil {
			return nil, err
		}
	}
	setID := set.ID
	if err := c.sweep(ctx, values.Criteria{AttributeSetID: &setID}); err != nil {
		return nil, err
	}

	ids, err := c.repos.Entities.ListIDs(ctx, "attribute_set_id", set.ID)
	if err != nil {
		return nil, err
	}
	if err := c.repos.Entities.DeleteWhere(ctx, "attribute_set_id", set.ID); err != nil {
		return nil, err
	}
	if err := c.repos.AttributeSets.Delete(ctx, set.ID); err != nil {
		return nil, err
	}
	return ids, nil
}

// checkMembers reports every unknown or repeated member.
func checkMembers(snapshot *metadata.Snapshot, attributeIDs []int64, verr *eaverrors.ValidationError) {
	seen := make(map[int64]bool, len(attributeIDs))
	for _, id := range attributeIDs {
		if _, ok := snapshot.AttributeByID(id); !ok {
			verr.Addf("attributes", "attribute %d does not exist", id)
		}
		if seen[id] {
			verr.Addf("attributes", "attribute %d is listed more than once", id)
		}
		seen[id] = true
	}
}

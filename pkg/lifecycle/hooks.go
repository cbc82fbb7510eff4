package lifecycle

import (
	"context"
	"fmt"

	"github.com/congraphcms/eav-sub001/pkg/fields"
	"github.com/congraphcms/eav-sub001/pkg/metadata"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/values"
)

type (
	// BeforeUpdateFunc runs before an entity's values are written. The
	// returned state reaches the AfterUpdateFunc of the same field type.
	BeforeUpdateFunc    func(ctx context.Context, env *fields.Env, changed models.FieldValues) (any, error)
	AfterUpdateFunc     func(ctx context.Context, env *fields.Env, state any) error
	BeforeGetFunc       func(ctx context.Context, attribute *models.Attribute, operator string, operands []any) ([]any, error)
	// EntitiesDeletedFunc and FileDeletedFunc return the owners of the value
	// rows they removed. Compounds reading those rows are recomputed.
	EntitiesDeletedFunc func(ctx context.Context, snapshot *metadata.Snapshot, entityIDs []int64) ([]values.Owner, error)
	FileDeletedFunc     func(ctx context.Context, snapshot *metadata.Snapshot, fileID int64) ([]values.Owner, error)
)

type hook[F any] struct {
	fieldType string
	fn        F
}

// hooks run in registration order.
type hooks struct {
	beforeUpdate    []hook[BeforeUpdateFunc]
	afterUpdate     []hook[AfterUpdateFunc]
	beforeGet       []hook[BeforeGetFunc]
	entitiesDeleted []hook[EntitiesDeletedFunc]
	fileDeleted     []hook[FileDeletedFunc]
}

func (c *Coordinator) OnBeforeUpdate(fieldType string, fn BeforeUpdateFunc) {
	c.hooks.beforeUpdate = append(c.hooks.beforeUpdate, hook[BeforeUpdateFunc]{fieldType, fn})
}

func (c *Coordinator) OnAfterUpdate(fieldType string, fn AfterUpdateFunc) {
	c.hooks.afterUpdate = append(c.hooks.afterUpdate, hook[AfterUpdateFunc]{fieldType, fn})
}

// OnBeforeGet registers an operand rewrite for filters on attributes of
// fieldType.
func (c *Coordinator) OnBeforeGet(fieldType string, fn BeforeGetFunc) {
	c.hooks.beforeGet = append(c.hooks.beforeGet, hook[BeforeGetFunc]{fieldType, fn})
}

func (c *Coordinator) OnEntitiesDeleted(fieldType string, fn EntitiesDeletedFunc) {
	c.hooks.entitiesDeleted = append(c.hooks.entitiesDeleted, hook[EntitiesDeletedFunc]{fieldType, fn})
}

func (c *Coordinator) OnFileDeleted(fieldType string, fn FileDeletedFunc) {
	c.hooks.fileDeleted = append(c.hooks.fileDeleted, hook[FileDeletedFunc]{fieldType, fn})
}

// RegisterHandlerHooks registers the hooks every handler of registry
// implements, in handler registration order.
func (c *Coordinator) RegisterHandlerHooks(registry *fields.Registry) {
	for _, h := range registry.All() {
		fieldType := h.FieldType()
		if hh, ok := h.(fields.BeforeUpdateHook); ok {
			c.OnBeforeUpdate(fieldType, hh.BeforeEntityUpdate)
		}
		if hh, ok := h.(fields.AfterUpdateHook); ok {
			c.OnAfterUpdate(fieldType, hh.AfterEntityUpdate)
		}
		if hh, ok := h.(fields.BeforeGetHook); ok {
			c.OnBeforeGet(fieldType, hh.BeforeEntityGet)
		}
		if hh, ok := h.(fields.EntitiesDeletedHook); ok {
			c.OnEntitiesDeleted(fieldType, hh.EntitiesDeleted)
		}
		if hh, ok := h.(fields.FileDeletedHook); ok {
			c.OnFileDeleted(fieldType, hh.FileDeleted)
		}
	}
}

func (c *Coordinator) runBeforeUpdate(ctx context.Context, env *fields.Env, changed models.FieldValues) (map[string]any, error) {
	states := make(map[string]any, len(c.hooks.beforeUpdate))
	for _, h := range c.hooks.beforeUpdate {
		state, err := h.fn(ctx, env, changed)
		if err != nil {
			return nil, err
		}
		states[h.fieldType] = state
	}
	return states, nil
}

func (c *Coordinator) runAfterUpdate(ctx context.Context, env *fields.Env, states map[string]any) error {
	for _, h := range c.hooks.afterUpdate {
		if err := h.fn(ctx, env, states[h.fieldType]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) runEntitiesDeleted(ctx context.Context, snapshot *metadata.Snapshot, entityIDs []int64) error {
	if len(entityIDs) == 0 {
		return nil
	}
	var owners []values.Owner
	for _, h := range c.hooks.entitiesDeleted {
		removed, err := h.fn(ctx, snapshot, entityIDs)
		if err != nil {
			return err
		}
		owners = append(owners, removed...)
	}
	return c.refresh(ctx, snapshot, owners)
}

// RewriteOperands passes filter operands through the before-get hooks of the
// attribute's field type.
func (c *Coordinator) RewriteOperands(ctx context.Context, attribute *models.Attribute, operator string, operands []any) ([]any, error) {
	var err error
	for _, h := range c.hooks.beforeGet {
		if h.fieldType != attribute.FieldType {
			continue
		}
		if operands, err = h.fn(ctx, attribute, operator, operands); err != nil {
			return nil, err
		}
	}
	return operands, nil
}

// FileDeleted removes every reference to a file deleted by an external file
// repository.
func (c *Coordinator) FileDeleted(ctx context.Context, fileID int64) error {
	return c.run(ctx, "file.deleted", func(ctx context.Context, cmd *Command) error {
		cmd.advance(ctx, StateValidated)
		if err := c.runFileDeleted(ctx, cmd.Snapshot, fileID); err != nil {
			return err
		}
		cmd.advance(ctx, StatePostProcessed)
		return nil
	})
}

// DeleteFile deletes a file of the configured file repository together with
// the references to it.
func (c *Coordinator) DeleteFile(ctx context.Context, fileID int64) error {
	if c.repos.Files == nil {
		return fmt.Errorf("no file repository configured")
	}
	return c.run(ctx, "file.delete", func(ctx context.Context, cmd *Command) error {
		cmd.advance(ctx, StateValidated)
		if err := c.repos.Files.Delete(ctx, fileID); err != nil {
			return err
		}
		cmd.advance(ctx, StatePersisted)
		if err := c.runFileDeleted(ctx, cmd.Snapshot, fileID); err != nil {
			return err
		}
		cmd.advance(ctx, StatePostProcessed)
		return nil
	})
}

func (c *Coordinator) runFileDeleted(ctx context.Context, snapshot *metadata.Snapshot, fileID int64) error {
	var owners []values.Owner
	for _, h := range c.hooks.fileDeleted {
		removed, err := h.fn(ctx, snapshot, fileID)
		if err != nil {
			return err
		}
		owners = append(owners, removed...)
	}
	return c.refresh(ctx, snapshot, owners)
}

package lifecycle

import (
	"context"
	"fmt"
	"reflect"

	"github.com/Gobusters/ectolinq"

	"github.com/congraphcms/eav-sub001/pkg/database"
	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/fields"
	"github.com/congraphcms/eav-sub001/pkg/fieldtypes"
	"github.com/congraphcms/eav-sub001/pkg/metadata"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/utils"
	"github.com/congraphcms/eav-sub001/pkg/validation"
	"github.com/congraphcms/eav-sub001/pkg/values"
)

func (c *Coordinator) CreateAttribute(ctx context.Context, req models.CreateAttributeRequest) (*models.Attribute, error) {
	req, err := utils.Validate(req)
	if err != nil {
		return nil, err
	}

	var created *models.Attribute
	err = c.run(ctx, "attribute.create", func(ctx context.Context, cmd *Command) error {
		snapshot := cmd.Snapshot
		verr := eaverrors.NewValidationError()

		handler, err := c.handlers.Get(req.FieldType)
		if err != nil {
			return verr.Addf("field_type", "unknown field type %s", req.FieldType)
		}
		if _, exists := snapshot.AttributeByCode(req.Code); exists {
			verr.Add("code", "already exists")
		}

		attribute := &models.Attribute{
			Code:         req.Code,
			FieldType:    req.FieldType,
			Localized:    req.Localized,
			Unique:       req.Unique,
			Required:     req.Required,
			Filterable:   req.Filterable,
			Searchable:   req.Searchable,
			DefaultValue: req.DefaultValue,
			Data:         database.JSONB[models.AttributeData]{Data: req.Data},
			Options:      optionsFrom(snapshot, req.Options, verr),
		}
		c.checkDefinition(ctx, snapshot, handler, attribute, verr)
		if err := verr.ErrOrNil(); err != nil {
			return err
		}
		cmd.advance(ctx, StateValidated)

		created, err = c.repos.Attributes.Create(ctx, attribute)
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

// UpdateAttribute changes an attribute definition. Turning searchable on
// copies existing values into the fulltext table, turning it off removes them.
// A changed compound expression is recomputed for every entity that has it.
func (c *Coordinator) UpdateAttribute(ctx context.Context, id int64, req models.UpdateAttributeRequest) (*models.Attribute, error) {
	req, err := utils.Validate(req)
	if err != nil {
		return nil, err
	}

	var result *models.Attribute
	err = c.run(ctx, "attribute.update", func(ctx context.Context, cmd *Command) error {
		snapshot := cmd.Snapshot
		current, ok := snapshot.AttributeByID(id)
		if !ok {
			return eaverrors.NewNotFoundError("attribute", id)
		}
		handler, err := c.handler(current)
		if err != nil {
			return err
		}

		verr := eaverrors.NewValidationError()
		updated := *current
		if req.Localized != nil && *req.Localized != current.Localized && !handler.Capabilities().Derived {
			verr.Add("localized", "cannot be changed once the attribute exists")
		}
		applyAttributeUpdate(&updated, req)
		if req.Options != nil {
			updated.Options = optionsFrom(snapshot, *req.Options, verr)
		}
		c.checkDefinition(ctx, snapshot, handler, &updated, verr)
		if err := verr.ErrOrNil(); err != nil {
			return err
		}
		cmd.advance(ctx, StateValidated)

		saved, err := c.repos.Attributes.Update(ctx, &updated)
		if err != nil {
			return err
		}
		if req.Options != nil {
			if err := c.repos.Attributes.ReplaceOptions(ctx, id, updated.Options); err != nil {
				return err
			}
			saved.Options = updated.Options
		}
		cmd.advance(ctx, StatePersisted)

		table := handler.Capabilities().Table
		switch {
		case updated.Searchable && !current.Searchable && table != fieldtypes.TableFulltext:
			if err := c.mirror(ctx, table, id); err != nil {
				return err
			}
		case !updated.Searchable && current.Searchable && table != fieldtypes.TableFulltext:
			if _, err := c.store.Delete(ctx, fieldtypes.TableFulltext, values.Criteria{AttributeIDs: []int64{id}}); err != nil {
				return err
			}
		}

		if handler.Capabilities().Derived && expressionChanged(current, &updated) {
			if err := handler.DeleteByAttribute(ctx, &updated); err != nil {
				return err
			}
			next := snapshot.WithAttribute(updated)
			attribute, _ := next.AttributeByID(id)
			for _, set := range next.SetsContaining(id) {
				ids, err := c.repos.Entities.ListIDs(ctx, "attribute_set_id", set.ID)
				if err != nil {
					return err
				}
				if err := c.recompute(ctx, next, ids, []*models.Attribute{attribute}); err != nil {
					return err
				}
			}
		}
		cmd.advance(ctx, StatePostProcessed)

		c.invalidateOnCommit(cmd)
		result = saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteAttribute removes the attribute from every set along with its options
// and values. Attributes read by a compound cannot be deleted.
func (c *Coordinator) DeleteAttribute(ctx context.Context, id int64) error {
	return c.run(ctx, "attribute.delete", func(ctx context.Context, cmd *Command) error {
		snapshot := cmd.Snapshot
		attribute, ok := snapshot.AttributeByID(id)
		if !ok {
			return eaverrors.NewNotFoundError("attribute", id)
		}
		handler, err := c.handler(attribute)
		if err != nil {
			return err
		}

		verr := eaverrors.NewValidationError()
		for _, compound := range snapshot.CompoundsReferencing(id) {
			if compound.ID != id {
				verr.Addf("attribute", "attribute is an input of compound %s", compound.Code)
			}
		}
		if err := verr.ErrOrNil(); err != nil {
			return err
		}
		cmd.advance(ctx, StateValidated)

		if err := handler.DeleteByAttribute(ctx, attribute); err != nil {
			return err
		}
		if err := c.repos.AttributeSets.RemoveAttribute(ctx, id); err != nil {
			return err
		}
		if err := c.repos.Attributes.Delete(ctx, id); err != nil {
			return err
		}
		cmd.advance(ctx, StatePersisted)

		c.invalidateOnCommit(cmd)
		return nil
	})
}

func (c *Coordinator) checkDefinition(ctx context.Context, snapshot *metadata.Snapshot, handler fields.Handler, attribute *models.Attribute, verr *eaverrors.ValidationError) {
	if p, ok := handler.(fields.DefinitionPreparer); ok {
		p.PrepareDefinition(snapshot, attribute)
	}
	handler.ValidateDefinition(ctx, snapshot, attribute, verr)
}

// mirror copies every stored value of an attribute into the fulltext table.
func (c *Coordinator) mirror(ctx context.Context, table fieldtypes.Table, attributeID int64) error {
	rows, err := c.store.Select(ctx, table, values.Criteria{AttributeIDs: []int64{attributeID}})
	if err != nil {
		return err
	}

	type owner struct {
		scope    values.Scope
		localeID int64
	}
	var order []owner
	texts := make(map[owner][]any)
	for _, row := range rows {
		key := owner{
			scope:    values.Scope{EntityID: row.EntityID, EntityTypeID: row.EntityTypeID, AttributeSetID: row.AttributeSetID},
			localeID: row.LocaleID,
		}
		if _, seen := texts[key]; !seen {
			order = append(order, key)
		}
		texts[key] = append(texts[key], utils.Stringify(row.Value))
	}
	for _, key := range order {
		if err := c.store.Replace(ctx, fieldtypes.TableFulltext, attributeID, key.scope, key.localeID, texts[key]); err != nil {
			return err
		}
	}
	return nil
}

func applyAttributeUpdate(attribute *models.Attribute, req models.UpdateAttributeRequest) {
	if req.Localized != nil {
		attribute.Localized = *req.Localized
	}
	if req.Unique != nil {
		attribute.Unique = *req.Unique
	}
	if req.Required != nil {
		attribute.Required = *req.Required
	}
	if req.Filterable != nil {
		attribute.Filterable = *req.Filterable
	}
	if req.Searchable != nil {
		attribute.Searchable = *req.Searchable
	}
	if req.DefaultValue != nil {
		attribute.DefaultValue = req.DefaultValue
	}
	if req.Data != nil {
		attribute.Data = database.JSONB[models.AttributeData]{Data: *req.Data}
	}
}

func expressionChanged(before, after *models.Attribute) bool {
	return before.Localized != after.Localized ||
		before.Data.Data.ExpectedValue != after.Data.Data.ExpectedValue ||
		!reflect.DeepEqual(before.Data.Data.Inputs, after.Data.Data.Inputs)
}

func optionsFrom(snapshot *metadata.Snapshot, inputs []models.OptionInput, verr *eaverrors.ValidationError) []models.AttributeOption {
	return ectolinq.Map(inputs, func(in models.OptionInput) models.AttributeOption {
		option := models.AttributeOption{
			Label:     in.Label,
			Value:     in.Value,
			IsDefault: in.IsDefault,
		}
		if in.Locale != "" {
			locale, ok := snapshot.Locale(in.Locale)
			if ok {
				option.LocaleID = locale.ID
			} else {
				verr.Add(fmt.Sprintf("options.%s", in.Value), validation.MessageUnknownLocale)
			}
		}
		return option
	})
}

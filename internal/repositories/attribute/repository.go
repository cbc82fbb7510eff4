package attribute

import (
	"context"
	"database/sql"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/congraphcms/eav-sub001/pkg/database"
	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/tracing"
)

type AttributeRepository interface {
	Create(ctx context.Context, attr *models.Attribute) (*models.Attribute, error)
	GetByID(ctx context.Context, id int64) (*models.Attribute, error)
	List(ctx context.Context) ([]models.Attribute, error)
	Update(ctx context.Context, attr *models.Attribute) (*models.Attribute, error)
	ReplaceOptions(ctx context.Context, attributeID int64, options []models.AttributeOption) error
	DeleteLocaleOptions(ctx context.Context, localeID int64) error
	Delete(ctx context.Context, id int64) error
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const (
	tableName        = "attributes"
	optionsTableName = "attribute_options"
)

var (
	columns       = []string{"id", "code", "field_type", "localized", "is_unique", "required", "filterable", "searchable", "default_value", "data", "created_at", "updated_at"}
	optionColumns = []string{"id", "attribute_id", "label", "value", "locale_id", "is_default", "sort_order"}
)

// Create persists attr and its options. The id and timestamps of attr are ignored.
func (r *Repository) Create(ctx context.Context, attr *models.Attribute) (*models.Attribute, error) {
	ctx, span := tracing.StartSpan(ctx, "AttributeRepository.Create")
	defer span.End()

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols("code", "field_type", "localized", "is_unique", "required", "filterable", "searchable", "default_value", "data", "created_at", "updated_at")
	ib.Values(attr.Code, attr.FieldType, attr.Localized, attr.Unique, attr.Required, attr.Filterable, attr.Searchable, attr.DefaultValue, attr.Data, now, now)

	id, err := database.InsertReturningID(ctx, r.db.Conn(ctx), ib)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("code", attr.Code).Error("failed to create attribute")
		return nil, eaverrors.NewStorageError("create attribute", err)
	}

	if err := r.ReplaceOptions(ctx, id, attr.Options); err != nil {
		return nil, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":         id,
		"code":       attr.Code,
		"field_type": attr.FieldType,
	}).Info("created attribute")

	return r.GetByID(ctx, id)
}

// GetByID returns nil when the attribute does not exist.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Attribute, error) {
	ctx, span := tracing.StartSpan(ctx, "AttributeRepository.GetByID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	var attr models.Attribute
	if err := r.db.Conn(ctx).GetContext(ctx, &attr, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get attribute by ID")
		return nil, eaverrors.NewStorageError("get attribute", err)
	}

	options, err := r.listOptions(ctx, id)
	if err != nil {
		return nil, err
	}
	attr.Options = options[id]
	return &attr, nil
}

// List returns every attribute with its options.
func (r *Repository) List(ctx context.Context) ([]models.Attribute, error) {
	ctx, span := tracing.StartSpan(ctx, "AttributeRepository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.OrderBy("id ASC")

	query, args := sb.Build()

	var attrs []models.Attribute
	if err := r.db.Conn(ctx).SelectContext(ctx, &attrs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list attributes")
		return nil, eaverrors.NewStorageError("list attributes", err)
	}

	options, err := r.listOptions(ctx, 0)
	if err != nil {
		return nil, err
	}
	for i := range attrs {
		attrs[i].Options = options[attrs[i].ID]
	}
	return attrs, nil
}

// listOptions groups options by attribute. attributeID 0 loads all of them.
func (r *Repository) listOptions(ctx context.Context, attributeID int64) (map[int64][]models.AttributeOption, error) {
	sb := database.NewSelectBuilder()
	sb.Select(optionColumns...)
	sb.From(optionsTableName)
	if attributeID != 0 {
		sb.Where(sb.Equal("attribute_id", attributeID))
	}
	sb.OrderBy("attribute_id ASC", "sort_order ASC", "id ASC")

	query, args := sb.Build()

	var options []models.AttributeOption
	if err := r.db.Conn(ctx).SelectContext(ctx, &options, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list attribute options")
		return nil, eaverrors.NewStorageError("list attribute options", err)
	}

	grouped := make(map[int64][]models.AttributeOption)
	for _, option := range options {
		grouped[option.AttributeID] = append(grouped[option.AttributeID], option)
	}
	return grouped, nil
}

// Update writes the mutable columns of attr. Options are replaced separately.
func (r *Repository) Update(ctx context.Context, attr *models.Attribute) (*models.Attribute, error) {
	ctx, span := tracing.StartSpan(ctx, "AttributeRepository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("localized", attr.Localized),
		ub.Assign("is_unique", attr.Unique),
		ub.Assign("required", attr.Required),
		ub.Assign("filterable", attr.Filterable),
		ub.Assign("searchable", attr.Searchable),
		ub.Assign("default_value", attr.DefaultValue),
		ub.Assign("data", attr.Data),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", attr.ID))

	query, args := ub.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", attr.ID).Error("failed to update attribute")
		return nil, eaverrors.NewStorageError("update attribute", err)
	}

	return r.GetByID(ctx, attr.ID)
}

// ReplaceOptions deletes existing options of the attribute and inserts options
// in the given order.
func (r *Repository) ReplaceOptions(ctx context.Context, attributeID int64, options []models.AttributeOption) error {
	ctx, span := tracing.StartSpan(ctx, "AttributeRepository.ReplaceOptions")
	defer span.End()

	if err := r.deleteOptions(ctx, attributeID); err != nil {
		return err
	}
	if len(options) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(optionsTableName)
	ib.Cols("attribute_id", "label", "value", "locale_id", "is_default", "sort_order")
	for i, option := range options {
		ib.Values(attributeID, option.Label, option.Value, option.LocaleID, option.IsDefault, i)
	}

	query, args := ib.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("attribute_id", attributeID).Error("failed to insert attribute options")
		return eaverrors.NewStorageError("insert attribute options", err)
	}
	return nil
}

func (r *Repository) deleteOptions(ctx context.Context, attributeID int64) error {
	db := database.NewDeleteBuilder()
	db.DeleteFrom(optionsTableName)
	db.Where(db.Equal("attribute_id", attributeID))

	query, args := db.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("attribute_id", attributeID).Error("failed to delete attribute options")
		return eaverrors.NewStorageError("delete attribute options", err)
	}
	return nil
}

// DeleteLocaleOptions removes the options bound to a locale.
func (r *Repository) DeleteLocaleOptions(ctx context.Context, localeID int64) error {
	ctx, span := tracing.StartSpan(ctx, "AttributeRepository.DeleteLocaleOptions")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(optionsTableName)
	db.Where(db.Equal("locale_id", localeID))

	query, args := db.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("locale_id", localeID).Error("failed to delete locale options")
		return eaverrors.NewStorageError("delete locale options", err)
	}
	return nil
}

// Delete removes the attribute and its options.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	ctx, span := tracing.StartSpan(ctx, "AttributeRepository.Delete")
	defer span.End()

	if err := r.deleteOptions(ctx, id); err != nil {
		return err
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(tableName)
	db.Where(db.Equal("id", id))

	query, args := db.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("failed to delete attribute")
		return eaverrors.NewStorageError("delete attribute", err)
	}
	return nil
}

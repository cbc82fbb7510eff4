package entity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/congraphcms/eav-sub001/pkg/database"
	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/tracing"
)

type EntityRepository interface {
	Create(ctx context.Context, entityTypeID, attributeSetID int64, status string) (*models.Entity, error)
	GetByID(ctx context.Context, id int64) (*models.Entity, error)
	GetByIDs(ctx context.Context, ids []int64) ([]models.Entity, error)
	Touch(ctx context.Context, id int64, status *string) error
	Delete(ctx context.Context, id int64) error
	ListIDs(ctx context.Context, column string, value int64) ([]int64, error)
	DeleteWhere(ctx context.Context, column string, value int64) error
	Find(ctx context.Context, params FindParams) ([]models.Entity, int, error)
}

// FieldCondition restricts entities to those with a matching value row.
type FieldCondition struct {
	Table       string
	AttributeID int64
	// LocaleIDs limits the matching rows; empty matches any locale.
	LocaleIDs []int64
	Operator  string
	Values    []any
}

// SortField orders by an entity column, or by the first value of an attribute
// when AttributeID is set.
type SortField struct {
	Column      string
	Table       string
	AttributeID int64
	LocaleID    int64
	Desc        bool
}

type FindParams struct {
	IDs           []int64
	EntityTypeIDs []int64
	Statuses      []string
	Conditions    []FieldCondition
	Sorts         []SortField
	Offset        int
	Limit         int
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

const tableName = "entities"

var columns = []string{"entities.id", "entities.entity_type_id", "entities.attribute_set_id", "entities.status", "entities.created_at", "entities.updated_at"}

// SortableColumns lists entity columns accepted by Find sorts and filters.
var SortableColumns = map[string]string{
	"id":               "entities.id",
	"created_at":       "entities.created_at",
	"updated_at":       "entities.updated_at",
	"status":           "entities.status",
	"entity_type_id":   "entities.entity_type_id",
	"attribute_set_id": "entities.attribute_set_id",
}

func (r *Repository) Create(ctx context.Context, entityTypeID, attributeSetID int64, status string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.Create")
	defer span.End()

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols("entity_type_id", "attribute_set_id", "status", "created_at", "updated_at")
	ib.Values(entityTypeID, attributeSetID, status, now, now)

	id, err := database.InsertReturningID(ctx, r.db.Conn(ctx), ib)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_type_id":   entityTypeID,
			"attribute_set_id": attributeSetID,
		}).Error("failed to create entity")
		return nil, eaverrors.NewStorageError("create entity", err)
	}

	return &models.Entity{
		ID:             id,
		EntityTypeID:   entityTypeID,
		AttributeSetID: attributeSetID,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// GetByID returns nil when the entity does not exist.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.GetByID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("entities.id", id))

	query, args := sb.Build()

	var entity models.Entity
	if err := r.db.Conn(ctx).GetContext(ctx, &entity, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get entity by ID")
		return nil, eaverrors.NewStorageError("get entity", err)
	}
	return &entity, nil
}

func (r *Repository) GetByIDs(ctx context.Context, ids []int64) ([]models.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	entities, _, err := r.Find(ctx, FindParams{IDs: ids})
	return entities, err
}

// Touch bumps updated_at and optionally changes the status.
func (r *Repository) Touch(ctx context.Context, id int64, status *string) error {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.Touch")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(tableName)
	assignments := []string{ub.Assign("updated_at", time.Now().UTC())}
	if status != nil {
		assignments = append(assignments, ub.Assign("status", *status))
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("failed to update entity")
		return eaverrors.NewStorageError("update entity", err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	return r.DeleteWhere(ctx, "id", id)
}

// ListIDs returns ids of entities whose column equals value. column is one of
// id, entity_type_id or attribute_set_id.
func (r *Repository) ListIDs(ctx context.Context, column string, value int64) ([]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.ListIDs")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("id")
	sb.From(tableName)
	sb.Where(sb.Equal(column, value))
	sb.OrderBy("id ASC")

	query, args := sb.Build()

	var ids []int64
	if err := r.db.Conn(ctx).SelectContext(ctx, &ids, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField(column, value).Error("failed to list entity ids")
		return nil, eaverrors.NewStorageError("list entity ids", err)
	}
	return ids, nil
}

func (r *Repository) DeleteWhere(ctx context.Context, column string, value int64) error {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.DeleteWhere")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(tableName)
	db.Where(db.Equal(column, value))

	query, args := db.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField(column, value).Error("failed to delete entities")
		return eaverrors.NewStorageError("delete entities", err)
	}
	return nil
}

// Find returns one page of entities matching params and the total match count.
func (r *Repository) Find(ctx context.Context, params FindParams) ([]models.Entity, int, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.Find")
	defer span.End()

	countSb := database.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(tableName)
	if err := applyFilters(countSb, params); err != nil {
		return nil, 0, err
	}

	countQuery, countArgs := countSb.Build()

	var total int
	if err := r.db.Conn(ctx).GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count entities")
		return nil, 0, eaverrors.NewStorageError("count entities", err)
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	if err := applyFilters(sb, params); err != nil {
		return nil, 0, err
	}

	orderBy := make([]string, 0, len(params.Sorts)+1)
	for _, sort := range params.Sorts {
		expr, err := sortExpression(sort)
		if err != nil {
			return nil, 0, err
		}
		orderBy = append(orderBy, expr)
	}
	orderBy = append(orderBy, "entities.id ASC")
	sb.OrderBy(orderBy...)
	if params.Limit > 0 {
		sb.Limit(params.Limit)
	}
	if params.Offset > 0 {
		sb.Offset(params.Offset)
	}

	query, args := sb.Build()

	var entities []models.Entity
	if err := r.db.Conn(ctx).SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to find entities")
		return nil, 0, eaverrors.NewStorageError("find entities", err)
	}
	return entities, total, nil
}

func applyFilters(sb *database.SelectBuilder, params FindParams) error {
	var where []string
	if len(params.IDs) > 0 {
		where = append(where, sb.In("entities.id", int64Args(params.IDs)...))
	}
	if len(params.EntityTypeIDs) > 0 {
		where = append(where, sb.In("entities.entity_type_id", int64Args(params.EntityTypeIDs)...))
	}
	if len(params.Statuses) > 0 {
		statuses := make([]any, len(params.Statuses))
		for i, s := range params.Statuses {
			statuses[i] = s
		}
		where = append(where, sb.In("entities.status", statuses...))
	}
	for _, condition := range params.Conditions {
		expr, err := conditionExpression(sb, condition)
		if err != nil {
			return err
		}
		where = append(where, expr)
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	return nil
}

// likeEscaper makes LIKE wildcards in a search term match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func conditionExpression(sb *database.SelectBuilder, condition FieldCondition) (string, error) {
	if len(condition.Values) == 0 {
		return "", eaverrors.NewBadRequestError("filter", "operator '%s' needs a value", condition.Operator)
	}

	sub := database.NewSelectBuilder()
	sub.Select("v.entity_id")
	sub.From(condition.Table + " v")
	where := []string{sub.Equal("v.attribute_id", condition.AttributeID)}
	if len(condition.LocaleIDs) > 0 {
		where = append(where, sub.In("v.locale_id", int64Args(condition.LocaleIDs)...))
	}

	negate := false
	value := condition.Values[0]
	switch condition.Operator {
	case "e":
		where = append(where, sub.Equal("v.value", value))
	case "ne":
		negate = true
		where = append(where, sub.Equal("v.value", value))
	case "in":
		where = append(where, sub.In("v.value", condition.Values...))
	case "nin":
		negate = true
		where = append(where, sub.In("v.value", condition.Values...))
	case "gt":
		where = append(where, sub.GreaterThan("v.value", value))
	case "gte":
		where = append(where, sub.GreaterEqualThan("v.value", value))
	case "lt":
		where = append(where, sub.LessThan("v.value", value))
	case "lte":
		where = append(where, sub.LessEqualThan("v.value", value))
	case "m":
		pattern := "%" + likeEscaper.Replace(strings.ToLower(fmt.Sprint(value))) + "%"
		where = append(where, fmt.Sprintf("LOWER(v.value) LIKE %s ESCAPE '\\'", sub.Var(pattern)))
	default:
		return "", eaverrors.NewBadRequestError("filter", "unknown operator '%s'", condition.Operator)
	}
	sub.Where(where...)

	if negate {
		return sb.NotIn("entities.id", sub.SelectBuilder), nil
	}
	return sb.In("entities.id", sub.SelectBuilder), nil
}

func sortExpression(sort SortField) (string, error) {
	direction := "ASC"
	if sort.Desc {
		direction = "DESC"
	}

	if sort.AttributeID == 0 {
		column, ok := SortableColumns[sort.Column]
		if !ok {
			return "", eaverrors.NewBadRequestError("sort", "cannot sort by '%s'", sort.Column)
		}
		return column + " " + direction, nil
	}

	return fmt.Sprintf(
		"(SELECT v.value FROM %s v WHERE v.entity_id = entities.id AND v.attribute_id = %d AND v.locale_id IN (0, %d) ORDER BY v.locale_id DESC, v.sort_order ASC LIMIT 1) %s",
		sort.Table, sort.AttributeID, sort.LocaleID, direction,
	), nil
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

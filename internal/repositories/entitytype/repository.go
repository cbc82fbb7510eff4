package entitytype

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

// EntityTypeRepository defines the interface for entity type operations
type EntityTypeRepository interface {
	Create(ctx context.Context, req models.CreateEntityTypeRequest) (*models.EntityType, error)
	GetByID(ctx context.Context, id int64) (*models.EntityType, error)
	List(ctx context.Context) ([]models.EntityType, error)
	Update(ctx context.Context, id int64, req models.UpdateEntityTypeRequest) (*models.EntityType, error)
	SetDefaultSet(ctx context.Context, id int64, setID *int64) error
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

const tableName = "entity_types"

var columns = []string{"id", "code", "endpoint", "name", "plural_name", "localized", "has_workflow", "default_set_id", "created_at", "updated_at"}

func (r *Repository) Create(ctx context.Context, req models.CreateEntityTypeRequest) (*models.EntityType, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityTypeRepository.Create")
	defer span.End()

	now := time.Now().UTC()
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = req.Code
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols("code", "endpoint", "name", "plural_name", "localized", "has_workflow", "created_at", "updated_at")
	ib.Values(req.Code, endpoint, req.Name, req.PluralName, req.Localized, req.HasWorkflow, now, now)

	id, err := database.InsertReturningID(ctx, r.db.Conn(ctx), ib)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("code", req.Code).Error("failed to create entity type")
		return nil, eaverrors.NewStorageError("create entity type", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":   id,
		"code": req.Code,
	}).Info("created entity type")

	return r.GetByID(ctx, id)
}

// GetByID returns nil when the entity type does not exist.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.EntityType, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityTypeRepository.GetByID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	var et models.EntityType
	if err := r.db.Conn(ctx).GetContext(ctx, &et, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get entity type by ID")
		return nil, eaverrors.NewStorageError("get entity type", err)
	}
	return &et, nil
}

func (r *Repository) List(ctx context.Context) ([]models.EntityType, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityTypeRepository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.OrderBy("id ASC")

	query, args := sb.Build()

	var items []models.EntityType
	if err := r.db.Conn(ctx).SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list entity types")
		return nil, eaverrors.NewStorageError("list entity types", err)
	}
	return items, nil
}

func (r *Repository) Update(ctx context.Context, id int64, req models.UpdateEntityTypeRequest) (*models.EntityType, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityTypeRepository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(tableName)
	assignments := []string{ub.Assign("updated_at", time.Now().UTC())}
	if req.Endpoint != nil {
		assignments = append(assignments, ub.Assign("endpoint", *req.Endpoint))
	}
	if req.Name != nil {
		assignments = append(assignments, ub.Assign("name", *req.Name))
	}
	if req.PluralName != nil {
		assignments = append(assignments, ub.Assign("plural_name", *req.PluralName))
	}
	if req.Localized != nil {
		assignments = append(assignments, ub.Assign("localized", *req.Localized))
	}
	if req.HasWorkflow != nil {
		assignments = append(assignments, ub.Assign("has_workflow", *req.HasWorkflow))
	}
	if req.DefaultSetID != nil {
		assignments = append(assignments, ub.Assign("default_set_id", *req.DefaultSetID))
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("failed to update entity type")
		return nil, eaverrors.NewStorageError("update entity type", err)
	}

	return r.GetByID(ctx, id)
}

// SetDefaultSet points the entity type at setID, or clears it when setID is nil.
func (r *Repository) SetDefaultSet(ctx context.Context, id int64, setID *int64) error {
	ctx, span := tracing.StartSpan(ctx, "EntityTypeRepository.SetDefaultSet")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(tableName)
	if setID == nil {
		ub.Set(ub.Assign("default_set_id", nil))
	} else {
		ub.Set(ub.Assign("default_set_id", *setID))
	}
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("failed to set default attribute set")
		return eaverrors.NewStorageError("set default attribute set", err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	ctx, span := tracing.StartSpan(ctx, "EntityTypeRepository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(tableName)
	db.Where(db.Equal("id", id))

	query, args := db.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("failed to delete entity type")
		return eaverrors.NewStorageError("delete entity type", err)
	}
	return nil
}

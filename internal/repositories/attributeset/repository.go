package attributeset

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

type AttributeSetRepository interface {
	Create(ctx context.Context, req models.CreateAttributeSetRequest) (*models.AttributeSet, error)
	GetByID(ctx context.Context, id int64) (*models.AttributeSet, error)
	List(ctx context.Context) ([]models.AttributeSet, error)
	UpdateName(ctx context.Context, id int64, name string) error
	ReplaceMembers(ctx context.Context, id int64, attributeIDs []int64) error
	RemoveAttribute(ctx context.Context, attributeID int64) error
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
	tableName        = "attribute_sets"
	membersTableName = "set_attributes"
)

var (
	columns       = []string{"id", "code", "entity_type_id", "name", "created_at", "updated_at"}
	memberColumns = []string{"attribute_set_id", "attribute_id", "sort_order"}
)

func (r *Repository) Create(ctx context.Context, req models.CreateAttributeSetRequest) (*models.AttributeSet, error) {
	ctx, span := tracing.StartSpan(ctx, "AttributeSetRepository.Create")
	defer span.End()

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols("code", "entity_type_id", "name", "created_at", "updated_at")
	ib.Values(req.Code, req.EntityTypeID, req.Name, now, now)

	id, err := database.InsertReturningID(ctx, r.db.Conn(ctx), ib)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("code", req.Code).Error("failed to create attribute set")
		return nil, eaverrors.NewStorageError("create attribute set", err)
	}

	if err := r.ReplaceMembers(ctx, id, req.AttributeIDs); err != nil {
		return nil, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":             id,
		"code":           req.Code,
		"entity_type_id": req.EntityTypeID,
	}).Info("created attribute set")

	return r.GetByID(ctx, id)
}

// GetByID returns nil when the attribute set does not exist.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.AttributeSet, error) {
	ctx, span := tracing.StartSpan(ctx, "AttributeSetRepository.GetByID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	var set models.AttributeSet
	if err := r.db.Conn(ctx).GetContext(ctx, &set, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get attribute set by ID")
		return nil, eaverrors.NewStorageError("get attribute set", err)
	}

	members, err := r.listMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	set.Members = members[id]
	return &set, nil
}

// List returns every attribute set with its ordered members.
func (r *Repository) List(ctx context.Context) ([]models.AttributeSet, error) {
	ctx, span := tracing.StartSpan(ctx, "AttributeSetRepository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.OrderBy("id ASC")

	query, args := sb.Build()

	var sets []models.AttributeSet
	if err := r.db.Conn(ctx).SelectContext(ctx, &sets, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list attribute sets")
		return nil, eaverrors.NewStorageError("list attribute sets", err)
	}

	members, err := r.listMembers(ctx, 0)
	if err != nil {
		return nil, err
	}
	for i := range sets {
		sets[i].Members = members[sets[i].ID]
	}
	return sets, nil
}

func (r *Repository) listMembers(ctx context.Context, setID int64) (map[int64][]models.AttributeSetMember, error) {
	sb := database.NewSelectBuilder()
	sb.Select(memberColumns...)
	sb.From(membersTableName)
	if setID != 0 {
		sb.Where(sb.Equal("attribute_set_id", setID))
	}
	sb.OrderBy("attribute_set_id ASC", "sort_order ASC")

	query, args := sb.Build()

	var members []models.AttributeSetMember
	if err := r.db.Conn(ctx).SelectContext(ctx, &members, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list attribute set members")
		return nil, eaverrors.NewStorageError("list attribute set members", err)
	}

	grouped := make(map[int64][]models.AttributeSetMember)
	for _, member := range members {
		grouped[member.AttributeSetID] = append(grouped[member.AttributeSetID], member)
	}
	return grouped, nil
}

func (r *Repository) UpdateName(ctx context.Context, id int64, name string) error {
	ctx, span := tracing.StartSpan(ctx, "AttributeSetRepository.UpdateName")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(ub.Assign("name", name), ub.Assign("updated_at", time.Now().UTC()))
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("failed to update attribute set")
		return eaverrors.NewStorageError("update attribute set", err)
	}
	return nil
}

// ReplaceMembers rewrites the membership of the set; sort order follows attributeIDs.
func (r *Repository) ReplaceMembers(ctx context.Context, id int64, attributeIDs []int64) error {
	ctx, span := tracing.StartSpan(ctx, "AttributeSetRepository.ReplaceMembers")
	defer span.End()

	if err := r.deleteMembers(ctx, "attribute_set_id", id); err != nil {
		return err
	}
	if len(attributeIDs) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(membersTableName)
	ib.Cols(memberColumns...)
	for i, attributeID := range attributeIDs {
		ib.Values(id, attributeID, i)
	}

	query, args := ib.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("attribute_set_id", id).Error("failed to insert attribute set members")
		return eaverrors.NewStorageError("insert attribute set members", err)
	}
	return nil
}

// RemoveAttribute detaches an attribute from every set.
func (r *Repository) RemoveAttribute(ctx context.Context, attributeID int64) error {
	ctx, span := tracing.StartSpan(ctx, "AttributeSetRepository.RemoveAttribute")
	defer span.End()

	return r.deleteMembers(ctx, "attribute_id", attributeID)
}

func (r *Repository) deleteMembers(ctx context.Context, column string, id int64) error {
	db := database.NewDeleteBuilder()
	db.DeleteFrom(membersTableName)
	db.Where(db.Equal(column, id))

	query, args := db.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField(column, id).Error("failed to delete attribute set members")
		return eaverrors.NewStorageError("delete attribute set members", err)
	}
	return nil
}

// Delete removes the set and its membership rows.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	ctx, span := tracing.StartSpan(ctx, "AttributeSetRepository.Delete")
	defer span.End()

	if err := r.deleteMembers(ctx, "attribute_set_id", id); err != nil {
		return err
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(tableName)
	db.Where(db.Equal("id", id))

	query, args := db.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("failed to delete attribute set")
		return eaverrors.NewStorageError("delete attribute set", err)
	}
	return nil
}

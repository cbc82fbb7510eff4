package locale

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

type LocaleRepository interface {
	Create(ctx context.Context, req models.CreateLocaleRequest) (*models.Locale, error)
	GetByID(ctx context.Context, id int64) (*models.Locale, error)
	List(ctx context.Context) ([]models.Locale, error)
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

const tableName = "locales"

var columns = []string{"id", "code", "name", "created_at", "updated_at"}

func (r *Repository) Create(ctx context.Context, req models.CreateLocaleRequest) (*models.Locale, error) {
	ctx, span := tracing.StartSpan(ctx, "LocaleRepository.Create")
	defer span.End()

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols("code", "name", "created_at", "updated_at")
	ib.Values(req.Code, req.Name, now, now)

	id, err := database.InsertReturningID(ctx, r.db.Conn(ctx), ib)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("code", req.Code).Error("failed to create locale")
		return nil, eaverrors.NewStorageError("create locale", err)
	}

	return &models.Locale{ID: id, Code: req.Code, Name: req.Name, CreatedAt: now, UpdatedAt: now}, nil
}

// GetByID returns nil when the locale does not exist.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Locale, error) {
	ctx, span := tracing.StartSpan(ctx, "LocaleRepository.GetByID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	var locale models.Locale
	if err := r.db.Conn(ctx).GetContext(ctx, &locale, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get locale by ID")
		return nil, eaverrors.NewStorageError("get locale", err)
	}
	return &locale, nil
}

func (r *Repository) List(ctx context.Context) ([]models.Locale, error) {
	ctx, span := tracing.StartSpan(ctx, "LocaleRepository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.OrderBy("id ASC")

	query, args := sb.Build()

	var locales []models.Locale
	if err := r.db.Conn(ctx).SelectContext(ctx, &locales, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list locales")
		return nil, eaverrors.NewStorageError("list locales", err)
	}
	return locales, nil
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	ctx, span := tracing.StartSpan(ctx, "LocaleRepository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(tableName)
	db.Where(db.Equal("id", id))

	query, args := db.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("failed to delete locale")
		return eaverrors.NewStorageError("delete locale", err)
	}
	return nil
}

package file

import (
	"context"
	"database/sql"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/congraphcms/eav-sub001/pkg/assets"
	"github.com/congraphcms/eav-sub001/pkg/database"
	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/tracing"
)

type FileRepository interface {
	assets.Repository
	Create(ctx context.Context, req models.CreateFileRequest) (*models.File, error)
	GetByID(ctx context.Context, id int64) (*models.File, error)
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

const tableName = "files"

var columns = []string{"id", "name", "extension", "mime_type", "url", "size", "created_at", "updated_at"}

func (r *Repository) Create(ctx context.Context, req models.CreateFileRequest) (*models.File, error) {
	ctx, span := tracing.StartSpan(ctx, "FileRepository.Create")
	defer span.End()

	now := time.Now().UTC()
	file := models.File{
		Name:      req.Name,
		Extension: assets.Extension(req.Name),
		MimeType:  req.MimeType,
		URL:       req.URL,
		Size:      req.Size,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols("name", "extension", "mime_type", "url", "size", "created_at", "updated_at")
	ib.Values(file.Name, file.Extension, file.MimeType, file.URL, file.Size, now, now)

	id, err := database.InsertReturningID(ctx, r.db.Conn(ctx), ib)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("name", req.Name).Error("failed to create file")
		return nil, eaverrors.NewStorageError("create file", err)
	}
	file.ID = id
	return &file, nil
}

// GetByID returns nil when the file does not exist.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.File, error) {
	ctx, span := tracing.StartSpan(ctx, "FileRepository.GetByID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	var file models.File
	if err := r.db.Conn(ctx).GetContext(ctx, &file, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get file by ID")
		return nil, eaverrors.NewStorageError("get file", err)
	}
	return &file, nil
}

func (r *Repository) GetByIDs(ctx context.Context, ids []int64) ([]models.File, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, span := tracing.StartSpan(ctx, "FileRepository.GetByIDs")
	defer span.End()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.In("id", args...))
	sb.OrderBy("id ASC")

	query, queryArgs := sb.Build()

	var files []models.File
	if err := r.db.Conn(ctx).SelectContext(ctx, &files, query, queryArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get files by IDs")
		return nil, eaverrors.NewStorageError("get files", err)
	}
	return files, nil
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	ctx, span := tracing.StartSpan(ctx, "FileRepository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(tableName)
	db.Where(db.Equal("id", id))

	query, args := db.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("failed to delete file")
		return eaverrors.NewStorageError("delete file", err)
	}
	return nil
}

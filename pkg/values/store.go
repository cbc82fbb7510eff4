package values

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/congraphcms/eav-sub001/pkg/database"
	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/fieldtypes"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/tracing"
)

// Scope locates the entity that owns a set of value rows.
type Scope struct {
	EntityID       int64
	EntityTypeID   int64
	AttributeSetID int64
}

// Criteria selects value rows. Empty slices and nil pointers do not restrict.
type Criteria struct {
	AttributeIDs   []int64
	EntityIDs      []int64
	EntityTypeID   *int64
	AttributeSetID *int64
	LocaleID       *int64
	Values         []any
}

// Owner identifies the rows of one attribute of one entity in one locale.
type Owner struct {
	AttributeID int64 `db:"attribute_id"`
	EntityID    int64 `db:"entity_id"`
	LocaleID    int64 `db:"locale_id"`
}

// Store reads and writes rows of the typed value tables.
type Store struct {
	db     database.DB
	logger ectologger.Logger
}

func NewStore(db database.DB, logger ectologger.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

var columns = []string{"id", "attribute_id", "entity_id", "entity_type_id", "attribute_set_id", "locale_id", "sort_order", "value"}

// Insert writes values as rows with sort order 0..n-1.
func (s *Store) Insert(ctx context.Context, table fieldtypes.Table, attributeID int64, scope Scope, localeID int64, values []any) error {
	if len(values) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "Store.Insert")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(table.Name())
	ib.Cols("attribute_id", "entity_id", "entity_type_id", "attribute_set_id", "locale_id", "sort_order", "value")
	for i, value := range values {
		ib.Values(attributeID, scope.EntityID, scope.EntityTypeID, scope.AttributeSetID, localeID, i, value)
	}

	query, args := ib.Build()
	if _, err := s.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"table":        table.Name(),
			"attribute_id": attributeID,
			"entity_id":    scope.EntityID,
			"locale_id":    localeID,
		}).Error("failed to insert values")
		tracing.RecordError(span, err)
		return eaverrors.NewStorageError("insert values", err)
	}
	return nil
}

// Replace deletes the rows of (attribute, entity, locale) and inserts values.
func (s *Store) Replace(ctx context.Context, table fieldtypes.Table, attributeID int64, scope Scope, localeID int64, values []any) error {
	if _, err := s.Delete(ctx, table, Criteria{
		AttributeIDs: []int64{attributeID},
		EntityIDs:    []int64{scope.EntityID},
		LocaleID:     &localeID,
	}); err != nil {
		return err
	}
	return s.Insert(ctx, table, attributeID, scope, localeID, values)
}

// Select returns the rows of the given entities ordered by entity, attribute,
// locale and sort order. Values are normalized per table.
func (s *Store) Select(ctx context.Context, table fieldtypes.Table, criteria Criteria) ([]models.AttributeValue, error) {
	ctx, span := tracing.StartSpan(ctx, "Store.Select")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table.Name())
	if where := criteriaWhere(sb, criteria); len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("entity_id ASC", "attribute_id ASC", "locale_id ASC", "sort_order ASC")

	query, args := sb.Build()

	var rows []models.AttributeValue
	if err := s.db.Conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("table", table.Name()).Error("failed to select values")
		return nil, eaverrors.NewStorageError("select values", err)
	}

	for i := range rows {
		value, err := Normalize(table, rows[i].Value)
		if err != nil {
			return nil, eaverrors.NewStorageError("decode value", err)
		}
		rows[i].Value = value
	}
	return rows, nil
}

// Delete removes matching rows and returns how many were deleted.
func (s *Store) Delete(ctx context.Context, table fieldtypes.Table, criteria Criteria) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "Store.Delete")
	defer span.End()

	dlb := database.NewDeleteBuilder()
	dlb.DeleteFrom(table.Name())
	where := criteriaWhere(dlb, criteria)
	if len(where) == 0 {
		return 0, fmt.Errorf("refusing to delete every row of %s", table.Name())
	}
	dlb.Where(where...)

	query, args := dlb.Build()
	result, err := s.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("table", table.Name()).Error("failed to delete values")
		tracing.RecordError(span, err)
		return 0, eaverrors.NewStorageError("delete values", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		tracing.RecordError(span, err)
		return 0, eaverrors.NewStorageError("delete values", err)
	}
	return affected, nil
}

// Exists reports whether another entity already stores value for the attribute.
func (s *Store) Exists(ctx context.Context, table fieldtypes.Table, attributeID int64, localeID int64, value any, excludeEntityID int64) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "Store.Exists")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(table.Name())
	where := []string{
		sb.Equal("attribute_id", attributeID),
		sb.Equal("locale_id", localeID),
		sb.Equal("value", value),
	}
	if excludeEntityID != 0 {
		where = append(where, sb.NotEqual("entity_id", excludeEntityID))
	}
	sb.Where(where...)

	query, args := sb.Build()

	var count int
	if err := s.db.Conn(ctx).GetContext(ctx, &count, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("attribute_id", attributeID).Error("failed to check value uniqueness")
		return false, eaverrors.NewStorageError("check unique value", err)
	}
	return count > 0, nil
}

// Owners lists distinct (attribute, entity, locale) triples of matching rows.
func (s *Store) Owners(ctx context.Context, table fieldtypes.Table, criteria Criteria) ([]Owner, error) {
	ctx, span := tracing.StartSpan(ctx, "Store.Owners")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("attribute_id", "entity_id", "locale_id")
	sb.Distinct()
	sb.From(table.Name())
	if where := criteriaWhere(sb, criteria); len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("entity_id ASC", "attribute_id ASC", "locale_id ASC")

	query, args := sb.Build()

	var owners []Owner
	if err := s.db.Conn(ctx).SelectContext(ctx, &owners, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("table", table.Name()).Error("failed to list value owners")
		return nil, eaverrors.NewStorageError("list value owners", err)
	}
	return owners, nil
}

// Resequence renumbers the rows of one owner to a contiguous 0..n-1 sequence,
// keeping their relative order.
func (s *Store) Resequence(ctx context.Context, table fieldtypes.Table, owner Owner) error {
	ctx, span := tracing.StartSpan(ctx, "Store.Resequence")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("id", "sort_order")
	sb.From(table.Name())
	sb.Where(
		sb.Equal("attribute_id", owner.AttributeID),
		sb.Equal("entity_id", owner.EntityID),
		sb.Equal("locale_id", owner.LocaleID),
	)
	sb.OrderBy("sort_order ASC", "id ASC")

	query, args := sb.Build()

	var rows []struct {
		ID        int64 `db:"id"`
		SortOrder int   `db:"sort_order"`
	}
	if err := s.db.Conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("entity_id", owner.EntityID).Error("failed to load rows to resequence")
		return eaverrors.NewStorageError("resequence values", err)
	}

	// Ascending order only ever moves a row into a slot that is already free.
	for i, row := range rows {
		if row.SortOrder == i {
			continue
		}
		ub := database.NewUpdateBuilder()
		ub.Update(table.Name())
		ub.Set(ub.Assign("sort_order", i))
		ub.Where(ub.Equal("id", row.ID))

		query, args := ub.Build()
		if _, err := s.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("entity_id", owner.EntityID).Error("failed to resequence values")
			return eaverrors.NewStorageError("resequence values", err)
		}
	}
	return nil
}

// DeleteReferences removes rows of the given attributes whose value is one of
// targets, then resequences every affected owner. It returns those owners.
func (s *Store) DeleteReferences(ctx context.Context, table fieldtypes.Table, attributeIDs []int64, targets []int64) ([]Owner, error) {
	if len(attributeIDs) == 0 || len(targets) == 0 {
		return nil, nil
	}

	criteria := Criteria{AttributeIDs: attributeIDs, Values: int64Args(targets)}
	owners, err := s.Owners(ctx, table, criteria)
	if err != nil {
		return nil, err
	}
	if len(owners) == 0 {
		return nil, nil
	}

	if _, err := s.Delete(ctx, table, criteria); err != nil {
		return nil, err
	}
	for _, owner := range owners {
		if err := s.Resequence(ctx, table, owner); err != nil {
			return nil, err
		}
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"table":   table.Name(),
		"owners":  len(owners),
		"targets": targets,
	}).Debug("removed dangling references")
	return owners, nil
}

type condBuilder interface {
	Equal(field string, value any) string
	In(field string, values ...any) string
}

func criteriaWhere(cond condBuilder, criteria Criteria) []string {
	var where []string
	if len(criteria.AttributeIDs) > 0 {
		where = append(where, cond.In("attribute_id", int64Args(criteria.AttributeIDs)...))
	}
	if len(criteria.EntityIDs) > 0 {
		where = append(where, cond.In("entity_id", int64Args(criteria.EntityIDs)...))
	}
	if criteria.EntityTypeID != nil {
		where = append(where, cond.Equal("entity_type_id", *criteria.EntityTypeID))
	}
	if criteria.AttributeSetID != nil {
		where = append(where, cond.Equal("attribute_set_id", *criteria.AttributeSetID))
	}
	if criteria.LocaleID != nil {
		where = append(where, cond.Equal("locale_id", *criteria.LocaleID))
	}
	if len(criteria.Values) > 0 {
		where = append(where, cond.In("value", criteria.Values...))
	}
	return where
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Normalize converts a driver value read from table into the engine's Go
// representation: string, int64, float64 or time.Time.
func Normalize(table fieldtypes.Table, raw any) (any, error) {
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	if raw == nil {
		return nil, nil
	}

	switch table {
	case fieldtypes.TableText, fieldtypes.TableFulltext:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return fmt.Sprint(raw), nil
	case fieldtypes.TableInteger:
		switch v := raw.(type) {
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		case string:
			return strconv.ParseInt(v, 10, 64)
		}
	case fieldtypes.TableDecimal:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case string:
			return strconv.ParseFloat(v, 64)
		}
	case fieldtypes.TableDatetime, fieldtypes.TableDate:
		switch v := raw.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, v); err == nil {
					return t.UTC(), nil
				}
			}
		}
	}
	return nil, fmt.Errorf("cannot decode %T from %s", raw, table.Name())
}

// Load reads the values of entities from every table, keeping only the rows
// whose attribute lives in that table according to home. Rows of unknown
// attributes are skipped.
func (s *Store) Load(ctx context.Context, entityIDs []int64, home func(attributeID int64) (fieldtypes.Table, bool)) (map[int64]models.FieldValues, error) {
	result := make(map[int64]models.FieldValues, len(entityIDs))
	for _, id := range entityIDs {
		result[id] = models.FieldValues{}
	}
	if len(entityIDs) == 0 {
		return result, nil
	}

	for _, table := range fieldtypes.Tables {
		rows, err := s.Select(ctx, table, Criteria{EntityIDs: entityIDs})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if t, ok := home(row.AttributeID); !ok || t != table {
				continue
			}
			fv := result[row.EntityID]
			current, _ := fv.Get(row.AttributeID, row.LocaleID)
			fv.Set(row.AttributeID, row.LocaleID, append(current, row.Value))
		}
	}
	return result, nil
}

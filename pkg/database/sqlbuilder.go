package database

import (
	"context"
	"sync/atomic"

	"github.com/huandu/go-sqlbuilder"
)

var flavor atomic.Int64

func init() {
	flavor.Store(int64(sqlbuilder.PostgreSQL))
}

// SetFlavorForDriver selects the placeholder/quoting dialect used by every builder
// created afterwards. PostgreSQL is the default.
func SetFlavorForDriver(driverName string) {
	switch driverName {
	case "sqlite3", "sqlite":
		flavor.Store(int64(sqlbuilder.SQLite))
	case "mysql":
		flavor.Store(int64(sqlbuilder.MySQL))
	default:
		flavor.Store(int64(sqlbuilder.PostgreSQL))
	}
}

func Flavor() sqlbuilder.Flavor {
	return sqlbuilder.Flavor(flavor.Load())
}

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder() *InsertBuilder {
	return &InsertBuilder{Flavor().NewInsertBuilder()}
}

// InsertReturningID executes the insert and returns the generated id column.
// PostgreSQL uses RETURNING, other dialects rely on LastInsertId.
func InsertReturningID(ctx context.Context, q Querier, ib *InsertBuilder) (int64, error) {
	if Flavor() == sqlbuilder.PostgreSQL {
		ib.Returning("id")
		query, args := ib.Build()
		var id int64
		if err := q.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	query, args := ib.Build()
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

type UpdateBuilder struct {
	*sqlbuilder.UpdateBuilder
}

func NewUpdateBuilder() *UpdateBuilder {
	return &UpdateBuilder{Flavor().NewUpdateBuilder()}
}

type DeleteBuilder struct {
	*sqlbuilder.DeleteBuilder
}

func NewDeleteBuilder() *DeleteBuilder {
	return &DeleteBuilder{Flavor().NewDeleteBuilder()}
}

type SelectBuilder struct {
	*sqlbuilder.SelectBuilder
}

func NewSelectBuilder() *SelectBuilder {
	return &SelectBuilder{Flavor().NewSelectBuilder()}
}

// Struct resolves the dialect on every call so package-level row structs follow
// SetFlavorForDriver.
type Struct struct {
	s *sqlbuilder.Struct
}

func NewStruct(v any) *Struct {
	return &Struct{s: sqlbuilder.NewStruct(v)}
}

func (s *Struct) current() *sqlbuilder.Struct {
	return s.s.For(Flavor())
}

func (s *Struct) SelectFrom(table string) *SelectBuilder {
	return &SelectBuilder{s.current().SelectFrom(table)}
}

func (s *Struct) InsertInto(table string, v ...any) *InsertBuilder {
	return &InsertBuilder{s.current().InsertInto(table, v...)}
}

func (s *Struct) Update(table string, v any) *UpdateBuilder {
	return &UpdateBuilder{s.current().Update(table, v)}
}

func (s *Struct) DeleteFrom(table string) *DeleteBuilder {
	return &DeleteBuilder{s.current().DeleteFrom(table)}
}

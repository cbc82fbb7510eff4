package entity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congraphcms/eav-sub001/internal/repositories/entity"
	"github.com/congraphcms/eav-sub001/internal/testutil"
	"github.com/congraphcms/eav-sub001/pkg/database"
	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/models"
)

const (
	titleAttribute = 7
	english        = 1
)

type fixture struct {
	ctx  context.Context
	db   database.DB
	repo *entity.Repository
}

func newFixture(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	return &fixture{
		ctx:  context.Background(),
		db:   db,
		repo: entity.NewRepository(db, testutil.Logger()),
	}
}

func (f *fixture) create(t *testing.T, entityTypeID int64, status, title string) int64 {
	t.Helper()

	created, err := f.repo.Create(f.ctx, entityTypeID, 1, status)
	require.NoError(t, err)
	_, err = f.db.Conn(f.ctx).ExecContext(f.ctx,
		"INSERT INTO attribute_values_text (attribute_id, entity_id, entity_type_id, attribute_set_id, locale_id, sort_order, value) VALUES (?, ?, ?, 1, ?, 0, ?)",
		titleAttribute, created.ID, entityTypeID, english, title)
	require.NoError(t, err)
	return created.ID
}

func (f *fixture) ids(t *testing.T, params entity.FindParams) ([]int64, int) {
	t.Helper()

	found, total, err := f.repo.Find(f.ctx, params)
	require.NoError(t, err)
	ids := make([]int64, len(found))
	for i, e := range found {
		ids[i] = e.ID
	}
	return ids, total
}

func TestRepository_CreateAndGet(t *testing.T) {
	f := newFixture(t)

	created, err := f.repo.Create(f.ctx, 3, 4, models.StatusDraft)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	got, err := f.repo.GetByID(f.ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.EntityTypeID)
	assert.Equal(t, int64(4), got.AttributeSetID)
	assert.Equal(t, models.StatusDraft, got.Status)

	missing, err := f.repo.GetByID(f.ctx, created.ID+100)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_Touch(t *testing.T) {
	f := newFixture(t)

	created, err := f.repo.Create(f.ctx, 1, 1, models.StatusDraft)
	require.NoError(t, err)

	status := models.StatusPublished
	require.NoError(t, f.repo.Touch(f.ctx, created.ID, &status))

	got, err := f.repo.GetByID(f.ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, got.Status)
	assert.False(t, got.UpdatedAt.Before(created.UpdatedAt))

	require.NoError(t, f.repo.Touch(f.ctx, created.ID, nil))
	got, err = f.repo.GetByID(f.ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, got.Status)
}

func TestRepository_ListAndDeleteWhere(t *testing.T) {
	f := newFixture(t)

	first := f.create(t, 1, models.StatusPublished, "a")
	second := f.create(t, 1, models.StatusPublished, "b")
	other := f.create(t, 2, models.StatusPublished, "c")

	ids, err := f.repo.ListIDs(f.ctx, "entity_type_id", 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{first, second}, ids)

	require.NoError(t, f.repo.DeleteWhere(f.ctx, "entity_type_id", 1))
	ids, err = f.repo.ListIDs(f.ctx, "entity_type_id", 1)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, f.repo.Delete(f.ctx, other))
	got, err := f.repo.GetByID(f.ctx, other)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_Find(t *testing.T) {
	f := newFixture(t)

	apple := f.create(t, 1, models.StatusPublished, "Apple")
	banana := f.create(t, 1, models.StatusDraft, "Banana")
	cherry := f.create(t, 1, models.StatusPublished, "Cherry")
	pear := f.create(t, 2, models.StatusPublished, "Pear")

	title := func(operator string, values ...any) entity.FieldCondition {
		return entity.FieldCondition{
			Table:       "attribute_values_text",
			AttributeID: titleAttribute,
			Operator:    operator,
			Values:      values,
		}
	}

	t.Run("all ordered by id", func(t *testing.T) {
		ids, total := f.ids(t, entity.FindParams{})
		assert.Equal(t, []int64{apple, banana, cherry, pear}, ids)
		assert.Equal(t, 4, total)
	})

	t.Run("entity type and status", func(t *testing.T) {
		ids, total := f.ids(t, entity.FindParams{
			EntityTypeIDs: []int64{1},
			Statuses:      []string{models.StatusPublished},
		})
		assert.Equal(t, []int64{apple, cherry}, ids)
		assert.Equal(t, 2, total)
	})

	t.Run("equal and not equal", func(t *testing.T) {
		ids, _ := f.ids(t, entity.FindParams{Conditions: []entity.FieldCondition{title("e", "Banana")}})
		assert.Equal(t, []int64{banana}, ids)

		ids, _ = f.ids(t, entity.FindParams{Conditions: []entity.FieldCondition{title("ne", "Banana")}})
		assert.Equal(t, []int64{apple, cherry, pear}, ids)
	})

	t.Run("in and not in", func(t *testing.T) {
		ids, _ := f.ids(t, entity.FindParams{Conditions: []entity.FieldCondition{title("in", "Apple", "Pear")}})
		assert.Equal(t, []int64{apple, pear}, ids)

		ids, _ = f.ids(t, entity.FindParams{Conditions: []entity.FieldCondition{title("nin", "Apple", "Pear")}})
		assert.Equal(t, []int64{banana, cherry}, ids)
	})

	t.Run("match is case insensitive", func(t *testing.T) {
		ids, _ := f.ids(t, entity.FindParams{Conditions: []entity.FieldCondition{title("m", "AN")}})
		assert.Equal(t, []int64{banana}, ids)
	})

	t.Run("locale restriction", func(t *testing.T) {
		condition := title("e", "Apple")
		condition.LocaleIDs = []int64{english + 1}
		ids, total := f.ids(t, entity.FindParams{Conditions: []entity.FieldCondition{condition}})
		assert.Empty(t, ids)
		assert.Zero(t, total)
	})

	t.Run("sort by attribute with paging", func(t *testing.T) {
		ids, total := f.ids(t, entity.FindParams{
			Sorts: []entity.SortField{{
				Table:       "attribute_values_text",
				AttributeID: titleAttribute,
				LocaleID:    english,
				Desc:        true,
			}},
			Offset: 1,
			Limit:  2,
		})
		assert.Equal(t, []int64{cherry, banana}, ids)
		assert.Equal(t, 4, total)
	})

	t.Run("sort by column", func(t *testing.T) {
		ids, _ := f.ids(t, entity.FindParams{Sorts: []entity.SortField{{Column: "id", Desc: true}}})
		assert.Equal(t, []int64{pear, cherry, banana, apple}, ids)
	})

	t.Run("unknown sort column", func(t *testing.T) {
		_, _, err := f.repo.Find(f.ctx, entity.FindParams{Sorts: []entity.SortField{{Column: "title"}}})
		assert.True(t, eaverrors.IsBadRequestError(err))
	})

	t.Run("unknown operator", func(t *testing.T) {
		_, _, err := f.repo.Find(f.ctx, entity.FindParams{Conditions: []entity.FieldCondition{title("like", "x")}})
		assert.True(t, eaverrors.IsBadRequestError(err))
	})

	t.Run("by ids", func(t *testing.T) {
		found, err := f.repo.GetByIDs(f.ctx, []int64{pear, apple})
		require.NoError(t, err)
		require.Len(t, found, 2)
		assert.Equal(t, apple, found[0].ID)
		assert.Equal(t, pear, found[1].ID)
	})
}

func TestRepository_FindMatchIsLiteral(t *testing.T) {
	f := newFixture(t)

	sale := f.create(t, 1, models.StatusPublished, "50% off")
	snake := f.create(t, 1, models.StatusPublished, "snake_case")
	f.create(t, 1, models.StatusPublished, "Plain")

	match := func(term string) []int64 {
		ids, _ := f.ids(t, entity.FindParams{Conditions: []entity.FieldCondition{{
			Table:       "attribute_values_text",
			AttributeID: titleAttribute,
			Operator:    "m",
			Values:      []any{term},
		}}})
		return ids
	}

	assert.Equal(t, []int64{sale}, match("%"))
	assert.Equal(t, []int64{snake}, match("_"))
	assert.Equal(t, []int64{sale}, match("0% O"))
	assert.Empty(t, match(`\`))
}

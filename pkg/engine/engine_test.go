package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congraphcms/eav-sub001/internal/testutil"
	"github.com/congraphcms/eav-sub001/pkg/database"
	"github.com/congraphcms/eav-sub001/pkg/engine"
	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/events"
	"github.com/congraphcms/eav-sub001/pkg/fieldtypes"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/validation"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
}

func (p *recordingPublisher) ofType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	ctx       context.Context
	db        database.DB
	engine    *engine.Engine
	published *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	published := &recordingPublisher{}

	eng, err := engine.New(engine.Options{
		DB:        db,
		Logger:    testutil.Logger(),
		Publisher: published,
		Config:    engine.Config{DefaultPageLimit: 10, MaxPageLimit: 50},
	})
	require.NoError(t, err)

	return &fixture{ctx: context.Background(), db: db, engine: eng, published: published}
}

func (f *fixture) entityType(t *testing.T, code string) *models.EntityType {
	t.Helper()
	et, err := f.engine.CreateEntityType(f.ctx, models.CreateEntityTypeRequest{Code: code, Name: code})
	require.NoError(t, err)
	return et
}

func (f *fixture) attribute(t *testing.T, req models.CreateAttributeRequest) *models.Attribute {
	t.Helper()
	a, err := f.engine.CreateAttribute(f.ctx, req)
	require.NoError(t, err)
	return a
}

func (f *fixture) set(t *testing.T, code string, entityTypeID int64, attributes ...*models.Attribute) *models.AttributeSet {
	t.Helper()
	ids := make([]int64, len(attributes))
	for i, a := range attributes {
		ids[i] = a.ID
	}
	set, err := f.engine.CreateAttributeSet(f.ctx, models.CreateAttributeSetRequest{Code: code, EntityTypeID: entityTypeID, AttributeIDs: ids})
	require.NoError(t, err)
	return set
}

func (f *fixture) create(t *testing.T, entityTypeID int64, fieldValues map[string]any) *models.Entity {
	t.Helper()
	e, err := f.engine.CreateEntity(f.ctx, models.CreateEntityRequest{EntityTypeID: entityTypeID, Fields: fieldValues})
	require.NoError(t, err)
	return e
}

func (f *fixture) count(t *testing.T, table fieldtypes.Table, where string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.GetContext(f.ctx, &n, "SELECT COUNT(*) FROM "+table.Name()+" WHERE "+where, args...))
	return n
}

func TestFullNameFollowsItsInputs(t *testing.T) {
	f := newFixture(t)
	person := f.entityType(t, "person")
	first := f.attribute(t, models.CreateAttributeRequest{Code: "first_name", FieldType: fieldtypes.Text})
	last := f.attribute(t, models.CreateAttributeRequest{Code: "last_name", FieldType: fieldtypes.Text})
	full := f.attribute(t, models.CreateAttributeRequest{
		Code:       "full_name",
		FieldType:  fieldtypes.Compound,
		Searchable: true,
		Data: models.AttributeData{Inputs: []models.InputToken{
			{Type: models.TokenField, Value: first.ID},
			{Type: models.TokenOperator, Value: "CONCAT"},
			{Type: models.TokenLiteral, Value: " "},
			{Type: models.TokenOperator, Value: "CONCAT"},
			{Type: models.TokenField, Value: last.ID},
		}},
	})
	f.set(t, "person_default", person.ID, first, last, full)

	e := f.create(t, person.ID, map[string]any{"first_name": "Ann", "last_name": "Smith"})
	assert.Equal(t, "Ann Smith", e.Fields["full_name"])

	updated, err := f.engine.UpdateEntity(f.ctx, e.ID, models.UpdateEntityRequest{Fields: map[string]any{"last_name": "Lee"}})
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", updated.Fields["full_name"])

	fetched, err := f.engine.FetchEntity(f.ctx, e.ID, models.FetchParams{})
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", fetched.Fields["full_name"])
	assert.Equal(t, "person", fetched.Type)

	changes := f.published.ofType(events.TypeEntityUpdated)
	require.Len(t, changes, 1)
	assert.Equal(t, e.ID, changes[0].Entity.ID)
	assert.Equal(t, map[string]any{"full_name": "Ann Lee"}, changes[0].Entity.Searchable)
	assert.NotEmpty(t, changes[0].OperationID)
}

func TestUniqueValueRejectsSecondEntity(t *testing.T) {
	f := newFixture(t)
	user := f.entityType(t, "user")
	email := f.attribute(t, models.CreateAttributeRequest{Code: "email", FieldType: fieldtypes.Text, Unique: true})
	f.set(t, "user_default", user.ID, email)

	first := f.create(t, user.ID, map[string]any{"email": "ann@example.com"})

	_, err := f.engine.CreateEntity(f.ctx, models.CreateEntityRequest{EntityTypeID: user.ID, Fields: map[string]any{"email": "ann@example.com"}})
	var verr *eaverrors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has("fields.email", validation.MessageNotUnique))

	// resubmitting its own value is allowed
	_, err = f.engine.UpdateEntity(f.ctx, first.ID, models.UpdateEntityRequest{Fields: map[string]any{"email": "ann@example.com"}})
	require.NoError(t, err)
	assert.Len(t, f.published.ofType(events.TypeEntityCreated), 1)
}

func TestRequiredLocalizedValueWithoutLocale(t *testing.T) {
	f := newFixture(t)
	for _, code := range []string{"en", "sr"} {
		_, err := f.engine.CreateLocale(f.ctx, models.CreateLocaleRequest{Code: code, Name: code})
		require.NoError(t, err)
	}
	page := f.entityType(t, "page")
	title := f.attribute(t, models.CreateAttributeRequest{Code: "title", FieldType: fieldtypes.Text, Localized: true, Required: true})
	f.set(t, "page_default", page.ID, title)

	e := f.create(t, page.ID, map[string]any{"title": map[string]any{"en": "Home", "sr": "Pocetna"}})
	assert.Equal(t, map[string]any{"en": "Home", "sr": "Pocetna"}, e.Fields["title"])

	_, err := f.engine.UpdateEntity(f.ctx, e.ID, models.UpdateEntityRequest{Fields: map[string]any{"title": ""}})
	var verr *eaverrors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has("fields.title", validation.MessageRequired))
	assert.True(t, verr.Has("fields.title", validation.MessageLocaleRequired))

	sr, err := f.engine.FetchEntity(f.ctx, e.ID, models.FetchParams{Locale: "sr"})
	require.NoError(t, err)
	assert.Equal(t, "Pocetna", sr.Fields["title"])
	assert.Equal(t, "sr", sr.Locale)

	_, err = f.engine.FetchEntity(f.ctx, e.ID, models.FetchParams{Locale: "de"})
	assert.True(t, eaverrors.IsBadRequestError(err))
}

func TestSingleValuedAttributeKeepsOneRow(t *testing.T) {
	f := newFixture(t)
	page := f.entityType(t, "page")
	views := f.attribute(t, models.CreateAttributeRequest{Code: "views", FieldType: fieldtypes.Integer})
	f.set(t, "page_default", page.ID, views)

	e := f.create(t, page.ID, map[string]any{"views": 1})
	for _, v := range []int{2, 3, 4} {
		_, err := f.engine.UpdateEntity(f.ctx, e.ID, models.UpdateEntityRequest{Fields: map[string]any{"views": v}})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, f.count(t, fieldtypes.TableInteger, "attribute_id = ? AND entity_id = ? AND locale_id = 0", views.ID, e.ID))
	fetched, err := f.engine.FetchEntity(f.ctx, e.ID, models.FetchParams{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), fetched.Fields["views"])
}

func TestMultipleValuesAreSequencedInSubmittedOrder(t *testing.T) {
	f := newFixture(t)
	page := f.entityType(t, "page")
	related := f.attribute(t, models.CreateAttributeRequest{Code: "related", FieldType: fieldtypes.Relation})
	f.set(t, "page_default", page.ID, related)

	a := f.create(t, page.ID, nil)
	b := f.create(t, page.ID, nil)
	c := f.create(t, page.ID, nil)
	owner := f.create(t, page.ID, map[string]any{"related": []any{a.ID, b.ID}})

	_, err := f.engine.UpdateEntity(f.ctx, owner.ID, models.UpdateEntityRequest{Fields: map[string]any{"related": []any{c.ID, a.ID, b.ID}}})
	require.NoError(t, err)

	var rows []struct {
		Value     int64 `db:"value"`
		SortOrder int   `db:"sort_order"`
	}
	require.NoError(t, f.db.SelectContext(f.ctx, &rows,
		"SELECT value, sort_order FROM attribute_values_integer WHERE attribute_id = ? AND entity_id = ? ORDER BY sort_order",
		related.ID, owner.ID))
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, i, row.SortOrder)
	}
	assert.Equal(t, []int64{c.ID, a.ID, b.ID}, []int64{rows[0].Value, rows[1].Value, rows[2].Value})

	fetched, err := f.engine.FetchEntity(f.ctx, owner.ID, models.FetchParams{Include: []string{"fields.related"}})
	require.NoError(t, err)
	assert.Equal(t, []any{
		models.Reference{ID: c.ID, Type: "entity"},
		models.Reference{ID: a.ID, Type: "entity"},
		models.Reference{ID: b.ID, Type: "entity"},
	}, fetched.Fields["related"])
	require.Len(t, fetched.Included, 3)
	assert.Equal(t, c.ID, fetched.Included[0].(*models.Entity).ID)
}

func TestMatchFilterFindsSearchableText(t *testing.T) {
	f := newFixture(t)
	page := f.entityType(t, "page")
	title := f.attribute(t, models.CreateAttributeRequest{Code: "title", FieldType: fieldtypes.Text, Searchable: true, Filterable: true})
	f.set(t, "page_default", page.ID, title)

	home := f.create(t, page.ID, map[string]any{"title": "Pocetna strana"})
	contact := f.create(t, page.ID, map[string]any{"title": "Kontakt strana"})
	f.create(t, page.ID, map[string]any{"title": "Blog"})

	result, err := f.engine.GetEntities(f.ctx, models.GetParams{
		Filter: map[string]any{"fields.title": map[string]any{"m": "strana"}},
		Sort:   []string{"id"},
	})
	require.NoError(t, err)
	require.Len(t, result.Data, 2)
	assert.Equal(t, home.ID, result.Data[0].ID)
	assert.Equal(t, contact.ID, result.Data[1].ID)
	assert.Equal(t, models.CollectionMeta{Offset: 0, Limit: 10, Count: 2, Total: 2}, result.Meta)

	paged, err := f.engine.GetEntities(f.ctx, models.GetParams{Sort: []string{"-fields.title"}, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged.Data, 1)
	assert.Equal(t, "Kontakt strana", paged.Data[0].Fields["title"])
	assert.Equal(t, 3, paged.Meta.Total)

	_, err = f.engine.GetEntities(f.ctx, models.GetParams{Filter: map[string]any{"fields.title": map[string]any{"gt": "a"}}})
	assert.True(t, eaverrors.IsBadRequestError(err))
}

func TestDeleteEntityTypeLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	page := f.entityType(t, "page")
	title := f.attribute(t, models.CreateAttributeRequest{Code: "title", FieldType: fieldtypes.Text, Searchable: true})
	tags := f.attribute(t, models.CreateAttributeRequest{Code: "tags", FieldType: fieldtypes.Relation})
	f.set(t, "page_default", page.ID, title, tags)

	a := f.create(t, page.ID, map[string]any{"title": "One"})
	f.create(t, page.ID, map[string]any{"title": "Two", "tags": []any{a.ID}})

	require.NoError(t, f.engine.DeleteEntityType(f.ctx, page.ID))

	for _, table := range fieldtypes.Tables {
		assert.Zero(t, f.count(t, table, "entity_type_id = ?", page.ID), table)
	}
	var entities int
	require.NoError(t, f.db.GetContext(f.ctx, &entities, "SELECT COUNT(*) FROM entities WHERE entity_type_id = ?", page.ID))
	assert.Zero(t, entities)

	_, err := f.engine.FetchEntityType(f.ctx, "page")
	assert.True(t, eaverrors.IsNotFoundError(err))

	changes := f.published.ofType(events.TypeMetadataChanged)
	last := changes[len(changes)-1]
	assert.Equal(t, engine.ResourceEntityType, last.Metadata.Resource)
	assert.Len(t, last.Metadata.DeletedEntityIDs, 2)
}

func TestFetchEntityHonorsStatus(t *testing.T) {
	f := newFixture(t)
	article, err := f.engine.CreateEntityType(f.ctx, models.CreateEntityTypeRequest{Code: "article", Name: "Article", HasWorkflow: true})
	require.NoError(t, err)
	title := f.attribute(t, models.CreateAttributeRequest{Code: "title", FieldType: fieldtypes.Text})
	f.set(t, "article_default", article.ID, title)

	draft, err := f.engine.CreateEntity(f.ctx, models.CreateEntityRequest{EntityTypeID: article.ID, Status: models.StatusDraft, Fields: map[string]any{"title": "Soon"}})
	require.NoError(t, err)

	_, err = f.engine.FetchEntity(f.ctx, draft.ID, models.FetchParams{Status: []string{models.StatusPublished}})
	assert.True(t, eaverrors.IsNotFoundError(err))

	found, err := f.engine.FetchEntity(f.ctx, draft.ID, models.FetchParams{Status: []string{models.StatusDraft}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, found.Status)

	require.NoError(t, f.engine.DeleteEntity(f.ctx, draft.ID))
	_, err = f.engine.FetchEntity(f.ctx, draft.ID, models.FetchParams{})
	assert.True(t, eaverrors.IsNotFoundError(err))
	assert.Len(t, f.published.ofType(events.TypeEntityDeleted), 1)
}

func TestAssetIncludesFiles(t *testing.T) {
	f := newFixture(t)
	page := f.entityType(t, "page")
	image := f.attribute(t, models.CreateAttributeRequest{Code: "image", FieldType: fieldtypes.Asset})
	f.set(t, "page_default", page.ID, image)

	logo, err := f.engine.CreateFile(f.ctx, models.CreateFileRequest{Name: "logo.png", MimeType: "image/png"})
	require.NoError(t, err)
	e := f.create(t, page.ID, map[string]any{"image": []any{logo.ID}})

	result, err := f.engine.GetEntities(f.ctx, models.GetParams{Include: []string{"fields.image"}})
	require.NoError(t, err)
	require.Len(t, result.Included, 1)
	assert.Equal(t, logo.ID, result.Included[0].(models.File).ID)

	require.NoError(t, f.engine.DeleteFile(f.ctx, logo.ID))
	fetched, err := f.engine.FetchEntity(f.ctx, e.ID, models.FetchParams{})
	require.NoError(t, err)
	assert.Empty(t, fetched.Fields["image"])
}

func TestMetadataLookups(t *testing.T) {
	f := newFixture(t)
	page := f.entityType(t, "page")
	title := f.attribute(t, models.CreateAttributeRequest{Code: "title", FieldType: fieldtypes.Text})
	set := f.set(t, "page_default", page.ID, title)

	byCode, err := f.engine.FetchAttribute(f.ctx, "title")
	require.NoError(t, err)
	assert.Equal(t, title.ID, byCode.ID)

	fetchedSet, err := f.engine.FetchAttributeSet(f.ctx, "page_default")
	require.NoError(t, err)
	assert.Equal(t, set.ID, fetchedSet.ID)

	fetchedType, err := f.engine.FetchEntityType(f.ctx, "page")
	require.NoError(t, err)
	require.NotNil(t, fetchedType.DefaultSetID)
	assert.Equal(t, set.ID, *fetchedType.DefaultSetID)

	attributes, err := f.engine.GetAttributes(f.ctx)
	require.NoError(t, err)
	assert.Len(t, attributes, 1)

	_, err = f.engine.FetchAttribute(f.ctx, "missing")
	assert.True(t, eaverrors.IsNotFoundError(err))
}

func TestDeleteAttributeSetRemovesItsEntities(t *testing.T) {
	f := newFixture(t)
	page := f.entityType(t, "page")
	title := f.attribute(t, models.CreateAttributeRequest{Code: "title", FieldType: fieldtypes.Text, Searchable: true})
	related := f.attribute(t, models.CreateAttributeRequest{Code: "related", FieldType: fieldtypes.Relation})
	f.set(t, "page_default", page.ID, title, related)
	short := f.set(t, "page_short", page.ID, title)

	var doomed []int64
	for _, name := range []string{"Kontakt", "Uslovi"} {
		e, err := f.engine.CreateEntity(f.ctx, models.CreateEntityRequest{
			EntityTypeID:   page.ID,
			AttributeSetID: short.ID,
			Fields:         map[string]any{"title": name},
		})
		require.NoError(t, err)
		doomed = append(doomed, e.ID)
	}
	kept := f.create(t, page.ID, map[string]any{"title": "Pocetna"})
	linking := f.create(t, page.ID, map[string]any{"title": "Mapa", "related": []any{doomed[0], kept.ID, doomed[1]}})

	require.NoError(t, f.engine.DeleteAttributeSet(f.ctx, short.ID))

	for _, table := range fieldtypes.Tables {
		assert.Zero(t, f.count(t, table, "attribute_set_id = ?", short.ID), table)
	}
	assert.Zero(t, f.count(t, fieldtypes.TableFulltext, "entity_id IN (?, ?)", doomed[0], doomed[1]))
	for _, id := range doomed {
		_, err := f.engine.FetchEntity(f.ctx, id, models.FetchParams{})
		assert.True(t, eaverrors.IsNotFoundError(err), "entity %d", id)
	}

	var rows []struct {
		Value     int64 `db:"value"`
		SortOrder int   `db:"sort_order"`
	}
	require.NoError(t, f.db.SelectContext(f.ctx, &rows,
		"SELECT value, sort_order FROM attribute_values_integer WHERE attribute_id = ? AND entity_id = ? ORDER BY sort_order",
		related.ID, linking.ID))
	require.Len(t, rows, 1)
	assert.Equal(t, kept.ID, rows[0].Value)
	assert.Zero(t, rows[0].SortOrder)

	fetched, err := f.engine.FetchEntity(f.ctx, kept.ID, models.FetchParams{})
	require.NoError(t, err)
	assert.Equal(t, "Pocetna", fetched.Fields["title"])
}

func TestLocalizedCompoundAcrossUpdates(t *testing.T) {
	f := newFixture(t)
	for _, code := range []string{"en", "sr"} {
		_, err := f.engine.CreateLocale(f.ctx, models.CreateLocaleRequest{Code: code, Name: code})
		require.NoError(t, err)
	}
	product := f.entityType(t, "product")
	sku := f.attribute(t, models.CreateAttributeRequest{Code: "sku", FieldType: fieldtypes.Text})
	name := f.attribute(t, models.CreateAttributeRequest{Code: "name", FieldType: fieldtypes.Text, Localized: true})
	label := f.attribute(t, models.CreateAttributeRequest{
		Code:      "label",
		FieldType: fieldtypes.Compound,
		Data: models.AttributeData{Inputs: []models.InputToken{
			{Type: models.TokenField, Value: name.ID},
			{Type: models.TokenOperator, Value: "CONCAT"},
			{Type: models.TokenLiteral, Value: " "},
			{Type: models.TokenOperator, Value: "CONCAT"},
			{Type: models.TokenField, Value: sku.ID},
		}},
	})
	assert.True(t, label.Localized)
	f.set(t, "product_default", product.ID, sku, name, label)

	labels := func(t *testing.T, id int64) any {
		t.Helper()
		fetched, err := f.engine.FetchEntity(f.ctx, id, models.FetchParams{})
		require.NoError(t, err)
		return fetched.Fields["label"]
	}

	e := f.create(t, product.ID, map[string]any{"sku": "A1", "name": map[string]any{"en": "Chair", "sr": "Stolica"}})
	assert.Equal(t, map[string]any{"en": "Chair A1", "sr": "Stolica A1"}, labels(t, e.ID))

	t.Run("flat update of one locale", func(t *testing.T) {
		_, err := f.engine.UpdateEntity(f.ctx, e.ID, models.UpdateEntityRequest{Fields: map[string]any{"name": map[string]any{"sr": "Stolac"}}})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"en": "Chair A1", "sr": "Stolac A1"}, labels(t, e.ID))
	})

	t.Run("scoped update of a plain input recomputes every locale", func(t *testing.T) {
		_, err := f.engine.UpdateEntity(f.ctx, e.ID, models.UpdateEntityRequest{Locale: "en", Fields: map[string]any{"sku": "B2"}})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"en": "Chair B2", "sr": "Stolac B2"}, labels(t, e.ID))
		assert.Equal(t, 2, f.count(t, fieldtypes.TableText, "attribute_id = ? AND entity_id = ?", label.ID, e.ID))
	})
}
